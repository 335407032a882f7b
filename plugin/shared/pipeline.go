// Package shared defines the go-plugin contract between the validation
// backend and the out-of-process python pipeline host. Both sides of the
// connection import this package.
package shared

import (
	"github.com/hashicorp/go-plugin"
)

// Handshake is shared between host and plugin so that mismatched binaries
// fail fast instead of exchanging garbage.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DIFFUSION_PLUGIN",
	MagicCookieValue: "8a41c2d6",
}

var PluginMap = map[string]plugin.Plugin{
	"pipeline": &PipelinePlugin{},
}

// GenerateRequest is the gob-encoded payload for a single sampling call. All
// tensors travel as flat float32 data with shapes; the python side rebuilds
// them on device.
type GenerateRequest struct {
	Kind   string
	Family string

	PromptEmbeds          *TensorData
	PooledEmbeds          *TensorData
	NegativePromptEmbeds  *TensorData
	NegativePooledEmbeds  *TensorData
	PromptAttentionMask   *TensorData
	NegativeAttentionMask *TensorData
	TimeIDs               *TensorData

	Width  int
	Height int

	NumInferenceSteps int
	GuidanceScale     float64
	GuidanceRescale   float64

	GuidanceScaleReal  float64
	NoCFGUntilTimestep int

	SkipLayerScale  float64
	SkipLayerStart  float64
	SkipLayerStop   float64
	SkipLayerLayers []int

	ImagePNG          []byte
	Strength          float64
	ConditioningPNG   []byte

	NumImages  int
	Seed       int64
	SeedDevice string
}

type TensorData struct {
	Data   []float32
	Shape  []int64
	Device string
	DType  string
}

// GenerateResponse carries sampled images back as PNG bytes.
type GenerateResponse struct {
	ImagesPNG [][]byte
}

type ConstructRequest struct {
	Kind   string
	Family string
}

// Pipeline is the plugin-side surface. The host adapts it to the internal
// pipeline interface.
type Pipeline interface {
	Construct(req ConstructRequest) error
	Generate(req GenerateRequest) (GenerateResponse, error)
	SetScheduler(name string) error
	Release() error
}
