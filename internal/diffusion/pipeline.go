package diffusion

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrUnsupportedConfiguration is returned when a family does not support
	// the requested pipeline mode (e.g. controlnet on flux).
	ErrUnsupportedConfiguration = errors.New("unsupported pipeline configuration")
)

// SkipLayerGuidance configures the SD3 skip-layer guidance window.
type SkipLayerGuidance struct {
	Scale  float64
	Start  float64
	Stop   float64
	Layers []int
}

// GenerationParams is the canonical keyword bundle handed to a pipeline. The
// orchestrator assembles it from resolved embeddings and run configuration;
// backends consume only the fields their family understands.
type GenerationParams struct {
	PromptEmbeds          *Tensor
	PooledEmbeds          *Tensor
	NegativePromptEmbeds  *Tensor
	NegativePooledEmbeds  *Tensor
	PromptAttentionMask   *Tensor
	NegativeAttentionMask *Tensor
	TimeIDs               *Tensor

	Width  int
	Height int

	NumInferenceSteps int
	GuidanceScale     float64
	GuidanceRescale   float64

	// Flux extras.
	GuidanceScaleReal  float64
	NoCFGUntilTimestep int

	// SD3 extras.
	SkipLayerGuidance *SkipLayerGuidance

	// Img2img: a nil Image means pure text-to-image. Strength is only
	// meaningful when Image is set.
	Image    image.Image
	Strength float64

	// Conditioning input for controlnet pipelines.
	ConditioningImage image.Image

	NumImages int
	Generator *Generator
}

// Pipeline is a constructed inference pipeline ready to sample images.
// Implementations live out of process (python plugin) or in process (onnx).
type Pipeline interface {
	Generate(ctx context.Context, params GenerationParams) ([]image.Image, error)
	SetScheduler(scheduler Scheduler) error
	// Release frees device memory held by the pipeline. Safe to call more
	// than once.
	Release()
}
