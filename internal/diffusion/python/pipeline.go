package python

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"

	"tuner-backend/internal/diffusion"
	"tuner-backend/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

// TODO: this object is not thread-safe, guard concurrent Generate calls if
// the orchestrator ever fans out across goroutines
type Pipeline struct {
	client   *plugin.Client
	pipeline shared.Pipeline
	family   diffusion.ModelFamily
	kind     diffusion.PipelineKind
}

// LoadPipeline starts the python plugin process and constructs a pipeline of
// the given kind inside it.
func LoadPipeline(pythonExecutable, pluginScript, modelDir string, family diffusion.ModelFamily, kind diffusion.PipelineKind) (*Pipeline, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: shared.Handshake,
		Plugins:         shared.PluginMap,
		Cmd: exec.Command(
			pythonExecutable,
			pluginScript,
			"--model-dir", modelDir,
			"--model-family", string(family),
		),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense("pipeline")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing 'pipeline': %w", err)
	}

	remote, ok := raw.(shared.Pipeline)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface 'pipeline' is not of expected type shared.Pipeline (actual type: %T)", raw)
	}

	if err := remote.Construct(shared.ConstructRequest{Kind: string(kind), Family: string(family)}); err != nil {
		client.Kill()
		return nil, fmt.Errorf("error constructing %s pipeline in plugin: %w", kind, err)
	}

	return &Pipeline{client: client, pipeline: remote, family: family, kind: kind}, nil
}

func (p *Pipeline) Generate(ctx context.Context, params diffusion.GenerationParams) ([]image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := shared.GenerateRequest{
		Kind:   string(p.kind),
		Family: string(p.family),

		PromptEmbeds:          tensorData(params.PromptEmbeds),
		PooledEmbeds:          tensorData(params.PooledEmbeds),
		NegativePromptEmbeds:  tensorData(params.NegativePromptEmbeds),
		NegativePooledEmbeds:  tensorData(params.NegativePooledEmbeds),
		PromptAttentionMask:   tensorData(params.PromptAttentionMask),
		NegativeAttentionMask: tensorData(params.NegativeAttentionMask),
		TimeIDs:               tensorData(params.TimeIDs),

		Width:  params.Width,
		Height: params.Height,

		NumInferenceSteps: params.NumInferenceSteps,
		GuidanceScale:     params.GuidanceScale,
		GuidanceRescale:   params.GuidanceRescale,

		GuidanceScaleReal:  params.GuidanceScaleReal,
		NoCFGUntilTimestep: params.NoCFGUntilTimestep,

		Strength:  params.Strength,
		NumImages: params.NumImages,
	}

	if slg := params.SkipLayerGuidance; slg != nil {
		req.SkipLayerScale = slg.Scale
		req.SkipLayerStart = slg.Start
		req.SkipLayerStop = slg.Stop
		req.SkipLayerLayers = slg.Layers
	}

	if params.Generator != nil {
		req.Seed = params.Generator.Seed()
		req.SeedDevice = string(params.Generator.Device())
	}

	if params.Image != nil {
		data, err := encodePNG(params.Image)
		if err != nil {
			return nil, fmt.Errorf("encoding input image: %w", err)
		}
		req.ImagePNG = data
	}
	if params.ConditioningImage != nil {
		data, err := encodePNG(params.ConditioningImage)
		if err != nil {
			return nil, fmt.Errorf("encoding conditioning image: %w", err)
		}
		req.ConditioningPNG = data
	}

	resp, err := p.pipeline.Generate(req)
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(resp.ImagesPNG))
	for i, data := range resp.ImagesPNG {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding plugin image %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (p *Pipeline) SetScheduler(scheduler diffusion.Scheduler) error {
	return p.pipeline.SetScheduler(string(scheduler))
}

func (p *Pipeline) Release() {
	if p.client == nil {
		return
	}

	if err := p.pipeline.Release(); err != nil {
		// The process is being killed anyway, nothing to do with the error.
		_ = err
	}
	p.client.Kill()
	p.client = nil
	p.pipeline = nil
}

func tensorData(t *diffusion.Tensor) *shared.TensorData {
	if t == nil {
		return nil
	}
	return &shared.TensorData{
		Data:   t.Data,
		Shape:  t.Shape,
		Device: string(t.Device),
		DType:  string(t.DType),
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
