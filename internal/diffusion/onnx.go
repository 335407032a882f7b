package diffusion

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const latentChannels = 4

// OnnxPipeline runs an exported denoiser and VAE decoder in process through
// onnxruntime. It serves distilled validation models that fit on CPU; full
// training checkpoints go through the python plugin backend instead.
type OnnxPipeline struct {
	family    ModelFamily
	unet      *ort.DynamicAdvancedSession
	vae       *ort.DynamicAdvancedSession
	scheduler Scheduler
	released  bool
}

// LoadOnnxPipeline opens unet.onnx and vae_decoder.onnx from modelDir.
func LoadOnnxPipeline(modelDir string, family ModelFamily) (*OnnxPipeline, error) {
	unet, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "unet.onnx"),
		[]string{"sample", "timestep", "encoder_hidden_states"},
		[]string{"out_sample"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unet session: %w", err)
	}

	vae, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "vae_decoder.onnx"),
		[]string{"latent_sample"},
		[]string{"sample"},
		nil,
	)
	if err != nil {
		unet.Destroy()
		return nil, fmt.Errorf("failed to create vae session: %w", err)
	}

	return &OnnxPipeline{family: family, unet: unet, vae: vae, scheduler: SchedulerEuler}, nil
}

func (p *OnnxPipeline) SetScheduler(scheduler Scheduler) error {
	if _, ok := schedulerNames[string(scheduler)]; !ok {
		return fmt.Errorf("unknown noise scheduler %q", scheduler)
	}
	p.scheduler = scheduler
	return nil
}

func (p *OnnxPipeline) Generate(ctx context.Context, params GenerationParams) ([]image.Image, error) {
	if params.PromptEmbeds == nil {
		return nil, fmt.Errorf("missing prompt embeds")
	}
	numImages := params.NumImages
	if numImages <= 0 {
		numImages = 1
	}

	gen := params.Generator
	if gen == nil {
		gen = NewGenerator(CPU, time.Now().UnixNano())
	}

	images := make([]image.Image, 0, numImages)
	for i := 0; i < numImages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := p.generateOne(params, gen)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (p *OnnxPipeline) generateOne(params GenerationParams, gen *Generator) (image.Image, error) {
	latentH, latentW := int64(params.Height/8), int64(params.Width/8)
	latents := make([]float32, latentChannels*latentH*latentW)
	gen.Normal(latents)

	steps := params.NumInferenceSteps
	if steps <= 0 {
		steps = 25
	}

	useCFG := params.GuidanceScale > 1 && params.NegativePromptEmbeds != nil
	for step := 0; step < steps; step++ {
		// Linear timestep spacing, high noise to low.
		timestep := float32(999) * float32(steps-1-step) / float32(steps-1)

		noise, err := p.denoise(latents, timestep, params.PromptEmbeds, latentH, latentW)
		if err != nil {
			return nil, err
		}
		if useCFG {
			uncond, err := p.denoise(latents, timestep, params.NegativePromptEmbeds, latentH, latentW)
			if err != nil {
				return nil, err
			}
			scale := float32(params.GuidanceScale)
			for i := range noise {
				noise[i] = uncond[i] + scale*(noise[i]-uncond[i])
			}
		}

		dt := 1.0 / float32(steps)
		for i := range latents {
			latents[i] -= noise[i] * dt
		}
	}

	return p.decode(latents, latentH, latentW, params.Height, params.Width)
}

func (p *OnnxPipeline) denoise(latents []float32, timestep float32, embeds *Tensor, latentH, latentW int64) ([]float32, error) {
	sampleT, err := ort.NewTensor(ort.NewShape(1, latentChannels, latentH, latentW), latents)
	if err != nil {
		return nil, err
	}
	defer sampleT.Destroy()

	timestepT, err := ort.NewTensor(ort.NewShape(1), []float32{timestep})
	if err != nil {
		return nil, err
	}
	defer timestepT.Destroy()

	embedShape := make([]int64, len(embeds.Shape))
	copy(embedShape, embeds.Shape)
	embedsT, err := ort.NewTensor(ort.NewShape(embedShape...), embeds.Data)
	if err != nil {
		return nil, err
	}
	defer embedsT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, latentChannels, latentH, latentW))
	if err != nil {
		return nil, err
	}
	defer outT.Destroy()

	if err := p.unet.Run([]ort.Value{sampleT, timestepT, embedsT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("unet run error: %w", err)
	}
	return append([]float32(nil), outT.GetData()...), nil
}

func (p *OnnxPipeline) decode(latents []float32, latentH, latentW int64, height, width int) (image.Image, error) {
	latentT, err := ort.NewTensor(ort.NewShape(1, latentChannels, latentH, latentW), latents)
	if err != nil {
		return nil, err
	}
	defer latentT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(height), int64(width)))
	if err != nil {
		return nil, err
	}
	defer outT.Destroy()

	if err := p.vae.Run([]ort.Value{latentT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("vae run error: %w", err)
	}

	pixels := outT.GetData()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(pixels[idx]),
				G: toByte(pixels[plane+idx]),
				B: toByte(pixels[2*plane+idx]),
				A: 255,
			})
		}
	}
	return img, nil
}

// toByte maps VAE output in [-1, 1] to an 8-bit channel.
func toByte(v float32) uint8 {
	v = (v + 1) / 2
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(v*255 + 0.5)
}

func (p *OnnxPipeline) Release() {
	if p.released {
		return
	}
	p.released = true
	p.unet.Destroy()
	p.vae.Destroy()
}
