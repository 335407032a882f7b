package validation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"tuner-backend/internal/config"
	"tuner-backend/internal/dataset"
	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/prompts"
	"tuner-backend/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	calls      int
	failOnCall int
	released   int
	scheduler  diffusion.Scheduler
	lastParams diffusion.GenerationParams
	imageColor color.RGBA
}

func (p *fakePipeline) Generate(ctx context.Context, params diffusion.GenerationParams) ([]image.Image, error) {
	p.calls++
	p.lastParams = params
	if p.failOnCall > 0 && p.calls == p.failOnCall {
		return nil, fmt.Errorf("device out of memory")
	}

	c := p.imageColor
	if c == (color.RGBA{}) {
		c = color.RGBA{128, 128, 128, 255}
	}
	img := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return []image.Image{img}, nil
}

func (p *fakePipeline) SetScheduler(s diffusion.Scheduler) error {
	p.scheduler = s
	return nil
}

func (p *fakePipeline) Release() { p.released++ }

type fakeTracker struct {
	name    string
	results []*ResultSet
	err     error
}

func (t *fakeTracker) Name() string { return t.name }

func (t *fakeTracker) LogImages(ctx context.Context, results *ResultSet) error {
	t.results = append(t.results, results)
	return t.err
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Send(ctx context.Context, message string, images []image.Image) {
	n.messages = append(n.messages, message)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir:           t.TempDir(),
		ValidationInterval:  50,
		NumInferenceSteps:   4,
		GuidanceScale:       7.5,
		GuidanceRescale:     0.7,
		ResolutionSpec:      "64,128x64",
		NumValidationImages: 1,
		Seed:                42,
		SeedSource:          "gpu",
		NegativePrompt:      "blurry",
		Img2ImgStrength:     0.2,
	}
}

func testRunState(step int) *state.RunState {
	return &state.RunState{
		GlobalStep:     step,
		GradAccumSteps: 1,
		Family:         diffusion.SDXL,
		MainProcess:    true,
		Device:         diffusion.Device("cuda"),
		Precision:      diffusion.BFloat16,
	}
}

func testEntries() []prompts.Entry {
	return []prompts.Entry{
		{Shortname: "first", Prompt: "a red barn in a field"},
		{Shortname: "second", Prompt: "a lighthouse at night"},
	}
}

func newTestValidator(t *testing.T, cfg *config.Config, run *state.RunState, pipeline *fakePipeline, deps Deps) *Validator {
	t.Helper()

	if deps.Factory == nil {
		deps.Factory = diffusion.NewFactory(func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
			return pipeline, nil
		})
	}
	if deps.Resolver == nil {
		deps.Resolver = NewEmbedResolver(&fakeCache{family: run.Family, arity: 2}, run.Device, run.Precision, false)
	}
	if deps.Benchmarks == nil {
		benchmarks, err := NewBenchmarkStore(cfg.OutputDir)
		require.NoError(t, err)
		deps.Benchmarks = benchmarks
	}

	validator, err := NewValidator(cfg, run, testEntries(), deps)
	require.NoError(t, err)
	return validator
}

func TestShouldValidate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(cfg *config.Config, run *state.RunState, v *Validator)
		vtype  string
		expect bool
	}{
		{
			name:   "interval aligned",
			setup:  func(cfg *config.Config, run *state.RunState, v *Validator) { run.GlobalStep = 100 },
			vtype:  TypeIntermediary,
			expect: true,
		},
		{
			name:   "interval misaligned",
			setup:  func(cfg *config.Config, run *state.RunState, v *Validator) { run.GlobalStep = 90 },
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "not authorized to write",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				run.MainProcess = false
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "distributed non main process is authorized",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				run.MainProcess = false
				run.Distributed = true
			},
			vtype:  TypeIntermediary,
			expect: true,
		},
		{
			name: "final always fires",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 7
			},
			vtype:  TypeFinal,
			expect: true,
		},
		{
			name: "base model at step zero",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 0
			},
			vtype:  TypeBaseModel,
			expect: true,
		},
		{
			name: "base model past step zero follows cadence",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 7
			},
			vtype:  TypeBaseModel,
			expect: false,
		},
		{
			name: "disabled",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				cfg.DisableValidation = true
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "force overrides disabled",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 90
				cfg.DisableValidation = true
				v.ForceNextRun()
			},
			vtype:  TypeIntermediary,
			expect: true,
		},
		{
			name: "skip wins over force",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				v.ForceNextRun()
				v.SkipNextRun()
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "not past resume step",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				run.ResumeStep = 100
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "grad accum misaligned",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				run.GradAccumSteps = 4
				run.StepInEpoch = 3
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
		{
			name: "grad accum aligned",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				run.GradAccumSteps = 4
				run.StepInEpoch = 8
			},
			vtype:  TypeIntermediary,
			expect: true,
		},
		{
			name: "zero interval never fires",
			setup: func(cfg *config.Config, run *state.RunState, v *Validator) {
				run.GlobalStep = 100
				cfg.ValidationInterval = 0
			},
			vtype:  TypeIntermediary,
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			run := testRunState(0)
			validator := newTestValidator(t, cfg, run, &fakePipeline{}, Deps{})

			tt.setup(cfg, run, validator)
			assert.Equal(t, tt.expect, validator.ShouldValidate(tt.vtype))
		})
	}
}

func TestShouldValidate_FlagsAreOneShot(t *testing.T) {
	cfg := testConfig(t)
	run := testRunState(90)
	validator := newTestValidator(t, cfg, run, &fakePipeline{}, Deps{})

	validator.ForceNextRun()
	assert.True(t, validator.ShouldValidate(TypeIntermediary))
	assert.False(t, validator.ShouldValidate(TypeIntermediary))

	run.GlobalStep = 100
	validator.SkipNextRun()
	assert.False(t, validator.ShouldValidate(TypeIntermediary))
	assert.True(t, validator.ShouldValidate(TypeIntermediary))
}

func TestShouldValidate_SkipWaitsForEligibleRun(t *testing.T) {
	cfg := testConfig(t)
	run := testRunState(90)
	validator := newTestValidator(t, cfg, run, &fakePipeline{}, Deps{})

	validator.SkipNextRun()

	// Step 90 would not have fired anyway; the queued skip stays armed.
	assert.False(t, validator.ShouldValidate(TypeIntermediary))

	// It spends itself on the first run that would have fired.
	run.GlobalStep = 100
	assert.False(t, validator.ShouldValidate(TypeIntermediary))
	assert.True(t, validator.ShouldValidate(TypeIntermediary))
}

func TestRun_GatedOffReturnsNil(t *testing.T) {
	cfg := testConfig(t)
	validator := newTestValidator(t, cfg, testRunState(90), &fakePipeline{}, Deps{})

	results, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRun_FullMatrixWithOneFailure(t *testing.T) {
	cfg := testConfig(t)
	run := testRunState(100)
	pipeline := &fakePipeline{failOnCall: 3}
	tracker := &fakeTracker{name: "test"}
	notifier := &fakeNotifier{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{
		Trackers: []Tracker{tracker},
		Notifier: notifier,
	})

	results, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	require.NotNil(t, results)

	// 2 prompts x 2 resolutions with one generation failure.
	assert.Len(t, results.Images, 3)
	require.Len(t, results.Errors, 1)
	assert.Equal(t, "second", results.Errors[0].Shortname)
	assert.Equal(t, "64x64", results.Errors[0].Resolution.Label())

	for _, img := range results.Images {
		assert.FileExists(t, img.Path)
	}
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "validation_images", "step_100_first_64x64.png"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "validation_images", "step_100_first_128x64.png"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "validation_images", "step_100_second_128x64.png"))

	// The whole result set reached the tracker once.
	require.Len(t, tracker.results, 1)
	assert.Same(t, results, tracker.results[0])

	// One start announcement plus one message per produced image.
	assert.Len(t, notifier.messages, 4)
	assert.Contains(t, notifier.messages[0], "step 100")

	// Pipeline released after the run.
	assert.Equal(t, 1, pipeline.released)
}

func TestRun_GenerationParams(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResolutionSpec = "100x70"
	run := testRunState(100)
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	params := pipeline.lastParams

	// Dimensions snap to the nearest latent multiple, up or down.
	assert.Equal(t, 128, params.Width)
	assert.Equal(t, 64, params.Height)

	assert.NotNil(t, params.PromptEmbeds)
	assert.NotNil(t, params.PooledEmbeds)
	assert.NotNil(t, params.NegativePromptEmbeds)
	assert.Equal(t, 7.5, params.GuidanceScale)
	assert.Equal(t, 0.7, params.GuidanceRescale)

	require.NotNil(t, params.Generator)
	assert.Equal(t, int64(42), params.Generator.Seed())
	assert.Equal(t, diffusion.Device("cuda"), params.Generator.Device())
}

func TestRun_CPUSeedSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.SeedSource = "cpu"
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	require.NotNil(t, pipeline.lastParams.Generator)
	assert.Equal(t, diffusion.CPU, pipeline.lastParams.Generator.Device())
}

func TestRun_RandomizedSeedOmitsGenerator(t *testing.T) {
	cfg := testConfig(t)
	cfg.RandomizeSeed = true
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Nil(t, pipeline.lastParams.Generator)
}

func TestRun_FlowMatchingSkipsGuidanceRescale(t *testing.T) {
	cfg := testConfig(t)
	run := testRunState(100)
	run.Family = diffusion.SD3
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Zero(t, pipeline.lastParams.GuidanceRescale)
}

func TestRun_SD3SkipLayerGuidance(t *testing.T) {
	cfg := testConfig(t)
	cfg.SkipLayerScale = 2.5
	cfg.SkipLayerStart = 0.01
	cfg.SkipLayerStop = 0.2
	run := testRunState(100)
	run.Family = diffusion.SD3
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	slg := pipeline.lastParams.SkipLayerGuidance
	require.NotNil(t, slg)
	assert.Equal(t, 2.5, slg.Scale)
	assert.Equal(t, []int{7, 8, 9}, slg.Layers)
}

func TestRun_FluxOmitsNegativePrompt(t *testing.T) {
	cfg := testConfig(t)
	cfg.GuidanceScaleReal = 3.5
	cfg.NoCFGUntilTimestep = 2
	run := testRunState(100)
	run.Family = diffusion.Flux
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	params := pipeline.lastParams
	assert.Nil(t, params.NegativePromptEmbeds)
	assert.Equal(t, 3.5, params.GuidanceScaleReal)
	assert.Equal(t, 2, params.NoCFGUntilTimestep)
	assert.Zero(t, params.GuidanceRescale)
}

func TestRun_FluxDistilledGuidanceOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.GuidanceScaleReal = 1.0
	cfg.NoCFGUntilTimestep = 2
	run := testRunState(100)
	run.Family = diffusion.Flux
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	// At a real guidance of 1.0 true CFG never engages, so neither knob is
	// passed through.
	assert.Zero(t, pipeline.lastParams.GuidanceScaleReal)
	assert.Zero(t, pipeline.lastParams.NoCFGUntilTimestep)
}

func TestRun_FluxMaskedAttentionForwardsMask(t *testing.T) {
	cfg := testConfig(t)
	cfg.FluxAttentionMasked = true
	run := testRunState(100)
	run.Family = diffusion.Flux
	pipeline := &fakePipeline{}

	resolver := NewEmbedResolver(&fakeCache{family: diffusion.Flux, arity: 4}, run.Device, run.Precision, true)
	validator := newTestValidator(t, cfg, run, pipeline, Deps{Resolver: resolver})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.NotNil(t, pipeline.lastParams.PromptAttentionMask)
}

func TestRun_BaseModelSeedsBenchmarks(t *testing.T) {
	cfg := testConfig(t)
	run := testRunState(0)
	pipeline := &fakePipeline{}
	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	results, err := validator.Run(context.Background(), TypeBaseModel)
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Len(t, results.Images, 4)

	// Benchmarks land in the base model store, not validation_images.
	for _, img := range results.Images {
		assert.Empty(t, img.Path)
	}
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "benchmarks", "base_model", "first_64x64.png"))
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "validation_images", "step_0_first_64x64.png"))
}

func TestRun_BenchmarkStitching(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResolutionSpec = "64"
	cfg.Benchmark = true
	run := testRunState(0)

	pipeline := &fakePipeline{}
	validator := newTestValidator(t, cfg, run, pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeBaseModel)
	require.NoError(t, err)

	run.GlobalStep = 100
	results, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	require.NotEmpty(t, results.Images)

	// Stitched output is two panes plus the separator.
	stitched := results.Images[0].Image
	assert.Equal(t, 64+separatorWidth+64, stitched.Bounds().Dx())
}

func TestRun_EMASwapAndRestore(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseEMA = true
	run := testRunState(100)

	params := []diffusion.Parameter{{Name: "w", Data: []float32{1, 2, 3}}}
	ema := diffusion.NewEMAModel(0.5, diffusion.CPU)
	ema.Update([]diffusion.Parameter{{Name: "w", Data: []float32{9, 9, 9}}})

	var seen []float32
	pipeline := &fakePipeline{}
	factory := diffusion.NewFactory(func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
		// Capture the live weights while the pipeline exists.
		seen = append([]float32(nil), params[0].Data...)
		return pipeline, nil
	})

	validator := newTestValidator(t, cfg, run, pipeline, Deps{
		Factory:    factory,
		EMA:        ema,
		Parameters: params,
	})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	// Shadow weights were live during generation, trained weights restored
	// afterwards.
	assert.Equal(t, []float32{9, 9, 9}, seen)
	assert.Equal(t, []float32{1, 2, 3}, params[0].Data)
}

func TestRun_FinalRunKeepsTrainedWeights(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseEMA = true
	run := testRunState(100)

	params := []diffusion.Parameter{{Name: "w", Data: []float32{1, 2, 3}}}
	ema := diffusion.NewEMAModel(0.5, diffusion.CPU)
	ema.Update([]diffusion.Parameter{{Name: "w", Data: []float32{9, 9, 9}}})

	var seen []float32
	pipeline := &fakePipeline{}
	factory := diffusion.NewFactory(func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
		seen = append([]float32(nil), params[0].Data...)
		return pipeline, nil
	})

	validator := newTestValidator(t, cfg, run, pipeline, Deps{
		Factory:    factory,
		EMA:        ema,
		Parameters: params,
	})

	// Final runs report the trained checkpoint, not the EMA shadow.
	_, err := validator.Run(context.Background(), TypeFinal)
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2, 3}, seen)
	assert.Equal(t, []float32{1, 2, 3}, params[0].Data)
}

func TestFinalize_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	pipeline := &fakePipeline{}
	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Equal(t, 1, pipeline.released)

	require.NoError(t, validator.Finalize(context.Background()))
	assert.Equal(t, 1, pipeline.released)
}

func TestFinalize_KeepVAERetainsPipeline(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepVAE = true
	pipeline := &fakePipeline{}
	builds := 0
	factory := diffusion.NewFactory(func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
		builds++
		return pipeline, nil
	})

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{Factory: factory})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Equal(t, 0, pipeline.released)

	// The resident pipeline is reused on the next run.
	_, err = validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
}

func TestRun_Img2ImgNeedsEvalSamples(t *testing.T) {
	cfg := testConfig(t)
	cfg.Img2Img = true
	pipeline := &fakePipeline{}

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{
		Datasets: dataset.NewRegistry(),
	})

	_, err := validator.Run(context.Background(), TypeIntermediary)
	require.Error(t, err)

	// The pipeline was built and torn down despite the abort.
	assert.Equal(t, 1, pipeline.released)
}

func TestRun_Img2ImgWiresEvalSample(t *testing.T) {
	cfg := testConfig(t)
	cfg.Img2Img = true
	cfg.NumEvalImages = 1
	pipeline := &fakePipeline{}

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "01_sample_image.png"), 80, 80)

	datasets := dataset.NewRegistry()
	datasets.Register(dataset.Backend{Sampler: dataset.NewLocalSampler("eval", dir)})

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{Datasets: datasets})

	results, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	assert.NotNil(t, pipeline.lastParams.Image)
	assert.Equal(t, 0.2, pipeline.lastParams.Strength)

	// The sample's caption keys the artifacts instead of the prompt library.
	require.NotEmpty(t, results.Images)
	assert.Equal(t, "sample_image", results.Images[0].Shortname)
	assert.Equal(t, "sample image", results.Images[0].Prompt)
}

func TestRun_EvalSamplesBecomeRequests(t *testing.T) {
	cfg := testConfig(t)
	cfg.Img2Img = true
	cfg.NumEvalImages = 2
	cfg.ResolutionSpec = "64"
	pipeline := &fakePipeline{}

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "01_red_truck.png"), 80, 80)
	writeTestPNG(t, filepath.Join(dir, "02_blue_boat.png"), 80, 80)

	datasets := dataset.NewRegistry()
	datasets.Register(dataset.Backend{Sampler: dataset.NewLocalSampler("eval", dir)})

	validator := newTestValidator(t, cfg, testRunState(100), pipeline, Deps{Datasets: datasets})

	results, err := validator.Run(context.Background(), TypeIntermediary)
	require.NoError(t, err)

	// Every retained sample generates under its own caption.
	require.Len(t, results.Images, 2)
	assert.Equal(t, "red_truck", results.Images[0].Shortname)
	assert.Equal(t, "red truck", results.Images[0].Prompt)
	assert.Equal(t, "blue_boat", results.Images[1].Shortname)
	assert.Equal(t, "blue boat", results.Images[1].Prompt)
	assert.Equal(t, 2, pipeline.calls)
}

func TestNewValidator_BadResolutionSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResolutionSpec = "notaresolution"

	_, err := NewValidator(cfg, testRunState(0), testEntries(), Deps{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewValidator_FlowMatchingIgnoresSchedulerOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.NoiseScheduler = "ddim"
	run := testRunState(0)
	run.Family = diffusion.SD3

	validator, err := NewValidator(cfg, run, testEntries(), Deps{})
	require.NoError(t, err)
	assert.Equal(t, diffusion.SchedulerFlowMatchEuler, validator.scheduler)
}

func TestNewValidator_UnknownScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.NoiseScheduler = "notascheduler"

	_, err := NewValidator(cfg, testRunState(0), testEntries(), Deps{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{40, 90, 200, 255}), image.Point{}, draw.Src)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
