package validation

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"tuner-backend/internal/config"
	"tuner-backend/internal/dataset"
	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/prompts"
	"tuner-backend/internal/state"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// Phase is where the validator currently is in its run cycle.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseGating            Phase = "gating"
	PhasePreparingPipeline Phase = "preparing_pipeline"
	PhaseGenerating        Phase = "generating"
	PhaseReporting         Phase = "reporting"
	PhaseFinalizing        Phase = "finalizing"
)

// sd3SkipLayers is the transformer block window skip-layer guidance acts on.
var sd3SkipLayers = []int{7, 8, 9}

// Families whose pipelines reject the guidance_rescale argument.
var noGuidanceRescale = map[diffusion.ModelFamily]bool{
	diffusion.DeepFloyd:       true,
	diffusion.DeepFloydStage2: true,
	diffusion.PixArtSigma:     true,
	diffusion.Kolors:          true,
	diffusion.Flux:            true,
	diffusion.SD3:             true,
}

// Deps are the collaborators a Validator drives. Everything is injected so
// tests can substitute fakes.
type Deps struct {
	Factory    *diffusion.Factory
	Resolver   *EmbedResolver
	Benchmarks *BenchmarkStore
	Trackers   []Tracker
	Notifier   Notifier
	EMA        *diffusion.EMAModel
	Parameters []diffusion.Parameter
	Datasets   *dataset.Registry
}

// Validator orchestrates validation runs against the current training
// checkpoint. It is not safe for concurrent use; the training loop calls it
// from one goroutine.
type Validator struct {
	cfg         *config.Config
	run         *state.RunState
	deps        Deps
	entries     []prompts.Entry
	resolutions []Resolution
	scheduler   diffusion.Scheduler

	phase     Phase
	pipeline  diffusion.Pipeline
	evalSet   []dataset.Sample
	forceNext bool
	skipNext  bool
	finalized bool
	swapped   bool
}

func NewValidator(cfg *config.Config, run *state.RunState, entries []prompts.Entry, deps Deps) (*Validator, error) {
	resolutions, err := ParseResolutions(cfg.ResolutionSpec, run.Family)
	if err != nil {
		return nil, err
	}

	scheduler, err := diffusion.SchedulerFor(run.Family, cfg.NoiseScheduler)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	return &Validator{
		cfg:         cfg,
		run:         run,
		deps:        deps,
		entries:     entries,
		resolutions: resolutions,
		scheduler:   scheduler,
		phase:       PhaseIdle,
	}, nil
}

func (v *Validator) Phase() Phase { return v.phase }

func (v *Validator) Resolutions() []Resolution { return v.resolutions }

// ForceNextRun makes the next gating decision pass regardless of cadence.
// Authorization still applies.
func (v *Validator) ForceNextRun() { v.forceNext = true }

// SkipNextRun suppresses the next run that would otherwise fire.
func (v *Validator) SkipNextRun() { v.skipNext = true }

// ShouldValidate is the gating predicate. A run fires when the process is
// authorized to write artifacts and either the run is final, the run seeds
// base model benchmarks at step 0, or the interval cadence lines up on a
// step the run has actually trained past.
func (v *Validator) ShouldValidate(validationType string) bool {
	if !v.gateOpen(validationType) {
		return false
	}
	// A queued skip only spends itself on a run that would have fired.
	if v.skipNext {
		v.skipNext = false
		return false
	}
	return true
}

func (v *Validator) gateOpen(validationType string) bool {
	if !v.run.AuthorizedToWrite() {
		return false
	}
	if v.forceNext {
		v.forceNext = false
		return true
	}
	if v.cfg.DisableValidation {
		return false
	}
	if validationType == TypeBaseModel && v.run.GlobalStep == 0 {
		return true
	}
	if validationType == TypeFinal {
		return true
	}

	if len(v.entries) == 0 {
		return false
	}
	interval := v.cfg.ValidationInterval
	if interval <= 0 {
		return false
	}
	if v.run.GlobalStep%interval != 0 {
		return false
	}
	if v.run.GradAccumSteps > 1 && v.run.StepInEpoch%v.run.GradAccumSteps != 0 {
		return false
	}
	if v.run.GlobalStep <= v.run.ResumeStep {
		return false
	}
	return true
}

// PrepareValidationPrompts warms the embedding cache for every validation
// prompt and resolves the negative prompt once. Called before training
// starts so validation runs never pay the encode cost.
func (v *Validator) PrepareValidationPrompts(ctx context.Context) error {
	bar := progressbar.Default(int64(len(v.entries)+1), "precomputing validation embeds")
	for _, entry := range v.entries {
		if _, err := v.deps.Resolver.Resolve(ctx, entry.Prompt); err != nil {
			return fmt.Errorf("precomputing embeds for %q: %w", entry.Shortname, err)
		}
		_ = bar.Add(1)
	}
	if _, err := v.deps.Resolver.ResolveNegative(ctx, v.cfg.NegativePrompt); err != nil {
		return fmt.Errorf("precomputing negative embeds: %w", err)
	}
	_ = bar.Add(1)
	return nil
}

// Run performs one validation pass if gating allows it. A nil ResultSet with
// nil error means the run was gated off. Per-item failures are collected in
// the result set, they never abort the pass.
func (v *Validator) Run(ctx context.Context, validationType string) (*ResultSet, error) {
	v.phase = PhaseGating
	defer func() { v.phase = PhaseIdle }()

	if !v.ShouldValidate(validationType) {
		return nil, nil
	}
	v.finalized = false

	slog.Info("starting validation run", "step", v.run.GlobalStep, "type", validationType, "prompts", len(v.entries), "resolutions", len(v.resolutions))
	if v.deps.Notifier != nil {
		v.deps.Notifier.Send(ctx, fmt.Sprintf("Validations are generating for step %d (%s)", v.run.GlobalStep, validationType), nil)
	}

	v.phase = PhasePreparingPipeline
	// Only intermediary runs sample the EMA shadow; final and base model
	// runs use the trained weights as-is.
	if validationType == TypeIntermediary {
		if err := v.swapInEMA(); err != nil {
			return nil, fmt.Errorf("swapping in EMA weights: %w", err)
		}
	}
	if err := v.setupPipeline(ctx); err != nil {
		if ferr := v.Finalize(ctx); ferr != nil {
			slog.Error("error finalizing after pipeline failure", "error", ferr)
		}
		return nil, err
	}

	if err := v.loadEvalSet(); err != nil {
		// Img2img and controlnet need samples, plain text2img runs proceed.
		if v.cfg.Img2Img || v.cfg.ControlNet || v.run.Family == diffusion.DeepFloydStage2 {
			if ferr := v.Finalize(ctx); ferr != nil {
				slog.Error("error finalizing after eval set failure", "error", ferr)
			}
			return nil, err
		}
	}

	v.phase = PhaseGenerating
	results := &ResultSet{RunID: uuid.NewString(), Step: v.run.GlobalStep, Type: validationType}
	for _, req := range v.buildRequests() {
		for _, res := range v.resolutions {
			item, err := v.generateItem(ctx, req, res, validationType)
			if err != nil {
				slog.Error("error generating validation image", "shortname", req.shortname, "resolution", res.Label(), "error", err)
				results.Errors = append(results.Errors, ItemError{Shortname: req.shortname, Resolution: res, Err: err})
				continue
			}
			results.Images = append(results.Images, item)

			if v.deps.Notifier != nil {
				v.deps.Notifier.Send(ctx, fmt.Sprintf("step %d: %s at %s", v.run.GlobalStep, req.shortname, res.Label()), []image.Image{item.Image})
			}
		}
	}

	v.phase = PhaseReporting
	v.report(ctx, results)

	v.phase = PhaseFinalizing
	if err := v.Finalize(ctx); err != nil {
		return results, err
	}
	return results, nil
}

func (v *Validator) setupPipeline(ctx context.Context) error {
	if v.pipeline != nil {
		return nil
	}

	mode := diffusion.PipelineMode{ControlNet: v.cfg.ControlNet, Img2Img: v.cfg.Img2Img}
	pipeline, err := v.deps.Factory.Build(ctx, v.run.Family, mode)
	if err != nil {
		return err
	}

	if v.scheduler != "" {
		if err := pipeline.SetScheduler(v.scheduler); err != nil {
			pipeline.Release()
			return fmt.Errorf("setting scheduler %s: %w", v.scheduler, err)
		}
	}

	v.pipeline = pipeline
	return nil
}

func (v *Validator) loadEvalSet() error {
	if v.evalSet != nil {
		return nil
	}
	if !v.cfg.Img2Img && !v.cfg.ControlNet && v.run.Family != diffusion.DeepFloydStage2 {
		return nil
	}
	if v.deps.Datasets == nil {
		return fmt.Errorf("no dataset registry configured for evaluation sampling")
	}

	sampler, err := v.deps.Datasets.Select(v.cfg.EvalDatasetID)
	if err != nil {
		return err
	}
	samples, err := sampler.RetrieveValidationSet(v.cfg.NumEvalImages)
	if err != nil {
		return fmt.Errorf("retrieving evaluation samples: %w", err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("data backend %q returned no evaluation samples", sampler.ID())
	}

	if v.run.Family == diffusion.DeepFloydStage2 {
		for i := range samples {
			samples[i].Image = dataset.ResizeForStage2(samples[i].Image)
		}
	}
	v.evalSet = samples
	return nil
}

// validationRequest is one unit of generation work: a shortname keying the
// artifacts, the prompt to condition on, and an optional input image.
type validationRequest struct {
	shortname string
	prompt    string
	image     image.Image
}

// buildRequests maps the run onto generation work. When an eval set is
// loaded every retained sample becomes its own request, generated with the
// caption it was stored with; otherwise the prompt library drives the run.
func (v *Validator) buildRequests() []validationRequest {
	if len(v.evalSet) > 0 {
		requests := make([]validationRequest, 0, len(v.evalSet))
		for i, sample := range v.evalSet {
			shortname := prompts.SanitizeShortname(sample.Caption)
			if shortname == "" {
				shortname = fmt.Sprintf("eval_%d", i)
			}
			requests = append(requests, validationRequest{shortname: shortname, prompt: sample.Caption, image: sample.Image})
		}
		return requests
	}

	requests := make([]validationRequest, 0, len(v.entries))
	for _, entry := range v.entries {
		requests = append(requests, validationRequest{shortname: entry.Shortname, prompt: entry.Prompt})
	}
	return requests
}

func (v *Validator) generateItem(ctx context.Context, req validationRequest, res Resolution, validationType string) (ResultImage, error) {
	embeds, err := v.deps.Resolver.Resolve(ctx, req.prompt)
	if err != nil {
		return ResultImage{}, err
	}

	var negative *ResolvedEmbeds
	if v.run.Family.SupportsNegativePrompt() {
		negative, err = v.deps.Resolver.ResolveNegative(ctx, v.cfg.NegativePrompt)
		if err != nil {
			return ResultImage{}, err
		}
	}

	params := v.generationParams(embeds, negative, res, req.image)

	images, err := v.pipeline.Generate(ctx, params)
	if err != nil {
		return ResultImage{}, fmt.Errorf("generating image: %w", err)
	}
	if len(images) == 0 {
		return ResultImage{}, fmt.Errorf("pipeline returned no images")
	}
	img := images[0]

	if validationType == TypeBaseModel {
		if err := v.deps.Benchmarks.Save(req.shortname, res, img); err != nil {
			return ResultImage{}, err
		}
		return ResultImage{
			Shortname:  req.shortname,
			Prompt:     req.prompt,
			Resolution: res,
			Image:      img,
			Luminance:  MeanLuminance(img),
		}, nil
	}

	final := img
	switch {
	case v.cfg.ControlNet && params.ConditioningImage != nil:
		final = StitchConditioning(params.ConditioningImage, img)
	case v.cfg.Benchmark && v.deps.Benchmarks != nil && v.deps.Benchmarks.Has(req.shortname, res):
		base, err := v.deps.Benchmarks.Load(req.shortname, res)
		if err != nil {
			slog.Error("error loading benchmark image", "shortname", req.shortname, "error", err)
		} else {
			final = StitchBenchmark(base, img)
		}
	}

	path, err := v.saveImage(req.shortname, res, final)
	if err != nil {
		return ResultImage{}, err
	}

	return ResultImage{
		Shortname:  req.shortname,
		Prompt:     req.prompt,
		Resolution: res,
		Path:       path,
		Image:      final,
		Luminance:  MeanLuminance(img),
	}, nil
}

func (v *Validator) generationParams(embeds, negative *ResolvedEmbeds, res Resolution, img image.Image) diffusion.GenerationParams {
	family := v.run.Family
	mult := family.LatentMultiple()

	params := diffusion.GenerationParams{
		PromptEmbeds:      embeds.PromptEmbeds,
		Width:             roundToMultiple(res.Width, mult),
		Height:            roundToMultiple(res.Height, mult),
		NumInferenceSteps: v.cfg.NumInferenceSteps,
		GuidanceScale:     v.cfg.GuidanceScale,
		NumImages:         v.cfg.NumValidationImages,
	}

	if family.UsesPooledEmbeds() {
		params.PooledEmbeds = embeds.PooledEmbeds
	}
	params.TimeIDs = embeds.TimeIDs

	if v.maskRequired() {
		params.PromptAttentionMask = embeds.AttentionMask
	}

	if negative != nil {
		params.NegativePromptEmbeds = negative.PromptEmbeds
		if family.UsesPooledEmbeds() {
			params.NegativePooledEmbeds = negative.PooledEmbeds
		}
		if v.maskRequired() {
			params.NegativeAttentionMask = negative.AttentionMask
		}
	}

	if !noGuidanceRescale[family] && !family.IsFlowMatching() {
		params.GuidanceRescale = v.cfg.GuidanceRescale
	}

	// True CFG on flux only engages above a real guidance of 1.0; at or
	// below that the distilled guidance path runs alone.
	if family == diffusion.Flux && v.cfg.GuidanceScaleReal > 1.0 {
		params.GuidanceScaleReal = v.cfg.GuidanceScaleReal
		params.NoCFGUntilTimestep = v.cfg.NoCFGUntilTimestep
	}

	if family == diffusion.SD3 && v.cfg.SkipLayerScale > 0 {
		params.SkipLayerGuidance = &diffusion.SkipLayerGuidance{
			Scale:  v.cfg.SkipLayerScale,
			Start:  v.cfg.SkipLayerStart,
			Stop:   v.cfg.SkipLayerStop,
			Layers: sd3SkipLayers,
		}
	}

	if img != nil {
		switch {
		case v.cfg.ControlNet:
			params.ConditioningImage = dataset.ResizeForCondition(img, params.Width)
		case v.cfg.Img2Img || family == diffusion.DeepFloydStage2:
			params.Image = img
			strength := v.cfg.Img2ImgStrength
			if strength <= 0 {
				strength = 0.2
			}
			params.Strength = strength
		}
	}

	if !v.cfg.RandomizeSeed {
		device := v.run.Device
		if v.cfg.SeedSource == "cpu" {
			device = diffusion.CPU
		}
		params.Generator = diffusion.NewGenerator(device, v.cfg.Seed)
	}

	return params
}

// maskRequired reports whether the pipeline expects attention masks. Flux
// only consumes them when the checkpoint was trained with masked attention.
func (v *Validator) maskRequired() bool {
	if v.run.Family == diffusion.Flux {
		return v.cfg.FluxAttentionMasked
	}
	return v.run.Family.RequiresAttentionMask()
}

// roundToMultiple snaps a dimension to the nearest multiple of the family's
// latent grid, never below one multiple.
func roundToMultiple(value, mult int) int {
	rounded := (value + mult/2) / mult * mult
	if rounded < mult {
		rounded = mult
	}
	return rounded
}

func (v *Validator) saveImage(shortname string, res Resolution, img image.Image) (string, error) {
	dir := filepath.Join(v.cfg.OutputDir, "validation_images")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("creating validation image dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("step_%d_%s_%s.png", v.run.GlobalStep, shortname, res.Label()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating validation image: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encoding validation image: %w", err)
	}
	return path, nil
}

// report fans the result set out to every tracker. Reporting is best effort,
// a broken tracker cannot fail the run.
func (v *Validator) report(ctx context.Context, results *ResultSet) {
	for _, tracker := range v.deps.Trackers {
		if err := tracker.LogImages(ctx, results); err != nil {
			slog.Error("error logging validation results to tracker", "tracker", tracker.Name(), "error", err)
		}
	}
}

func (v *Validator) swapInEMA() error {
	if !v.cfg.UseEMA || v.deps.EMA == nil {
		return nil
	}
	v.deps.EMA.Store(v.deps.Parameters)
	if err := v.deps.EMA.CopyTo(v.deps.Parameters); err != nil {
		return err
	}
	v.swapped = true
	return nil
}

// Finalize tears down run state: restores trained weights if EMA was swapped
// in, releases the pipeline unless the VAE is kept resident, and clears
// per-run resolver state. Calling it again is a no-op.
func (v *Validator) Finalize(ctx context.Context) error {
	if v.finalized {
		return nil
	}
	v.finalized = true

	var restoreErr error
	if v.swapped {
		v.swapped = false
		if err := v.deps.EMA.Restore(v.deps.Parameters); err != nil {
			restoreErr = fmt.Errorf("restoring trained weights: %w", err)
		}
	}

	if v.pipeline != nil && !v.cfg.KeepVAE {
		v.pipeline.Release()
		v.pipeline = nil
	}

	v.deps.Resolver.Reset()
	v.evalSet = nil
	return restoreErr
}
