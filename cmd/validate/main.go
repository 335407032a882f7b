package main

import (
	"context"
	"flag"
	"log"

	"tuner-backend/cmd"
	"tuner-backend/internal/config"
	"tuner-backend/internal/database"
	"tuner-backend/internal/dataset"
	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/embedcache"
	"tuner-backend/internal/messaging"
	"tuner-backend/internal/state"
	"tuner-backend/internal/validation"

	"github.com/caarlos0/env/v11"
	ort "github.com/yalue/onnxruntime_go"
)

// LocalConfig holds the runtime paths for a single-machine validation pass,
// with no broker or object storage service involved.
type LocalConfig struct {
	ModelDir         string `env:"MODEL_DIR,notEmpty,required"`
	CacheDir         string `env:"EMBED_CACHE_DIR" envDefault:"./embed_cache"`
	TokenizerName    string `env:"TOKENIZER_NAME" envDefault:"openai/clip-vit-large-patch14"`
	HiddenDim        int64  `env:"TEXT_ENCODER_HIDDEN_DIM" envDefault:"768"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB,notEmpty,required"`
	EvalDataDir      string `env:"EVAL_DATA_DIR" envDefault:""`
}

func main() {
	step := flag.Int("step", 0, "global training step to validate at")
	validationType := flag.String("type", validation.TypeIntermediary, "validation type: intermediary, final, or base_model")
	force := flag.Bool("force", false, "run validation regardless of interval gating")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var lcfg LocalConfig
	if err := env.Parse(&lcfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ort.SetSharedLibraryPath(lcfg.OnnxRuntimeDylib)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}
	defer func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.Fatalf("error destroying onnx env: %v", err)
		}
	}()

	family, err := diffusion.ParseModelFamily(cfg.ModelFamily)
	if err != nil {
		log.Fatalf("Invalid model family: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.CreateObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.OutputBucketName); err != nil {
		log.Fatalf("Failed to create output bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	cache, err := embedcache.NewLocalCache(family, lcfg.ModelDir, lcfg.CacheDir, lcfg.TokenizerName, lcfg.HiddenDim)
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}
	defer cache.Close()

	resolver := validation.NewEmbedResolver(cache, diffusion.CPU, diffusion.Float32, cfg.FluxAttentionMasked)

	builder := func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
		return diffusion.LoadOnnxPipeline(lcfg.ModelDir, family)
	}

	trackers, err := cmd.CreateTrackers(cfg, "", "", "")
	if err != nil {
		log.Fatalf("Failed to create trackers: %v", err)
	}

	datasets := dataset.NewRegistry()
	if lcfg.EvalDataDir != "" {
		datasets.Register(dataset.Backend{Sampler: dataset.NewLocalSampler("eval", lcfg.EvalDataDir)})
	}

	run := &state.RunState{
		GlobalStep:     *step,
		GradAccumSteps: 1,
		Family:         family,
		MainProcess:    true,
		Device:         diffusion.CPU,
		Precision:      diffusion.Float32,
	}

	validator, err := cmd.CreateValidator(cfg, run, builder, resolver, trackers, datasets)
	if err != nil {
		log.Fatalf("Failed to create validator: %v", err)
	}

	if err := validator.PrepareValidationPrompts(context.Background()); err != nil {
		log.Fatalf("Failed to precompute validation embeds: %v", err)
	}

	payload := messaging.ValidationTaskPayload{
		GlobalStep:      *step,
		ValidationType:  *validationType,
		ForceEvaluation: *force,
	}
	if err := queue.PublishValidationTask(context.Background(), payload); err != nil {
		log.Fatalf("Failed to enqueue validation task: %v", err)
	}
	queue.Close()

	processor := validation.NewProcessor(db, store, queue, validator, run, cfg.OutputDir, cfg.OutputBucketName)
	processor.Start()

	log.Println("Validation pass finished.")
}
