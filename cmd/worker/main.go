package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tuner-backend/cmd"
	"tuner-backend/internal/config"
	"tuner-backend/internal/database"
	"tuner-backend/internal/dataset"
	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/diffusion/python"
	"tuner-backend/internal/embedcache"
	"tuner-backend/internal/messaging"
	"tuner-backend/internal/state"
	"tuner-backend/internal/validation"

	"github.com/caarlos0/env/v11"
	ort "github.com/yalue/onnxruntime_go"
)

// WorkerConfig holds the runtime paths the worker binary needs on top of the
// shared validation config.
type WorkerConfig struct {
	PythonExecutable string `env:"PYTHON_EXECUTABLE" envDefault:"python"`
	PluginScript     string `env:"PLUGIN_SCRIPT" envDefault:"plugin/plugin-python/plugin.py"`
	ModelDir         string `env:"MODEL_DIR,notEmpty,required"`
	CacheDir         string `env:"EMBED_CACHE_DIR" envDefault:"./embed_cache"`
	TokenizerName    string `env:"TOKENIZER_NAME" envDefault:"openai/clip-vit-large-patch14"`
	HiddenDim        int64  `env:"TEXT_ENCODER_HIDDEN_DIM" envDefault:"768"`
	Device           string `env:"DEVICE" envDefault:"cuda"`
	Precision        string `env:"PRECISION" envDefault:"bf16"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB,notEmpty,required"`
	TrackerURL       string `env:"TRACKER_URL" envDefault:""`
	TrackerAPIKey    string `env:"TRACKER_API_KEY" envDefault:""`
	TrackerRunKey    string `env:"TRACKER_RUN_KEY" envDefault:"tuner"`
	EvalDataDir      string `env:"EVAL_DATA_DIR" envDefault:""`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var wcfg WorkerConfig
	if err := env.Parse(&wcfg); err != nil {
		log.Fatalf("error parsing worker config: %v", err)
	}

	ort.SetSharedLibraryPath(wcfg.OnnxRuntimeDylib)
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

	// Pull any previously seeded base model benchmarks so stitching works
	// across worker restarts. A fresh run has none, so failure is fine.
	benchDir := filepath.Join(cfg.OutputDir, "benchmarks")
	if _, err := os.Stat(benchDir); os.IsNotExist(err) {
		if err := store.DownloadDir(context.Background(), cfg.OutputBucketName, "benchmarks", benchDir, false); err != nil {
			log.Printf("No benchmark snapshots pulled: %v", err)
		}
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	cache, err := embedcache.NewLocalCache(family, wcfg.ModelDir, wcfg.CacheDir, wcfg.TokenizerName, wcfg.HiddenDim)
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}
	defer cache.Close()

	resolver := validation.NewEmbedResolver(cache, diffusion.Device(wcfg.Device), diffusion.DType(wcfg.Precision), cfg.FluxAttentionMasked)

	builder := func(ctx context.Context, family diffusion.ModelFamily, kind diffusion.PipelineKind) (diffusion.Pipeline, error) {
		return python.LoadPipeline(wcfg.PythonExecutable, wcfg.PluginScript, wcfg.ModelDir, family, kind)
	}

	trackers, err := cmd.CreateTrackers(cfg, wcfg.TrackerURL, wcfg.TrackerAPIKey, wcfg.TrackerRunKey)
	if err != nil {
		log.Fatalf("Failed to create trackers: %v", err)
	}

	datasets := dataset.NewRegistry()
	if wcfg.EvalDataDir != "" {
		datasets.Register(dataset.Backend{Sampler: dataset.NewLocalSampler("eval", wcfg.EvalDataDir)})
	}

	run := &state.RunState{
		GradAccumSteps: 1,
		Family:         family,
		MainProcess:    true,
		Device:         diffusion.Device(wcfg.Device),
		Precision:      diffusion.DType(wcfg.Precision),
	}

	validator, err := cmd.CreateValidator(cfg, run, builder, resolver, trackers, datasets)
	if err != nil {
		log.Fatalf("Failed to create validator: %v", err)
	}

	if err := validator.PrepareValidationPrompts(context.Background()); err != nil {
		log.Fatalf("Failed to precompute validation embeds: %v", err)
	}

	processor := validation.NewProcessor(db, store, reciever, validator, run, cfg.OutputDir, cfg.OutputBucketName)

	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
