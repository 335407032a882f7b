package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"tuner-backend/internal/config"
	"tuner-backend/internal/dataset"
	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/prompts"
	"tuner-backend/internal/state"
	"tuner-backend/internal/storage"
	"tuner-backend/internal/tracker"
	"tuner-backend/internal/validation"
	"tuner-backend/internal/webhook"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// BuildValidationEntries assembles the prompt list for a run from the
// configured libraries and filter, then grows it with LLM-written variations
// when a prompt expansion model is configured.
func BuildValidationEntries(cfg *config.Config) ([]prompts.Entry, error) {
	opts := prompts.Options{
		DisableUnconditional: cfg.DisableUnconditional,
		UserLibraryPath:      cfg.UserPromptLibrary,
		OverridePrompt:       cfg.ValidationPrompt,
	}

	if cfg.PromptFilter != "" {
		filter, err := prompts.ParseFilter(cfg.PromptFilter)
		if err != nil {
			return nil, fmt.Errorf("parsing prompt filter: %w", err)
		}
		opts.Filter = filter
	}

	entries, err := prompts.BuildValidationPrompts(opts)
	if err != nil {
		return nil, err
	}

	if cfg.PromptExpansionModel != "" && cfg.PromptExpansionCount > 0 {
		expander := prompts.NewLibraryExpander(cfg.PromptExpansionModel, 0.8)
		entries = append(entries, expander.Expand(context.Background(), entries, cfg.PromptExpansionCount)...)
	}

	return entries, nil
}

// CreateObjectStore picks the artifact store from config: S3 when an
// endpoint or credentials are configured, local disk otherwise.
func CreateObjectStore(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3EndpointURL != "" || cfg.S3AccessKeyID != "" {
		return storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	}
	return storage.NewLocalObjectStore(filepath.Join(cfg.OutputDir, "object_store"))
}

// CreateTrackers builds the reporting fan-out. A remote tracker is added when
// a base URL is configured, raw local events are always written so a run is
// inspectable without any service.
func CreateTrackers(cfg *config.Config, baseURL, apiKey, runKey string) ([]validation.Tracker, error) {
	var trackers []validation.Tracker

	if baseURL != "" {
		switch cfg.TrackerLayout {
		case "table":
			trackers = append(trackers, tracker.NewTableTracker(baseURL, apiKey, runKey))
		default:
			trackers = append(trackers, tracker.NewGalleryTracker(baseURL, apiKey, runKey))
		}
	}

	raw, err := tracker.NewRawTracker(filepath.Join(cfg.OutputDir, "events"))
	if err != nil {
		return nil, err
	}
	trackers = append(trackers, raw)

	return trackers, nil
}

// CreateValidator wires a validator from config and a pipeline builder.
func CreateValidator(
	cfg *config.Config,
	run *state.RunState,
	build diffusion.Builder,
	resolver *validation.EmbedResolver,
	trackers []validation.Tracker,
	datasets *dataset.Registry,
) (*validation.Validator, error) {
	entries, err := BuildValidationEntries(cfg)
	if err != nil {
		return nil, err
	}

	benchmarks, err := validation.NewBenchmarkStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	deps := validation.Deps{
		Factory:    diffusion.NewFactory(build),
		Resolver:   resolver,
		Benchmarks: benchmarks,
		Trackers:   trackers,
		Notifier:   webhook.NewClient(cfg.WebhookURL),
		Datasets:   datasets,
	}
	if cfg.UseEMA {
		deps.EMA = diffusion.NewEMAModel(cfg.EMADecay, diffusion.Device(cfg.EMADevice))
	}

	return validation.NewValidator(cfg, run, entries, deps)
}
