package diffusion

import (
	"context"
	"fmt"
	"log/slog"
)

// PipelineKind is the concrete pipeline class to construct for a run.
type PipelineKind string

const (
	KindText2Img        PipelineKind = "text2img"
	KindImg2Img         PipelineKind = "img2img"
	KindControlNet      PipelineKind = "controlnet"
	KindSuperResolution PipelineKind = "super_resolution"
)

// PipelineMode captures the run flags that select a pipeline kind.
type PipelineMode struct {
	ControlNet bool
	Img2Img    bool
}

var controlnetUnsupported = map[ModelFamily]bool{
	Flux:        true,
	SD3:         true,
	PixArtSigma: true,
	Kolors:      true,
}

var img2imgUnsupported = map[ModelFamily]bool{
	Flux:        true,
	PixArtSigma: true,
}

// KindFor maps a family and mode to the pipeline kind to build. Combinations
// the underlying architectures cannot serve fail with
// ErrUnsupportedConfiguration.
func KindFor(family ModelFamily, mode PipelineMode) (PipelineKind, error) {
	switch {
	case mode.ControlNet:
		if controlnetUnsupported[family] {
			return "", fmt.Errorf("%w: %s does not support controlnet validation", ErrUnsupportedConfiguration, family)
		}
		return KindControlNet, nil
	case family == DeepFloydStage2:
		return KindSuperResolution, nil
	case mode.Img2Img:
		if img2imgUnsupported[family] {
			return "", fmt.Errorf("%w: %s does not support img2img validation", ErrUnsupportedConfiguration, family)
		}
		return KindImg2Img, nil
	default:
		return KindText2Img, nil
	}
}

// Builder constructs a pipeline of the given kind for a family. Builders are
// registered per backend (python plugin, onnx).
type Builder func(ctx context.Context, family ModelFamily, kind PipelineKind) (Pipeline, error)

const constructionAttempts = 3

// Factory resolves pipeline kinds and constructs pipelines with bounded
// retries. Construction can fail transiently (device OOM while the trainer
// releases memory), so each attempt is logged and the last error surfaced.
type Factory struct {
	build Builder
}

func NewFactory(build Builder) *Factory {
	return &Factory{build: build}
}

func (f *Factory) Build(ctx context.Context, family ModelFamily, mode PipelineMode) (Pipeline, error) {
	kind, err := KindFor(family, mode)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= constructionAttempts; attempt++ {
		pipeline, err := f.build(ctx, family, kind)
		if err == nil {
			return pipeline, nil
		}
		lastErr = err
		slog.Error("error constructing pipeline", "family", family, "kind", kind, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("constructing %s pipeline for %s: %w", kind, family, lastErr)
}
