package tracker

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"tuner-backend/internal/validation"
)

// RawTracker writes name/pixel pairs to a local event directory, the format
// tensorboard-style viewers ingest without any remote service.
type RawTracker struct {
	dir string
}

func NewRawTracker(dir string) (*RawTracker, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating raw tracker dir: %w", err)
	}
	return &RawTracker{dir: dir}, nil
}

func (t *RawTracker) Name() string { return "raw" }

func (t *RawTracker) LogImages(ctx context.Context, results *validation.ResultSet) error {
	stepDir := filepath.Join(t.dir, fmt.Sprintf("step_%d", results.Step))
	if err := os.MkdirAll(stepDir, os.ModePerm); err != nil {
		return fmt.Errorf("creating step dir: %w", err)
	}

	for _, img := range results.Images {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("%s_%s.png", img.Shortname, img.Resolution.Label())
		f, err := os.Create(filepath.Join(stepDir, name))
		if err != nil {
			return fmt.Errorf("creating raw event file: %w", err)
		}
		if err := png.Encode(f, img.Image); err != nil {
			f.Close()
			return fmt.Errorf("encoding raw event image: %w", err)
		}
		f.Close()
	}
	return nil
}
