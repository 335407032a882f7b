package validation

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// BenchmarkStore holds the frozen base model samples taken before any
// fine-tuning steps. Later runs stitch their output against these.
type BenchmarkStore struct {
	dir string
}

// NewBenchmarkStore roots the store at <outputDir>/benchmarks/base_model.
func NewBenchmarkStore(outputDir string) (*BenchmarkStore, error) {
	dir := filepath.Join(outputDir, "benchmarks", "base_model")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating benchmark dir: %w", err)
	}
	return &BenchmarkStore{dir: dir}, nil
}

func (s *BenchmarkStore) path(shortname string, res Resolution) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.png", shortname, res.Label()))
}

func (s *BenchmarkStore) Has(shortname string, res Resolution) bool {
	_, err := os.Stat(s.path(shortname, res))
	return err == nil
}

func (s *BenchmarkStore) Load(shortname string, res Resolution) (image.Image, error) {
	f, err := os.Open(s.path(shortname, res))
	if err != nil {
		return nil, fmt.Errorf("opening benchmark image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding benchmark image: %w", err)
	}
	return img, nil
}

// Save writes the base model sample for a prompt and resolution. Existing
// benchmarks are not overwritten, the base model never changes mid-run.
func (s *BenchmarkStore) Save(shortname string, res Resolution, img image.Image) error {
	path := s.path(shortname, res)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating benchmark image: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding benchmark image: %w", err)
	}
	return nil
}
