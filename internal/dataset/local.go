package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// bucketIndexName is the scan cache written next to the dataset images.
const bucketIndexName = "aspect_buckets.json"

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LocalSampler serves samples from a directory of images. The caption is the
// filename with the extension and any ordering prefix stripped, underscores
// replaced with spaces.
type LocalSampler struct {
	id  string
	dir string
}

func NewLocalSampler(id, dir string) *LocalSampler {
	return &LocalSampler{id: id, dir: dir}
}

func (s *LocalSampler) ID() string { return s.id }

func (s *LocalSampler) RetrieveValidationSet(batchSize int) ([]Sample, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset dir %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if batchSize > 0 && len(names) > batchSize {
		names = names[:batchSize]
	}

	indexPath := filepath.Join(s.dir, bucketIndexName)
	index, err := LoadBucketIndex(indexPath)
	if err != nil {
		return nil, err
	}
	indexDirty := false

	samples := make([]Sample, 0, len(names))
	for _, name := range names {
		img, err := loadImage(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}

		bucket, ok := index[name]
		if !ok {
			bucket = AssignBucket(img).Label()
			index[name] = bucket
			indexDirty = true
		}
		samples = append(samples, Sample{Image: img, Caption: CaptionFromFilename(name), Bucket: bucket})
	}

	if indexDirty {
		if err := index.Save(indexPath); err != nil {
			// The index is a scan cache, losing it only costs a rescan.
			slog.Error("error saving aspect bucket index", "dataset", s.id, "error", err)
		}
	}
	return samples, nil
}

// CaptionFromFilename derives the stored caption: extension removed, a
// leading "NN_" ordering prefix dropped, underscores as spaces.
func CaptionFromFilename(name string) string {
	caption := strings.TrimSuffix(name, filepath.Ext(name))
	if idx := strings.Index(caption, "_"); idx > 0 {
		if _, err := fmt.Sscanf(caption[:idx], "%d", new(int)); err == nil {
			caption = caption[idx+1:]
		}
	}
	return strings.ReplaceAll(caption, "_", " ")
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	return img, nil
}
