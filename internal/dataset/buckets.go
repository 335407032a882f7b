package dataset

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
)

// AspectBucket groups images by rounded aspect ratio so batches share a
// shape. The index is cached as JSON next to the dataset, scanning a large
// directory once.
type AspectBucket struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b AspectBucket) Label() string { return fmt.Sprintf("%dx%d", b.Width, b.Height) }

var defaultBuckets = []AspectBucket{
	{Width: 1024, Height: 1024},
	{Width: 1152, Height: 896},
	{Width: 896, Height: 1152},
	{Width: 1216, Height: 832},
	{Width: 832, Height: 1216},
	{Width: 1344, Height: 768},
	{Width: 768, Height: 1344},
}

// AssignBucket picks the bucket whose aspect ratio is closest to the image's.
func AssignBucket(img image.Image) AspectBucket {
	bounds := img.Bounds()
	ratio := float64(bounds.Dx()) / float64(bounds.Dy())

	best := defaultBuckets[0]
	bestDist := math.Inf(1)
	for _, b := range defaultBuckets {
		dist := math.Abs(float64(b.Width)/float64(b.Height) - ratio)
		if dist < bestDist {
			bestDist = dist
			best = b
		}
	}
	return best
}

// BucketIndex maps image filenames to their assigned bucket label.
type BucketIndex map[string]string

func LoadBucketIndex(path string) (BucketIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BucketIndex{}, nil
		}
		return nil, fmt.Errorf("reading bucket index: %w", err)
	}

	var index BucketIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing bucket index %s: %w", path, err)
	}
	return index, nil
}

func (i BucketIndex) Save(path string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing bucket index: %w", err)
	}
	return nil
}
