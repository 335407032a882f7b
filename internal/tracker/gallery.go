package tracker

import (
	"context"
	"fmt"

	"tuner-backend/internal/validation"

	"github.com/go-resty/resty/v2"
)

// GalleryTracker logs each image under a flat "{shortname} - {WxH}" key, the
// layout wandb-style dashboards render as a gallery.
type GalleryTracker struct {
	client *resty.Client
	runKey string
}

func NewGalleryTracker(baseURL, apiKey, runKey string) *GalleryTracker {
	client := resty.New().SetBaseURL(baseURL)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &GalleryTracker{client: client, runKey: runKey}
}

func (t *GalleryTracker) Name() string { return "gallery" }

type galleryPayload struct {
	RunKey string            `json:"run_key"`
	Step   int               `json:"step"`
	Images map[string]string `json:"images"`
}

func (t *GalleryTracker) LogImages(ctx context.Context, results *validation.ResultSet) error {
	payload := galleryPayload{RunKey: t.runKey, Step: results.Step, Images: make(map[string]string)}
	for _, img := range results.Images {
		key := fmt.Sprintf("%s - %s", img.Shortname, img.Resolution.Label())
		encoded, err := encodeBase64PNG(img.Image)
		if err != nil {
			return fmt.Errorf("encoding image %q: %w", key, err)
		}
		payload.Images[key] = encoded
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/v1/galleries")
	if err != nil {
		return fmt.Errorf("posting validation gallery: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("tracker returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
