// Package webhook posts human-facing progress updates during validation.
// Delivery is strictly best effort: every failure is logged and dropped so a
// dead endpoint can never stall training.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	client *resty.Client
	url    string
}

func NewClient(url string) *Client {
	return &Client{client: resty.New(), url: url}
}

type message struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
}

func (c *Client) Send(ctx context.Context, text string, images []image.Image) {
	if c.url == "" {
		return
	}

	payload := message{Message: text}
	for _, img := range images {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			slog.Error("error encoding webhook image", "error", err)
			continue
		}
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.url)
	if err != nil {
		slog.Error("error sending webhook", "error", err)
		return
	}
	if resp.IsError() {
		slog.Error("webhook returned error status", "status", resp.StatusCode())
	}
}
