package tracker

import (
	"context"
	"fmt"

	"tuner-backend/internal/validation"

	"github.com/go-resty/resty/v2"
)

// TableTracker logs runs as a table: one row per prompt with a column per
// resolution and a trailing mean luminance column. The table is posted as
// JSON to a tracker endpoint.
type TableTracker struct {
	client *resty.Client
	runKey string
}

func NewTableTracker(baseURL, apiKey, runKey string) *TableTracker {
	client := resty.New().SetBaseURL(baseURL)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &TableTracker{client: client, runKey: runKey}
}

func (t *TableTracker) Name() string { return "table" }

type tablePayload struct {
	RunKey  string          `json:"run_key"`
	Step    int             `json:"step"`
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func (t *TableTracker) LogImages(ctx context.Context, results *validation.ResultSet) error {
	byPrompt := make(map[string][]validation.ResultImage)
	var order []string
	var resolutions []string
	seenRes := make(map[string]bool)

	for _, img := range results.Images {
		if _, ok := byPrompt[img.Shortname]; !ok {
			order = append(order, img.Shortname)
		}
		byPrompt[img.Shortname] = append(byPrompt[img.Shortname], img)
		if label := img.Resolution.Label(); !seenRes[label] {
			seenRes[label] = true
			resolutions = append(resolutions, label)
		}
	}

	columns := append([]string{"Prompt"}, resolutions...)
	columns = append(columns, "Mean Luminance")

	payload := tablePayload{RunKey: t.runKey, Step: results.Step, Columns: columns}
	for _, shortname := range order {
		images := byPrompt[shortname]
		row := make([]interface{}, 0, len(columns))
		row = append(row, images[0].Prompt)

		luminance := 0.0
		byRes := make(map[string]validation.ResultImage, len(images))
		for _, img := range images {
			byRes[img.Resolution.Label()] = img
			luminance += img.Luminance
		}
		for _, label := range resolutions {
			img, ok := byRes[label]
			if !ok {
				row = append(row, nil)
				continue
			}
			encoded, err := encodeBase64PNG(img.Image)
			if err != nil {
				return fmt.Errorf("encoding image for table row: %w", err)
			}
			row = append(row, encoded)
		}
		row = append(row, luminance/float64(len(images)))
		payload.Rows = append(payload.Rows, row)
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/v1/tables")
	if err != nil {
		return fmt.Errorf("posting validation table: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("tracker returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
