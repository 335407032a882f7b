package validation

import (
	"context"
	"image"
)

// ValidationType distinguishes the kinds of runs.
const (
	TypeIntermediary = "intermediary"
	TypeFinal        = "final"
	TypeBaseModel    = "base_model"
)

// ResultImage is one produced artifact with its provenance.
type ResultImage struct {
	Shortname  string
	Prompt     string
	Resolution Resolution
	Path       string
	Image      image.Image
	Luminance  float64
}

// ItemError records a per-item generation failure. Item failures never abort
// the run; they are carried here for reporting.
type ItemError struct {
	Shortname  string
	Resolution Resolution
	Err        error
}

// ResultSet is everything one validation run produced.
type ResultSet struct {
	RunID  string
	Step   int
	Type   string
	Images []ResultImage
	Errors []ItemError
}

// Tracker receives a completed result set. Tracker failures are logged by
// the caller and never propagate into the run.
type Tracker interface {
	Name() string
	LogImages(ctx context.Context, results *ResultSet) error
}

// Notifier posts human-facing progress updates. All delivery failures are
// swallowed by implementations.
type Notifier interface {
	Send(ctx context.Context, message string, images []image.Image)
}
