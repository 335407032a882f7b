// Package dataset provides access to evaluation images for img2img and
// controlnet validation. Backends are registered by id; the validator pulls a
// small fixed sample from the configured one.
package dataset

import (
	"fmt"
	"image"
	"sort"
)

// Sample is one evaluation item: an input image, the caption it was stored
// with, and the aspect bucket it scans into.
type Sample struct {
	Image   image.Image
	Caption string
	Bucket  string
}

// Sampler retrieves evaluation samples from a data backend.
type Sampler interface {
	ID() string
	// RetrieveValidationSet returns up to batchSize samples. The same
	// backend returns the same samples across calls so runs are comparable.
	RetrieveValidationSet(batchSize int) ([]Sample, error)
}

// Backend describes a registered data source and whether it is usable for
// validation sampling.
type Backend struct {
	Sampler      Sampler
	Disabled     bool
	Conditioning bool // conditioning-data backends hold controls, not samples
}

// Registry holds the data backends configured for the training run.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(b Backend) {
	r.backends[b.Sampler.ID()] = b
}

// Select resolves the backend to sample evaluation images from. With an
// explicit id, that backend must exist, be enabled, and not be a
// conditioning source. Without one, the first eligible backend in id order
// is used; no eligible backend is an error.
func (r *Registry) Select(evalDatasetID string) (Sampler, error) {
	if evalDatasetID != "" {
		b, ok := r.backends[evalDatasetID]
		if !ok {
			return nil, fmt.Errorf("eval dataset %q is not a configured data backend", evalDatasetID)
		}
		if b.Disabled {
			return nil, fmt.Errorf("eval dataset %q is disabled", evalDatasetID)
		}
		if b.Conditioning {
			return nil, fmt.Errorf("eval dataset %q holds conditioning data, not samples", evalDatasetID)
		}
		return b.Sampler, nil
	}

	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := r.backends[id]
		if b.Disabled || b.Conditioning {
			continue
		}
		return b.Sampler, nil
	}
	return nil, fmt.Errorf("no eligible data backend for evaluation sampling")
}
