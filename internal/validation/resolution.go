package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tuner-backend/internal/diffusion"
)

// ErrConfiguration marks validation settings that can never produce a run,
// detected before any sampling starts.
var ErrConfiguration = errors.New("invalid validation configuration")

// Resolution is one target sample size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) Label() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// ParseResolutions expands the configured resolution list. Each
// comma-separated token is either a single edge ("512", square) or an
// explicit "WIDTHxHEIGHT" pair. Order and duplicates are preserved so
// artifact names stay stable. Families with a minimum edge reject
// resolutions below it.
func ParseResolutions(spec string, family diffusion.ModelFamily) ([]Resolution, error) {
	tokens := strings.Split(spec, ",")
	resolutions := make([]Resolution, 0, len(tokens))
	for _, token := range tokens {
		res, err := parseResolution(strings.TrimSpace(token))
		if err != nil {
			return nil, err
		}

		if minEdge := family.MinValidationEdge(); minEdge > 0 {
			if res.Width < minEdge || res.Height < minEdge {
				return nil, fmt.Errorf("%w: resolution %s is below the %dpx minimum for %s",
					ErrConfiguration, res.Label(), minEdge, family)
			}
		}
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}

func parseResolution(token string) (Resolution, error) {
	if token == "" {
		return Resolution{}, fmt.Errorf("%w: empty resolution token", ErrConfiguration)
	}

	if w, h, found := strings.Cut(token, "x"); found {
		width, err := strconv.Atoi(strings.TrimSpace(w))
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: bad resolution width %q", ErrConfiguration, token)
		}
		height, err := strconv.Atoi(strings.TrimSpace(h))
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: bad resolution height %q", ErrConfiguration, token)
		}
		if width <= 0 || height <= 0 {
			return Resolution{}, fmt.Errorf("%w: non-positive resolution %q", ErrConfiguration, token)
		}
		return Resolution{Width: width, Height: height}, nil
	}

	edge, err := strconv.Atoi(token)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: bad resolution token %q", ErrConfiguration, token)
	}
	if edge <= 0 {
		return Resolution{}, fmt.Errorf("%w: non-positive resolution %q", ErrConfiguration, token)
	}
	return Resolution{Width: edge, Height: edge}, nil
}
