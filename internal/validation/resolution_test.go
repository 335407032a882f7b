package validation

import (
	"testing"

	"tuner-backend/internal/diffusion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolutions_SingleEdge(t *testing.T) {
	resolutions, err := ParseResolutions("512", diffusion.SDXL)
	require.NoError(t, err)
	assert.Equal(t, []Resolution{{Width: 512, Height: 512}}, resolutions)
}

func TestParseResolutions_ExplicitPair(t *testing.T) {
	resolutions, err := ParseResolutions("512x768", diffusion.SDXL)
	require.NoError(t, err)
	assert.Equal(t, []Resolution{{Width: 512, Height: 768}}, resolutions)
}

func TestParseResolutions_ListPreservesOrderAndDuplicates(t *testing.T) {
	resolutions, err := ParseResolutions("1024, 512x768 ,1024", diffusion.SDXL)
	require.NoError(t, err)
	assert.Equal(t, []Resolution{
		{Width: 1024, Height: 1024},
		{Width: 512, Height: 768},
		{Width: 1024, Height: 1024},
	}, resolutions)
}

func TestParseResolutions_Invalid(t *testing.T) {
	for _, spec := range []string{"", "abc", "512x", "x512", "0", "-64", "512x-1", "512,"} {
		_, err := ParseResolutions(spec, diffusion.SDXL)
		assert.ErrorIs(t, err, ErrConfiguration, "spec %q", spec)
	}
}

func TestParseResolutions_MinimumEdge(t *testing.T) {
	_, err := ParseResolutions("128", diffusion.DeepFloydStage2)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseResolutions("512x128", diffusion.DeepFloydStage2)
	assert.ErrorIs(t, err, ErrConfiguration)

	resolutions, err := ParseResolutions("256", diffusion.DeepFloydStage2)
	require.NoError(t, err)
	assert.Equal(t, []Resolution{{Width: 256, Height: 256}}, resolutions)
}

func TestResolutionLabel(t *testing.T) {
	assert.Equal(t, "512x768", Resolution{Width: 512, Height: 768}.Label())
}
