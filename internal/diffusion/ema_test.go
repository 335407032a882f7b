package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMAModel_UpdateConverges(t *testing.T) {
	ema := NewEMAModel(0.5, CPU)

	params := []Parameter{{Name: "w", Data: []float32{0, 0}}}
	ema.Update(params)

	params[0].Data = []float32{4, 8}
	ema.Update(params)

	shadowed := []Parameter{{Name: "w", Data: make([]float32, 2)}}
	require.NoError(t, ema.CopyTo(shadowed))
	assert.Equal(t, []float32{2, 4}, shadowed[0].Data)
}

func TestEMAModel_StoreCopyRestore(t *testing.T) {
	ema := NewEMAModel(0.999, CPU)
	ema.Update([]Parameter{{Name: "w", Data: []float32{7, 7, 7}}})

	live := []Parameter{{Name: "w", Data: []float32{1, 2, 3}}}

	ema.Store(live)
	require.NoError(t, ema.CopyTo(live))
	assert.Equal(t, []float32{7, 7, 7}, live[0].Data)

	require.NoError(t, ema.Restore(live))
	assert.Equal(t, []float32{1, 2, 3}, live[0].Data)
}

func TestEMAModel_RestoreWithoutStore(t *testing.T) {
	ema := NewEMAModel(0.999, CPU)
	err := ema.Restore([]Parameter{{Name: "w", Data: []float32{1}}})
	assert.Error(t, err)
}

func TestEMAModel_RestoreDropsStash(t *testing.T) {
	ema := NewEMAModel(0.999, CPU)
	ema.Update([]Parameter{{Name: "w", Data: []float32{7}}})

	live := []Parameter{{Name: "w", Data: []float32{1}}}
	ema.Store(live)
	require.NoError(t, ema.Restore(live))

	// The stash is single use.
	assert.Error(t, ema.Restore(live))
}

func TestEMAModel_CopyToUnknownParameter(t *testing.T) {
	ema := NewEMAModel(0.999, CPU)
	err := ema.CopyTo([]Parameter{{Name: "missing", Data: []float32{1}}})
	assert.Error(t, err)
}
