package diffusion

import (
	"errors"
	"fmt"
)

// Parameter is a named trainable buffer. The validator swaps EMA weights in
// and out of these buffers around a run.
type Parameter struct {
	Name string
	Data []float32
}

// EMAModel holds exponential moving average shadows of the trained
// parameters. Store/CopyTo/Restore form a symmetric checkpoint: Restore after
// Store returns every parameter to its pre-swap value regardless of what
// CopyTo wrote in between.
type EMAModel struct {
	decay   float64
	device  Device
	shadow  map[string][]float32
	stashed map[string][]float32
}

func NewEMAModel(decay float64, device Device) *EMAModel {
	return &EMAModel{decay: decay, device: device, shadow: make(map[string][]float32)}
}

func (e *EMAModel) Device() Device { return e.device }

// To records a device move for the shadow weights. Data is not copied, the
// backend owning the buffers performs the transfer.
func (e *EMAModel) To(device Device) { e.device = device }

// Update folds the current parameter values into the shadow average.
func (e *EMAModel) Update(params []Parameter) {
	for _, p := range params {
		shadow, ok := e.shadow[p.Name]
		if !ok {
			shadow = append([]float32(nil), p.Data...)
			e.shadow[p.Name] = shadow
			continue
		}
		for i := range shadow {
			shadow[i] = float32(e.decay*float64(shadow[i]) + (1-e.decay)*float64(p.Data[i]))
		}
	}
}

// Store stashes the live parameter values so Restore can bring them back.
func (e *EMAModel) Store(params []Parameter) {
	stash := make(map[string][]float32, len(params))
	for _, p := range params {
		stash[p.Name] = append([]float32(nil), p.Data...)
	}
	e.stashed = stash
}

// CopyTo writes the shadow averages into the live parameter buffers.
func (e *EMAModel) CopyTo(params []Parameter) error {
	for _, p := range params {
		shadow, ok := e.shadow[p.Name]
		if !ok {
			return fmt.Errorf("no shadow weights for parameter %q", p.Name)
		}
		if len(shadow) != len(p.Data) {
			return fmt.Errorf("shadow size mismatch for %q: %d != %d", p.Name, len(shadow), len(p.Data))
		}
		copy(p.Data, shadow)
	}
	return nil
}

// Restore writes the stashed values back into the live buffers and drops the
// stash. Calling Restore without a preceding Store is an error.
func (e *EMAModel) Restore(params []Parameter) error {
	if e.stashed == nil {
		return errors.New("restore called without store")
	}
	for _, p := range params {
		stashed, ok := e.stashed[p.Name]
		if !ok {
			return fmt.Errorf("no stashed weights for parameter %q", p.Name)
		}
		copy(p.Data, stashed)
	}
	e.stashed = nil
	return nil
}
