package diffusion

import (
	"fmt"
	"math/rand"
)

// Device names an execution target, e.g. "cpu", "cuda", "cuda:1".
type Device string

const CPU Device = "cpu"

// DType is the floating point precision of tensor data.
type DType string

const (
	Float32  DType = "fp32"
	Float16  DType = "fp16"
	BFloat16 DType = "bf16"
)

// Tensor is an opaque handle to embedding data produced by a text encoder.
// The orchestration layer never inspects values, it only moves tensors
// between devices and precisions before handing them to a pipeline backend.
type Tensor struct {
	Data   []float32
	Shape  []int64
	Device Device
	DType  DType
}

func NewTensor(data []float32, shape ...int64) *Tensor {
	return &Tensor{Data: data, Shape: shape, Device: CPU, DType: Float32}
}

// To returns a copy of the tensor placed on the given device and precision.
// The receiver is not modified.
func (t *Tensor) To(device Device, dtype DType) *Tensor {
	if t == nil {
		return nil
	}
	out := &Tensor{
		Data:   t.Data,
		Shape:  append([]int64(nil), t.Shape...),
		Device: device,
		DType:  dtype,
	}
	return out
}

func (t *Tensor) NumElements() int64 {
	if t == nil {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	return fmt.Sprintf("Tensor(shape=%v, device=%s, dtype=%s)", t.Shape, t.Device, t.DType)
}

// Generator is a seeded noise source pinned to a device, mirroring the
// torch.Generator contract: the same seed on the same device yields the same
// latents.
type Generator struct {
	device Device
	seed   int64
	rng    *rand.Rand
}

func NewGenerator(device Device, seed int64) *Generator {
	return &Generator{device: device, seed: seed, rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) Device() Device { return g.device }

func (g *Generator) Seed() int64 { return g.seed }

// Normal fills out with standard normal samples.
func (g *Generator) Normal(out []float32) {
	for i := range out {
		out[i] = float32(g.rng.NormFloat64())
	}
}
