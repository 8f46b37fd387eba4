package local

import (
	"fmt"
	"slices"

	"github.com/tsingmao/xwm/internal/framework"
)

// Tensor is a host-side stand-in for framework tensors. It carries a device
// tag, a shape and a backing slice so aliasing is observable.
type Tensor struct {
	device string
	shape  []int
	data   []float32
}

var _ framework.Tensor = (*Tensor)(nil)

// NewTensor allocates a zeroed tensor on device.
func NewTensor(device string, shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{device: device, shape: slices.Clone(shape), data: make([]float32, n)}
}

func (t *Tensor) Device() string { return t.device }

func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Data exposes the backing slice; writes through it are visible to aliases.
func (t *Tensor) Data() []float32 { return t.data }

func (t *Tensor) To(device string) framework.Tensor {
	if device == t.device {
		return t
	}
	return &Tensor{device: device, shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

func (t *Tensor) Clone() framework.Tensor {
	return &Tensor{device: t.device, shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

func (t *Tensor) Add(other framework.Tensor) (framework.Tensor, error) {
	o, ok := other.(*Tensor)
	if !ok {
		return nil, fmt.Errorf("cannot add %T to local tensor", other)
	}
	if o.device != t.device {
		return nil, fmt.Errorf("expected all tensors to be on the same device, but found at least two devices, %s and %s", t.device, o.device)
	}
	if !slices.Equal(o.shape, t.shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", t.shape, o.shape)
	}
	out := &Tensor{device: t.device, shape: slices.Clone(t.shape), data: make([]float32, len(t.data))}
	for i := range t.data {
		out.data[i] = t.data[i] + o.data[i]
	}
	return out, nil
}
