package local

import (
	"context"
	"fmt"

	"github.com/tsingmao/xwm/internal/framework"
)

// embedding maps ids to hidden states on its own device, wherever the ids live.
type embedding struct {
	device string
	hidden int
}

func (e *embedding) Forward(_ context.Context, x framework.Tensor) (framework.Tensor, error) {
	shape := append(x.Shape(), e.hidden)
	return NewTensor(e.device, shape...), nil
}

// dropout with p == 0 returns its input unchanged, aliasing the caller's tensor.
type dropout struct {
	p float64
}

func (d *dropout) Prob() float64 { return d.p }

func (d *dropout) Forward(_ context.Context, x framework.Tensor) (framework.Tensor, error) {
	if d.p == 0 {
		return x, nil
	}
	return x.Clone(), nil
}

// strict is a module that refuses inputs from another device.
type strict struct {
	name   string
	device string
}

func (s *strict) Forward(_ context.Context, x framework.Tensor) (framework.Tensor, error) {
	if x.Device() != s.device {
		return nil, fmt.Errorf("%s: input on %s, weights on %s", s.name, x.Device(), s.device)
	}
	return x.Clone(), nil
}

// block is a residual transformer block whose attention and mlp may live on
// different devices when sharding splits it.
type block struct {
	attnDevice string
	mlpDevice  string
}

func (b *block) Branch(_ context.Context, x framework.Tensor) (framework.Tensor, error) {
	h := x.To(b.attnDevice)
	return h.Clone().To(b.mlpDevice), nil
}

func (b *block) Forward(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
	z, err := b.Branch(ctx, x)
	if err != nil {
		return nil, err
	}
	return x.Add(z)
}

// hybridCache keeps per-layer entries on the device they were created on.
type hybridCache struct {
	keys   map[int]framework.Tensor
	values map[int]framework.Tensor
}

func newHybridCache(devices []string, layers int, shape ...int) *hybridCache {
	c := &hybridCache{keys: make(map[int]framework.Tensor), values: make(map[int]framework.Tensor)}
	for i := 0; i < layers; i++ {
		dev := devices[0]
		c.keys[i] = NewTensor(dev, shape...)
		c.values[i] = NewTensor(dev, shape...)
	}
	return c
}

func (c *hybridCache) Entry(layer int) (framework.Tensor, framework.Tensor, bool) {
	k, ok := c.keys[layer]
	if !ok {
		return nil, nil, false
	}
	return k, c.values[layer], true
}

func (c *hybridCache) Move(layer int, device string) error {
	k, ok := c.keys[layer]
	if !ok {
		return fmt.Errorf("cache has no layer %d", layer)
	}
	c.keys[layer] = k.To(device)
	c.values[layer] = c.values[layer].To(device)
	return nil
}

func (c *hybridCache) Update(_ context.Context, key, value framework.Tensor, layer int) (framework.Tensor, framework.Tensor, error) {
	k, ok := c.keys[layer]
	if !ok {
		return nil, nil, fmt.Errorf("cache has no layer %d", layer)
	}
	if k.Device() != key.Device() {
		return nil, nil, fmt.Errorf("cache layer %d on %s, states on %s", layer, k.Device(), key.Device())
	}
	c.keys[layer] = key.Clone()
	c.values[layer] = value.Clone()
	return c.keys[layer], c.values[layer], nil
}
