package patch

import (
	"context"
	"fmt"

	"github.com/tsingmao/xwm/internal/framework"
)

// CausalMaskToDevice moves a registered buffer onto the model's compute
// device. Models register the causal mask before weights are dispatched, so
// it stays on the host under multi-process data parallel.
func CausalMaskToDevice(path string) Patch {
	return Patch{
		Name:  "causal_mask_to_device",
		Path:  path,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			buf, ok := t.Model.Buffer(path)
			if !ok {
				return fmt.Errorf("%w: buffer %s absent", ErrNotApplicable, path)
			}
			t.Model.setBuffer(path, buf.To(t.Model.Device()))
			return nil
		},
	}
}

// ParameterToDeviceOf moves the parameter at path onto the device of anchor
// when a replica spans at least MinVisualBlockDevices devices. Raw parameters
// of a tower root are dispatched apart from its last layers, and the
// projection after the final norm then multiplies across devices.
func ParameterToDeviceOf(path, anchor string, devicesPerReplica int) Patch {
	return Patch{
		Name:  "parameter_to_device",
		Path:  path,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			if devicesPerReplica < MinVisualBlockDevices {
				return fmt.Errorf("%w: %d devices per replica", ErrNotApplicable, devicesPerReplica)
			}
			p, ok := t.Model.Parameter(path)
			if !ok {
				return fmt.Errorf("%w: parameter %s absent", ErrNotApplicable, path)
			}
			a, ok := t.Model.Parameter(anchor)
			if !ok {
				return fmt.Errorf("%w: parameter %s absent", ErrNotApplicable, anchor)
			}
			t.Model.setParameter(path, p.To(a.Device()))
			return nil
		},
	}
}

// stateDeviceCache moves a layer's entries to the device of the incoming
// states before delegating the update.
type stateDeviceCache struct {
	framework.Cache
}

func (c *stateDeviceCache) Update(ctx context.Context, key, value framework.Tensor, layer int) (framework.Tensor, framework.Tensor, error) {
	if k, _, ok := c.Cache.Entry(layer); ok && k.Device() != key.Device() {
		if err := c.Cache.Move(layer, key.Device()); err != nil {
			return nil, nil, err
		}
	}
	return c.Cache.Update(ctx, key, value, layer)
}

// CacheToStateDevice fixes generation caches whose entries were allocated on
// the first shard while layers run on others.
func CacheToStateDevice() Patch {
	return Patch{
		Name:  "cache_to_state_device",
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			c, ok := t.Model.Cache()
			if !ok {
				return fmt.Errorf("%w: model keeps no cache", ErrNotApplicable)
			}
			t.Model.setCache(&stateDeviceCache{Cache: c})
			return nil
		},
	}
}
