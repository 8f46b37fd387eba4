package patch

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsingmao/xwm/internal/framework"
)

// forwardFunc is a module whose forward pass is a closure over the original.
type forwardFunc struct {
	inner   framework.Module
	forward func(ctx context.Context, x framework.Tensor) (framework.Tensor, error)
}

func (f *forwardFunc) Forward(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
	return f.forward(ctx, x)
}

// OutputClone clones the output of the module at path. Modules that return
// their input (p == 0 dropout, some embeddings) otherwise hand the caller an
// alias, and a later in-place write corrupts the autograd graph.
func OutputClone(path string) Patch {
	return Patch{
		Name:     "output_clone",
		Path:     path,
		Scope:    ScopeModel,
		Critical: true,
		Apply: func(_ context.Context, t *Target) error {
			return t.Model.wrapModule(path, cloneOutput)
		},
	}
}

// DropoutOutputClone is OutputClone restricted to a dropout with p == 0.
func DropoutOutputClone(path string) Patch {
	p := OutputClone(path)
	p.Apply = func(_ context.Context, t *Target) error {
		return t.Model.wrapModule(path, func(mod framework.Module) (framework.Module, error) {
			d, ok := mod.(framework.Dropout)
			if !ok {
				return nil, fmt.Errorf("module %s is not a dropout", path)
			}
			if d.Prob() != 0 {
				return nil, fmt.Errorf("%w: %s has p=%g", ErrNotApplicable, path, d.Prob())
			}
			return cloneOutput(mod)
		})
	}
	return p
}

func cloneOutput(mod framework.Module) (framework.Module, error) {
	return &forwardFunc{inner: mod, forward: func(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
		out, err := mod.Forward(ctx, x)
		if err != nil {
			return nil, err
		}
		return out.Clone(), nil
	}}, nil
}

// OutputToInputDevice moves the output of the module at path back to the
// device its input came from.
func OutputToInputDevice(path string) Patch {
	return Patch{
		Name:  "output_to_input_device",
		Path:  path,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			return t.Model.wrapModule(path, func(mod framework.Module) (framework.Module, error) {
				return &forwardFunc{inner: mod, forward: func(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
					out, err := mod.Forward(ctx, x)
					if err != nil {
						return nil, err
					}
					return out.To(x.Device()), nil
				}}, nil
			})
		},
	}
}

// FixedDevice forces every input of the module at path onto the first device
// of the model's device type.
func FixedDevice(path string) Patch {
	return Patch{
		Name:  "fixed_device",
		Path:  path,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			device := t.Model.DeviceType() + ":0"
			if t.Model.DeviceType() == "cpu" {
				device = "cpu"
			}
			return t.Model.wrapModule(path, func(mod framework.Module) (framework.Module, error) {
				return &forwardFunc{inner: mod, forward: func(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
					return mod.Forward(ctx, x.To(device))
				}}, nil
			})
		},
	}
}

// residualFix adds the residual on the branch's device.
type residualFix struct {
	inner framework.ResidualBlock
}

func (r *residualFix) Branch(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
	return r.inner.Branch(ctx, x)
}

func (r *residualFix) Forward(ctx context.Context, x framework.Tensor) (framework.Tensor, error) {
	z, err := r.inner.Branch(ctx, x)
	if err != nil {
		return nil, err
	}
	return x.To(z.Device()).Add(z)
}

// MinVisualBlockDevices is the device count per replica at which sharding
// starts splitting visual blocks across devices.
const MinVisualBlockDevices = 4

// VisualBlockResidual fixes the residual add of every block under prefix
// when a replica spans at least MinVisualBlockDevices devices.
func VisualBlockResidual(prefix string, devicesPerReplica int) Patch {
	return Patch{
		Name:  "visual_block_residual",
		Path:  prefix,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			if devicesPerReplica < MinVisualBlockDevices {
				return fmt.Errorf("%w: %d devices per replica", ErrNotApplicable, devicesPerReplica)
			}
			var paths []string
			for _, p := range t.Model.ModulePaths() {
				rest, ok := strings.CutPrefix(p, prefix+".")
				if ok && !strings.Contains(rest, ".") {
					paths = append(paths, p)
				}
			}
			if len(paths) == 0 {
				return fmt.Errorf("%w: no blocks under %s", ErrNotApplicable, prefix)
			}
			for _, p := range paths {
				err := t.Model.wrapModule(p, func(mod framework.Module) (framework.Module, error) {
					blk, ok := mod.(framework.ResidualBlock)
					if !ok {
						return nil, fmt.Errorf("module %s is not a residual block", p)
					}
					return &residualFix{inner: blk}, nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// InputEmbeddings registers the module at owner+"."+sub as the input
// embeddings of owner, which gradient checkpointing hooks look up. sub may
// list alternatives.
func InputEmbeddings(owner, sub string) Patch {
	alts := SplitAlternatives(sub)
	for i, a := range alts {
		alts[i] = owner + "." + a
	}
	path := Alternatives(alts...)
	return Patch{
		Name:  "input_embeddings",
		Path:  path,
		Scope: ScopeModel,
		Apply: func(_ context.Context, t *Target) error {
			resolved, _, ok := t.Model.resolve(path)
			if !ok {
				return fmt.Errorf("%w: %s not found", ErrNotApplicable, path)
			}
			t.Model.setInputEmbeddings(owner, resolved)
			return nil
		},
	}
}
