package patch

import (
	"context"
	"fmt"

	"github.com/tsingmao/xwm/internal/framework"
)

// SyncDtypeFlags sets the bf16/fp16/fp32 booleans remote-code configs read
// instead of torch_dtype. Exactly the flag for dtype ends up true.
func SyncDtypeFlags(dtype framework.Dtype) Patch {
	return Patch{
		Name:  "sync_dtype_flags",
		Scope: ScopeConfig,
		Apply: func(_ context.Context, t *Target) error {
			if dtype == framework.DtypeAuto {
				return fmt.Errorf("%w: dtype not resolved", ErrNotApplicable)
			}
			for _, d := range framework.Dtypes {
				t.Config.Set(string(d), d == dtype)
			}
			return nil
		},
	}
}
