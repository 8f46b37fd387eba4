package framework

import (
	"fmt"
	"strings"
)

// Dtype is a compute precision.
type Dtype string

const (
	DtypeAuto Dtype = ""
	DtypeBF16 Dtype = "bf16"
	DtypeFP16 Dtype = "fp16"
	DtypeFP32 Dtype = "fp32"
)

// Dtypes lists the concrete precisions in flag order.
var Dtypes = []Dtype{DtypeFP16, DtypeBF16, DtypeFP32}

// ParseDtype accepts both the short names and the torch names found in
// config.json ("bfloat16", "float16", "float32").
func ParseDtype(s string) (Dtype, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DtypeAuto, nil
	case "bf16", "bfloat16", "torch.bfloat16":
		return DtypeBF16, nil
	case "fp16", "float16", "half", "torch.float16":
		return DtypeFP16, nil
	case "fp32", "float32", "float", "torch.float32":
		return DtypeFP32, nil
	default:
		return DtypeAuto, fmt.Errorf("unknown dtype %q", s)
	}
}

// AttnImpl selects the attention implementation.
type AttnImpl string

const (
	AttnImplAuto      AttnImpl = ""
	AttnImplFlashAttn AttnImpl = "flash_attn"
	AttnImplSDPA      AttnImpl = "sdpa"
	AttnImplEager     AttnImpl = "eager"
)

// QuantMethod names a quantization backend.
type QuantMethod string

const (
	QuantBNB  QuantMethod = "bnb"
	QuantGPTQ QuantMethod = "gptq"
	QuantAWQ  QuantMethod = "awq"
)

// QuantizationConfig describes how weights are quantized on load.
type QuantizationConfig struct {
	Method QuantMethod `json:"method" validate:"required,oneof=bnb gptq awq"`
	Bits   int         `json:"bits" validate:"omitempty,oneof=4 8"`

	// SkipModules keeps the named modules in full precision.
	SkipModules []string `json:"skip_modules,omitempty"`
}

// LoadOptions is the typed options bundle passed to constructors.
type LoadOptions struct {
	Dtype        Dtype               `json:"dtype,omitempty" validate:"omitempty,oneof=bf16 fp16 fp32"`
	Quantization *QuantizationConfig `json:"quantization,omitempty"`
	AttnImpl     AttnImpl            `json:"attn_impl,omitempty" validate:"omitempty,oneof=flash_attn sdpa eager"`

	// DeviceMap is "auto", "cpu" or a single device such as "cuda:0".
	DeviceMap string `json:"device_map,omitempty"`

	// ModelClass overrides the architecture class to instantiate.
	ModelClass string `json:"model_class,omitempty"`

	// AttnImplKeys are the config keys that receive the attention selector.
	// Empty means "attn_implementation".
	AttnImplKeys []string `json:"attn_impl_keys,omitempty"`
}

// IsBNB reports whether the options request bitsandbytes quantization.
func (o LoadOptions) IsBNB() bool {
	return o.Quantization != nil && o.Quantization.Method == QuantBNB
}

// UseFlashAttn resolves the boolean flash-attention switch some remote-code
// models read instead of attn_implementation.
func (o LoadOptions) UseFlashAttn() bool {
	return o.AttnImpl == AttnImplFlashAttn
}
