// Package framework defines the boundary between xwm and the model-loading
// framework it wraps.
//
// xwm never computes tensors or tokenizes text itself. It asks a Framework
// to load configuration, tokenizer and model handles from a checkpoint
// directory and then corrects known defects through adapters (see package
// patch). The interfaces here are deliberately small: they expose only what
// the registry's constructors and patches need to see.
package framework

import (
	"context"
)

// Framework loads configuration, tokenizers and models from a checkpoint
// directory laid out the way HuggingFace/ModelScope snapshots are.
type Framework interface {
	// Name identifies the framework in logs.
	Name() string

	// LoadConfig reads the model configuration (config.json).
	LoadConfig(ctx context.Context, dir string) (*ModelConfig, error)

	// LoadTokenizer reads the tokenizer files of the checkpoint.
	LoadTokenizer(ctx context.Context, dir string) (Tokenizer, error)

	// LoadModel instantiates the model described by cfg.
	LoadModel(ctx context.Context, dir string, cfg *ModelConfig, opts LoadOptions) (Model, error)
}

// Tensor is an opaque handle to framework-owned data.
type Tensor interface {
	Device() string
	Shape() []int

	// To returns the tensor placed on device. It returns the receiver when
	// the tensor already lives there.
	To(device string) Tensor

	// Clone returns a copy that shares no storage with the receiver.
	Clone() Tensor

	// Add returns the element-wise sum. Operands on different devices are
	// an error, as in the real framework.
	Add(other Tensor) (Tensor, error)
}

// Module is a callable sub-component of a model.
type Module interface {
	Forward(ctx context.Context, x Tensor) (Tensor, error)
}

// Dropout is a module with a drop probability.
type Dropout interface {
	Module
	Prob() float64
}

// ResidualBlock is a transformer block whose forward pass is x + Branch(x).
type ResidualBlock interface {
	Module
	Branch(ctx context.Context, x Tensor) (Tensor, error)
}

// Cache is a key/value cache updated once per layer during generation.
type Cache interface {
	Update(ctx context.Context, key, value Tensor, layer int) (Tensor, Tensor, error)
	Entry(layer int) (key, value Tensor, ok bool)

	// Move relocates the entries of one layer.
	Move(layer int, device string) error
}

// Model is a loaded model handle.
type Model interface {
	// ClassName is the architecture class the framework instantiated.
	ClassName() string

	Config() *ModelConfig

	// Device is the compute device of the first parameter.
	Device() string

	Dtype() Dtype

	// Module returns the sub-module at a dotted path such as "transformer.drop".
	Module(path string) (Module, bool)

	// ModulePaths lists every addressable module path in a stable order.
	ModulePaths() []string

	// Buffer returns a registered non-parameter tensor.
	Buffer(path string) (Tensor, bool)

	// Parameter returns a parameter tensor such as "transformer.visual.proj".
	Parameter(path string) (Tensor, bool)

	// Cache returns the generation cache, if the model keeps one.
	Cache() (Cache, bool)
}

// Tokenizer decodes token ids back to text.
type Tokenizer interface {
	Decode(ids []int, skipSpecialTokens bool) (string, error)

	// EOSTokenID reports the end-of-sequence id, if the tokenizer declares one.
	EOSTokenID() (int, bool)

	// TokenID looks up the id of a literal token.
	TokenID(token string) (int, bool)
}
