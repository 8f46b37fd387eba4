package models

import (
	"slices"

	"github.com/tsingmao/xwm/internal/framework"
)

// Model is one checkpoint of a family.
//
// ID is the ModelScope identifier and the primary key used for downloads.
// HFID is the HuggingFace alias of the same weights, empty when the
// checkpoint is only published on ModelScope.
type Model struct {
	ID   string   `json:"id" yaml:"id" validate:"required"`
	HFID string   `json:"hf_id,omitempty" yaml:"hf_id,omitempty"`
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ModelGroup is an ordered set of checkpoints sharing tags, e.g. the
// instruct, base and quantized variants of one release.
type ModelGroup struct {
	Models []Model  `json:"models" yaml:"models" validate:"required,min=1,dive"`
	Tags   []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Requires adds constraints on top of the family's for this group only.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// EmbeddingAlias names the module a component exposes as its input
// embeddings, e.g. the patch embedding of a vision tower.
type EmbeddingAlias struct {
	Owner  string `json:"owner" yaml:"owner"`
	Module string `json:"module" yaml:"module"`
}

// Capabilities declares which runtime corrections a family needs.
//
// Constructors used to query attributes on the loaded model to decide which
// fixes apply; here each family states the module paths up front and the
// loader builds the patch list from them once the objects are loaded.
type Capabilities struct {
	// DtypeFlags: the remote-code config reads bf16/fp16/fp32 booleans.
	DtypeFlags bool `json:"dtype_flags,omitempty" yaml:"dtype_flags,omitempty"`

	// CausalMaskBuffer is a buffer registered before dispatch that must be
	// moved to the compute device.
	CausalMaskBuffer string `json:"causal_mask_buffer,omitempty" yaml:"causal_mask_buffer,omitempty"`

	// InputDropout is the first dropout; cloned when p == 0.
	InputDropout string `json:"input_dropout,omitempty" yaml:"input_dropout,omitempty"`

	// VisualBlocks is the prefix of residual blocks fixed on >= 4 devices.
	VisualBlocks string `json:"visual_blocks,omitempty" yaml:"visual_blocks,omitempty"`

	// VisualProj is a raw parameter of the vision tower moved next to
	// VisualProjAnchor on >= 4 devices.
	VisualProj       string `json:"visual_proj,omitempty" yaml:"visual_proj,omitempty"`
	VisualProjAnchor string `json:"visual_proj_anchor,omitempty" yaml:"visual_proj_anchor,omitempty"`

	// FixedDeviceModule receives inputs on device 0 of the model's type.
	FixedDeviceModule string `json:"fixed_device_module,omitempty" yaml:"fixed_device_module,omitempty"`

	// CloneEmbeddings are embedding modules whose output is cloned. Each
	// entry may list alternative paths (patch.Alternatives); the first
	// present is patched.
	CloneEmbeddings []string `json:"clone_embeddings,omitempty" yaml:"clone_embeddings,omitempty"`

	// InputDeviceEmbeddings return their output on the input's device.
	InputDeviceEmbeddings []string `json:"input_device_embeddings,omitempty" yaml:"input_device_embeddings,omitempty"`

	// InputEmbeddings are registered as the input embeddings of sub-models.
	InputEmbeddings []EmbeddingAlias `json:"input_embeddings,omitempty" yaml:"input_embeddings,omitempty"`

	// Sentinels are trailing ids stripped on decode; nil disables the fix.
	Sentinels []int `json:"sentinels,omitempty" yaml:"sentinels,omitempty"`

	// EODToken is declared as eos when the tokenizer has none.
	EODToken string `json:"eod_token,omitempty" yaml:"eod_token,omitempty"`

	// HybridCache: cache entries follow the device of incoming states.
	HybridCache bool `json:"hybrid_cache,omitempty" yaml:"hybrid_cache,omitempty"`
}

// IsZero reports whether no correction is declared.
func (c Capabilities) IsZero() bool {
	return !c.DtypeFlags && c.CausalMaskBuffer == "" && c.InputDropout == "" &&
		c.VisualBlocks == "" && c.VisualProj == "" && c.FixedDeviceModule == "" && len(c.CloneEmbeddings) == 0 &&
		len(c.InputDeviceEmbeddings) == 0 && len(c.InputEmbeddings) == 0 &&
		len(c.Sentinels) == 0 && c.EODToken == "" && !c.HybridCache
}

// ModelMeta describes one model family.
type ModelMeta struct {
	// ModelType is the unique key of the family, e.g. "qwen2_vl".
	ModelType string `json:"model_type" validate:"required"`

	Groups []ModelGroup `json:"groups" validate:"required,min=1,dive"`

	// Template is the default prompt template identifier.
	Template string `json:"template" validate:"required"`

	// Loader builds (model, tokenizer) through the framework.
	Loader LoaderFunc `json:"-" validate:"required"`

	// LoaderName records which named constructor Loader is, for display.
	LoaderName string `json:"loader,omitempty"`

	// Architectures are the config.json class names this family loads.
	Architectures []string `json:"architectures,omitempty"`

	// ModelArch names the layer layout (used by adapters downstream).
	ModelArch string `json:"model_arch,omitempty"`

	// Requires are pip-style constraints such as "transformers>=4.45,<4.49".
	Requires []string `json:"requires,omitempty"`

	// AdditionalSavedFiles must be copied next to exported checkpoints.
	// Entries are file names or directory names relative to the repo root.
	AdditionalSavedFiles []string `json:"additional_saved_files,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// TaskType is empty for causal language models.
	TaskType string `json:"task_type,omitempty"`

	IsMultimodal bool `json:"is_multimodal"`

	// AttnImplKeys are the config keys receiving the attention selector.
	AttnImplKeys []string `json:"attn_impl_keys,omitempty"`

	// ModelClass overrides the architecture class instantiated on load.
	ModelClass string `json:"model_class,omitempty"`

	Capabilities Capabilities `json:"capabilities"`

	// effective holds the checkpoints with merged tags; set by Register.
	effective []Model
}

// Models returns every checkpoint of the family in declaration order, with
// tags merged from the entry, its group and the family.
func (m *ModelMeta) Models() []Model {
	out := slices.Clone(m.entries())
	for i := range out {
		out[i].Tags = slices.Clone(out[i].Tags)
	}
	return out
}

// entries returns the merged checkpoints without copying them. Registered
// families computed them once at registration.
func (m *ModelMeta) entries() []Model {
	if m.effective != nil {
		return m.effective
	}
	return m.mergedModels()
}

func (m *ModelMeta) mergedModels() []Model {
	var out []Model
	for _, g := range m.Groups {
		for _, e := range g.Models {
			e.Tags = mergeTags(e.Tags, g.Tags, m.Tags)
			out = append(out, e)
		}
	}
	return out
}

// AllTags returns the union of tags over the family, in first-seen order.
func (m *ModelMeta) AllTags() []string {
	var tags []string
	for _, e := range m.entries() {
		tags = mergeTags(tags, e.Tags)
	}
	return tags
}

// HasTag reports whether any checkpoint of the family carries tag.
func (m *ModelMeta) HasTag(tag string) bool {
	return slices.Contains(m.AllTags(), tag)
}

// LoadOptions resolves the framework options for a load of this family.
func (m *ModelMeta) LoadOptions(opts framework.LoadOptions) framework.LoadOptions {
	if len(opts.AttnImplKeys) == 0 && len(m.AttnImplKeys) > 0 {
		opts.AttnImplKeys = slices.Clone(m.AttnImplKeys)
	}
	if opts.ModelClass == "" {
		opts.ModelClass = m.ModelClass
	}
	return opts
}

func (m *ModelMeta) clone() *ModelMeta {
	c := *m
	c.effective = nil
	c.Groups = make([]ModelGroup, len(m.Groups))
	for i, g := range m.Groups {
		g.Models = slices.Clone(g.Models)
		for j := range g.Models {
			g.Models[j].Tags = slices.Clone(g.Models[j].Tags)
		}
		g.Tags = slices.Clone(g.Tags)
		g.Requires = slices.Clone(g.Requires)
		c.Groups[i] = g
	}
	c.Architectures = slices.Clone(m.Architectures)
	c.Requires = slices.Clone(m.Requires)
	c.AdditionalSavedFiles = slices.Clone(m.AdditionalSavedFiles)
	c.Tags = slices.Clone(m.Tags)
	c.AttnImplKeys = slices.Clone(m.AttnImplKeys)
	c.Capabilities.CloneEmbeddings = slices.Clone(m.Capabilities.CloneEmbeddings)
	c.Capabilities.InputDeviceEmbeddings = slices.Clone(m.Capabilities.InputDeviceEmbeddings)
	c.Capabilities.InputEmbeddings = slices.Clone(m.Capabilities.InputEmbeddings)
	c.Capabilities.Sentinels = slices.Clone(m.Capabilities.Sentinels)
	return &c
}

func mergeTags(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, t := range l {
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

// RequiresFor returns the family's constraints plus those of the group
// that contains modelID. An unknown or empty modelID yields the family's.
func (m *ModelMeta) RequiresFor(modelID string) []string {
	reqs := slices.Clone(m.Requires)
	if modelID == "" {
		return reqs
	}
	for _, g := range m.Groups {
		for _, e := range g.Models {
			if matchesID(e, modelID) {
				return append(reqs, g.Requires...)
			}
		}
	}
	return reqs
}
