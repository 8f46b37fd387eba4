// Package local implements framework.Framework on top of checkpoint metadata.
//
// It reads config.json and the tokenizer files of a checkpoint directory and
// builds a module tree from per-architecture layouts, sharded across a fixed
// set of devices. No weights are read: the package exists so the registry,
// constructors and patches can be driven end to end without an accelerator
// stack, and it reproduces the placement defects the patches correct.
package local

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tsingmao/xwm/internal/framework"
)

// weightPatterns are the files that count as model weights.
var weightPatterns = []string{
	"*.safetensors",
	"*.bin",
	"model.safetensors.index.json",
	"pytorch_model.bin.index.json",
}

// Framework is the metadata-level framework.
type Framework struct {
	devices []string
}

var _ framework.Framework = (*Framework)(nil)

// Option configures a Framework.
type Option func(*Framework)

// WithDevices shards models across n devices of the given kind ("cuda", "npu").
func WithDevices(kind string, n int) Option {
	return func(f *Framework) {
		if n <= 0 {
			return
		}
		f.devices = make([]string, n)
		for i := range f.devices {
			f.devices[i] = fmt.Sprintf("%s:%d", kind, i)
		}
	}
}

// New creates a framework. Without options everything lands on "cpu".
func New(opts ...Option) *Framework {
	f := &Framework{devices: []string{"cpu"}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements framework.Framework.
func (f *Framework) Name() string { return "local" }

// Devices returns the devices models are sharded across.
func (f *Framework) Devices() []string { return append([]string(nil), f.devices...) }

// LoadConfig implements framework.Framework.
func (f *Framework) LoadConfig(ctx context.Context, dir string) (*framework.ModelConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return framework.ReadModelConfig(dir)
}

// LoadTokenizer implements framework.Framework.
func (f *Framework) LoadTokenizer(ctx context.Context, dir string) (framework.Tokenizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadTokenizer(dir)
}

// LoadModel implements framework.Framework.
func (f *Framework) LoadModel(ctx context.Context, dir string, cfg *framework.ModelConfig, opts framework.LoadOptions) (framework.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !hasWeights(dir) {
		return nil, fmt.Errorf("no model weights found in %s", dir)
	}

	class := opts.ModelClass
	if class == "" {
		archs := cfg.Architectures()
		if len(archs) == 0 {
			return nil, fmt.Errorf("config in %s declares no architectures", dir)
		}
		class = archs[0]
	}

	dtype := opts.Dtype
	if dtype == framework.DtypeAuto {
		dtype = cfg.TorchDtype()
	}
	if dtype == framework.DtypeAuto {
		dtype = framework.DtypeFP32
	}

	devices := f.placement(opts.DeviceMap)
	return build(class, cfg, dtype, devices), nil
}

func (f *Framework) placement(deviceMap string) []string {
	switch {
	case deviceMap == "" || deviceMap == "auto":
		return f.Devices()
	case deviceMap == "cpu":
		return []string{"cpu"}
	default:
		return []string{deviceMap}
	}
}

func hasWeights(dir string) bool {
	for _, pattern := range weightPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}

// layout describes where the patched components of an architecture live.
type layout struct {
	embeddings       []string
	hidden           int
	dropout          string
	dropoutKey       string
	causalMask       string
	visualRoot       string
	visualBlocks     string
	blockCountKey    string
	visualPatchEmbed string
	visualProj       string
	visualProjAnchor string
	cacheLayers      int

	// newer replaces the embedding paths when the config matches it.
	newer *revision
}

// revision is a later release of an architecture that moved modules.
type revision struct {
	// key must be present in the config; value, when set, must match it.
	key   string
	value string

	embeddings       []string
	visualPatchEmbed string
}

func (r *revision) matches(cfg *framework.ModelConfig) bool {
	if r.value == "" {
		return cfg.Has(r.key)
	}
	v, ok := cfg.String(r.key)
	return ok && v == r.value
}

// resolve returns the layout matching cfg.
func (l layout) resolve(cfg *framework.ModelConfig) layout {
	if l.newer == nil || !l.newer.matches(cfg) {
		return l
	}
	if l.newer.embeddings != nil {
		l.embeddings = l.newer.embeddings
	}
	if l.newer.visualPatchEmbed != "" {
		l.visualPatchEmbed = l.newer.visualPatchEmbed
	}
	return l
}

// qwen2VLRevision: since transformers 4.52 the text model of Qwen2-VL style
// checkpoints is nested under model.language_model and the config carries
// a text_config.
var qwen2VLRevision = &revision{
	key:        "text_config",
	embeddings: []string{"model.language_model.embed_tokens"},
}

var layouts = map[string]layout{
	"QWenLMHeadModel": {
		embeddings:       []string{"transformer.wte"},
		dropout:          "transformer.drop",
		dropoutKey:       "emb_dropout_prob",
		causalMask:       "transformer.registered_causal_mask",
		visualRoot:       "transformer.visual",
		visualBlocks:     "transformer.visual.transformer.resblocks",
		blockCountKey:    "visual.layers",
		visualProj:       "transformer.visual.proj",
		visualProjAnchor: "transformer.visual.ln_post.weight",
	},
	"Qwen2VLForConditionalGeneration": {
		embeddings:       []string{"model.embed_tokens"},
		visualBlocks:     "visual.blocks",
		blockCountKey:    "vision_config.depth",
		visualPatchEmbed: "visual.patch_embed",
		newer:            qwen2VLRevision,
	},
	"Qwen2_5_VLForConditionalGeneration": {
		embeddings:       []string{"model.embed_tokens"},
		visualBlocks:     "visual.blocks",
		blockCountKey:    "vision_config.depth",
		visualPatchEmbed: "visual.patch_embed",
		newer:            qwen2VLRevision,
	},
	"Qwen2_5OmniForConditionalGeneration": {
		embeddings:       []string{"thinker.model.embed_tokens"},
		visualBlocks:     "thinker.visual.blocks",
		blockCountKey:    "thinker_config.vision_config.depth",
		visualPatchEmbed: "thinker.visual.patch_embed",
	},
	"Qwen2AudioForConditionalGeneration": {
		embeddings: []string{"language_model.model.embed_tokens"},
	},
	"Ovis": {
		embeddings:       []string{"llm.model.embed_tokens"},
		visualPatchEmbed: "visual_tokenizer.backbone.vision_model.embeddings",
		cacheLayers:      2,
		newer: &revision{
			key:              "visual_tokenizer_config.backbone_config.model_type",
			value:            "aimv2",
			visualPatchEmbed: "visual_tokenizer.backbone.preprocessor.patchifier",
		},
	},
}

func init() {
	layouts["Qwen2_5OmniModel"] = layouts["Qwen2_5OmniForConditionalGeneration"]
}

func layoutFor(class string) layout {
	if l, ok := layouts[class]; ok {
		return l
	}
	return layout{embeddings: []string{"model.embed_tokens"}}
}

func build(class string, cfg *framework.ModelConfig, dtype framework.Dtype, devices []string) *Model {
	l := layoutFor(class).resolve(cfg)
	hidden := l.hidden
	if h, ok := cfg.Int("hidden_size"); ok && h > 0 {
		hidden = h
	}
	if hidden == 0 {
		hidden = 8
	}

	m := &Model{
		class:   class,
		cfg:     cfg,
		dtype:   dtype,
		device:  devices[0],
		modules: make(map[string]framework.Module),
		buffers: make(map[string]framework.Tensor),
		params:  make(map[string]framework.Tensor),
	}

	// Embeddings sit on the last shard, which is where accelerate tends to
	// leave tied input embeddings when the lm_head lands there.
	embedDevice := devices[len(devices)-1]
	for _, path := range l.embeddings {
		m.add(path, &embedding{device: embedDevice, hidden: hidden})
	}

	if l.dropout != "" {
		p, _ := cfg.Float(l.dropoutKey)
		m.add(l.dropout, &dropout{p: p})
	}

	// The causal mask is registered at construction time and is never moved
	// when weights are dispatched to devices.
	if l.causalMask != "" {
		m.buffers[l.causalMask] = NewTensor("cpu", 1, 1)
	}

	if l.visualBlocks != "" {
		count, _ := cfg.Int(l.blockCountKey)
		if count > 0 {
			if l.visualRoot != "" {
				m.add(l.visualRoot, &strict{name: l.visualRoot, device: devices[0]})
			}
			for i := 0; i < count; i++ {
				attn := devices[i*len(devices)/count]
				mlp := attn
				if i+1 < count {
					mlp = devices[(i+1)*len(devices)/count]
				}
				m.add(fmt.Sprintf("%s.%d", l.visualBlocks, i), &block{attnDevice: attn, mlpDevice: mlp})
			}
			// The projection is a bare parameter of the tower root and is
			// dispatched with the root, while the final norm follows the
			// last block.
			if l.visualProj != "" {
				m.params[l.visualProj] = NewTensor(devices[0], hidden, hidden)
				m.params[l.visualProjAnchor] = NewTensor(devices[len(devices)-1], hidden)
			}
		}
	}

	if l.visualPatchEmbed != "" {
		m.add(l.visualPatchEmbed, &embedding{device: embedDevice, hidden: hidden})
	}

	if l.cacheLayers > 0 {
		m.cache = newHybridCache(devices, l.cacheLayers, 1, hidden)
	}

	return m
}
