package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/logger"
)

// DefaultAttnImplKey is the config key receiving the attention selector when
// a family names no other.
const DefaultAttnImplKey = "attn_implementation"

// attnImplValue maps the selector to the value the config expects.
func attnImplValue(impl framework.AttnImpl) string {
	if impl == framework.AttnImplFlashAttn {
		return "flash_attention_2"
	}
	return string(impl)
}

// ApplyAttnImpl writes the attention selector of opts into cfg. Auto leaves
// the config untouched.
func ApplyAttnImpl(cfg *framework.ModelConfig, opts framework.LoadOptions) {
	if opts.AttnImpl == framework.AttnImplAuto {
		return
	}
	keys := opts.AttnImplKeys
	if len(keys) == 0 {
		keys = []string{DefaultAttnImplKey}
	}
	for _, key := range keys {
		cfg.Set(key, attnImplValue(opts.AttnImpl))
	}
}

// LoadWithFlashAttn is the default constructor: config with the attention
// selector applied, tokenizer, then the model.
func LoadWithFlashAttn(ctx context.Context, lc *LoadContext) (framework.Model, framework.Tokenizer, error) {
	cfg, err := lc.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	ApplyAttnImpl(cfg, lc.Options.LoadOptions)
	return loadTokenizerAndModel(ctx, lc, cfg)
}

func loadTokenizerAndModel(ctx context.Context, lc *LoadContext, cfg *framework.ModelConfig) (framework.Model, framework.Tokenizer, error) {
	tok, err := lc.LoadTokenizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := lc.LoadModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return model, tok, nil
}

// LoadMultimodal loads like LoadWithFlashAttn and also resolves the vision
// preprocessing limits, so a bad environment fails the load instead of the
// first request.
func LoadMultimodal(ctx context.Context, lc *LoadContext) (framework.Model, framework.Tokenizer, error) {
	if _, err := lc.Vision(); err != nil {
		return nil, nil, err
	}
	return LoadWithFlashAttn(ctx, lc)
}

// LoadRewardModel loads a reward or process-reward model. Remote-code reward
// heads are published under auto_map.AutoModel; that class wins over the
// first architecture.
func LoadRewardModel(ctx context.Context, lc *LoadContext) (framework.Model, framework.Tokenizer, error) {
	cfg, err := lc.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	ApplyAttnImpl(cfg, lc.Options.LoadOptions)

	if lc.Options.ModelClass == "" {
		if ref, ok := cfg.String("auto_map.AutoModel"); ok {
			lc.Options.ModelClass = remoteClassName(ref)
			logger.Debug("[%s] Reward model class %s from auto_map", lc.LoadID, lc.Options.ModelClass)
		} else if archs := cfg.Architectures(); len(archs) > 0 {
			lc.Options.ModelClass = archs[0]
		} else {
			return nil, nil, fmt.Errorf("reward model in %s declares no model class", lc.Dir)
		}
	}
	return loadTokenizerAndModel(ctx, lc, cfg)
}

// remoteClassName strips the module from "modeling_x.ClassName" and the repo
// from "org/repo--modeling_x.ClassName".
func remoteClassName(ref string) string {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
