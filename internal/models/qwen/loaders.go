package qwen

import (
	"context"
	"slices"

	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
)

// Model classes instantiated by the multimodal constructors when neither
// the family nor the caller names one.
const (
	ClassQwen2VL    = "Qwen2VLForConditionalGeneration"
	ClassQwen2_5VL  = "Qwen2_5_VLForConditionalGeneration"
	ClassQwen2Omni  = "Qwen2_5OmniForConditionalGeneration"
	ClassQwen2Audio = "Qwen2AudioForConditionalGeneration"
)

// ovisAttnImplKey is where Ovis reads the attention selector of its LLM.
const ovisAttnImplKey = "llm_attn_implementation"

// qwenVLSkipModules stay in full precision under bitsandbytes.
var qwenVLSkipModules = []string{"lm_head", "attn_pool.attn"}

// omniIgnoredOutputs are dropped from the outputs compared at inference.
var omniIgnoredOutputs = []string{"hidden_states", "attention_mask"}

// LoadQwen loads first-generation Qwen checkpoints (remote code).
//
// Their config carries its own precision and flash-attention switches: the
// precision flags are synced by the family's capabilities, torch_dtype is
// cleared so it does not fight them (except under bitsandbytes, which reads
// it), and use_flash_attn mirrors the attention selector.
func LoadQwen(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	cfg, err := lc.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	if !lc.Options.IsBNB() {
		// The model still loads in the resolved precision.
		lc.Options.Dtype = lc.Dtype()
		cfg.Set("torch_dtype", nil)
	}
	if lc.Options.AttnImpl == framework.AttnImplAuto {
		cfg.Set("use_flash_attn", "auto")
	} else {
		cfg.Set("use_flash_attn", lc.Options.UseFlashAttn())
	}
	models.ApplyAttnImpl(cfg, lc.Options.LoadOptions)

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

// LoadQwenVL loads Qwen-VL. The vision pooler's attention and the lm head
// are kept out of bitsandbytes quantization.
func LoadQwenVL(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	if lc.Options.IsBNB() {
		q := *lc.Options.Quantization
		skip := slices.Clone(q.SkipModules)
		for _, m := range qwenVLSkipModules {
			if !slices.Contains(skip, m) {
				skip = append(skip, m)
			}
		}
		q.SkipModules = skip
		lc.Options.Quantization = &q
	}
	return LoadQwen(ctx, lc)
}

// LoadQwen2VL loads Qwen2-VL style checkpoints.
func LoadQwen2VL(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	defaultClass(lc, ClassQwen2VL)
	return models.LoadMultimodal(ctx, lc)
}

// LoadQwen2_5VL loads Qwen2.5-VL style checkpoints.
func LoadQwen2_5VL(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	defaultClass(lc, ClassQwen2_5VL)
	return models.LoadMultimodal(ctx, lc)
}

// LoadQwen2Audio loads Qwen2-Audio.
func LoadQwen2Audio(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	defaultClass(lc, ClassQwen2Audio)
	return models.LoadMultimodal(ctx, lc)
}

// LoadQwen2_5Omni loads Qwen2.5-Omni. The speech talker is enabled from
// ENABLE_AUDIO_OUTPUT; once the model exists its talker padding id is
// cleared and hidden states are ignored at inference.
func LoadQwen2_5Omni(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	defaultClass(lc, ClassQwen2Omni)
	vision, err := lc.Vision()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := lc.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	models.ApplyAttnImpl(cfg, lc.Options.LoadOptions)
	cfg.Set("enable_audio_output", vision.EnableAudioOutput)

	tok, err := lc.LoadTokenizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := lc.LoadModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, tok, nil
	}

	mc := model.Config()
	ignored := mc.Strings("keys_to_ignore_at_inference")
	for _, k := range omniIgnoredOutputs {
		if !slices.Contains(ignored, k) {
			ignored = append(ignored, k)
		}
	}
	mc.Set("keys_to_ignore_at_inference", ignored)
	if mc.Has("talker_config") {
		mc.Set("talker_config.pad_token_id", nil)
	}
	logger.Debug("[%s] Omni audio output enabled: %v", lc.LoadID, vision.EnableAudioOutput)
	return model, tok, nil
}

// LoadOvis loads Ovis checkpoints, which read the attention selector from
// the config of their LLM.
func LoadOvis(ctx context.Context, lc *models.LoadContext) (framework.Model, framework.Tokenizer, error) {
	if len(lc.Options.AttnImplKeys) == 0 {
		lc.Options.AttnImplKeys = []string{ovisAttnImplKey}
	}
	return models.LoadMultimodal(ctx, lc)
}

func defaultClass(lc *models.LoadContext, class string) {
	if lc.Options.ModelClass == "" {
		lc.Options.ModelClass = class
	}
}
