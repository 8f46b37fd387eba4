// Package models provides the model family registry and loader dispatch.
package models

// Model types of the Qwen catalog. A model type names one family: a set of
// checkpoints that share a constructor, a prompt template and requirements.
const (
	ModelTypeQwen             = "qwen"
	ModelTypeModelScopeAgent  = "modelscope_agent"
	ModelTypeQwenAudio        = "qwen_audio"
	ModelTypeQwenVL           = "qwen_vl"
	ModelTypeQwen2            = "qwen2"
	ModelTypeQwen2_5          = "qwen2_5"
	ModelTypeQwen2_5Math      = "qwen2_5_math"
	ModelTypeQwen2MoE         = "qwen2_moe"
	ModelTypeQwen3            = "qwen3"
	ModelTypeQwen3MoE         = "qwen3_moe"
	ModelTypeQwen3MoEThinking = "qwen3_moe_thinking"
	ModelTypeQwen2VL          = "qwen2_vl"
	ModelTypeQVQ              = "qvq"
	ModelTypeQwen2_5VL        = "qwen2_5_vl"
	ModelTypeMiMoVL           = "mimo_vl"
	ModelTypeQwen2_5Omni      = "qwen2_5_omni"
	ModelTypeQwen2Audio       = "qwen2_audio"
	ModelTypeMarcoO1          = "marco_o1"
	ModelTypeQwQPreview       = "qwq_preview"
	ModelTypeQwQ              = "qwq"
	ModelTypeOvis1_6          = "ovis1_6"
	ModelTypeOvis1_6Llama3    = "ovis1_6_llama3"
	ModelTypeOvis2            = "ovis2"
	ModelTypeQwen2Reward      = "qwen2_reward"
	ModelTypeQwen2_5PRM       = "qwen2_5_prm"
	ModelTypeQwen2_5MathRM    = "qwen2_5_math_reward"
	ModelTypeQwen3Embedding   = "qwen3_emb"
	ModelTypeQwen3Reranker    = "qwen3_reranker"
)

// Prompt template identifiers. Templating itself lives downstream; the
// registry only records which template a family uses.
const (
	TemplateQwen            = "qwen"
	TemplateModelScopeAgent = "modelscope_agent"
	TemplateQwenAudio       = "qwen_audio"
	TemplateQwenVL          = "qwen_vl"
	TemplateQwen2_5         = "qwen2_5"
	TemplateQwen2_5Math     = "qwen2_5_math"
	TemplateQwen2_5MathPRM  = "qwen2_5_math_prm"
	TemplateQwen3           = "qwen3"
	TemplateQwen3Thinking   = "qwen3_thinking"
	TemplateQwen2VL         = "qwen2_vl"
	TemplateQVQ             = "qvq"
	TemplateQwen2_5VL       = "qwen2_5_vl"
	TemplateMiMoVL          = "mimo_vl"
	TemplateQwen2_5Omni     = "qwen2_5_omni"
	TemplateQwen2Audio      = "qwen2_audio"
	TemplateMarcoO1         = "marco_o1"
	TemplateQwQPreview      = "qwq_preview"
	TemplateQwQ             = "qwq"
	TemplateOvis1_6         = "ovis1_6"
	TemplateOvis1_6Llama3   = "ovis1_6_llama3"
	TemplateOvis2           = "ovis2"
	TemplateQwen3Embedding  = "qwen3_emb"
	TemplateQwen3Reranker   = "qwen3_reranker"
)

// Model architectures (layer naming conventions) referenced by families.
const (
	ArchQwen       = "qwen"
	ArchQwenAudio  = "qwen_audio"
	ArchQwenVL     = "qwen_vl"
	ArchLlama      = "llama"
	ArchQwen2VL    = "qwen2_vl"
	ArchQwen2Omni  = "qwen2_5_omni"
	ArchQwen2Audio = "qwen2_audio"
	ArchOvis1_6    = "ovis1_6"
)

// Well-known tags.
const (
	TagVision    = "vision"
	TagVideo     = "video"
	TagAudio     = "audio"
	TagCoding    = "coding"
	TagMath      = "math"
	TagFinancial = "financial"
)

// Task types for non-generative families.
const (
	TaskCausalLM  = "causal_lm"
	TaskPRM       = "prm"
	TaskReranker  = "reranker"
	TaskEmbedding = "embedding"
	TaskReward    = "reward"
)

// Names of the built-in constructors, as referenced from registry overlays.
const (
	LoaderWithFlashAttn = "with_flash_attn"
	LoaderMultimodal    = "multimodal"
	LoaderRewardModel   = "reward_model"
)
