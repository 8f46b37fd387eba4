package qwen

import (
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

const (
	reqTransformers437 = "transformers>=4.37"
	reqTransformers440 = "transformers>=4.40"
	reqTransformers451 = "transformers>=4.51"
)

var (
	qwen1Sizes   = []string{"1_8B", "7B", "14B", "72B"}
	qwen1_5Sizes = []string{"0.5B", "1.8B", "4B", "7B", "14B", "32B", "72B", "110B"}
	qwen2Sizes   = []string{"0.5B", "1.5B", "7B", "72B"}
	qwen2_5Sizes = []string{"0.5B", "1.5B", "3B", "7B", "14B", "32B", "72B"}
	mathSizes    = []string{"1.5B", "7B", "72B"}
)

// qwenCapabilities are the corrections shared by the remote-code Qwen
// checkpoints: dtype flags, the causal mask buffer left on cpu after
// dispatch, and a tokenizer that only declares <|endoftext|> as eod.
func qwenCapabilities() models.Capabilities {
	return models.Capabilities{
		DtypeFlags:       true,
		CausalMaskBuffer: "transformer.registered_causal_mask",
		EODToken:         patch.EndOfText,
	}
}

// Qwen is the first Qwen generation, including the Tongyi finance models.
func Qwen() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen,
		Groups: []models.ModelGroup{
			group(
				same(series("Qwen/Qwen-%s-Chat", qwen1Sizes...)...),
				same(series("Qwen/Qwen-%s", qwen1Sizes...)...),
				same(series("Qwen/Qwen-%s-Chat-Int4", qwen1Sizes...)...),
				same(series("Qwen/Qwen-%s-Chat-Int8", qwen1Sizes...)...),
			),
			tagged(group(
				aliased("TongyiFinance/Tongyi-Finance-14B-Chat", "jxy/Tongyi-Finance-14B-Chat"),
				msOnly("TongyiFinance/Tongyi-Finance-14B"),
				aliased("TongyiFinance/Tongyi-Finance-14B-Chat-Int4", "jxy/Tongyi-Finance-14B-Chat-Int4"),
			), models.TagFinancial),
		},
		Template:      models.TemplateQwen,
		Loader:        LoadQwen,
		LoaderName:    LoaderQwen,
		Architectures: []string{"QWenLMHeadModel"},
		ModelArch:     models.ArchQwen,
		Capabilities:  qwenCapabilities(),
	}
}

// ModelScopeAgent is the agent-tuned first-generation Qwen.
func ModelScopeAgent() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     models.ModelTypeModelScopeAgent,
		Groups:        []models.ModelGroup{group(msOnly("iic/ModelScope-Agent-7B", "iic/ModelScope-Agent-14B"))},
		Template:      models.TemplateModelScopeAgent,
		Loader:        LoadQwen,
		LoaderName:    LoaderQwen,
		Architectures: []string{"QWenLMHeadModel"},
		ModelArch:     models.ArchQwen,
		Capabilities:  qwenCapabilities(),
	}
}

// Qwen2 covers Qwen1.5, CodeQwen1.5, Qwen2, Qwen2-Math and the 1M-context
// Qwen2.5 checkpoints, all served with the qwen template.
func Qwen2() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2,
		Groups: []models.ModelGroup{
			group(
				same(series("Qwen/Qwen1.5-%s-Chat", qwen1_5Sizes...)...),
				same(series("Qwen/Qwen1.5-%s", qwen1_5Sizes...)...),
				same(series("Qwen/Qwen1.5-%s-Chat-GPTQ-Int4", qwen1_5Sizes...)...),
				same(series("Qwen/Qwen1.5-%s-Chat-GPTQ-Int8", "0.5B", "1.8B", "4B", "7B", "14B", "72B")...),
				same(series("Qwen/Qwen1.5-%s-Chat-AWQ", qwen1_5Sizes...)...),
			),
			tagged(group(same(
				"Qwen/CodeQwen1.5-7B",
				"Qwen/CodeQwen1.5-7B-Chat",
				"Qwen/CodeQwen1.5-7B-Chat-AWQ",
			)), models.TagCoding),
			group(
				same(series("Qwen/Qwen2-%s-Instruct", qwen2Sizes...)...),
				same(series("Qwen/Qwen2-%s", qwen2Sizes...)...),
				same(series("Qwen/Qwen2-%s-Instruct-GPTQ-Int4", qwen2Sizes...)...),
				same(series("Qwen/Qwen2-%s-Instruct-GPTQ-Int8", qwen2Sizes...)...),
				same(series("Qwen/Qwen2-%s-Instruct-AWQ", qwen2Sizes...)...),
			),
			tagged(group(
				same(series("Qwen/Qwen2-Math-%s-Instruct", mathSizes...)...),
				same(series("Qwen/Qwen2-Math-%s", mathSizes...)...),
			), models.TagMath),
			group(same("Qwen/Qwen2.5-7B-Instruct-1M", "Qwen/Qwen2.5-14B-Instruct-1M")),
			group(same("PowerInfer/SmallThinker-3B-Preview")),
		},
		Template:      models.TemplateQwen,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen2ForCausalLM"},
		ModelArch:     models.ArchLlama,
		Requires:      []string{reqTransformers437},
	}
}

// Qwen2_5 covers Qwen2.5 and Qwen2.5-Coder.
func Qwen2_5() *models.ModelMeta {
	coderSizes := []string{"0.5B", "1.5B", "3B", "7B", "14B", "32B"}
	var coderGPTQ []string
	for _, s := range coderSizes {
		coderGPTQ = append(coderGPTQ,
			"Qwen/Qwen2.5-Coder-"+s+"-Instruct-GPTQ-Int4",
			"Qwen/Qwen2.5-Coder-"+s+"-Instruct-GPTQ-Int8")
	}
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2_5,
		Groups: []models.ModelGroup{
			group(
				same(series("Qwen/Qwen2.5-%s-Instruct", qwen2_5Sizes...)...),
				same(series("Qwen/Qwen2.5-%s", qwen2_5Sizes...)...),
				same(series("Qwen/Qwen2.5-%s-Instruct-GPTQ-Int4", qwen2_5Sizes...)...),
				same(series("Qwen/Qwen2.5-%s-Instruct-GPTQ-Int8", qwen2_5Sizes...)...),
				same(series("Qwen/Qwen2.5-%s-Instruct-AWQ", qwen2_5Sizes...)...),
			),
			tagged(group(
				same(series("Qwen/Qwen2.5-Coder-%s-Instruct", coderSizes...)...),
				same(series("Qwen/Qwen2.5-Coder-%s", coderSizes...)...),
				same(series("Qwen/Qwen2.5-Coder-%s-Instruct-AWQ", coderSizes...)...),
				same(coderGPTQ...),
			), models.TagCoding),
			group(same("moonshotai/Kimi-Dev-72B")),
		},
		Template:      models.TemplateQwen2_5,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen2ForCausalLM"},
		ModelArch:     models.ArchLlama,
		Requires:      []string{reqTransformers437},
	}
}

// Qwen2_5Math is Qwen2.5-Math.
func Qwen2_5Math() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2_5Math,
		Groups: []models.ModelGroup{
			tagged(group(
				same(series("Qwen/Qwen2.5-Math-%s-Instruct", mathSizes...)...),
				same(series("Qwen/Qwen2.5-Math-%s", mathSizes...)...),
			), models.TagMath),
		},
		Template:      models.TemplateQwen2_5Math,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen2ForCausalLM"},
		ModelArch:     models.ArchLlama,
		Requires:      []string{reqTransformers437},
	}
}

// Qwen2MoE covers Qwen1.5-MoE and Qwen2-MoE.
func Qwen2MoE() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2MoE,
		Groups: []models.ModelGroup{
			group(same(
				"Qwen/Qwen1.5-MoE-A2.7B-Chat",
				"Qwen/Qwen1.5-MoE-A2.7B",
				"Qwen/Qwen1.5-MoE-A2.7B-Chat-GPTQ-Int4",
			)),
			group(same(
				"Qwen/Qwen2-57B-A14B-Instruct",
				"Qwen/Qwen2-57B-A14B",
				"Qwen/Qwen2-57B-A14B-Instruct-GPTQ-Int4",
			)),
		},
		Template:      models.TemplateQwen,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen2MoeForCausalLM"},
		Requires:      []string{reqTransformers440},
	}
}

// Qwen3 is the dense Qwen3 line.
func Qwen3() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen3,
		Groups: []models.ModelGroup{
			group(
				same(series("Qwen/Qwen3-%s-Base", "0.6B", "1.7B", "4B", "8B", "14B")...),
				same(series("Qwen/Qwen3-%s", "0.6B", "1.7B", "4B", "8B", "14B", "32B")...),
				same(series("Qwen/Qwen3-%s-FP8", "0.6B", "1.7B", "4B", "8B", "14B", "32B")...),
				same(series("Qwen/Qwen3-%s-AWQ", "4B", "8B", "14B", "32B")...),
				msOnly("swift/Qwen3-32B-AWQ"),
			),
		},
		Template:      models.TemplateQwen3,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen3ForCausalLM"},
		ModelArch:     models.ArchLlama,
		Requires:      []string{reqTransformers451},
	}
}

// Qwen3MoE is the Qwen3 mixture-of-experts line, including Qwen3-Coder.
func Qwen3MoE() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen3MoE,
		Groups: []models.ModelGroup{
			group(
				same(
					"Qwen/Qwen3-30B-A3B-Base",
					"Qwen/Qwen3-30B-A3B",
					"Qwen/Qwen3-235B-A22B",
					"Qwen/Qwen3-30B-A3B-FP8",
					"Qwen/Qwen3-235B-A22B-FP8",
				),
				aliased("swift/Qwen3-30B-A3B-AWQ", "cognitivecomputations/Qwen3-30B-A3B-AWQ"),
				aliased("swift/Qwen3-235B-A22B-AWQ", "cognitivecomputations/Qwen3-235B-A22B-AWQ"),
			),
			group(
				same("Qwen/Qwen3-235B-A22B-Instruct-2507", "Qwen/Qwen3-235B-A22B-Instruct-2507-FP8"),
				msOnly("swift/Qwen3-235B-A22B-Instruct-2507-AWQ"),
			),
			tagged(group(
				same("Qwen/Qwen3-Coder-480B-A35B-Instruct", "Qwen/Qwen3-Coder-480B-A35B-Instruct-FP8"),
				msOnly("swift/Qwen3-Coder-480B-A35B-Instruct-AWQ"),
			), models.TagCoding),
		},
		Template:      models.TemplateQwen3,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen3MoeForCausalLM"},
		Requires:      []string{reqTransformers451},
	}
}

// Qwen3MoEThinking is the thinking-only 2507 release.
func Qwen3MoEThinking() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen3MoEThinking,
		Groups: []models.ModelGroup{
			group(
				same("Qwen/Qwen3-235B-A22B-Thinking-2507", "Qwen/Qwen3-235B-A22B-Thinking-2507-FP8"),
				msOnly("swift/Qwen3-235B-A22B-Thinking-2507-AWQ"),
			),
		},
		Template:      models.TemplateQwen3Thinking,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen3MoeForCausalLM"},
		Requires:      []string{reqTransformers451},
	}
}

func qwen2Derivative(modelType, template string, ids ...string) *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     modelType,
		Groups:        []models.ModelGroup{group(same(ids...))},
		Template:      template,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen2ForCausalLM"},
		ModelArch:     models.ArchLlama,
		Requires:      []string{reqTransformers437},
	}
}

// MarcoO1 is AIDC-AI's Marco-o1.
func MarcoO1() *models.ModelMeta {
	return qwen2Derivative(models.ModelTypeMarcoO1, models.TemplateMarcoO1, "AIDC-AI/Marco-o1")
}

// QwQPreview is QwQ-32B-Preview.
func QwQPreview() *models.ModelMeta {
	return qwen2Derivative(models.ModelTypeQwQPreview, models.TemplateQwQPreview, "Qwen/QwQ-32B-Preview")
}

// QwQ is QwQ-32B.
func QwQ() *models.ModelMeta {
	return qwen2Derivative(models.ModelTypeQwQ, models.TemplateQwQ, "Qwen/QwQ-32B", "Qwen/QwQ-32B-AWQ")
}
