package qwen

import (
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

// qwen2VLEmbedTokens is where the text embeddings of Qwen2-VL style models
// live: directly under model before transformers 4.52, under
// model.language_model since.
var qwen2VLEmbedTokens = patch.Alternatives("model.embed_tokens", "model.language_model.embed_tokens")

// ovisPatchEmbed is the patch embedding of the Ovis visual backbone: SigLIP
// backbones expose vision_model, AIMv2 backbones (Ovis2) a preprocessor.
var ovisPatchEmbed = patch.Alternatives("backbone.vision_model.embeddings", "backbone.preprocessor.patchifier")

var (
	qwen2VLRequires   = []string{"transformers>=4.45", "qwen_vl_utils>=0.0.6", "decord"}
	qwen2_5VLRequires = []string{"transformers>=4.49", "qwen_vl_utils>=0.0.6", "decord"}
)

// QwenAudio is Qwen-Audio. Its tokenizer emits audio sentinels that break
// special-token skipping, and its input dropout aliases the embeddings.
func QwenAudio() *models.ModelMeta {
	caps := qwenCapabilities()
	caps.InputDropout = "transformer.drop"
	caps.Sentinels = patch.DefaultSentinels

	return &models.ModelMeta{
		ModelType:            models.ModelTypeQwenAudio,
		Groups:               []models.ModelGroup{group(same("Qwen/Qwen-Audio-Chat", "Qwen/Qwen-Audio"))},
		Template:             models.TemplateQwenAudio,
		Loader:               LoadQwen,
		LoaderName:           LoaderQwenAudio,
		Architectures:        []string{"QWenLMHeadModel"},
		ModelArch:            models.ArchQwenAudio,
		AdditionalSavedFiles: []string{"mel_filters.npz"},
		Tags:                 []string{models.TagAudio},
		IsMultimodal:         true,
		Capabilities:         caps,
	}
}

// QwenVL is Qwen-VL. Its visual tower runs on the first device. Sharded
// across four or more devices, its residual blocks break and its output
// projection lands away from the final norm.
func QwenVL() *models.ModelMeta {
	caps := qwenCapabilities()
	caps.InputDropout = "transformer.drop"
	caps.Sentinels = patch.DefaultSentinels
	caps.VisualBlocks = "transformer.visual.transformer.resblocks"
	caps.VisualProj = "transformer.visual.proj"
	caps.VisualProjAnchor = "transformer.visual.ln_post.weight"
	caps.FixedDeviceModule = "transformer.visual"

	return &models.ModelMeta{
		ModelType:            models.ModelTypeQwenVL,
		Groups:               []models.ModelGroup{group(same("Qwen/Qwen-VL-Chat", "Qwen/Qwen-VL", "Qwen/Qwen-VL-Chat-Int4"))},
		Template:             models.TemplateQwenVL,
		Loader:               LoadQwenVL,
		LoaderName:           LoaderQwenVL,
		Architectures:        []string{"QWenLMHeadModel"},
		ModelArch:            models.ArchQwenVL,
		AdditionalSavedFiles: []string{"SimSun.ttf"},
		Tags:                 []string{models.TagVision},
		IsMultimodal:         true,
		Capabilities:         caps,
	}
}

// qwen2VLCapabilities clone the text embeddings and return them on the
// device of the ids, and expose the patch embedding of the vision tower.
func qwen2VLCapabilities() models.Capabilities {
	return models.Capabilities{
		CloneEmbeddings:       []string{qwen2VLEmbedTokens},
		InputDeviceEmbeddings: []string{qwen2VLEmbedTokens},
		InputEmbeddings:       []models.EmbeddingAlias{{Owner: "visual", Module: "patch_embed"}},
	}
}

// Qwen2VL covers Qwen2-VL and its fine-tunes (UI-TARS, olmOCR).
func Qwen2VL() *models.ModelMeta {
	sizes := []string{"2B", "7B", "72B"}
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2VL,
		Groups: []models.ModelGroup{
			group(
				same(series("Qwen/Qwen2-VL-%s-Instruct", sizes...)...),
				same(series("Qwen/Qwen2-VL-%s", sizes...)...),
				same(series("Qwen/Qwen2-VL-%s-Instruct-GPTQ-Int4", sizes...)...),
				same(series("Qwen/Qwen2-VL-%s-Instruct-GPTQ-Int8", sizes...)...),
				same(series("Qwen/Qwen2-VL-%s-Instruct-AWQ", sizes...)...),
			),
			group(same(
				"bytedance-research/UI-TARS-2B-SFT",
				"bytedance-research/UI-TARS-7B-SFT",
				"bytedance-research/UI-TARS-7B-DPO",
				"bytedance-research/UI-TARS-72B-SFT",
				"bytedance-research/UI-TARS-72B-DPO",
			)),
			group(same("allenai/olmOCR-7B-0225-preview")),
		},
		Template:      models.TemplateQwen2VL,
		Loader:        LoadQwen2VL,
		LoaderName:    LoaderQwen2VL,
		Architectures: []string{ClassQwen2VL},
		ModelArch:     models.ArchQwen2VL,
		Requires:      qwen2VLRequires,
		Tags:          []string{models.TagVision, models.TagVideo},
		IsMultimodal:  true,
		ModelClass:    ClassQwen2VL,
		Capabilities:  qwen2VLCapabilities(),
	}
}

// QVQ is QVQ-72B-Preview.
func QVQ() *models.ModelMeta {
	meta := Qwen2VL()
	meta.ModelType = models.ModelTypeQVQ
	meta.Groups = []models.ModelGroup{group(same("Qwen/QVQ-72B-Preview"))}
	meta.Template = models.TemplateQVQ
	return meta
}

// Qwen2_5VL is Qwen2.5-VL.
func Qwen2_5VL() *models.ModelMeta {
	sizes := []string{"3B", "7B", "32B", "72B"}
	return &models.ModelMeta{
		ModelType: models.ModelTypeQwen2_5VL,
		Groups: []models.ModelGroup{
			group(same(series("Qwen/Qwen2.5-VL-%s-Instruct", sizes...)...)),
			group(same(series("Qwen/Qwen2.5-VL-%s-Instruct-AWQ", sizes...)...)),
		},
		Template:      models.TemplateQwen2_5VL,
		Loader:        LoadQwen2_5VL,
		LoaderName:    LoaderQwen2_5VL,
		Architectures: []string{ClassQwen2_5VL},
		ModelArch:     models.ArchQwen2VL,
		Requires:      qwen2_5VLRequires,
		Tags:          []string{models.TagVision, models.TagVideo},
		IsMultimodal:  true,
		ModelClass:    ClassQwen2_5VL,
		Capabilities:  qwen2VLCapabilities(),
	}
}

// MiMoVL is Xiaomi's MiMo-VL, a Qwen2.5-VL architecture.
func MiMoVL() *models.ModelMeta {
	meta := Qwen2_5VL()
	meta.ModelType = models.ModelTypeMiMoVL
	meta.Groups = []models.ModelGroup{group(same("XiaomiMiMo/MiMo-VL-7B-SFT", "XiaomiMiMo/MiMo-VL-7B-RL"))}
	meta.Template = models.TemplateMiMoVL
	return meta
}

// Qwen2_5Omni is Qwen2.5-Omni.
func Qwen2_5Omni() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:            models.ModelTypeQwen2_5Omni,
		Groups:               []models.ModelGroup{group(same("Qwen/Qwen2.5-Omni-3B", "Qwen/Qwen2.5-Omni-7B"))},
		Template:             models.TemplateQwen2_5Omni,
		Loader:               LoadQwen2_5Omni,
		LoaderName:           LoaderQwen2Omni,
		Architectures:        []string{"Qwen2_5OmniModel", ClassQwen2Omni},
		ModelArch:            models.ArchQwen2Omni,
		Requires:             []string{"transformers>=4.50", "soundfile", "qwen_omni_utils", "decord"},
		AdditionalSavedFiles: []string{"spk_dict.pt"},
		Tags:                 []string{models.TagVision, models.TagVideo, models.TagAudio},
		IsMultimodal:         true,
		ModelClass:           ClassQwen2Omni,
		Capabilities: models.Capabilities{
			InputEmbeddings: []models.EmbeddingAlias{{Owner: "thinker.visual", Module: "patch_embed"}},
		},
	}
}

// Qwen2Audio is Qwen2-Audio.
func Qwen2Audio() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     models.ModelTypeQwen2Audio,
		Groups:        []models.ModelGroup{group(same("Qwen/Qwen2-Audio-7B-Instruct", "Qwen/Qwen2-Audio-7B"))},
		Template:      models.TemplateQwen2Audio,
		Loader:        LoadQwen2Audio,
		LoaderName:    LoaderQwen2Audio,
		Architectures: []string{ClassQwen2Audio},
		ModelArch:     models.ArchQwen2Audio,
		Requires:      []string{"transformers>=4.45,<4.49", "librosa"},
		Tags:          []string{models.TagAudio},
		IsMultimodal:  true,
		ModelClass:    ClassQwen2Audio,
	}
}

func ovis(modelType, template string, requires []string, ids ...string) *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     modelType,
		Groups:        []models.ModelGroup{group(same(ids...))},
		Template:      template,
		Loader:        LoadOvis,
		LoaderName:    LoaderOvis,
		Architectures: []string{"Ovis"},
		ModelArch:     models.ArchOvis1_6,
		Requires:      requires,
		Tags:          []string{models.TagVision},
		IsMultimodal:  true,
		AttnImplKeys:  []string{ovisAttnImplKey},
		Capabilities: models.Capabilities{
			CloneEmbeddings: []string{"llm.model.embed_tokens"},
			InputEmbeddings: []models.EmbeddingAlias{
				{Owner: "visual_tokenizer", Module: ovisPatchEmbed},
			},
			HybridCache: true,
		},
	}
}

// Ovis1_6 is Ovis1.6 on Gemma2.
func Ovis1_6() *models.ModelMeta {
	return ovis(models.ModelTypeOvis1_6, models.TemplateOvis1_6, []string{"transformers>=4.42"},
		"AIDC-AI/Ovis1.6-Gemma2-9B", "AIDC-AI/Ovis1.6-Gemma2-9B-GPTQ-Int4", "AIDC-AI/Ovis1.6-Gemma2-27B")
}

// Ovis1_6Llama3 is Ovis1.6 on Llama 3.2.
func Ovis1_6Llama3() *models.ModelMeta {
	return ovis(models.ModelTypeOvis1_6Llama3, models.TemplateOvis1_6Llama3, nil, "AIDC-AI/Ovis1.6-Llama3.2-3B")
}

// Ovis2 is Ovis2 on Qwen2.5.
func Ovis2() *models.ModelMeta {
	return ovis(models.ModelTypeOvis2, models.TemplateOvis2, []string{"transformers>=4.46.2", "moviepy<2"},
		series("AIDC-AI/Ovis2-%s", "1B", "2B", "4B", "8B", "16B", "34B")...)
}
