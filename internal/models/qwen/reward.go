package qwen

import "github.com/tsingmao/xwm/internal/models"

func rewardModel(modelType, template, taskType, arch string, ids ...string) *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     modelType,
		Groups:        []models.ModelGroup{group(same(ids...))},
		Template:      template,
		Loader:        models.LoadRewardModel,
		LoaderName:    models.LoaderRewardModel,
		Architectures: []string{arch},
		Requires:      []string{reqTransformers437},
		TaskType:      taskType,
	}
}

// Qwen2Reward is the Qwen2-Math outcome reward model.
func Qwen2Reward() *models.ModelMeta {
	return rewardModel(models.ModelTypeQwen2Reward, models.TemplateQwen, models.TaskReward,
		"Qwen2ForRewardModel", "Qwen/Qwen2-Math-RM-72B")
}

// Qwen2_5PRM are the Qwen2.5-Math process reward models.
func Qwen2_5PRM() *models.ModelMeta {
	return rewardModel(models.ModelTypeQwen2_5PRM, models.TemplateQwen2_5MathPRM, models.TaskPRM,
		"Qwen2ForProcessRewardModel",
		"Qwen/Qwen2.5-Math-PRM-7B", "Qwen/Qwen2.5-Math-7B-PRM800K", "Qwen/Qwen2.5-Math-PRM-72B")
}

// Qwen2_5MathReward is the Qwen2.5-Math outcome reward model.
func Qwen2_5MathReward() *models.ModelMeta {
	return rewardModel(models.ModelTypeQwen2_5MathRM, models.TemplateQwen2_5Math, models.TaskReward,
		"Qwen2ForRewardModel", "Qwen/Qwen2.5-Math-RM-72B")
}

// Qwen3Embedding is Qwen3-Embedding. The sentence-transformers pooling
// files must travel with exported checkpoints.
func Qwen3Embedding() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:            models.ModelTypeQwen3Embedding,
		Groups:               []models.ModelGroup{group(same(series("Qwen/Qwen3-Embedding-%s", "0.6B", "4B", "8B")...))},
		Template:             models.TemplateQwen3Embedding,
		Loader:               models.LoadWithFlashAttn,
		LoaderName:           models.LoaderWithFlashAttn,
		Architectures:        []string{"Qwen3ForCausalLM"},
		AdditionalSavedFiles: []string{"config_sentence_transformers.json", "1_Pooling", "modules.json"},
		TaskType:             models.TaskEmbedding,
	}
}

// Qwen3Reranker is Qwen3-Reranker.
func Qwen3Reranker() *models.ModelMeta {
	return &models.ModelMeta{
		ModelType:     models.ModelTypeQwen3Reranker,
		Groups:        []models.ModelGroup{group(same(series("Qwen/Qwen3-Reranker-%s", "0.6B", "4B", "8B")...))},
		Template:      models.TemplateQwen3Reranker,
		Loader:        models.LoadWithFlashAttn,
		LoaderName:    models.LoaderWithFlashAttn,
		Architectures: []string{"Qwen3ForCausalLM"},
		TaskType:      models.TaskReranker,
	}
}
