// Package qwen provides Qwen model family specifications.
//
// Families are plain values; nothing is registered at import time. Call
// Register to add the whole catalog, with its constructors, to a registry.
package qwen

import (
	"fmt"

	"github.com/tsingmao/xwm/internal/models"
)

// Names of the constructors this package adds to a registry, so overlay
// families can reuse them.
const (
	LoaderQwen       = "qwen"
	LoaderQwenAudio  = "qwen_audio"
	LoaderQwenVL     = "qwen_vl"
	LoaderQwen2VL    = "qwen2_vl"
	LoaderQwen2_5VL  = "qwen2_5_vl"
	LoaderQwen2Omni  = "qwen2_5_omni"
	LoaderQwen2Audio = "qwen2_audio"
	LoaderOvis       = "ovis"
)

var loaders = []struct {
	name string
	fn   models.LoaderFunc
}{
	{LoaderQwen, LoadQwen},
	{LoaderQwenAudio, LoadQwen},
	{LoaderQwenVL, LoadQwenVL},
	{LoaderQwen2VL, LoadQwen2VL},
	{LoaderQwen2_5VL, LoadQwen2_5VL},
	{LoaderQwen2Omni, LoadQwen2_5Omni},
	{LoaderQwen2Audio, LoadQwen2Audio},
	{LoaderOvis, LoadOvis},
}

// Families returns the catalog in registration order. Each call builds
// fresh values.
func Families() []*models.ModelMeta {
	return []*models.ModelMeta{
		Qwen(),
		ModelScopeAgent(),
		QwenAudio(),
		QwenVL(),
		Qwen2(),
		Qwen2_5(),
		Qwen2_5Math(),
		Qwen2MoE(),
		Qwen3(),
		Qwen3MoE(),
		Qwen3MoEThinking(),
		Qwen2VL(),
		QVQ(),
		Qwen2_5VL(),
		MiMoVL(),
		Qwen2_5Omni(),
		Qwen2Audio(),
		MarcoO1(),
		QwQPreview(),
		QwQ(),
		Ovis1_6(),
		Ovis1_6Llama3(),
		Ovis2(),
		Qwen2Reward(),
		Qwen2_5PRM(),
		Qwen2_5MathReward(),
		Qwen3Embedding(),
		Qwen3Reranker(),
	}
}

// Register adds the named constructors and every family of the catalog to r.
//
// Returns:
//   - Error wrapping models.ErrDuplicateKey if a constructor or family is
//     already registered, or models.ErrInvalidMeta for a malformed family
func Register(r *models.Registry) error {
	for _, l := range loaders {
		if err := r.RegisterLoader(l.name, l.fn); err != nil {
			return err
		}
	}
	for _, meta := range Families() {
		if err := r.Register(meta); err != nil {
			return fmt.Errorf("failed to register %s: %w", meta.ModelType, err)
		}
	}
	return nil
}

// same lists checkpoints published under the same id on both hubs.
func same(ids ...string) []models.Model {
	out := make([]models.Model, len(ids))
	for i, id := range ids {
		out[i] = models.Model{ID: id, HFID: id}
	}
	return out
}

// series expands format over sizes, e.g. "Qwen/Qwen2-%s-Instruct".
func series(format string, sizes ...string) []string {
	out := make([]string, len(sizes))
	for i, s := range sizes {
		out[i] = fmt.Sprintf(format, s)
	}
	return out
}

// group concatenates lists of checkpoints into one group.
func group(lists ...[]models.Model) models.ModelGroup {
	var g models.ModelGroup
	for _, l := range lists {
		g.Models = append(g.Models, l...)
	}
	return g
}

func tagged(g models.ModelGroup, tags ...string) models.ModelGroup {
	g.Tags = tags
	return g
}

// msOnly lists checkpoints published on ModelScope only.
func msOnly(ids ...string) []models.Model {
	out := make([]models.Model, len(ids))
	for i, id := range ids {
		out[i] = models.Model{ID: id}
	}
	return out
}

// aliased is one checkpoint published under a different HuggingFace id.
func aliased(id, hfID string) []models.Model {
	return []models.Model{{ID: id, HFID: hfID}}
}
