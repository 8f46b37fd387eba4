package api

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/models/qwen"
	"github.com/tsingmao/xwm/internal/patch"
)

func TestFamilySummaryFrom(t *testing.T) {
	s := FamilySummaryFrom(qwen.QwenVL())
	assert.Equal(t, models.ModelTypeQwenVL, s.ModelType)
	assert.Equal(t, qwen.LoaderQwenVL, s.Loader)
	assert.Equal(t, []string{"QWenLMHeadModel"}, s.Architectures)
	assert.Contains(t, s.Tags, models.TagVision)
	assert.Positive(t, s.Models)
}

func TestLoadResponseFrom(t *testing.T) {
	res := &models.Result{
		LoadID:            "f3b1",
		ModelType:         models.ModelTypeQwen,
		Dir:               "/ckpt",
		DevicesPerReplica: 2,
		Patches: []patch.Result{
			{Patch: "sync_dtype_flags", Outcome: patch.OutcomeApplied},
			{Patch: "fixed_device:transformer.visual", Outcome: patch.OutcomeFailed, Err: errors.New("module missing")},
		},
		Duration: 1500 * time.Microsecond,
	}

	resp := LoadResponseFrom(res)
	assert.Empty(t, resp.ModelClass)
	assert.Nil(t, resp.EOSTokenID)
	assert.Equal(t, int64(2), resp.DurationMs)
	assert.Equal(t, []PatchOutcome{
		{Patch: "sync_dtype_flags", Outcome: "applied"},
		{Patch: "fixed_device:transformer.visual", Outcome: "failed", Error: "module missing"},
	}, resp.Patches)
}
