// Package api defines the JSON documents printed by xwm commands.
//
// Commands that accept --json print one of these types instead of a table,
// so scripts get a stable shape independent of the table layout. The types
// are plain data; the From* helpers build them from registry values.
package api

import (
	"time"

	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

// FamilySummary is one row of `xwm ls`.
type FamilySummary struct {
	// ModelType is the registry key, e.g. "qwen2_vl".
	ModelType string `json:"model_type"`

	// Template names the chat template.
	Template string `json:"template"`

	// Loader is the name of the family's constructor; empty for families
	// registered from code without one.
	Loader string `json:"loader,omitempty"`

	// Architectures are the config.json architecture names of the family.
	Architectures []string `json:"architectures,omitempty"`

	// Models is the number of known checkpoints.
	Models int `json:"models"`

	// Tags merges family and group tags.
	Tags []string `json:"tags,omitempty"`

	IsMultimodal bool   `json:"is_multimodal"`
	TaskType     string `json:"task_type,omitempty"`
}

// ListFamiliesResponse is the output of `xwm ls --json`.
type ListFamiliesResponse struct {
	Families []FamilySummary `json:"families"`
	Total    int             `json:"total"`
}

// FamilySummaryFrom summarizes a family.
func FamilySummaryFrom(meta *models.ModelMeta) FamilySummary {
	return FamilySummary{
		ModelType:     meta.ModelType,
		Template:      meta.Template,
		Loader:        meta.LoaderName,
		Architectures: meta.Architectures,
		Models:        len(meta.Models()),
		Tags:          meta.AllTags(),
		IsMultimodal:  meta.IsMultimodal,
		TaskType:      meta.TaskType,
	}
}

// LoadResponse is the output of `xwm load --json`.
type LoadResponse struct {
	LoadID    string `json:"load_id"`
	ModelType string `json:"model_type"`
	Dir       string `json:"dir"`

	// ModelClass is the class of the loaded model; empty with --no-model.
	ModelClass string `json:"model_class,omitempty"`
	Device     string `json:"device,omitempty"`
	Dtype      string `json:"dtype,omitempty"`

	DevicesPerReplica int `json:"devices_per_replica"`

	// EOSTokenID is the tokenizer's end-of-sequence id after corrections.
	EOSTokenID *int `json:"eos_token_id,omitempty"`

	Patches  []PatchOutcome `json:"patches"`
	Warnings []string       `json:"warnings,omitempty"`

	// DurationMs is the wall time of the load in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// PatchOutcome reports what happened to one correction.
type PatchOutcome struct {
	Patch   string `json:"patch"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// LoadResponseFrom converts a load result.
func LoadResponseFrom(res *models.Result) LoadResponse {
	out := LoadResponse{
		LoadID:            res.LoadID,
		ModelType:         res.ModelType,
		Dir:               res.Dir,
		Dtype:             string(res.Dtype),
		DevicesPerReplica: res.DevicesPerReplica,
		Patches:           PatchOutcomes(res.Patches),
		Warnings:          res.Warnings,
		DurationMs:        res.Duration.Round(time.Millisecond).Milliseconds(),
	}
	if res.Model != nil {
		out.ModelClass = res.Model.ClassName()
		out.Device = res.Model.Device()
	}
	if res.Tokenizer != nil {
		if id, ok := res.Tokenizer.EOSTokenID(); ok {
			out.EOSTokenID = &id
		}
	}
	return out
}

// PatchOutcomes converts patch results.
func PatchOutcomes(results []patch.Result) []PatchOutcome {
	out := make([]PatchOutcome, len(results))
	for i, r := range results {
		out[i] = PatchOutcome{Patch: r.Patch, Outcome: string(r.Outcome)}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// CheckResponse is the output of `xwm check --json`.
type CheckResponse struct {
	ModelType string `json:"model_type"`

	// Source describes where versions were read: "overlay", "host" or
	// "image:<name>".
	Source     string             `json:"source"`
	Requires   []string           `json:"requires"`
	Violations []models.Violation `json:"violations"`
	OK         bool               `json:"ok"`
}

// PullResponse is the output of `xwm pull --json`.
type PullResponse struct {
	ModelType string   `json:"model_type"`
	ModelID   string   `json:"model_id"`
	Source    string   `json:"source"`
	Dir       string   `json:"dir"`
	Files     []string `json:"files"`
}

// VersionResponse represents the build information of the binary.
type VersionResponse struct {
	// Version follows semantic versioning, e.g. "1.0.0".
	Version string `json:"version"`

	// BuildTime is the RFC3339 build timestamp.
	BuildTime string `json:"build_time"`

	// GitCommit is the commit the binary was built from.
	GitCommit string `json:"git_commit"`

	GoVersion string `json:"go_version"`
}

// ErrorResponse is printed on failure when --json is set.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`

	// Code is a machine-readable error class such as "NOT_FOUND" or
	// "UNSUPPORTED_VERSION".
	Code string `json:"code,omitempty"`
}
