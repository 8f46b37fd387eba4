package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xwm/internal/api"
	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/framework/local/localtest"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

// setupHome points XWM_HOME at a fresh directory and optionally writes an
// overlay into it.
func setupHome(t *testing.T, overlay string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	t.Setenv("XWM_REGISTRY_CONFIG", "")
	t.Setenv("CUDA_VISIBLE_DEVICES", "0,1")
	t.Setenv("LOCAL_WORLD_SIZE", "1")
	t.Setenv("XWM_PYTHON", filepath.Join(home, "no-python"))
	t.Setenv("XWM_RUNTIME_IMAGE", "")
	if overlay != "" {
		require.NoError(t, os.WriteFile(filepath.Join(home, config.RegistryConfigFileName), []byte(overlay), 0o644))
	}
	logger.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })
	return home
}

// run executes xwm with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, _ := NewXWMCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	setupHome(t, "")

	out, err := run(t, "ls", "--json")
	require.NoError(t, err)
	var resp api.ListFamiliesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 28, resp.Total)
	assert.Equal(t, models.ModelTypeQwen, resp.Families[0].ModelType)

	out, err = run(t, "ls", "-t", models.TagAudio)
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL TYPE")
	assert.Contains(t, out, "qwen_audio")
	assert.Contains(t, out, "qwen2_5_omni")
	assert.NotContains(t, out, "qwen2_vl")
	assert.NotContains(t, out, "ovis")

	out, err = run(t, "ls", "-t", "no-such-tag")
	require.NoError(t, err)
	assert.Contains(t, out, `No families tagged "no-such-tag"`)
}

func TestShowCommand(t *testing.T) {
	setupHome(t, "")

	out, err := run(t, "show", models.ModelTypeQwenVL)
	require.NoError(t, err)
	assert.Contains(t, out, "Family qwen_vl")
	assert.Contains(t, out, "SimSun.ttf")
	assert.Contains(t, out, "Qwen/Qwen-VL-Chat")
	assert.Contains(t, out, "transformer.registered_causal_mask")
	assert.Contains(t, out, "transformer.visual.proj moved to the device of transformer.visual.ln_post.weight")

	out, err = run(t, "show", models.ModelTypeQwen2VL)
	require.NoError(t, err)
	assert.Contains(t, out, "embedding model.embed_tokens or model.language_model.embed_tokens output cloned")

	out, err = run(t, "show", "qwen/qwen-vl-chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Family qwen_vl")

	_, err = run(t, "show", "no_such_family")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestShowExport(t *testing.T) {
	home := setupHome(t, "")
	path := filepath.Join(home, "export", "registry.yaml")

	_, err := run(t, "show", models.ModelTypeQwen2VL, "--export", path)
	require.NoError(t, err)

	overlay, err := config.LoadRegistryConfig(path, true)
	require.NoError(t, err)
	require.Len(t, overlay.Families, 1)
	assert.Equal(t, models.ModelTypeQwen2VL, overlay.Families[0].ModelType)
	assert.Equal(t, "qwen2_vl", overlay.Families[0].Loader)
	assert.Equal(t, []string{"model.embed_tokens|model.language_model.embed_tokens"},
		overlay.Families[0].Capabilities.CloneEmbeddings)
}

func TestLoadCommand(t *testing.T) {
	setupHome(t, "")
	dir := localtest.Write(t, localtest.Checkpoint{Config: map[string]any{
		"architectures":    []string{"QWenLMHeadModel"},
		"torch_dtype":      "bfloat16",
		"hidden_size":      8,
		"emb_dropout_prob": 0.0,
		"visual":           map[string]any{"layers": 4},
	}})
	metricsFile := filepath.Join(t.TempDir(), "xwm.prom")

	out, err := run(t, "load", models.ModelTypeQwenVL, dir, "--devices", "4", "--json", "--metrics-file", metricsFile)
	require.NoError(t, err)

	var resp api.LoadResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "QWenLMHeadModel", resp.ModelClass)
	assert.Equal(t, 4, resp.DevicesPerReplica)
	assert.Equal(t, string(framework.DtypeBF16), resp.Dtype)
	require.NotNil(t, resp.EOSTokenID)
	assert.Equal(t, localtest.EndOfTextID, *resp.EOSTokenID)
	require.Len(t, resp.Patches, 8)
	for _, p := range resp.Patches {
		assert.Equal(t, string(patch.OutcomeApplied), p.Outcome, p.Patch)
	}

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `xwm_loads_total{model_type="qwen_vl",result="success"} 1`)
	assert.Contains(t, string(prom), `xwm_patches_total{outcome="applied",patch="parameter_to_device"} 1`)
}

func TestLoadCommandNoModel(t *testing.T) {
	setupHome(t, "")
	dir := localtest.Write(t, localtest.Checkpoint{Config: map[string]any{"architectures": []string{"QWenLMHeadModel"}}})

	out, err := run(t, "load", models.ModelTypeQwen, dir, "--no-model", "--dtype", "fp16")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded qwen from "+dir)
	assert.Contains(t, out, "Model:    skipped")
	assert.Contains(t, out, "Dtype:    fp16")
}

func TestLoadCommandBadFlags(t *testing.T) {
	setupHome(t, "")
	dir := t.TempDir()

	_, err := run(t, "load", models.ModelTypeQwen, dir, "--dtype", "int3")
	assert.ErrorContains(t, err, `unknown dtype "int3"`)

	_, err = run(t, "load", models.ModelTypeQwen, dir, "--quant", "fp8")
	assert.ErrorContains(t, err, "invalid load options")
	assert.ErrorContains(t, err, "Method")

	_, err = run(t, "load", models.ModelTypeQwen, dir, "--attn-impl", "xformers")
	assert.ErrorContains(t, err, "unknown attention implementation")
}

const pinnedOverlay = `version: "1"
installed:
  transformers: 4.44.2
  qwen_vl_utils: 0.0.8
  decord: 0.6.0
`

func TestCheckCommand(t *testing.T) {
	setupHome(t, pinnedOverlay)

	out, err := run(t, "check", models.ModelTypeQwen2VL, "--json")
	require.ErrorIs(t, err, models.ErrUnsupportedVersion)

	var resp api.CheckResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "overlay", resp.Source)
	assert.False(t, resp.OK)
	assert.Equal(t, []models.Violation{{Requirement: "transformers>=4.45", Installed: "4.44.2"}}, resp.Violations)

	out, err = run(t, "check", models.ModelTypeQwenVL)
	require.NoError(t, err)
	assert.Contains(t, out, "qwen_vl has no library requirements")
}

func TestCheckCommandTable(t *testing.T) {
	setupHome(t, `version: "1"
installed:
  transformers: 4.46.1
  qwen-vl-utils: 0.0.8
  decord: 0.6.0
`)

	out, err := run(t, "check", "Qwen/Qwen2-VL-7B-Instruct")
	require.NoError(t, err)
	assert.Contains(t, out, "versions from overlay")
	assert.Contains(t, out, "4.46.1")
	assert.NotContains(t, out, "FAIL")
}

func TestEnvCommand(t *testing.T) {
	home := setupHome(t, "")
	t.Setenv("MAX_PIXELS", "1003520")

	out, err := run(t, "env", "--json")
	require.NoError(t, err)

	var info struct {
		Config struct {
			Storage config.StorageConfig `json:"storage"`
		} `json:"config"`
		RegistryOverlay       string                `json:"registry_overlay"`
		RegistryOverlayLoaded bool                  `json:"registry_overlay_loaded"`
		AcceleratorKind       string                `json:"accelerator_kind"`
		Accelerators          int                   `json:"accelerators"`
		Vision                config.VisionSettings `json:"vision"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, home, info.Config.Storage.ConfigDir)
	assert.Equal(t, filepath.Join(home, config.RegistryConfigFileName), info.RegistryOverlay)
	assert.False(t, info.RegistryOverlayLoaded)
	assert.Equal(t, "cuda", info.AcceleratorKind)
	assert.Equal(t, 2, info.Accelerators)
	assert.Equal(t, 1003520, info.Vision.MaxPixels)
}

func TestVersionCommand(t *testing.T) {
	setupHome(t, "")

	out, err := run(t, "version", "--json")
	require.NoError(t, err)
	var resp api.VersionResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", models.ErrNotFound), "NOT_FOUND"},
		{fmt.Errorf("x: %w", models.ErrUnsupportedVersion), "UNSUPPORTED_VERSION"},
		{&models.LoadError{ModelType: "qwen", Err: errors.New("boom")}, "LOAD_FAILED"},
		{&patch.Error{Patch: "fixed_device:transformer.visual", Critical: true, Err: errors.New("boom")}, "PATCH_FAILED"},
		{errors.New("other"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}

func TestParseFlags(t *testing.T) {
	for in, want := range map[string]string{"ms": "modelscope", "HF": "huggingface", "modelscope": "modelscope"} {
		got, err := parseSource(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parseSource("github")
	assert.Error(t, err)

	impl, err := parseAttnImpl("flash_attention_2")
	require.NoError(t, err)
	assert.Equal(t, framework.AttnImplFlashAttn, impl)

	opts := &LoadOptions{Quant: "BNB", QuantBits: 8, Devices: 2}
	lo, err := opts.buildLoadOptions("Qwen/Qwen-VL-Chat")
	require.NoError(t, err)
	assert.Equal(t, framework.QuantBNB, lo.Quantization.Method)
	assert.Equal(t, "Qwen/Qwen-VL-Chat", lo.ModelID)
	assert.Equal(t, 2, lo.DevicesPerReplica)
}
