package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv clears key for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	unsetenv(t, "XWM_MODELS", "XWM_HUB_SOURCE", "XWM_HUB_ENDPOINT", "XWM_HUB_TOKEN",
		"XWM_PYTHON", "XWM_RUNTIME_IMAGE", "XWM_REGISTRY_CONFIG", "XWM_DEBUG")
	t.Setenv(EnvHome, home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Storage.ConfigDir)
	assert.Equal(t, filepath.Join(home, DefaultModelsDir), cfg.Storage.ModelsDir)
	assert.Equal(t, HubModelScope, cfg.Hub.Source)
	assert.Equal(t, "python3", cfg.Runtime.Python)
	assert.Empty(t, cfg.Runtime.Image)
	assert.False(t, cfg.Debug)

	path, explicit := cfg.RegistryConfigPath()
	assert.Equal(t, filepath.Join(home, RegistryConfigFileName), path)
	assert.False(t, explicit)
}

func TestLoadDotEnv(t *testing.T) {
	home := isolate(t)
	t.Setenv("XWM_PYTHON", "/opt/venv/bin/python")
	require.NoError(t, os.WriteFile(filepath.Join(home, DotEnvFileName), []byte(
		"XWM_HUB_SOURCE=huggingface\n"+
			"XWM_RUNTIME_IMAGE=vllm/vllm-openai:v0.8.5\n"+
			"XWM_PYTHON=python3.9\n"+
			"XWM_REGISTRY_CONFIG=/etc/xwm/registry.yaml\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, HubHuggingFace, cfg.Hub.Source)
	assert.Equal(t, "vllm/vllm-openai:v0.8.5", cfg.Runtime.Image)
	assert.Equal(t, "/opt/venv/bin/python", cfg.Runtime.Python)

	path, explicit := cfg.RegistryConfigPath()
	assert.Equal(t, "/etc/xwm/registry.yaml", path)
	assert.True(t, explicit)
}

func TestLoadInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("XWM_HUB_SOURCE", "github")

	_, err := Load()
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := NewConfigWithCustomDirs(filepath.Join(root, "cfg"), "")
	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(root, "cfg", DefaultModelsDir))
}

const overlay = `version: "1"
installed:
  transformers: 4.51.3
families:
  - model_type: my_qwen2
    loader: with_flash_attn
    template: qwen
    requires: ["transformers>=4.37"]
    capabilities:
      dtype_flags: true
      input_embeddings:
        - owner: visual
          module: patch_embed
    groups:
      - tags: [math]
        models:
          - id: org/my-qwen2-7b
            hf_id: org-hf/my-qwen2-7b
`

func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), RegistryConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistryConfig(t *testing.T) {
	cfg, err := LoadRegistryConfig(writeOverlay(t, overlay), true)
	require.NoError(t, err)

	assert.Equal(t, "4.51.3", cfg.Installed["transformers"])
	require.Len(t, cfg.Families, 1)
	f := cfg.Families[0]
	assert.Equal(t, "my_qwen2", f.ModelType)
	assert.Equal(t, "with_flash_attn", f.Loader)
	assert.True(t, f.Capabilities.DtypeFlags)
	assert.Equal(t, []EmbeddingAliasConfig{{Owner: "visual", Module: "patch_embed"}}, f.Capabilities.InputEmbeddings)
	assert.Equal(t, []ModelEntryConfig{{ID: "org/my-qwen2-7b", HFID: "org-hf/my-qwen2-7b"}}, f.Groups[0].Models)
}

func TestLoadRegistryConfigErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadRegistryConfig(missing, false)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = LoadRegistryConfig(missing, true)
	assert.ErrorContains(t, err, "not found")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "version: [", "failed to parse"},
		{"no version", "families: []", "Version"},
		{"no groups", "version: \"1\"\nfamilies:\n  - model_type: a\n    loader: qwen\n    template: qwen\n", "Groups"},
		{"duplicate", `version: "1"
families:
  - model_type: a
    loader: qwen
    template: qwen
    groups: [{models: [{id: org/a}]}]
  - model_type: a
    loader: qwen
    template: qwen
    groups: [{models: [{id: org/b}]}]
`, "duplicate model_type: a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistryConfig(writeOverlay(t, tt.content), true)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSaveRegistryConfig(t *testing.T) {
	cfg, err := LoadRegistryConfig(writeOverlay(t, overlay), true)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	require.NoError(t, SaveRegistryConfig(cfg, path))
	again, err := LoadRegistryConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	assert.Error(t, SaveRegistryConfig(&RegistryConfig{}, path))
}

func TestLoadVisionSettings(t *testing.T) {
	s, err := LoadVisionSettings(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 28, s.ImageFactor)
	assert.Equal(t, 3136, s.MinPixels)
	assert.Equal(t, 12845056, s.MaxPixels)
	assert.Equal(t, 90316800, s.VideoTotalPixels)
	assert.Equal(t, 2.0, s.FPS)
	assert.Equal(t, 768, s.FPSMaxFrames)
	assert.True(t, s.EnableAudioOutput)

	s, err = LoadVisionSettings(map[string]string{"VIDEO_MAX_PIXELS": "401408", "ENABLE_AUDIO_OUTPUT": "false"})
	require.NoError(t, err)
	assert.Equal(t, 401408, s.VideoMaxPixels)
	assert.Equal(t, defaultVideoTotalPixels, s.VideoTotalPixels)
	assert.False(t, s.EnableAudioOutput)

	s, err = LoadVisionSettings(map[string]string{"VIDEO_MAX_PIXELS": "401408", "VIDEO_TOTAL_PIXELS": "1000000"})
	require.NoError(t, err)
	assert.Equal(t, 1000000, s.VideoTotalPixels)

	_, err = LoadVisionSettings(map[string]string{"MIN_PIXELS": "20000000"})
	assert.ErrorContains(t, err, "MIN_PIXELS exceeds MAX_PIXELS")

	_, err = LoadVisionSettings(map[string]string{"FPS": "fast"})
	assert.ErrorContains(t, err, "failed to parse vision settings")
}
