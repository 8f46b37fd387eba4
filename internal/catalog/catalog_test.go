package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/models"
)

const overlayYAML = `version: "1"
installed:
  transformers: 4.46.0
families:
  - model_type: my_qwen2_vl
    loader: qwen2_vl
    template: qwen2_vl
    architectures: [Qwen2VLForConditionalGeneration]
    requires: ["transformers>=4.45"]
    tags: [vision]
    capabilities:
      clone_embeddings: [model.embed_tokens]
    groups:
      - models:
          - id: org/my-qwen2-vl
  - model_type: qwq
    loader: with_flash_attn
    template: qwq
    overwrite: true
    groups:
      - models:
          - id: org/qwq-mirror
`

func TestNew(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	assert.Len(t, r.ModelTypes(), 28)

	other, err := New()
	require.NoError(t, err)
	require.NoError(t, other.Unregister(models.ModelTypeQwen))
	_, err = r.Resolve(models.ModelTypeQwen)
	assert.NoError(t, err, "registries do not share state")
}

func TestLoadWithoutOverlay(t *testing.T) {
	cfg := config.NewConfigWithCustomDirs(t.TempDir(), t.TempDir())
	c, err := Load(cfg)
	require.NoError(t, err)
	assert.Nil(t, c.Overlay)
	assert.Nil(t, c.VersionSource())
	assert.Equal(t, filepath.Join(cfg.Storage.ConfigDir, config.RegistryConfigFileName), c.OverlayPath)

	cfg.RegistryConfig = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Load(cfg)
	assert.Error(t, err)
}

func TestLoadWithOverlay(t *testing.T) {
	cfg := config.NewConfigWithCustomDirs(t.TempDir(), t.TempDir())
	path := filepath.Join(cfg.Storage.ConfigDir, config.RegistryConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(overlayYAML), 0o644))

	c, err := Load(cfg)
	require.NoError(t, err)

	types := c.Registry.ModelTypes()
	assert.Len(t, types, 29)
	assert.Equal(t, "my_qwen2_vl", types[len(types)-1])

	meta, _, err := c.Registry.FindByModelID("org/my-qwen2-vl")
	require.NoError(t, err)
	assert.Equal(t, "qwen2_vl", meta.LoaderName)
	assert.Equal(t, []string{"model.embed_tokens"}, meta.Capabilities.CloneEmbeddings)

	qwq, err := c.Registry.Resolve(models.ModelTypeQwQ)
	require.NoError(t, err)
	assert.Equal(t, "org/qwq-mirror", qwq.Models()[0].ID)

	vs := c.VersionSource()
	require.NotNil(t, vs)
	installed, err := vs.InstalledVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.46.0", installed["transformers"])
}

func TestLoadOverlayUnknownLoader(t *testing.T) {
	cfg := config.NewConfigWithCustomDirs(t.TempDir(), t.TempDir())
	cfg.RegistryConfig = filepath.Join(t.TempDir(), "overlay.yaml")
	data := `version: "1"
families:
  - model_type: broken
    loader: nope
    template: qwen
    groups:
      - models:
          - id: org/broken
`
	require.NoError(t, os.WriteFile(cfg.RegistryConfig, []byte(data), 0o644))

	_, err := Load(cfg)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExportRoundTrip(t *testing.T) {
	c, err := Load(config.NewConfigWithCustomDirs(t.TempDir(), t.TempDir()))
	require.NoError(t, err)

	exported, err := c.Export(models.ModelTypeQwenVL, models.ModelTypeOvis2)
	require.NoError(t, err)
	require.Len(t, exported.Families, 2)

	path := filepath.Join(t.TempDir(), "nested", "registry.yaml")
	require.NoError(t, config.SaveRegistryConfig(exported, path))
	loaded, err := config.LoadRegistryConfig(path, true)
	require.NoError(t, err)

	if diff := cmp.Diff(exported, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("overlay changed on disk (-want +got):\n%s", diff)
	}

	for i := range loaded.Families {
		loaded.Families[i].ModelType += "_copy"
	}
	n, err := c.Registry.LoadFamiliesFromConfig(loaded)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	orig, err := c.Registry.Resolve(models.ModelTypeQwenVL)
	require.NoError(t, err)
	cp, err := c.Registry.Resolve(models.ModelTypeQwenVL + "_copy")
	require.NoError(t, err)
	assert.Equal(t, orig.Capabilities, cp.Capabilities)
	assert.Equal(t, orig.Models(), cp.Models())

	_, err = c.Export("does-not-exist")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
