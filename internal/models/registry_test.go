package models

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tsingmao/xwm/internal/config"
)

func alphaMeta() *ModelMeta {
	return &ModelMeta{
		ModelType: "alpha",
		Groups: []ModelGroup{{
			Models: []Model{{ID: "org/alpha-7b", HFID: "Org/Alpha-7B"}},
			Tags:   []string{"T1"},
		}},
		Template:   "T1",
		Loader:     LoadWithFlashAttn,
		LoaderName: LoaderWithFlashAttn,
	}
}

func family(modelType string, tags []string, ids ...string) *ModelMeta {
	g := ModelGroup{Tags: tags}
	for _, id := range ids {
		g.Models = append(g.Models, Model{ID: id})
	}
	return &ModelMeta{
		ModelType: modelType,
		Groups:    []ModelGroup{g},
		Template:  modelType,
		Loader:    LoadWithFlashAttn,
	}
}

func collect(r *Registry, tag string) []string {
	var ids []string
	for m := range r.AllTagged(tag) {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(alphaMeta()))

	meta, err := r.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, "T1", meta.Template)
	require.Len(t, meta.Models(), 1)
	assert.Equal(t, "org/alpha-7b", meta.Models()[0].ID)

	assert.Equal(t, []string{"org/alpha-7b"}, collect(r, "T1"))
}

func TestResolveNotFound(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(alphaMeta()))
	before := r.ModelTypes()

	meta, err := r.Resolve("does-not-exist")
	assert.Nil(t, meta)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, r.ModelTypes())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(family("a", nil, "org/a")))
	require.NoError(t, r.Register(family("b", nil, "org/b")))

	err := r.Register(family("a", nil, "org/a2"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	meta, err := r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "org/a", meta.Models()[0].ID)

	require.NoError(t, r.Register(family("a", nil, "org/a2"), WithOverwrite()))
	meta, err = r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "org/a2", meta.Models()[0].ID)
	assert.Equal(t, []string{"a", "b"}, r.ModelTypes(), "overwrite keeps position")
}

func TestRegisterInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *ModelMeta)
	}{
		{"no model type", func(m *ModelMeta) { m.ModelType = "" }},
		{"no template", func(m *ModelMeta) { m.Template = "" }},
		{"no loader", func(m *ModelMeta) { m.Loader = nil }},
		{"no groups", func(m *ModelMeta) { m.Groups = nil }},
		{"empty group", func(m *ModelMeta) { m.Groups = []ModelGroup{{}} }},
		{"empty id", func(m *ModelMeta) { m.Groups[0].Models[0].ID = "" }},
		{"bad requirement", func(m *ModelMeta) { m.Requires = []string{"transformers>=>4"} }},
		{"bad group requirement", func(m *ModelMeta) { m.Groups[0].Requires = []string{"moviepy<two"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			m := alphaMeta()
			tt.mutate(m)
			err := r.Register(m)
			assert.ErrorIs(t, err, ErrInvalidMeta)
			assert.Empty(t, r.ModelTypes())
		})
	}

	assert.ErrorIs(t, NewRegistry().Register(nil), ErrInvalidMeta)
}

func TestRegisterStoresCopy(t *testing.T) {
	r := NewRegistry()
	m := alphaMeta()
	require.NoError(t, r.Register(m))

	m.Groups[0].Tags[0] = "changed"
	m.Groups[0].Models[0].ID = "changed"

	assert.Equal(t, []string{"org/alpha-7b"}, collect(r, "T1"))
	assert.Empty(t, collect(r, "changed"))
}

func TestAllTagged(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(family("a", []string{"vision"}, "org/a1", "org/a2")))
	require.NoError(t, r.Register(family("b", []string{"audio"}, "org/b1")))
	c := family("c", nil, "org/c1")
	c.Groups = append(c.Groups, ModelGroup{Models: []Model{{ID: "org/c2", Tags: []string{"vision"}}}})
	require.NoError(t, r.Register(c))

	want := []string{"org/a1", "org/a2", "org/c2"}
	assert.Equal(t, want, collect(r, "vision"))
	assert.Equal(t, want, collect(r, "vision"), "second pass yields the same sequence")

	var first []string
	for m := range r.AllTagged("vision") {
		first = append(first, m.ID)
		break
	}
	assert.Equal(t, []string{"org/a1"}, first)
	assert.Empty(t, collect(r, "missing"))
}

func TestConcurrentReads(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(alphaMeta()))

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			return r.Register(family(fmt.Sprintf("f%d", i), []string{"T1"}, fmt.Sprintf("org/f%d", i)))
		})
		g.Go(func() error {
			for range 50 {
				if _, err := r.Resolve("alpha"); err != nil {
					return err
				}
				if ids := collect(r, "T1"); len(ids) == 0 || ids[0] != "org/alpha-7b" {
					return fmt.Errorf("unexpected tagged sequence %v", ids)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, r.ModelTypes(), 9)
	assert.Len(t, collect(r, "T1"), 9)
}

func TestFamilyTagsMerge(t *testing.T) {
	m := family("a", []string{"group"}, "org/a")
	m.Tags = []string{"family", "group"}
	m.Groups[0].Models[0].Tags = []string{"entry"}

	assert.Equal(t, []string{"entry", "group", "family"}, m.Models()[0].Tags)
	assert.True(t, m.HasTag("family"))
	assert.False(t, m.HasTag("other"))
}

func TestRegisterMergesTagsOnce(t *testing.T) {
	r := NewRegistry()
	m := family("a", []string{"group"}, "org/a")
	m.Tags = []string{"family"}
	require.NoError(t, r.Register(m))

	meta, err := r.Resolve("a")
	require.NoError(t, err)
	require.Equal(t, []Model{{ID: "org/a", Tags: []string{"group", "family"}}}, meta.effective)

	got := meta.Models()
	got[0].Tags[0] = "changed"
	for m := range r.AllTagged("group") {
		m.Tags[0] = "changed"
	}
	assert.Equal(t, []string{"group", "family"}, meta.effective[0].Tags)
	assert.Equal(t, []string{"org/a"}, collect(r, "group"))
}

func TestFindByModelID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(alphaMeta()))
	require.NoError(t, r.Register(family("beta", nil, "org/alpha-7b")))

	for _, id := range []string{"org/alpha-7b", "ORG/ALPHA-7B", "Org/Alpha-7B"} {
		meta, m, err := r.FindByModelID(id)
		require.NoError(t, err, id)
		assert.Equal(t, "alpha", meta.ModelType, "first registered family wins")
		assert.Equal(t, []string{"T1"}, m.Tags)
	}

	_, _, err := r.FindByModelID("org/unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequiresFor(t *testing.T) {
	m := family("a", nil, "org/a")
	m.Requires = []string{"transformers>=4.42"}
	m.Groups = append(m.Groups, ModelGroup{
		Models:   []Model{{ID: "org/a-video"}},
		Requires: []string{"moviepy<2"},
	})

	assert.Equal(t, []string{"transformers>=4.42"}, m.RequiresFor(""))
	assert.Equal(t, []string{"transformers>=4.42"}, m.RequiresFor("org/a"))
	assert.Equal(t, []string{"transformers>=4.42", "moviepy<2"}, m.RequiresFor("org/a-video"))
	assert.Equal(t, []string{"transformers>=4.42"}, m.RequiresFor("org/other"))
}

func TestMatchArchitecture(t *testing.T) {
	r := NewRegistry()
	a := family("a", nil, "org/a")
	a.Architectures = []string{"Qwen2ForCausalLM"}
	b := family("b", nil, "org/b")
	b.Architectures = []string{"Qwen2ForCausalLM", "Qwen2Model"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	var types []string
	for _, m := range r.MatchArchitecture("Qwen2ForCausalLM") {
		types = append(types, m.ModelType)
	}
	assert.Equal(t, []string{"a", "b"}, types)
	assert.Empty(t, r.MatchArchitecture("LlamaForCausalLM"))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(family("a", nil, "org/a")))
	require.NoError(t, r.Unregister("a"))
	assert.Empty(t, r.ModelTypes())
	assert.ErrorIs(t, r.Unregister("a"), ErrNotFound)
}

func TestRegisterLoader(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{LoaderMultimodal, LoaderRewardModel, LoaderWithFlashAttn}, r.LoaderNames())

	require.NoError(t, r.RegisterLoader("custom", LoadWithFlashAttn))
	_, ok := r.Loader("custom")
	assert.True(t, ok)

	assert.ErrorIs(t, r.RegisterLoader("custom", LoadWithFlashAttn), ErrDuplicateKey)
	assert.ErrorIs(t, r.RegisterLoader("", LoadWithFlashAttn), ErrInvalidMeta)
}

func TestLoadFamiliesFromConfig(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(alphaMeta()))

	overlay := &config.RegistryConfig{
		Version: "1",
		Families: []config.FamilyConfig{
			{
				ModelType: "gamma",
				Loader:    LoaderMultimodal,
				Template:  "qwen2_vl",
				Tags:      []string{TagVision},
				Groups:    []config.GroupConfig{{Models: []config.ModelEntryConfig{{ID: "org/gamma"}}}},
				Capabilities: config.CapabilitiesConfig{
					CloneEmbeddings: []string{"model.embed_tokens"},
					InputEmbeddings: []config.EmbeddingAliasConfig{{Owner: "visual", Module: "patch_embed"}},
				},
			},
			{
				ModelType: "alpha",
				Loader:    LoaderWithFlashAttn,
				Template:  "alpha2",
				Overwrite: true,
				Groups:    []config.GroupConfig{{Models: []config.ModelEntryConfig{{ID: "org/alpha-8b"}}}},
			},
		},
	}
	n, err := r.LoadFamiliesFromConfig(overlay)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"alpha", "gamma"}, r.ModelTypes())

	gamma, err := r.Resolve("gamma")
	require.NoError(t, err)
	assert.Equal(t, LoaderMultimodal, gamma.LoaderName)
	assert.Equal(t, []EmbeddingAlias{{Owner: "visual", Module: "patch_embed"}}, gamma.Capabilities.InputEmbeddings)
	assert.Equal(t, []string{"org/gamma"}, collect(r, TagVision))

	alpha, err := r.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha2", alpha.Template)

	n, err = r.LoadFamiliesFromConfig(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadFamiliesFromConfigErrors(t *testing.T) {
	entry := []config.GroupConfig{{Models: []config.ModelEntryConfig{{ID: "org/x"}}}}
	tests := []struct {
		name string
		fc   config.FamilyConfig
		want error
	}{
		{"unknown loader", config.FamilyConfig{ModelType: "x", Loader: "nope", Template: "x", Groups: entry}, ErrNotFound},
		{"duplicate", config.FamilyConfig{ModelType: "alpha", Loader: LoaderWithFlashAttn, Template: "x", Groups: entry}, ErrDuplicateKey},
		{"invalid", config.FamilyConfig{ModelType: "x", Loader: LoaderWithFlashAttn, Groups: entry}, ErrInvalidMeta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.Register(alphaMeta()))
			n, err := r.LoadFamiliesFromConfig(&config.RegistryConfig{Version: "1", Families: []config.FamilyConfig{tt.fc}})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Zero(t, n)
			assert.Equal(t, []string{"alpha"}, r.ModelTypes())
		})
	}
}

func TestFamilyConfigRoundTrip(t *testing.T) {
	r := NewRegistry()
	meta := alphaMeta()
	meta.Requires = []string{"transformers>=4.45"}
	meta.Capabilities = Capabilities{
		DtypeFlags:      true,
		Sentinels:       []int{151645},
		InputEmbeddings: []EmbeddingAlias{{Owner: "thinker.visual", Module: "patch_embed"}},
	}

	back, err := r.MetaFromConfig(FamilyConfig(meta))
	require.NoError(t, err)
	if diff := cmp.Diff(meta, back, cmpopts.IgnoreFields(ModelMeta{}, "Loader"),
		cmpopts.IgnoreUnexported(ModelMeta{}), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, slices.Contains(r.LoaderNames(), back.LoaderName))
}
