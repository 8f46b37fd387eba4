// Package models - config_loader.go provides configuration-based family
// registration.
//
// This module bridges the registry overlay (config.RegistryConfig) with the
// model registry, converting YAML family declarations into ModelMeta values
// whose constructors are looked up by name.
package models

import (
	"fmt"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/logger"
)

// MetaFromConfig converts an overlay family into a ModelMeta.
//
// Returns:
//   - The family description
//   - ErrNotFound if the named constructor is not registered
func (r *Registry) MetaFromConfig(fc config.FamilyConfig) (*ModelMeta, error) {
	fn, ok := r.Loader(fc.Loader)
	if !ok {
		return nil, fmt.Errorf("%w: loader %q for family %s", ErrNotFound, fc.Loader, fc.ModelType)
	}

	meta := &ModelMeta{
		ModelType:            fc.ModelType,
		Template:             fc.Template,
		Loader:               fn,
		LoaderName:           fc.Loader,
		Architectures:        fc.Architectures,
		ModelArch:            fc.ModelArch,
		Requires:             fc.Requires,
		AdditionalSavedFiles: fc.AdditionalSavedFiles,
		Tags:                 fc.Tags,
		TaskType:             fc.TaskType,
		IsMultimodal:         fc.IsMultimodal,
		AttnImplKeys:         fc.AttnImplKeys,
		ModelClass:           fc.ModelClass,
		Capabilities:         capabilitiesFromConfig(fc.Capabilities),
	}
	for _, gc := range fc.Groups {
		g := ModelGroup{Tags: gc.Tags, Requires: gc.Requires}
		for _, mc := range gc.Models {
			g.Models = append(g.Models, Model{ID: mc.ID, HFID: mc.HFID, Tags: mc.Tags})
		}
		meta.Groups = append(meta.Groups, g)
	}
	return meta, nil
}

func capabilitiesFromConfig(cc config.CapabilitiesConfig) Capabilities {
	c := Capabilities{
		DtypeFlags:            cc.DtypeFlags,
		CausalMaskBuffer:      cc.CausalMaskBuffer,
		InputDropout:          cc.InputDropout,
		VisualBlocks:          cc.VisualBlocks,
		VisualProj:            cc.VisualProj,
		VisualProjAnchor:      cc.VisualProjAnchor,
		FixedDeviceModule:     cc.FixedDeviceModule,
		CloneEmbeddings:       cc.CloneEmbeddings,
		InputDeviceEmbeddings: cc.InputDeviceEmbeddings,
		Sentinels:             cc.Sentinels,
		EODToken:              cc.EODToken,
		HybridCache:           cc.HybridCache,
	}
	for _, a := range cc.InputEmbeddings {
		c.InputEmbeddings = append(c.InputEmbeddings, EmbeddingAlias{Owner: a.Owner, Module: a.Module})
	}
	return c
}

// FamilyConfig converts a registered family back into its overlay form, so
// it can be exported and edited. The constructor is referenced by LoaderName.
func FamilyConfig(meta *ModelMeta) config.FamilyConfig {
	fc := config.FamilyConfig{
		ModelType:            meta.ModelType,
		Loader:               meta.LoaderName,
		Template:             meta.Template,
		Architectures:        meta.Architectures,
		ModelArch:            meta.ModelArch,
		Requires:             meta.Requires,
		AdditionalSavedFiles: meta.AdditionalSavedFiles,
		Tags:                 meta.Tags,
		TaskType:             meta.TaskType,
		IsMultimodal:         meta.IsMultimodal,
		AttnImplKeys:         meta.AttnImplKeys,
		ModelClass:           meta.ModelClass,
	}
	for _, g := range meta.Groups {
		gc := config.GroupConfig{Tags: g.Tags, Requires: g.Requires}
		for _, m := range g.Models {
			gc.Models = append(gc.Models, config.ModelEntryConfig{ID: m.ID, HFID: m.HFID, Tags: m.Tags})
		}
		fc.Groups = append(fc.Groups, gc)
	}

	c := meta.Capabilities
	fc.Capabilities = config.CapabilitiesConfig{
		DtypeFlags:            c.DtypeFlags,
		CausalMaskBuffer:      c.CausalMaskBuffer,
		InputDropout:          c.InputDropout,
		VisualBlocks:          c.VisualBlocks,
		VisualProj:            c.VisualProj,
		VisualProjAnchor:      c.VisualProjAnchor,
		FixedDeviceModule:     c.FixedDeviceModule,
		CloneEmbeddings:       c.CloneEmbeddings,
		InputDeviceEmbeddings: c.InputDeviceEmbeddings,
		Sentinels:             c.Sentinels,
		EODToken:              c.EODToken,
		HybridCache:           c.HybridCache,
	}
	for _, a := range c.InputEmbeddings {
		fc.Capabilities.InputEmbeddings = append(fc.Capabilities.InputEmbeddings,
			config.EmbeddingAliasConfig{Owner: a.Owner, Module: a.Module})
	}
	return fc
}

// LoadFamiliesFromConfig registers the families of an overlay.
//
// Families are registered in file order. The first failure stops the load;
// families registered before it stay registered.
//
// Parameters:
//   - cfg: Parsed overlay (nil registers nothing)
//
// Returns:
//   - Number of families registered
//   - Error wrapping ErrNotFound, ErrDuplicateKey or ErrInvalidMeta
//
// Example:
//
//	overlay, err := config.LoadRegistryConfig(path, false)
//	if err != nil {
//	    return err
//	}
//	n, err := r.LoadFamiliesFromConfig(overlay)
func (r *Registry) LoadFamiliesFromConfig(cfg *config.RegistryConfig) (int, error) {
	if cfg == nil {
		return 0, nil
	}

	registered := 0
	for _, fc := range cfg.Families {
		meta, err := r.MetaFromConfig(fc)
		if err != nil {
			return registered, err
		}
		var opts []RegisterOption
		if fc.Overwrite {
			opts = append(opts, WithOverwrite())
		}
		if err := r.Register(meta, opts...); err != nil {
			return registered, fmt.Errorf("failed to register family %s from config: %w", fc.ModelType, err)
		}
		registered++
	}

	logger.Debug("Registered %d family(ies) from configuration", registered)
	return registered, nil
}
