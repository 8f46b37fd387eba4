package models

import (
	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/patch"
)

// configPatches are applied by LoadContext.LoadConfig, before the model is
// instantiated.
func (c Capabilities) configPatches(dtype framework.Dtype) []patch.Patch {
	if !c.DtypeFlags {
		return nil
	}
	return []patch.Patch{patch.SyncDtypeFlags(dtype)}
}

// postLoadPatches are applied to the loaded model and tokenizer, in this
// order: buffers, then module wrappers, then tokenizer fixes.
func (c Capabilities) postLoadPatches(devicesPerReplica int) []patch.Patch {
	var ps []patch.Patch
	if c.CausalMaskBuffer != "" {
		ps = append(ps, patch.CausalMaskToDevice(c.CausalMaskBuffer))
	}
	if c.HybridCache {
		ps = append(ps, patch.CacheToStateDevice())
	}
	for _, path := range c.CloneEmbeddings {
		ps = append(ps, patch.OutputClone(path))
	}
	for _, path := range c.InputDeviceEmbeddings {
		ps = append(ps, patch.OutputToInputDevice(path))
	}
	if c.InputDropout != "" {
		ps = append(ps, patch.DropoutOutputClone(c.InputDropout))
	}
	if c.VisualBlocks != "" {
		ps = append(ps, patch.VisualBlockResidual(c.VisualBlocks, devicesPerReplica))
	}
	if c.VisualProj != "" {
		ps = append(ps, patch.ParameterToDeviceOf(c.VisualProj, c.VisualProjAnchor, devicesPerReplica))
	}
	if c.FixedDeviceModule != "" {
		ps = append(ps, patch.FixedDevice(c.FixedDeviceModule))
	}
	for _, a := range c.InputEmbeddings {
		ps = append(ps, patch.InputEmbeddings(a.Owner, a.Module))
	}
	if len(c.Sentinels) > 0 {
		ps = append(ps, patch.DecodeSentinels(c.Sentinels...))
	}
	if c.EODToken != "" {
		ps = append(ps, patch.EOSFromEOD(c.EODToken))
	}
	return ps
}

// PatchNames lists the corrections a family declares, in application order.
func (c Capabilities) PatchNames() []string {
	var names []string
	for _, p := range c.configPatches(framework.DtypeBF16) {
		names = append(names, p.ID())
	}
	for _, p := range c.postLoadPatches(patch.MinVisualBlockDevices) {
		names = append(names, p.ID())
	}
	return names
}
