package local

import (
	"sort"

	"github.com/tsingmao/xwm/internal/framework"
)

// Model is a module tree produced by a layout.
type Model struct {
	class   string
	cfg     *framework.ModelConfig
	dtype   framework.Dtype
	device  string
	modules map[string]framework.Module
	buffers map[string]framework.Tensor
	params  map[string]framework.Tensor
	cache   *hybridCache
}

var _ framework.Model = (*Model)(nil)

func (m *Model) add(path string, mod framework.Module) {
	m.modules[path] = mod
}

func (m *Model) ClassName() string { return m.class }

func (m *Model) Config() *framework.ModelConfig { return m.cfg }

func (m *Model) Device() string { return m.device }

func (m *Model) Dtype() framework.Dtype { return m.dtype }

func (m *Model) Module(path string) (framework.Module, bool) {
	mod, ok := m.modules[path]
	return mod, ok
}

func (m *Model) ModulePaths() []string {
	paths := make([]string, 0, len(m.modules))
	for p := range m.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Model) Buffer(path string) (framework.Tensor, bool) {
	t, ok := m.buffers[path]
	return t, ok
}

func (m *Model) Parameter(path string) (framework.Tensor, bool) {
	t, ok := m.params[path]
	return t, ok
}

func (m *Model) Cache() (framework.Cache, bool) {
	if m.cache == nil {
		return nil, false
	}
	return m.cache, true
}
