package patch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tsingmao/xwm/internal/framework"
)

// Model wraps a loaded framework model. Module, Buffer and Cache return the
// patched versions once a patch has installed an override.
type Model struct {
	inner framework.Model

	mu              sync.RWMutex
	modules         map[string]framework.Module
	buffers         map[string]framework.Tensor
	params          map[string]framework.Tensor
	cache           framework.Cache
	inputEmbeddings map[string]string
	marks           map[string]bool
}

var _ framework.Model = (*Model)(nil)

// WrapModel returns the adapter for m. Wrapping an adapter returns it as is,
// so markers survive repeated loads through the same handle.
func WrapModel(m framework.Model) *Model {
	if pm, ok := m.(*Model); ok {
		return pm
	}
	return &Model{
		inner:           m,
		modules:         make(map[string]framework.Module),
		buffers:         make(map[string]framework.Tensor),
		params:          make(map[string]framework.Tensor),
		inputEmbeddings: make(map[string]string),
		marks:           make(map[string]bool),
	}
}

// Unwrap returns the framework's own model.
func (m *Model) Unwrap() framework.Model { return m.inner }

func (m *Model) ClassName() string              { return m.inner.ClassName() }
func (m *Model) Config() *framework.ModelConfig { return m.inner.Config() }
func (m *Model) Device() string                 { return m.inner.Device() }
func (m *Model) Dtype() framework.Dtype         { return m.inner.Dtype() }
func (m *Model) ModulePaths() []string          { return m.inner.ModulePaths() }

// DeviceType is the device kind of the first parameter ("cuda", "npu", "cpu").
func (m *Model) DeviceType() string {
	dev := m.Device()
	if i := strings.IndexByte(dev, ':'); i >= 0 {
		return dev[:i]
	}
	return dev
}

func (m *Model) Module(path string) (framework.Module, bool) {
	m.mu.RLock()
	mod, ok := m.modules[path]
	m.mu.RUnlock()
	if ok {
		return mod, true
	}
	return m.inner.Module(path)
}

func (m *Model) Buffer(path string) (framework.Tensor, bool) {
	m.mu.RLock()
	t, ok := m.buffers[path]
	m.mu.RUnlock()
	if ok {
		return t, true
	}
	return m.inner.Buffer(path)
}

func (m *Model) Parameter(path string) (framework.Tensor, bool) {
	m.mu.RLock()
	t, ok := m.params[path]
	m.mu.RUnlock()
	if ok {
		return t, true
	}
	return m.inner.Parameter(path)
}

func (m *Model) Cache() (framework.Cache, bool) {
	m.mu.RLock()
	c := m.cache
	m.mu.RUnlock()
	if c != nil {
		return c, true
	}
	return m.inner.Cache()
}

// InputEmbeddings returns the module registered as the input embeddings of
// owner, e.g. the patch embedding of a vision tower.
func (m *Model) InputEmbeddings(owner string) (framework.Module, bool) {
	m.mu.RLock()
	path, ok := m.inputEmbeddings[owner]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.Module(path)
}

// resolve returns the first alternative of path naming a module.
func (m *Model) resolve(path string) (string, framework.Module, bool) {
	for _, p := range SplitAlternatives(path) {
		if mod, ok := m.Module(p); ok {
			return p, mod, true
		}
	}
	return "", nil, false
}

// wrapModule replaces the module at path with wrap(current). When path lists
// alternatives, the first one present is wrapped.
func (m *Model) wrapModule(path string, wrap func(framework.Module) (framework.Module, error)) error {
	resolved, cur, ok := m.resolve(path)
	if !ok {
		return fmt.Errorf("module %s not found in %s", path, m.ClassName())
	}
	next, err := wrap(cur)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.modules[resolved] = next
	m.mu.Unlock()
	return nil
}

func (m *Model) setBuffer(path string, t framework.Tensor) {
	m.mu.Lock()
	m.buffers[path] = t
	m.mu.Unlock()
}

func (m *Model) setParameter(path string, t framework.Tensor) {
	m.mu.Lock()
	m.params[path] = t
	m.mu.Unlock()
}

func (m *Model) setCache(c framework.Cache) {
	m.mu.Lock()
	m.cache = c
	m.mu.Unlock()
}

func (m *Model) setInputEmbeddings(owner, path string) {
	m.mu.Lock()
	m.inputEmbeddings[owner] = path
	m.mu.Unlock()
}

func (m *Model) marked(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks[id]
}

func (m *Model) mark(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[id] = true
}

// Patched reports whether the patch with the given id has been applied.
func (m *Model) Patched(id string) bool { return m.marked(id) }
