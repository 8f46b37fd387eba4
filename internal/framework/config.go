package framework

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ConfigFileName is the model configuration file inside a checkpoint.
const ConfigFileName = "config.json"

// ModelConfig is a model configuration as read from config.json.
//
// Remote-code models put arbitrary attributes into their config, so the
// values are kept as a generic map with typed accessors. Nested configs
// (vision_config, talker_config, ...) are reached with dotted keys.
type ModelConfig struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewModelConfig wraps a decoded config map. A nil map yields an empty config.
func NewModelConfig(values map[string]any) *ModelConfig {
	if values == nil {
		values = make(map[string]any)
	}
	return &ModelConfig{values: values}
}

// ReadModelConfig reads dir/config.json.
func ReadModelConfig(dir string) (*ModelConfig, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config %s: %w", path, err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse model config %s: %w", path, err)
	}
	return NewModelConfig(values), nil
}

func (c *ModelConfig) lookup(key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = c.values
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Get returns the raw value at a dotted key.
func (c *ModelConfig) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(key)
}

// Has reports whether key is present, even with a null value.
func (c *ModelConfig) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// String returns a string value.
func (c *ModelConfig) String(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns a boolean value.
func (c *ModelConfig) Bool(key string) (bool, bool) {
	v, ok := c.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns a numeric value truncated to int.
func (c *ModelConfig) Int(key string) (int, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Float returns a numeric value.
func (c *ModelConfig) Float(key string) (float64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Strings returns a list of strings.
func (c *ModelConfig) Strings(key string) []string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Set stores value at a dotted key, creating intermediate maps.
func (c *ModelConfig) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := strings.Split(key, ".")
	m := c.values
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Delete removes a top-level or dotted key.
func (c *ModelConfig) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := strings.Split(key, ".")
	m := c.values
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

// Architectures returns the "architectures" list.
func (c *ModelConfig) Architectures() []string {
	return c.Strings("architectures")
}

// TorchDtype returns the declared compute dtype, DtypeAuto when absent or null.
func (c *ModelConfig) TorchDtype() Dtype {
	s, ok := c.String("torch_dtype")
	if !ok {
		return DtypeAuto
	}
	d, err := ParseDtype(s)
	if err != nil {
		return DtypeAuto
	}
	return d
}

// Keys returns the top-level keys in sorted order.
func (c *ModelConfig) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the underlying map.
func (c *ModelConfig) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.values)
}
