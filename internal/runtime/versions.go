// Package runtime queries the Python environment models are loaded in.
//
// Family requirements ("transformers>=4.45") are checked against the
// packages pip reports, either on the host (PipVersions) or inside a
// runtime docker image (ImageVersions). Both implement
// models.VersionSource and cache the first successful query.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
)

// pipListArgs are the interpreter arguments that print installed packages.
var pipListArgs = []string{"-m", "pip", "list", "--format=json", "--disable-pip-version-check"}

// ParsePipList parses the output of `pip list --format=json` into a
// name -> version map. Names are normalized.
func ParsePipList(data []byte) (map[string]string, error) {
	var pkgs []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("failed to parse pip list output: %w", err)
	}
	versions := make(map[string]string, len(pkgs))
	for _, p := range pkgs {
		versions[models.NormalizeName(p.Name)] = p.Version
	}
	return versions, nil
}

// versionCache remembers the first successful query.
type versionCache struct {
	mu       sync.Mutex
	versions map[string]string
}

func (c *versionCache) get(ctx context.Context, query func(context.Context) ([]byte, error)) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions != nil {
		return c.versions, nil
	}
	out, err := query(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := ParsePipList(out)
	if err != nil {
		return nil, err
	}
	c.versions = versions
	return versions, nil
}

// PipVersions reports the packages of a host interpreter.
type PipVersions struct {
	// Python is the interpreter to run, "python3" when empty.
	Python string

	run   func(ctx context.Context, name string, args ...string) ([]byte, error)
	cache versionCache
}

// NewPipVersions creates a host version source for the given interpreter.
func NewPipVersions(python string) *PipVersions {
	return &PipVersions{Python: python}
}

// InstalledVersions implements models.VersionSource.
func (p *PipVersions) InstalledVersions(ctx context.Context) (map[string]string, error) {
	return p.cache.get(ctx, func(ctx context.Context) ([]byte, error) {
		python := p.Python
		if python == "" {
			python = "python3"
		}
		run := p.run
		if run == nil {
			run = execOutput
		}
		logger.Debug("Probing installed packages with %s", python)
		out, err := run(ctx, python, pipListArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to list packages with %s: %w", python, err)
		}
		return out, nil
	})
}

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
		return nil, fmt.Errorf("%w: %s", err, ee.Stderr)
	}
	return out, err
}

// NewVersionSource returns the version source selected by cfg: the docker image
// when one is configured, the host interpreter otherwise.
func NewVersionSource(cfg config.RuntimeConfig) (models.VersionSource, error) {
	if cfg.Image != "" {
		return NewImageVersions(cfg.Image, cfg.Python)
	}
	return NewPipVersions(cfg.Python), nil
}
