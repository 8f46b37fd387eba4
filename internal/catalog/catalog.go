// Package catalog assembles the default model registry: the built-in
// families plus the families of the user's registry overlay.
package catalog

import (
	"fmt"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/models/qwen"
)

// New returns a registry holding the built-in catalog.
func New() (*models.Registry, error) {
	r := models.NewRegistry()
	if err := qwen.Register(r); err != nil {
		return nil, fmt.Errorf("failed to register qwen catalog: %w", err)
	}
	return r, nil
}

// Catalog is the registry used by the CLI together with the overlay it was
// extended with.
type Catalog struct {
	Registry *models.Registry

	// Overlay is nil when no overlay file exists.
	Overlay *config.RegistryConfig

	// OverlayPath is where the overlay was looked up.
	OverlayPath string
}

// Load builds the built-in catalog and applies the overlay named by cfg.
// An overlay path given explicitly must exist; the default one may not.
func Load(cfg *config.Config) (*Catalog, error) {
	r, err := New()
	if err != nil {
		return nil, err
	}

	path, explicit := cfg.RegistryConfigPath()
	overlay, err := config.LoadRegistryConfig(path, explicit)
	if err != nil {
		return nil, err
	}
	if overlay != nil {
		n, err := r.LoadFamiliesFromConfig(overlay)
		if err != nil {
			return nil, fmt.Errorf("failed to apply registry overlay %s: %w", path, err)
		}
		logger.Debug("Applied %d overlay family(ies) from %s", n, path)
	}
	return &Catalog{Registry: r, Overlay: overlay, OverlayPath: path}, nil
}

// VersionSource returns the pinned versions of the overlay, or nil when it
// pins none.
func (c *Catalog) VersionSource() models.VersionSource {
	if c.Overlay == nil || len(c.Overlay.Installed) == 0 {
		return nil
	}
	return models.StaticVersions(c.Overlay.Installed)
}

// Export converts the registered families into overlay form.
func (c *Catalog) Export(modelTypes ...string) (*config.RegistryConfig, error) {
	out := &config.RegistryConfig{Version: "1"}
	if len(modelTypes) == 0 {
		modelTypes = c.Registry.ModelTypes()
	}
	for _, mt := range modelTypes {
		meta, err := c.Registry.Resolve(mt)
		if err != nil {
			return nil, err
		}
		out.Families = append(out.Families, models.FamilyConfig(meta))
	}
	return out, nil
}
