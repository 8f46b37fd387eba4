// Package config - registry_config.go implements the registry overlay file.
//
// The overlay declares extra model families in YAML, so a checkpoint family
// whose loading follows an existing constructor can be added without code
// changes. It can also pin installed library versions for environments where
// querying is not possible.
//
// Example:
//
//	version: "1"
//	installed:
//	  transformers: 4.51.3
//	families:
//	  - model_type: my_qwen2
//	    loader: with_flash_attn
//	    template: qwen
//	    requires: ["transformers>=4.37"]
//	    groups:
//	      - models:
//	          - id: org/my-qwen2-7b
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tsingmao/xwm/internal/logger"
)

// RegistryConfig is the root of the overlay file.
type RegistryConfig struct {
	// Version specifies the configuration schema version.
	Version string `yaml:"version" validate:"required"`

	// Installed pins library versions ("transformers": "4.51.3").
	// When present, requirement checks use it instead of querying.
	Installed map[string]string `yaml:"installed,omitempty"`

	// Families are registered in file order.
	Families []FamilyConfig `yaml:"families,omitempty" validate:"dive"`
}

// FamilyConfig declares one model family.
type FamilyConfig struct {
	ModelType string `yaml:"model_type" validate:"required"`

	// Loader names a registered constructor such as "with_flash_attn".
	Loader string `yaml:"loader" validate:"required"`

	Template string        `yaml:"template" validate:"required"`
	Groups   []GroupConfig `yaml:"groups" validate:"required,min=1,dive"`

	Architectures        []string `yaml:"architectures,omitempty"`
	ModelArch            string   `yaml:"model_arch,omitempty"`
	Requires             []string `yaml:"requires,omitempty"`
	AdditionalSavedFiles []string `yaml:"additional_saved_files,omitempty"`
	Tags                 []string `yaml:"tags,omitempty"`
	TaskType             string   `yaml:"task_type,omitempty"`
	IsMultimodal         bool     `yaml:"is_multimodal,omitempty"`
	AttnImplKeys         []string `yaml:"attn_impl_keys,omitempty"`
	ModelClass           string   `yaml:"model_class,omitempty"`

	Capabilities CapabilitiesConfig `yaml:"capabilities,omitempty"`

	// Overwrite replaces a family already registered under ModelType.
	Overwrite bool `yaml:"overwrite,omitempty"`
}

// GroupConfig declares a group of checkpoints.
type GroupConfig struct {
	Models   []ModelEntryConfig `yaml:"models" validate:"required,min=1,dive"`
	Tags     []string           `yaml:"tags,omitempty"`
	Requires []string           `yaml:"requires,omitempty"`
}

// ModelEntryConfig declares one checkpoint.
type ModelEntryConfig struct {
	ID   string   `yaml:"id" validate:"required"`
	HFID string   `yaml:"hf_id,omitempty"`
	Tags []string `yaml:"tags,omitempty"`
}

// EmbeddingAliasConfig names a sub-model's input embedding module.
type EmbeddingAliasConfig struct {
	Owner  string `yaml:"owner" validate:"required"`
	Module string `yaml:"module" validate:"required"`
}

// CapabilitiesConfig declares the runtime corrections of a family.
type CapabilitiesConfig struct {
	DtypeFlags            bool                   `yaml:"dtype_flags,omitempty"`
	CausalMaskBuffer      string                 `yaml:"causal_mask_buffer,omitempty"`
	InputDropout          string                 `yaml:"input_dropout,omitempty"`
	VisualBlocks          string                 `yaml:"visual_blocks,omitempty"`
	VisualProj            string                 `yaml:"visual_proj,omitempty"`
	VisualProjAnchor      string                 `yaml:"visual_proj_anchor,omitempty" validate:"required_with=VisualProj"`
	FixedDeviceModule     string                 `yaml:"fixed_device_module,omitempty"`
	CloneEmbeddings       []string               `yaml:"clone_embeddings,omitempty"`
	InputDeviceEmbeddings []string               `yaml:"input_device_embeddings,omitempty"`
	InputEmbeddings       []EmbeddingAliasConfig `yaml:"input_embeddings,omitempty" validate:"dive"`
	Sentinels             []int                  `yaml:"sentinels,omitempty"`
	EODToken              string                 `yaml:"eod_token,omitempty"`
	HybridCache           bool                   `yaml:"hybrid_cache,omitempty"`
}

// LoadRegistryConfig reads and validates the overlay at path.
//
// Parameters:
//   - path: Overlay file path
//   - required: Whether a missing file is an error
//
// Returns:
//   - The parsed overlay, or nil if the file is missing and not required
//   - Error if the file cannot be read, parsed, or validated
func LoadRegistryConfig(path string, required bool) (*RegistryConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if required {
			return nil, fmt.Errorf("registry configuration file not found: %s", path)
		}
		logger.Debug("No registry overlay at %s", path)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry config file %s: %w", path, err)
	}

	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse registry config YAML: %w", err)
	}

	if err := validateRegistryConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: %w", err)
	}

	logger.Debug("Loaded registry overlay %s: %d family(ies)", path, len(cfg.Families))
	return &cfg, nil
}

// validateRegistryConfig performs validation on the loaded overlay.
//
// Validation checks:
//   - Version field is present
//   - Each family has a model type, loader, template and at least one model
//   - No duplicate model types within the file
func validateRegistryConfig(cfg *RegistryConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, f := range cfg.Families {
		if seen[f.ModelType] {
			return fmt.Errorf("duplicate model_type: %s", f.ModelType)
		}
		seen[f.ModelType] = true
	}
	return nil
}

// SaveRegistryConfig writes an overlay to path, creating its directory.
//
// Returns:
//   - Error if the overlay is invalid or the file cannot be written
func SaveRegistryConfig(cfg *RegistryConfig, path string) error {
	if err := validateRegistryConfig(cfg); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	logger.Info("Saved registry configuration to %s", path)
	return nil
}
