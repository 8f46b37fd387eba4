// Package config provides configuration management for the xwm application.
//
// This package handles all configuration-related functionality including:
//   - Storage paths (config directory, models directory)
//   - Hub and runtime settings read from the environment
//   - The registry overlay file (registry_config.go)
//   - Vision preprocessing limits (env.go)
//
// Settings come from the process environment, optionally seeded by a .env
// file in the config directory. Variables already set in the environment
// win over the .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultConfigDirName is the default configuration directory name.
	// This directory is created in the user's home directory.
	DefaultConfigDirName = ".xwm"

	// DefaultModelsDir is the default models directory name.
	// Checkpoints pulled by xwm are stored in this subdirectory.
	DefaultModelsDir = "models"

	// DotEnvFileName is read from the config directory on Load.
	DotEnvFileName = ".env"

	// RegistryConfigFileName is the default registry overlay in the config
	// directory.
	RegistryConfigFileName = "registry.yaml"

	// EnvHome overrides the config directory.
	EnvHome = "XWM_HOME"
)

// Hub sources.
const (
	HubModelScope  = "modelscope"
	HubHuggingFace = "huggingface"
)

// Config represents the complete application configuration.
//
// The struct can be serialized to JSON for display (xwm env).
type Config struct {
	// Storage holds the directories used by xwm.
	Storage StorageConfig `json:"storage"`

	// Hub configures the auxiliary-file fetcher.
	Hub HubConfig `json:"hub"`

	// Runtime configures where installed library versions are queried.
	Runtime RuntimeConfig `json:"runtime"`

	// RegistryConfig is the path of the registry overlay.
	// Empty means <config_dir>/registry.yaml when that file exists.
	RegistryConfig string `json:"registry_config,omitempty" env:"XWM_REGISTRY_CONFIG"`

	// Debug enables debug logging.
	Debug bool `json:"debug" env:"XWM_DEBUG"`
}

// StorageConfig represents the storage configuration.
type StorageConfig struct {
	// ConfigDir holds registry.yaml and .env.
	// Example: "/home/user/.xwm"
	ConfigDir string `json:"config_dir" validate:"required"`

	// ModelsDir is where pulled checkpoints are stored.
	// Example: "/home/user/.xwm/models"
	ModelsDir string `json:"models_dir" env:"XWM_MODELS" validate:"required"`
}

// HubConfig selects the model hub.
type HubConfig struct {
	// Source is "modelscope" or "huggingface".
	Source string `json:"source" env:"XWM_HUB_SOURCE" envDefault:"modelscope" validate:"oneof=modelscope huggingface"`

	// Endpoint overrides the hub base URL (mirrors, tests).
	Endpoint string `json:"endpoint,omitempty" env:"XWM_HUB_ENDPOINT" validate:"omitempty,url"`

	// Token is sent as a bearer token when set.
	Token string `json:"-" env:"XWM_HUB_TOKEN"`
}

// RuntimeConfig selects the Python environment whose packages are checked
// against family requirements.
type RuntimeConfig struct {
	// Python is the interpreter used for host queries.
	Python string `json:"python" env:"XWM_PYTHON" envDefault:"python3"`

	// Image, when set, queries inside this docker image instead of the host.
	Image string `json:"image,omitempty" env:"XWM_RUNTIME_IMAGE"`
}

// NewDefaultConfig creates a new configuration instance with default values.
//
// The configuration uses:
//   - ConfigDir: ~/.xwm
//   - ModelsDir: ~/.xwm/models
//   - Hub: ModelScope
//
// Returns:
//   - A pointer to a newly created Config with default values.
func NewDefaultConfig() *Config {
	return NewConfigWithCustomDirs("", "")
}

// NewConfigWithCustomDirs creates a new configuration with custom directories.
//
// Parameters:
//   - configDir: Custom configuration directory (empty string uses ~/.xwm)
//   - modelsDir: Custom models directory (empty string uses configDir/models)
//
// Returns:
//   - A pointer to a newly created Config with the specified directories
//
// Example:
//
//	cfg := config.NewConfigWithCustomDirs("/opt/xwm", "")
//	// Overlay: /opt/xwm/registry.yaml
//	// Models:  /opt/xwm/models
func NewConfigWithCustomDirs(configDir, modelsDir string) *Config {
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		configDir = filepath.Join(homeDir, DefaultConfigDirName)
	}
	if modelsDir == "" {
		modelsDir = filepath.Join(configDir, DefaultModelsDir)
	}

	return &Config{
		Storage: StorageConfig{
			ConfigDir: configDir,
			ModelsDir: modelsDir,
		},
		Hub:     HubConfig{Source: HubModelScope},
		Runtime: RuntimeConfig{Python: "python3"},
	}
}

// Load builds the configuration from the environment.
//
// The config directory is XWM_HOME or ~/.xwm. A .env file in it is loaded
// first without overriding variables that are already set; the remaining
// settings are then parsed from the environment.
//
// Returns:
//   - The loaded configuration
//   - Error if the .env file is malformed or a setting is invalid
func Load() (*Config, error) {
	cfg := NewConfigWithCustomDirs(os.Getenv(EnvHome), "")

	if err := loadDotEnv(filepath.Join(cfg.Storage.ConfigDir, DotEnvFileName)); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path if it exists. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RegistryConfigPath returns the overlay path to read and whether it was set
// explicitly. An explicit path must exist; the default one is optional.
func (c *Config) RegistryConfigPath() (string, bool) {
	if c.RegistryConfig != "" {
		return c.RegistryConfig, true
	}
	return filepath.Join(c.Storage.ConfigDir, RegistryConfigFileName), false
}

// EnsureDirectories creates the config and models directories if they don't
// exist.
//
// Returns:
//   - nil if all directories exist afterwards
//   - error if any directory creation fails
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.ConfigDir, c.Storage.ModelsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
