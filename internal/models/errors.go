package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a model type or checkpoint is not registered.
	ErrNotFound = errors.New("model type not found")

	// ErrDuplicateKey is returned when a model type is registered twice
	// without WithOverwrite.
	ErrDuplicateKey = errors.New("model type already registered")

	// ErrUnsupportedVersion is returned when an installed library violates
	// a family's requirements.
	ErrUnsupportedVersion = errors.New("unsupported library version")

	// ErrInvalidMeta is returned when a family declaration is malformed.
	ErrInvalidMeta = errors.New("invalid model meta")
)

// LoadError wraps a failure reported by the framework while a family's
// constructor was loading a checkpoint.
type LoadError struct {
	ModelType string
	Dir       string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s from %s: %v", e.ModelType, e.Dir, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
