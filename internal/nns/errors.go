package nns

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when the grid geometry cannot be built.
	ErrInvalidConfig = errors.New("nns: invalid grid configuration")

	// ErrPointCountMismatch is returned when a point set does not match the
	// size the engine was built for.
	ErrPointCountMismatch = errors.New("nns: point count mismatch")
)

// ConfigError describes which configuration field was rejected.
//
// It matches ErrInvalidConfig through errors.Is.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("nns: invalid %s (%g): %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
