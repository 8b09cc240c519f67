package config

import (
	"errors"
	"fmt"
)

// ConfigError is one invalid configuration field.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field == "":
		return "config: " + e.Message
	case e.Line > 0:
		return fmt.Sprintf("config: line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
