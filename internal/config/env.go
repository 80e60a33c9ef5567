package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv applies environment variable overrides to target. Only variables
// that are set replace the loaded value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
