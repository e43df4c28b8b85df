package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here; validation
// accepts both uppercase and lowercase levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// The exec subsection is schemaless in Config; decoding it doubles as
	// its validation.
	if _, err := cfg.ExecRunner(); err != nil {
		return err
	}

	return nil
}

// ValidatePort checks a command-line port argument. Ports below 1025 are
// reserved for privileged services.
func ValidatePort(port int) error {
	if port < 1025 || port > 65535 {
		return fmt.Errorf("port %d out of range [1025, 65535]", port)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
