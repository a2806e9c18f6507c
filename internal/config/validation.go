package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, err := ParseMode(cfg.Chmod); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	for i, server := range cfg.Servers {
		u, err := url.Parse(server.URL)
		if err != nil {
			return fmt.Errorf("server[%d]: invalid url %q: %w", i, server.URL, err)
		}
		switch u.Scheme {
		case "redis", "rediss", "unix":
		default:
			return fmt.Errorf("server[%d]: unsupported scheme %q", i, u.Scheme)
		}
	}

	if cfg.SentinelMode() && strings.TrimSpace(cfg.SentinelMaster) == "" {
		return fmt.Errorf("sentinel_master: required when more than one server is configured")
	}

	for i, p := range cfg.Permissions {
		if p.Chmod != "" {
			if _, err := ParseMode(p.Chmod); err != nil {
				return fmt.Errorf("permission[%d].chmod: %w", i, err)
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
