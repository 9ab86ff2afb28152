package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a server configuration against its struct validation
// tags, plus the cross-field rules the tags cannot express.
func Validate(cfg *ServerConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.ReconnectWindow < 0 {
		return fmt.Errorf("reconnect_window must not be negative, got %v", cfg.ReconnectWindow)
	}

	return nil
}

// ValidateClient checks a client configuration.
func ValidateClient(cfg *ClientConfig) error {
	return validate.Struct(cfg)
}
