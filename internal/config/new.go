package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/atlanticdynamic/nitr/internal/interpolation"
	"github.com/pelletier/go-toml/v2"
)

// NewConfig loads, expands and validates the TOML file at filePath.
func NewConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	return NewConfigFromBytes(data)
}

// NewConfigFromReader loads configuration from an io.Reader providing TOML data.
func NewConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	return NewConfigFromBytes(data)
}

// NewConfigFromBytes decodes TOML, expands ${VAR:default} references in the tagged
// fields, applies defaults and validates. Unknown keys are rejected.
func NewConfigFromBytes(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToValidateConfig, err)
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	if err := interpolation.InterpolateStruct(cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}
