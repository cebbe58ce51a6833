package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable LoadDefault consults for a config file path.
const EnvConfigPath = "OXY_VR_CONFIG"

// LoadFile reads a YAML file over the defaults and validates the result. Fields absent from the file
// keep their default values.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - *Config: the merged configuration
//   - error: a read, decode or validation error
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads the file named by EnvConfigPath, or returns Default when the variable is unset.
//
// Returns:
//   - *Config: the configuration
//   - error: a read, decode or validation error
func LoadDefault() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFile(path)
	}
	return Default(), nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys are rejected.
//
// Parameters:
//   - data: the YAML document
//
// Returns:
//   - *Config: the merged configuration
//   - error: a decode or validation error
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
