package config

import (
	"fmt"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides: UNTISFEED_SERVER,
// UNTISFEED_WEEKS, UNTISFEED_OUTPUT, ...
const envPrefix = "UNTISFEED_"

// Load builds a Config by layering defaults, the YAML file at path, and
// environment variables. Order of precedence (low -> high):
//  1. defaults (DefaultConfig)
//  2. file (YAML)
//  3. env (prefix UNTISFEED_)
//
// If the file does not exist a default config is written there first
// (0600 perms, it will hold credentials) and loading continues, so the
// very first run fails validation with a descriptive message instead of
// an open() error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: config path is empty", ErrConfig)
	}

	if !exists(path) {
		if _, err := writeDefault(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// Environment variables: UNTISFEED_SERVER, UNTISFEED_LOG_LEVEL, ...
	// Map env keys like UNTISFEED_LOG_LEVEL -> log_level (flat keys,
	// underscores preserved to match the koanf tags on Config).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
