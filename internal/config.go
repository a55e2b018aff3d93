package internal

import (
	"fmt"
	"os"

	"github.com/calders/mediascope/internal/api"
	"github.com/calders/mediascope/internal/artifact"
	"github.com/calders/mediascope/internal/batch"
	"github.com/calders/mediascope/internal/extraction"
	"github.com/calders/mediascope/internal/rangesel"
	"github.com/ilyakaznacheev/cleanenv"
)

// MediascopeConfig is the struct used to contain the
// various user config supplied by file, or
// manually inside the code.
type MediascopeConfig struct {
	Selection  rangesel.Config   `yaml:"selection"`
	Extraction extraction.Config `yaml:"extraction"`
	Batch      batch.Config      `yaml:"batch"`
	Delivery   artifact.Config   `yaml:"delivery"`
	RestConfig api.RestConfig    `yaml:"api"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// MediascopeConfig struct. When no path is given, the configuration is
// populated from environment variables and defaults alone.
func (config *MediascopeConfig) LoadFromFile(configPath string) error {
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
		}
		return nil
	}

	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %v", configPath, err.Error())
	}

	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %v", configPath, err.Error())
	}

	return nil
}
