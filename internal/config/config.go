// Package config loads the proxy's YAML configuration file: listen
// port, cache capacity, logger settings, and the blacklist of client
// addresses to refuse.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v2"
)

type ServerConfig struct {
	Port         int `yaml:"port"`
	CacheEntries int `yaml:"cache_entries"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Server    ServerConfig `yaml:"server"`
	Logger    LoggerConfig `yaml:"logger"`
	Blacklist []string     `yaml:"blacklist"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server port must be positive")
	}
	if c.Server.CacheEntries <= 0 {
		return errors.New("server cache_entries must be positive")
	}
	if c.Logger.Level == "" {
		return errors.New("logger level is not set")
	}
	if c.Logger.File == "" {
		return errors.New("logger file is not set")
	}
	return nil
}

func LoadConfig(configFileName string) (*Config, error) {
	data, err := os.ReadFile(configFileName)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
