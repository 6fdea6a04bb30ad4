package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // "debug" enables verbose logging
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		DefaultQuestionCount int    `yaml:"defaultQuestionCount"`
		TopicCacheTTL        string `yaml:"topicCacheTTL"`
		CacheSweepInterval   string `yaml:"cacheSweepInterval"`
	} `yaml:"quiz"`
	Snapshot struct {
		Dir      string `yaml:"dir"`
		Interval string `yaml:"interval"`
	} `yaml:"snapshot"`
	Notify struct {
		OutboxKey string `yaml:"outboxKey"`
	} `yaml:"notify"`
}

// Load reads YAML config from path. A missing file is not an error: the
// zero config runs the service in standalone memory mode.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
