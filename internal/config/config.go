// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"docguard/internal/paths"

	"gopkg.in/yaml.v3"
)

// Threshold holds the confidence label boundaries for one entity category.
// score >= High is HIGH, Low <= score < High is MEDIUM, anything lower is LOW.
type Threshold struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// ModelConfig configures the model-backed recognizers
type ModelConfig struct {
	EntityModel       string  `yaml:"entity_model"`
	TopicModel        string  `yaml:"topic_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables rate limiting
	Burst             int     `yaml:"burst"`
	MaxRetries        int     `yaml:"max_retries"`
}

// ReportConfig configures report rendering
type ReportConfig struct {
	// Template is "default" for the built-in PDF template or a path to a template file
	Template string `yaml:"template"`
}

// Config represents the application configuration
type Config struct {
	Defaults struct {
		Verbose bool `yaml:"verbose"`
		Debug   bool `yaml:"debug"`
		NoColor bool `yaml:"no_color"`
	} `yaml:"defaults"`

	// CacheRoot is resolved against the home directory unless absolute
	CacheRoot string `yaml:"cache_root"`

	// CatalogFile optionally replaces the embedded entity catalog
	CatalogFile string `yaml:"catalog_file"`

	// MaxTextLength bounds the runes handed to recognizers per document
	MaxTextLength int `yaml:"max_text_length"`

	RecognizerTimeout time.Duration `yaml:"recognizer_timeout"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	Workers           int           `yaml:"workers"`

	// RunIdleTimeout discards open runs that receive no documents for this
	// long. Zero keeps open runs until they are finalized or aborted.
	RunIdleTimeout time.Duration `yaml:"run_idle_timeout"`

	// Thresholds are keyed by entity category (PII, FINANCIAL, SECRET, TOPIC)
	Thresholds map[string]Threshold `yaml:"thresholds"`

	// TopicAdmission discards topic findings scoring below it before bucketing
	TopicAdmission float64 `yaml:"topic_admission"`

	Model  ModelConfig  `yaml:"model"`
	Report ReportConfig `yaml:"report"`
}

// DefaultThresholds returns the canonical per-category threshold table
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"PII":       {Low: 0.40, High: 0.80},
		"FINANCIAL": {Low: 0.40, High: 0.80},
		"SECRET":    {Low: 0.40, High: 0.80},
		"TOPIC":     {Low: 0.40, High: 0.80},
	}
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{
		CacheRoot:         paths.DefaultCacheRoot,
		MaxTextLength:     1_000_000,
		RecognizerTimeout: 10 * time.Second,
		LockTimeout:       30 * time.Second,
		Workers:           4,
		RunIdleTimeout:    time.Hour,
		Thresholds:        DefaultThresholds(),
		TopicAdmission:    0.60,
		Model: ModelConfig{
			EntityModel: "keyword-ner",
			TopicModel:  "keyword-topic",
			Burst:       1,
			MaxRetries:  2,
		},
		Report: ReportConfig{Template: "default"},
	}
	return cfg
}

// LoadConfig loads configuration from the specified file path
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	// If no config file specified, return default config
	if configPath == "" {
		return config, nil
	}

	cleanPath := filepath.Clean(configPath)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	defaults := DefaultThresholds()

	// Unknown keys are rejected
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// A category given with only one bound keeps the default for the other
	for category, threshold := range config.Thresholds {
		def, known := defaults[category]
		if !known {
			continue
		}
		if !containsField(data, "thresholds", category, "low") {
			threshold.Low = def.Low
		}
		if !containsField(data, "thresholds", category, "high") {
			threshold.High = def.High
		}
		config.Thresholds[category] = threshold
	}

	config.CacheRoot = paths.NormalizePath(config.CacheRoot)
	if config.CatalogFile != "" {
		config.CatalogFile = paths.NormalizePath(config.CatalogFile)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// FindConfigFile looks for a configuration file in standard locations
func FindConfigFile() string {
	for _, name := range []string{"docguard.yaml", "docguard.yml", ".docguard.yaml"} {
		if fileExists(name) {
			return name
		}
	}

	if standard := paths.GetConfigFile(); fileExists(standard) {
		return standard
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		home, err := paths.HomeDir()
		if err != nil {
			return ""
		}
		xdgConfig = filepath.Join(home, ".config")
	}
	if xdgFile := filepath.Join(xdgConfig, "docguard", "config.yaml"); fileExists(xdgFile) {
		return xdgFile
	}

	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// containsField checks if a nested field exists in the YAML data
func containsField(data []byte, path ...string) bool {
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return false
	}

	current := yamlData
	for i, key := range path {
		if i == len(path)-1 {
			_, exists := current[key]
			return exists
		}
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return false
		}
		current = next
	}
	return false
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	if config.MaxTextLength <= 0 {
		return fmt.Errorf("max_text_length must be positive, got %d", config.MaxTextLength)
	}
	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", config.Workers)
	}
	if config.RecognizerTimeout < 0 {
		return fmt.Errorf("recognizer_timeout cannot be negative")
	}
	if config.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout cannot be negative")
	}
	if config.RunIdleTimeout < 0 {
		return fmt.Errorf("run_idle_timeout cannot be negative")
	}
	if config.TopicAdmission < 0 || config.TopicAdmission > 1 {
		return fmt.Errorf("topic_admission must be within [0,1], got %v", config.TopicAdmission)
	}
	if config.Model.RequestsPerSecond < 0 {
		return fmt.Errorf("model.requests_per_second cannot be negative")
	}
	if config.Model.MaxRetries < 0 {
		return fmt.Errorf("model.max_retries cannot be negative")
	}

	categories := make([]string, 0, len(config.Thresholds))
	for category := range config.Thresholds {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		t := config.Thresholds[category]
		if t.Low < 0 || t.Low > 1 || t.High < 0 || t.High > 1 {
			return fmt.Errorf("thresholds for %s must be within [0,1]", category)
		}
		if t.Low > t.High {
			return fmt.Errorf("thresholds for %s: low %.2f exceeds high %.2f", category, t.Low, t.High)
		}
	}

	if err := paths.ValidatePath(config.CacheRoot); err != nil {
		return fmt.Errorf("invalid cache root: %w", err)
	}
	if err := paths.ValidatePath(config.CatalogFile); err != nil {
		return fmt.Errorf("invalid catalog file: %w", err)
	}

	return nil
}

// LoadConfigOrDefault loads configuration from configFile (or searches standard locations
// when configFile is empty). If loading fails, it returns a default configuration.
func LoadConfigOrDefault(configFile string) *Config {
	configPath := configFile
	if configPath == "" {
		configPath = FindConfigFile()
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}
