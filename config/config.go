// Package config loads the YAML configuration shared by the server and the CLIs.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is where the server and CLIs look for their config file.
const DefaultPath = "config.yaml"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Log struct {
		Mode       string `yaml:"mode"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Model struct {
		BundlePath  string `yaml:"bundle_path"`
		BoosterPath string `yaml:"booster_path"`
		CacheSize   int    `yaml:"cache_size"`
	} `yaml:"model"`
	Mappings struct {
		Path string `yaml:"path"`
	} `yaml:"mappings"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Dataset struct {
		Path    string `yaml:"path"`
		Charset string `yaml:"charset"`
	} `yaml:"dataset"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 5000
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.MaxBodyBytes = 64 << 10
	cfg.Log.Mode = "production"
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28
	cfg.Model.BundlePath = "car_price_xgboost.gob"
	cfg.Model.BoosterPath = "car_price_xgboost.json"
	cfg.Model.CacheSize = 1024
	cfg.Mappings.Path = "category_mappings.json"
	cfg.Dataset.Path = "car_price_dataset.csv"
	cfg.Dataset.Charset = "utf-8"
	return cfg
}

// Load decodes path over the defaults. A missing file is reported with an error
// wrapping fs.ErrNotExist together with the default config, so callers may choose
// to continue.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", c.Http.Port))
	}
	if c.Http.Timeout < 0 {
		problems = append(problems, "http.timeout must not be negative")
	}
	if c.Http.MaxBodyBytes <= 0 {
		problems = append(problems, "http.max_body_bytes must be positive")
	}
	if c.Model.CacheSize < 0 {
		problems = append(problems, "model.cache_size must not be negative")
	}
	if c.Model.BundlePath == "" && c.Model.BoosterPath == "" {
		problems = append(problems, "model.bundle_path or model.booster_path is required")
	}
	if c.Mappings.Path == "" {
		problems = append(problems, "mappings.path is required")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		problems = append(problems, fmt.Sprintf("log.mode %q unknown", c.Log.Mode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
