package projectconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".callproof/config.yaml"

type Config struct {
	Store     StoreDefaults     `yaml:"store"`
	TSA       TSADefaults       `yaml:"tsa"`
	Repair    RepairDefaults    `yaml:"repair"`
	Retention RetentionDefaults `yaml:"retention"`
	Log       LogDefaults       `yaml:"log"`
}

type StoreDefaults struct {
	Path string `yaml:"path"`
}

type TSADefaults struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

type RepairDefaults struct {
	Interval  string `yaml:"interval"`
	BatchSize int    `yaml:"batch_size"`
}

type RetentionDefaults struct {
	DefaultTTL   string `yaml:"default_ttl"`
	RegulatedTTL string `yaml:"regulated_ttl"`
	Interval     string `yaml:"interval"`
	BatchSize    int    `yaml:"batch_size"`
}

type LogDefaults struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Store.Path = strings.TrimSpace(configuration.Store.Path)
	configuration.TSA.Endpoint = strings.TrimSpace(configuration.TSA.Endpoint)
	configuration.TSA.Timeout = strings.TrimSpace(configuration.TSA.Timeout)
	configuration.Repair.Interval = strings.TrimSpace(configuration.Repair.Interval)
	configuration.Retention.DefaultTTL = strings.TrimSpace(configuration.Retention.DefaultTTL)
	configuration.Retention.RegulatedTTL = strings.TrimSpace(configuration.Retention.RegulatedTTL)
	configuration.Retention.Interval = strings.TrimSpace(configuration.Retention.Interval)
	configuration.Log.Level = strings.ToLower(strings.TrimSpace(configuration.Log.Level))
	configuration.Log.Format = strings.ToLower(strings.TrimSpace(configuration.Log.Format))
}

func (configuration *Config) validate() error {
	durations := map[string]string{
		"tsa.timeout":             configuration.TSA.Timeout,
		"repair.interval":         configuration.Repair.Interval,
		"retention.default_ttl":   configuration.Retention.DefaultTTL,
		"retention.regulated_ttl": configuration.Retention.RegulatedTTL,
		"retention.interval":      configuration.Retention.Interval,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("parse project config: %s: %w", key, err)
		}
	}
	if configuration.Repair.BatchSize < 0 {
		return fmt.Errorf("parse project config: repair.batch_size must not be negative")
	}
	if configuration.Retention.BatchSize < 0 {
		return fmt.Errorf("parse project config: retention.batch_size must not be negative")
	}
	return nil
}

// Duration parses a config duration string, falling back when unset.
func Duration(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
