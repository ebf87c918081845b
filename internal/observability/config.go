// Package observability holds the structured-logging, metrics, and tracing
// knobs shared by every binary, loaded independently of the rest of the
// application configuration so a bad app config never silences logs.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the base logger's level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// TracingConfig controls OTel trace export (unused until an exporter is wired;
// kept so operators can stage the setting ahead of enabling it).
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// Config is the top-level observability document, namespaced under
// `observability:` in config.yaml.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type configDocument struct {
	Observability Config `yaml:"observability"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			PrometheusPort: 9090,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "jaeger",
			SampleRate: 1.0,
		},
	}
}

// LoadConfig reads observability settings from path, merging them onto
// DefaultConfig. A missing file is not an error — it yields the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return config, fmt.Errorf("read observability config: %w", err)
	}

	doc := configDocument{Observability: config}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return config, fmt.Errorf("parse observability config: %w", err)
	}

	if doc.Observability.Logging.Level != "" {
		config.Logging.Level = doc.Observability.Logging.Level
	}
	if doc.Observability.Logging.Format != "" {
		config.Logging.Format = doc.Observability.Logging.Format
	}
	config.Metrics.Enabled = doc.Observability.Metrics.Enabled
	if doc.Observability.Metrics.PrometheusPort != 0 {
		config.Metrics.PrometheusPort = doc.Observability.Metrics.PrometheusPort
	}
	config.Tracing.Enabled = doc.Observability.Tracing.Enabled
	if doc.Observability.Tracing.Exporter != "" {
		config.Tracing.Exporter = doc.Observability.Tracing.Exporter
	}
	if doc.Observability.Tracing.JaegerEndpoint != "" {
		config.Tracing.JaegerEndpoint = doc.Observability.Tracing.JaegerEndpoint
	}
	if doc.Observability.Tracing.SampleRate != 0 {
		config.Tracing.SampleRate = doc.Observability.Tracing.SampleRate
	}
	if doc.Observability.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = doc.Observability.Tracing.ServiceName
	}
	if doc.Observability.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = doc.Observability.Tracing.ServiceVersion
	}

	return config, nil
}

// SaveConfig writes config as YAML to path, creating parent directories
// as needed.
func SaveConfig(config Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	doc := configDocument{Observability: config}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal observability config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write observability config: %w", err)
	}
	return nil
}
