// Package config loads the service's runtime configuration by layering
// config.yaml below environment variables below CLI flags, via
// spf13/viper. Every key here mirrors an environment variable from
// SPEC_FULL §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// GPUEncoder enumerates the supported hardware encoder families.
type GPUEncoder string

const (
	GPUEncoderAuto  GPUEncoder = "auto"
	GPUEncoderNVENC GPUEncoder = "nvenc"
	GPUEncoderVAAPI GPUEncoder = "vaapi"
	GPUEncoderQSV   GPUEncoder = "qsv"
)

// GPUPreset enumerates the supported encoder speed/quality presets.
type GPUPreset string

const (
	GPUPresetFast   GPUPreset = "fast"
	GPUPresetMedium GPUPreset = "medium"
	GPUPresetSlow   GPUPreset = "slow"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	Host string
	Port int

	DatabaseURL string
	RedisURL    string

	DownloadDir            string
	MaxConcurrentDownloads int
	AutoDeleteAfter        time.Duration
	RateLimitPerMinute     int
	CORSOrigins            []string

	SecretKey          string
	EnableJWTAuth      bool
	APIKeyIssuePassword string
	JWTAlgorithm       string
	JWTExpirationDays  int

	EnableGPUEncoding bool
	GPUEncoderType    GPUEncoder
	GPUEncoderPreset  GPUPreset

	EnableAria2          bool
	Aria2MaxConnections  int
	Aria2Split           int

	YTDLPProxy       string
	YTDLPCookiesFile string

	// EnabledFeatures maps a feature name (e.g. "subtitles", "queue_stats")
	// to whether its endpoint is enabled; disabled endpoints return 403.
	EnabledFeatures map[string]bool
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		DownloadDir:            "./downloads",
		MaxConcurrentDownloads: 3,
		AutoDeleteAfter:        7 * 24 * time.Hour,
		RateLimitPerMinute:     3,
		CORSOrigins:            []string{"*"},
		JWTAlgorithm:           "HS256",
		JWTExpirationDays:      30,
		GPUEncoderType:         GPUEncoderAuto,
		GPUEncoderPreset:       GPUPresetMedium,
		Aria2MaxConnections:    4,
		Aria2Split:             4,
		EnabledFeatures:        map[string]bool{},
	}
}

// Load builds a Config from config.yaml (if present), environment
// variables, and flags, in that order of increasing precedence.
func Load(configPath string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults := Defaults()

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefault(v, "host", defaults.Host)
	setDefault(v, "port", defaults.Port)
	setDefault(v, "database_url", "")
	setDefault(v, "redis_url", "")
	setDefault(v, "download_dir", defaults.DownloadDir)
	setDefault(v, "max_concurrent_downloads", defaults.MaxConcurrentDownloads)
	setDefault(v, "auto_delete_after", int(defaults.AutoDeleteAfter.Seconds()))
	setDefault(v, "rate_limit_per_minute", defaults.RateLimitPerMinute)
	setDefault(v, "cors_origins", strings.Join(defaults.CORSOrigins, ","))
	setDefault(v, "secret_key", "")
	setDefault(v, "enable_jwt_auth", false)
	setDefault(v, "api_key_issue_password", "")
	setDefault(v, "jwt_algorithm", defaults.JWTAlgorithm)
	setDefault(v, "jwt_expiration_days", defaults.JWTExpirationDays)
	setDefault(v, "enable_gpu_encoding", false)
	setDefault(v, "gpu_encoder_type", string(defaults.GPUEncoderType))
	setDefault(v, "gpu_encoder_preset", string(defaults.GPUEncoderPreset))
	setDefault(v, "enable_aria2", false)
	setDefault(v, "aria2_max_connections", defaults.Aria2MaxConnections)
	setDefault(v, "aria2_split", defaults.Aria2Split)
	setDefault(v, "ytdlp_proxy", "")
	setDefault(v, "ytdlp_cookies_file", "")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Host:                   v.GetString("host"),
		Port:                   v.GetInt("port"),
		DatabaseURL:            v.GetString("database_url"),
		RedisURL:               v.GetString("redis_url"),
		DownloadDir:            v.GetString("download_dir"),
		MaxConcurrentDownloads: v.GetInt("max_concurrent_downloads"),
		AutoDeleteAfter:        time.Duration(v.GetInt("auto_delete_after")) * time.Second,
		RateLimitPerMinute:     v.GetInt("rate_limit_per_minute"),
		CORSOrigins:            splitCSV(v.GetString("cors_origins")),
		SecretKey:              v.GetString("secret_key"),
		EnableJWTAuth:          v.GetBool("enable_jwt_auth"),
		APIKeyIssuePassword:    v.GetString("api_key_issue_password"),
		JWTAlgorithm:           v.GetString("jwt_algorithm"),
		JWTExpirationDays:      v.GetInt("jwt_expiration_days"),
		EnableGPUEncoding:      v.GetBool("enable_gpu_encoding"),
		GPUEncoderType:         GPUEncoder(v.GetString("gpu_encoder_type")),
		GPUEncoderPreset:       GPUPreset(v.GetString("gpu_encoder_preset")),
		EnableAria2:            v.GetBool("enable_aria2"),
		Aria2MaxConnections:    v.GetInt("aria2_max_connections"),
		Aria2Split:             v.GetInt("aria2_split"),
		YTDLPProxy:             v.GetString("ytdlp_proxy"),
		YTDLPCookiesFile:       v.GetString("ytdlp_cookies_file"),
		EnabledFeatures:        loadFeatureFlags(v),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFeatureFlags scans the process environment for ENABLE_FEATURE_*
// variables, one boolean per user-facing endpoint (disabled ⇒ 403).
func loadFeatureFlags(v *viper.Viper) map[string]bool {
	flags := map[string]bool{}
	for _, key := range v.AllKeys() {
		const prefix = "enable_feature_"
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.TrimPrefix(key, prefix)
		flags[name] = v.GetBool(key)
	}
	// AutomaticEnv keys are absent from AllKeys, so read the environment
	// itself; an environment variable wins over a config.yaml entry.
	for _, kv := range os.Environ() {
		envName, _, _ := strings.Cut(kv, "=")
		key := strings.ToLower(envName)
		const prefix = "enable_feature_"
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		flags[strings.TrimPrefix(key, prefix)] = v.GetBool(key)
	}
	return flags
}

// FeatureEnabled reports whether a named feature flag is enabled. Features
// with no explicit ENABLE_FEATURE_<name> variable default to enabled.
func (c Config) FeatureEnabled(name string) bool {
	enabled, ok := c.EnabledFeatures[strings.ToLower(name)]
	if !ok {
		return true
	}
	return enabled
}

// Validate checks the bounds SPEC_FULL §6 places on numeric config.
func (c Config) Validate() error {
	if c.MaxConcurrentDownloads < 1 || c.MaxConcurrentDownloads > 10 {
		return fmt.Errorf("max_concurrent_downloads must be between 1 and 10, got %d", c.MaxConcurrentDownloads)
	}
	if c.AutoDeleteAfter < 300*time.Second {
		return fmt.Errorf("auto_delete_after must be at least 300s, got %s", c.AutoDeleteAfter)
	}
	switch c.GPUEncoderType {
	case GPUEncoderAuto, GPUEncoderNVENC, GPUEncoderVAAPI, GPUEncoderQSV:
	default:
		return fmt.Errorf("invalid gpu_encoder_type: %s", c.GPUEncoderType)
	}
	switch c.GPUEncoderPreset {
	case GPUPresetFast, GPUPresetMedium, GPUPresetSlow:
	default:
		return fmt.Errorf("invalid gpu_encoder_preset: %s", c.GPUEncoderPreset)
	}
	return nil
}

func setDefault(v *viper.Viper, key string, value interface{}) {
	v.SetDefault(key, value)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
