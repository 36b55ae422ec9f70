// Package config resolves the agent configuration from defaults, an
// optional YAML file, environment variables, and command-line flags, in
// that order of precedence (flags are applied by the command layer).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. WEBHOOK_API_KEY keeps its historical name;
// everything else is SPOT_-prefixed.
const (
	EnvAPIKey            = "WEBHOOK_API_KEY"
	EnvWebhookURL        = "SPOT_WEBHOOK_URL"
	EnvCheckInterval     = "SPOT_CHECK_INTERVAL"
	EnvHeartbeatInterval = "SPOT_HEARTBEAT_INTERVAL"
	EnvMetadataEndpoint  = "SPOT_METADATA_ENDPOINT"
	EnvLogFile           = "SPOT_LOG_FILE"
	EnvOpsAddr           = "SPOT_OPS_ADDR"
	EnvNATSURL           = "SPOT_NATS_URL"
	EnvDedupTTL          = "SPOT_DEDUP_TTL"
	EnvAllowInsecure     = "SPOT_ALLOW_INSECURE_HTTP"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WebhookURL:        DefaultWebhookURL,
		CheckInterval:     DefaultCheckInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LogFile:           DefaultLogFile,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration errors that must stop the agent before
// any polling begins.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("no API key provided: set %s or use --api-key", EnvAPIKey)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", c.CheckInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if err := ensureHTTPS(c.WebhookURL, c.AllowInsecure); err != nil {
		return err
	}
	return nil
}

// fileConfig mirrors Config for the YAML file. Intervals are plain
// seconds; pointer fields distinguish absent keys from zero values.
type fileConfig struct {
	WebhookURL        *string `yaml:"webhook_url"`
	APIKey            *string `yaml:"api_key"`
	CheckInterval     *int    `yaml:"check_interval"`
	HeartbeatInterval *int    `yaml:"heartbeat_interval"`
	MetadataEndpoint  *string `yaml:"metadata_endpoint"`
	LogFile           *string `yaml:"log_file"`
	OpsAddr           *string `yaml:"ops_addr"`
	NATSURL           *string `yaml:"nats_url"`
	DedupTTL          *int    `yaml:"dedup_ttl"`
	AllowInsecure     *bool   `yaml:"allow_insecure_http"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.WebhookURL != nil {
		cfg.WebhookURL = *fc.WebhookURL
	}
	if fc.APIKey != nil {
		cfg.APIKey = *fc.APIKey
	}
	if fc.CheckInterval != nil {
		cfg.CheckInterval = time.Duration(*fc.CheckInterval) * time.Second
	}
	if fc.HeartbeatInterval != nil {
		cfg.HeartbeatInterval = time.Duration(*fc.HeartbeatInterval) * time.Second
	}
	if fc.MetadataEndpoint != nil {
		cfg.MetadataEndpoint = *fc.MetadataEndpoint
	}
	if fc.LogFile != nil {
		cfg.LogFile = *fc.LogFile
	}
	if fc.OpsAddr != nil {
		cfg.OpsAddr = *fc.OpsAddr
	}
	if fc.NATSURL != nil {
		cfg.NATSURL = *fc.NATSURL
	}
	if fc.DedupTTL != nil {
		cfg.DedupTTL = time.Duration(*fc.DedupTTL) * time.Second
	}
	if fc.AllowInsecure != nil {
		cfg.AllowInsecure = *fc.AllowInsecure
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.APIKey = getEnv(EnvAPIKey, cfg.APIKey)
	cfg.WebhookURL = getEnv(EnvWebhookURL, cfg.WebhookURL)
	cfg.MetadataEndpoint = getEnv(EnvMetadataEndpoint, cfg.MetadataEndpoint)
	cfg.LogFile = getEnv(EnvLogFile, cfg.LogFile)
	cfg.OpsAddr = getEnv(EnvOpsAddr, cfg.OpsAddr)
	cfg.NATSURL = getEnv(EnvNATSURL, cfg.NATSURL)
	cfg.AllowInsecure = getEnvBool(EnvAllowInsecure, cfg.AllowInsecure)

	var err error
	if cfg.CheckInterval, err = getEnvSeconds(EnvCheckInterval, cfg.CheckInterval); err != nil {
		return err
	}
	if cfg.HeartbeatInterval, err = getEnvSeconds(EnvHeartbeatInterval, cfg.HeartbeatInterval); err != nil {
		return err
	}
	if cfg.DedupTTL, err = getEnvSeconds(EnvDedupTTL, cfg.DedupTTL); err != nil {
		return err
	}
	return nil
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	default:
		if allowInsecure {
			return nil
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("webhook url must include https scheme")
		}
		return fmt.Errorf("webhook url must use https: %s", raw)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(secs) * time.Second, nil
}
