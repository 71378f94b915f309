package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ConnectorInstanceConfig is one configured connector instance: which
// connectors/* driver to build, for which org, on what schedule, and at
// what rate.
type ConnectorInstanceConfig struct {
	ID                   string  `mapstructure:"id"`
	Name                 string  `mapstructure:"name"` // "LINEAR", "DROPBOX", "GITEA", "GITLAB", ...
	OrgID                string  `mapstructure:"org_id"`
	Schedule             string  `mapstructure:"schedule"`
	MaxConcurrentBatches int     `mapstructure:"max_concurrent_batches"`
	RequestsPerSecond    float64 `mapstructure:"requests_per_second"`
	Burst                int     `mapstructure:"burst"`

	// BaseURL/Token authenticate a source with a concrete client this daemon
	// constructs directly (Gitea, GitLab, Dropbox); Owner/Repos/Projects pick
	// the scopes that source instance syncs.
	BaseURL  string   `mapstructure:"base_url"`
	Token    string   `mapstructure:"token"`
	Owner    string   `mapstructure:"owner"`
	Repos    []string `mapstructure:"repos"`
	Projects []string `mapstructure:"projects"`
}

// Config is ingestd's full process configuration, loaded the way
// cli/root.go loads flow-service's: a config file discovered in $HOME or
// the working directory, overridable by environment variables.
type Config struct {
	ListenAddr       string                    `mapstructure:"listen_addr"`
	DatabaseURL      string                    `mapstructure:"database_url"`
	SignedURLSecret  string                    `mapstructure:"signed_url_secret"`
	MetricsNamespace string                    `mapstructure:"metrics_namespace"`
	RegistryURL      string                    `mapstructure:"registry_url"`
	// RedisURL, when set, backs the credential cache's cross-instance refresh
	// lock (store/cache); left empty, ingestd runs with purely in-process
	// credential locking, which is correct for a single replica.
	RedisURL   string                    `mapstructure:"redis_url"`
	Connectors []ConnectorInstanceConfig `mapstructure:"connectors"`
}

const envPrefix = "INGESTD"

// loadConfig reads .ingestd.yaml from $HOME and "." (or the file named by
// -config), then layers INGESTD_-prefixed environment
// variables on top, mirroring cli/root.go's initConfig.
func loadConfig(explicitPath string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_namespace", "ingest")

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".ingestd")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows of, so keys with no
	// default are bound to their environment variables explicitly.
	for _, k := range []string{"database_url", "signed_url_secret", "registry_url", "redis_url"} {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("ingestd: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("ingestd: unmarshal config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("ingestd: database_url is required (set %s_DATABASE_URL or database_url in config)", envPrefix)
	}
	return cfg, nil
}

func (c ConnectorInstanceConfig) scheduleOrDefault() string {
	if c.Schedule == "" {
		return "*/5 * * * *"
	}
	return c.Schedule
}

// startupTimeout bounds how long ingestd waits for its Redis connection and
// initial connector Init() calls before giving up.
const startupTimeout = 30 * time.Second
