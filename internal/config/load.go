package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gotarr/sbmirror/internal/cryptoutil"
)

const (
	envPrefix = "SBM"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("SBM_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but SBM_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("SBM_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"sbmirror.yaml",
		"sbmirror.yml",
		"sbmirror.toml",
		"sbmirror.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "sbmirror")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"sbmirror.yaml.enc", "sbmirror.yml.enc", "sbmirror.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.operation_timeout", "1h")
	vp.SetDefault("manifest.path", "Your_apps.json")
	vp.SetDefault("manifest.backup_keep", 5)
	vp.SetDefault("sync.outdir", ".")
	vp.SetDefault("splunkbase.www_url", "https://splunkbase.splunk.com")
	vp.SetDefault("splunkbase.api_url", "https://api.splunkbase.splunk.com")
	vp.SetDefault("splunkbase.request_timeout", "60s")
	vp.SetDefault("splunkbase.retry_count", 3)
	vp.SetDefault("splunkbase.retry_backoff", "1s")
	vp.SetDefault("credentials.path", "login.json")
	vp.SetDefault("catalog.cache_path", "catalog_cache.json")
	vp.SetDefault("catalog.ttl", "24h")
	vp.SetDefault("mirror.backend", "local")
	vp.SetDefault("mirror.parallelism", 4)
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Splunkbase.RetryBackoff == 0 {
		cfg.Splunkbase.RetryBackoff = time.Second
	}
	if cfg.Splunkbase.RequestTimeout == 0 {
		cfg.Splunkbase.RequestTimeout = 60 * time.Second
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = time.Hour
	}
	if cfg.Catalog.TTL == 0 {
		cfg.Catalog.TTL = 24 * time.Hour
	}
	if cfg.Mirror.Parallelism <= 0 {
		cfg.Mirror.Parallelism = 4
	}
	if cfg.Splunkbase.UserAgent == "" {
		cfg.Splunkbase.UserAgent = "sbmirror"
	}
}

func expandEnv(cfg *Config) {
	cfg.Mirror.S3.AccessKey = os.ExpandEnv(cfg.Mirror.S3.AccessKey)
	cfg.Mirror.S3.SecretKey = os.ExpandEnv(cfg.Mirror.S3.SecretKey)
	cfg.Mirror.S3.SessionToken = os.ExpandEnv(cfg.Mirror.S3.SessionToken)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
	for i := range cfg.Notifications.Mattermost {
		cfg.Notifications.Mattermost[i].URL = os.ExpandEnv(cfg.Notifications.Mattermost[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.Open(ciphertext, parsed)
}
