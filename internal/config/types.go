package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Manifest      ManifestConfig      `mapstructure:"manifest"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Splunkbase    SplunkbaseConfig    `mapstructure:"splunkbase"`
	Credentials   CredentialsConfig   `mapstructure:"credentials"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Mirror        MirrorConfig        `mapstructure:"mirror"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type ManifestConfig struct {
	Path       string `mapstructure:"path"`
	BackupKeep int    `mapstructure:"backup_keep"` // 0 disables backups
}

type SyncConfig struct {
	OutDir      string `mapstructure:"outdir"`
	FixMissing  bool   `mapstructure:"fix_missing"`
	FailOnError bool   `mapstructure:"fail_on_error"`
	Hash        bool   `mapstructure:"hash"`
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

type SplunkbaseConfig struct {
	WWWURL         string        `mapstructure:"www_url"`
	APIURL         string        `mapstructure:"api_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type CredentialsConfig struct {
	Path string `mapstructure:"path"`
	Save bool   `mapstructure:"save"`
}

type CatalogConfig struct {
	CachePath string         `mapstructure:"cache_path"`
	TTL       time.Duration  `mapstructure:"ttl"`
	Overrides map[string]int `mapstructure:"overrides"` // normalized name -> uid
}

type MirrorConfig struct {
	Backend     string     `mapstructure:"backend"` // local, s3
	Prefix      string     `mapstructure:"prefix"`
	Parallelism int        `mapstructure:"parallelism"`
	Local       LocalStore `mapstructure:"local"`
	S3          S3Store    `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}
