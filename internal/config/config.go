package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/bbscout/dbbackup/internal/domain"
)

const (
	StoreDriverRclone = "rclone"
	StoreDriverNative = "native"
)

type Config struct {
	DatabaseURL string `mapstructure:"database_url"`

	Remote RemoteConfig `mapstructure:",squash"`
	Backup BackupConfig `mapstructure:",squash"`
	Log    LogConfig    `mapstructure:",squash"`
	Notify NotifyConfig `mapstructure:",squash"`
}

type RemoteConfig struct {
	ConfigB64      string        `mapstructure:"rclone_config_b64"`
	ConfigRaw      string        `mapstructure:"rclone_config"`
	Name           string        `mapstructure:"rclone_remote_name"`
	Dir            string        `mapstructure:"rclone_remote_dir"`
	RetentionCount int           `mapstructure:"rclone_retention_count"`
	Binary         string        `mapstructure:"rclone_binary"`
	Driver         string        `mapstructure:"backup_store_driver"`
	Timeout        time.Duration `mapstructure:"backup_remote_timeout"`
}

type BackupConfig struct {
	Schedule       string        `mapstructure:"backup_cron_schedule"`
	ArtifactPrefix string        `mapstructure:"backup_artifact_prefix"`
	ScratchDir     string        `mapstructure:"backup_scratch_dir"`
	DumpBinary     string        `mapstructure:"mysqldump_binary"`
	DumpTimeout    time.Duration `mapstructure:"backup_dump_timeout"`
	// CompressionLevel is a gzip level; -1 picks the library default.
	CompressionLevel int    `mapstructure:"backup_compression_level"`
	PingBeforeDump   bool   `mapstructure:"backup_ping_before_dump"`
	RunOnStart       bool   `mapstructure:"backup_run_on_start"`
	HTTPAddr         string `mapstructure:"backup_http_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"backup_log_level"`
	File   string `mapstructure:"backup_log_file"`
	Format string `mapstructure:"backup_log_format"`
}

type NotifyConfig struct {
	TelegramBotToken string `mapstructure:"backup_telegram_bot_token"`
	TelegramChatID   string `mapstructure:"backup_telegram_chat_id"`
	NotifySuccess    bool   `mapstructure:"backup_telegram_notify_success"`
}

var defaults = map[string]any{
	"database_url":                   "",
	"rclone_config_b64":              "",
	"rclone_config":                  "",
	"rclone_remote_name":             "gdrive",
	"rclone_remote_dir":              "bbscout-backups",
	"rclone_retention_count":         7,
	"rclone_binary":                  "rclone",
	"backup_store_driver":            StoreDriverRclone,
	"backup_remote_timeout":          time.Hour,
	"backup_cron_schedule":           "0 3 * * *",
	"backup_artifact_prefix":         "bbscout-db",
	"backup_scratch_dir":             "",
	"mysqldump_binary":               "mysqldump",
	"backup_dump_timeout":            2 * time.Hour,
	"backup_compression_level":       -1,
	"backup_ping_before_dump":        true,
	"backup_run_on_start":            false,
	"backup_http_addr":               "",
	"backup_log_level":               "info",
	"backup_log_file":                "",
	"backup_log_format":              "console",
	"backup_telegram_bot_token":      "",
	"backup_telegram_chat_id":        "",
	"backup_telegram_notify_success": false,
}

// Load builds the configuration from the process environment, optionally
// layered over a dotenv file. A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read env file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat env file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backup.ScratchDir == "" {
		cfg.Backup.ScratchDir = os.TempDir()
	}
	cfg.Remote.Driver = strings.ToLower(strings.TrimSpace(cfg.Remote.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the static part of the configuration. DATABASE_URL is not
// checked here: it is resolved at the start of every run.
func (c *Config) Validate() error {
	if c.Remote.Name == "" {
		return fmt.Errorf("RCLONE_REMOTE_NAME must not be empty")
	}
	if c.Remote.Dir == "" {
		return fmt.Errorf("RCLONE_REMOTE_DIR must not be empty")
	}
	if c.Remote.RetentionCount < 1 {
		return fmt.Errorf("RCLONE_RETENTION_COUNT must be at least 1, got %d", c.Remote.RetentionCount)
	}
	switch c.Remote.Driver {
	case StoreDriverRclone, StoreDriverNative:
	default:
		return fmt.Errorf("unknown BACKUP_STORE_DRIVER %q", c.Remote.Driver)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("BACKUP_REMOTE_TIMEOUT must not be negative")
	}
	if c.Backup.DumpTimeout < 0 {
		return fmt.Errorf("BACKUP_DUMP_TIMEOUT must not be negative")
	}
	if c.Backup.ArtifactPrefix == "" {
		return fmt.Errorf("BACKUP_ARTIFACT_PREFIX must not be empty")
	}
	if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
		return fmt.Errorf("invalid BACKUP_CRON_SCHEDULE %q: %w", c.Backup.Schedule, err)
	}
	return nil
}

func (c *Config) Destination() domain.Destination {
	return domain.Destination{Remote: c.Remote.Name, Dir: c.Remote.Dir}
}

func (c *Config) RetentionPolicy() domain.RetentionPolicy {
	return domain.RetentionPolicy{Keep: c.Remote.RetentionCount}
}

func (c *Config) TelegramEnabled() bool {
	return c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID != ""
}
