package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int                `json:"port"`
	Database      DatabaseConfig     `json:"database"`
	Mail          MailConfig         `json:"mail"`
	Distribution  DistributionConfig `json:"distribution"`
	Dispatch      DispatchConfig     `json:"dispatch"`
	Audit         AuditConfig        `json:"audit"`
	FileStore     FileStoreConfig    `json:"file_store"`
	CORSAllowlist []string           `json:"cors_allowlist"`
	LogConfig     logger.LogConfig   `json:"log_config"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	Path     string `json:"path"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

type DistributionConfig struct {
	BatchSize            int    `json:"batch_size"`
	BatchDelaySeconds    int    `json:"batch_delay_seconds"`
	CatchUpSpec          string `json:"catch_up_spec"`
	Timezone             string `json:"timezone"`
	VoterCacheSize       int    `json:"voter_cache_size"`
	VoterCacheTTLSeconds int    `json:"voter_cache_ttl_seconds"`
	ResendWindowSeconds  int    `json:"resend_window_seconds"`
}

type DispatchConfig struct {
	MaxAttempts      int `json:"max_attempts"`
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
}

type AuditConfig struct {
	BufferSize       int    `json:"buffer_size"`
	ArchiveSpec      string `json:"archive_spec"`
	ArchiveAfterDays int    `json:"archive_after_days"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (c DistributionConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelaySeconds) * time.Second
}

func (c DistributionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c DispatchConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

func (c DispatchConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// LoadEnvFile populates the process environment from a dotenv file. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EVOTE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("EVOTE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("EVOTE_MAIL_USERNAME"); v != "" {
		cfg.Mail.Username = v
	}
	if v := os.Getenv("EVOTE_MAIL_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}
}

func normalize(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite")
	}
	if cfg.Mail.Host == "" || cfg.Mail.From == "" {
		return fmt.Errorf("mail.host and mail.from are required")
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = 587
	}
	if cfg.Distribution.BatchSize <= 0 {
		cfg.Distribution.BatchSize = 50
	}
	if cfg.Distribution.BatchDelaySeconds <= 0 {
		cfg.Distribution.BatchDelaySeconds = 60
	}
	if cfg.Distribution.CatchUpSpec == "" {
		cfg.Distribution.CatchUpSpec = "*/15 * * * *"
	}
	if cfg.Distribution.Timezone == "" {
		cfg.Distribution.Timezone = "UTC"
	}
	if _, err := cfg.Distribution.Location(); err != nil {
		return fmt.Errorf("distribution.timezone: %w", err)
	}
	if cfg.Distribution.ResendWindowSeconds <= 0 {
		cfg.Distribution.ResendWindowSeconds = 60
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.InitialBackoffMs <= 0 {
		cfg.Dispatch.InitialBackoffMs = 1000
	}
	if cfg.Dispatch.MaxBackoffMs <= 0 {
		cfg.Dispatch.MaxBackoffMs = 10000
	}
	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = 1024
	}
	if cfg.Audit.ArchiveSpec == "" {
		cfg.Audit.ArchiveSpec = "30 3 * * *"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	return nil
}
