package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

// Restore modes.
const (
	ModeUpsert  = "upsert"
	ModeReplace = "replace"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	DatabaseURL string `yaml:"databaseURL"`
	Mode        string `yaml:"mode"`

	// Legacy dumps. Paths are local files, or object keys when SourceBucket is set.
	FilesPath    string   `yaml:"filesPath"`
	BackupPaths  []string `yaml:"backupPaths"`
	MessagesPath string   `yaml:"messagesPath"`

	LegacyMongoURI      string `yaml:"legacyMongoURI"`
	LegacyMongoDatabase string `yaml:"legacyMongoDatabase"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	SourceBucket   string `yaml:"sourceBucket"`
	ReportBucket   string `yaml:"reportBucket"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	LockTTLSeconds int    `yaml:"lockTTLSeconds"`

	NotifyURL      string `yaml:"notifyURL"`
	NotifyExchange string `yaml:"notifyExchange"`
	NotifyStream   string `yaml:"notifyStream"`

	TopClaimants    int    `yaml:"topClaimants"`
	DefaultCategory string `yaml:"defaultCategory"`
}

// Load reads config from path (defaults to config.yaml) and validates it for a
// persisting run.
func Load(path string) (FileConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg, true); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read loads YAML and environment overrides without validating, so command-line
// flags can be applied first. A missing default file is not an error: every
// setting can come from the environment.
func Read(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// Validate checks a restore configuration. needDatabase is false for dry runs.
func Validate(cfg FileConfig, needDatabase bool) error {
	if needDatabase {
		if err := ValidateDatabase(cfg); err != nil {
			return err
		}
	}
	return validateConfig(cfg)
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("RESTORE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("RESTORE_FILES_PATH"); v != "" {
		cfg.FilesPath = v
	}
	if v := os.Getenv("RESTORE_BACKUP_PATHS"); v != "" {
		cfg.BackupPaths = splitCSV(v)
	}
	if v := os.Getenv("RESTORE_MESSAGES_PATH"); v != "" {
		cfg.MessagesPath = v
	}
	if v := os.Getenv("LEGACY_MONGODB_URI"); v != "" {
		cfg.LegacyMongoURI = v
	}
	if v := os.Getenv("LEGACY_MONGODB_DATABASE"); v != "" {
		cfg.LegacyMongoDatabase = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("RESTORE_SOURCE_BUCKET"); v != "" {
		cfg.SourceBucket = v
	}
	if v := os.Getenv("RESTORE_REPORT_BUCKET"); v != "" {
		cfg.ReportBucket = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RESTORE_LOCK_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockTTLSeconds = n
		}
	}
	if v := os.Getenv("RESTORE_NOTIFY_URL"); v != "" {
		cfg.NotifyURL = v
	}
	if v := os.Getenv("RESTORE_NOTIFY_EXCHANGE"); v != "" {
		cfg.NotifyExchange = v
	}
	if v := os.Getenv("RESTORE_NOTIFY_STREAM"); v != "" {
		cfg.NotifyStream = v
	}
	if v := os.Getenv("RESTORE_TOP_CLAIMANTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopClaimants = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LockTTLSeconds <= 0 {
		cfg.LockTTLSeconds = 3600
	}
	if cfg.TopClaimants <= 0 {
		cfg.TopClaimants = 5
	}
	if cfg.NotifyURL != "" && cfg.NotifyExchange == "" {
		cfg.NotifyExchange = "otzaria.restore"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Mode == "" {
		return errors.New("config: mode is required (upsert or replace; set in config.yaml, RESTORE_MODE or --mode)")
	}
	if cfg.Mode != ModeUpsert && cfg.Mode != ModeReplace {
		return fmt.Errorf("config: mode %q is invalid (want upsert or replace)", cfg.Mode)
	}
	if cfg.FilesPath == "" && len(cfg.BackupPaths) == 0 && cfg.LegacyMongoURI == "" {
		return errors.New("config: filesPath, backupPaths or legacyMongoURI is required")
	}
	if cfg.SourceBucket != "" || cfg.ReportBucket != "" {
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required when sourceBucket or reportBucket is set")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required when sourceBucket or reportBucket is set")
		}
	}
	if cfg.NotifyURL != "" && cfg.NotifyStream != "" {
		return errors.New("config: set only one of notifyURL and notifyStream")
	}
	if cfg.NotifyStream != "" && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when notifyStream is set")
	}
	return nil
}

// ValidateDatabase checks that a target database is configured.
func ValidateDatabase(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
