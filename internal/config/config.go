package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the portal.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Remote      RemoteConfig              `json:"remote"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Speech      SpeechConfig              `json:"speech"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	SessionSecret     string `json:"session_secret"`
	SessionTTLHours   int    `json:"session_ttl_hours"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleMinutes int    `json:"worker_idle_minutes"`
	FileBaseDir       string `json:"file_base_dir"`
	TempFileTTLMins   int    `json:"temp_file_ttl_minutes"`
	CleanIntervalMins int    `json:"clean_interval_minutes"`
}

// RemoteConfig points at the account/chat/upload service.
type RemoteConfig struct {
	AuthBase       string `json:"auth_base"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SpeechConfig struct {
	Enabled         bool   `json:"enabled"`
	LanguageCode    string `json:"language_code"`
	CredentialsFile string `json:"credentials_file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8090",
			SessionTTLHours:   24 * 7,
			MinWorkers:        2,
			MaxWorkers:        16,
			QueueSize:         256,
			WorkerIdleMinutes: 5,
			FileBaseDir:       "uploads",
			TempFileTTLMins:   60,
			CleanIntervalMins: 10,
		},
		Remote: RemoteConfig{
			AuthBase:       "http://localhost:8000/api/accounts",
			TimeoutSeconds: 60,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "data/legalease.db"},
		},
		Speech: SpeechConfig{LanguageCode: "en-US"},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file falls back to Default; an explicit path must exist.
// Values from .env and the process environment override the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)

	if strings.TrimSpace(cfg.Remote.AuthBase) == "" {
		return nil, fmt.Errorf("remote.auth_base must be configured")
	}
	if cfg.BasicConfig.SessionSecret == "" {
		return nil, fmt.Errorf("basic_config.session_secret must be configured")
	}

	baseDir := filepath.Dir(absPath)
	if sqlite, ok := cfg.Databases["sqlite3"]; ok && isRelativeFile(sqlite.DSN) {
		sqlite.DSN = filepath.Join(baseDir, sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}
	if cfg.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(baseDir, cfg.BasicConfig.FileBaseDir)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEGALEASE_AUTH_BASE"); v != "" {
		cfg.Remote.AuthBase = v
	}
	if v := os.Getenv("LEGALEASE_ADDR"); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("LEGALEASE_SESSION_SECRET"); v != "" {
		cfg.BasicConfig.SessionSecret = v
	}
	if v := os.Getenv("LEGALEASE_REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		cfg.Redis.Enabled = true
		cfg.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Redis.Port = p
			}
		}
	}
}

func isRelativeFile(dsn string) bool {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}

// RequestTimeout bounds every call to the remote service.
func (c *Config) RequestTimeout() time.Duration {
	if c.Remote.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	if c.BasicConfig.SessionTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.BasicConfig.SessionTTLHours) * time.Hour
}

func (c *Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.BasicConfig.WorkerIdleMinutes) * time.Minute
}

func (c *Config) TempFileTTL() time.Duration {
	return time.Duration(c.BasicConfig.TempFileTTLMins) * time.Minute
}

func (c *Config) CleanInterval() time.Duration {
	if c.BasicConfig.CleanIntervalMins <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.BasicConfig.CleanIntervalMins) * time.Minute
}
