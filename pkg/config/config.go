package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"parchment/pkg/words"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the root of the YAML configuration.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Server  ServerConfig  `yaml:"http-server"`
	Storage StorageConfig `yaml:"storage"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port                int `yaml:"port"`
	ReadHeaderTimeoutMs int `yaml:"read_header_timeout_ms"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	Backend       string `yaml:"backend"`
	CacheCapacity int    `yaml:"cache_capacity"`
	WaitTimeoutMs int    `yaml:"wait_timeout_ms"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:                8080,
			ReadHeaderTimeoutMs: 5000,
		},
		Storage: StorageConfig{
			Path:          "./data",
			Backend:       string(words.BackendMapped),
			CacheCapacity: 1024,
		},
	}
}

// Load reads the YAML file at path on top of Default. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.Logger.Level); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: http-server.port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ReadHeaderTimeoutMs < 0 {
		return fmt.Errorf("%w: http-server.read_header_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalidConfig)
	}
	if _, err := words.ParseBackend(c.Storage.Backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Storage.CacheCapacity < 0 {
		return fmt.Errorf("%w: storage.cache_capacity must not be negative", ErrInvalidConfig)
	}
	if c.Storage.WaitTimeoutMs < 0 {
		return fmt.Errorf("%w: storage.wait_timeout_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ParseLevel accepts DEBUG, INFO, WARN or ERROR in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: logger.level %q", ErrInvalidConfig, s)
	}
}

func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutMs) * time.Millisecond
}

func (s StorageConfig) WaitTimeout() time.Duration {
	return time.Duration(s.WaitTimeoutMs) * time.Millisecond
}
