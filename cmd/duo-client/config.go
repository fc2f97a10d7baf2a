package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// clientConfig is the YAML file read at startup.
type clientConfig struct {
	Server       string        `yaml:"server"`
	Username     string        `yaml:"username,omitempty"`
	DataDir      string        `yaml:"data_dir,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
}

func defaultConfig() clientConfig {
	return clientConfig{
		Server:       "http://127.0.0.1:8080",
		PollInterval: 4 * time.Second,
		LogLevel:     "warn",
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "duo-client.yaml"
	}
	return filepath.Join(dir, "duo", "client.yaml")
}

// loadConfig reads path over the defaults. A missing file yields the defaults.
func loadConfig(path string) (clientConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return clientConfig{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return clientConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Server = strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	if cfg.Server == "" {
		return clientConfig{}, errors.New("config: server is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultConfig().PollInterval
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	return cfg, nil
}

// savedSession is the login state kept next to the cursor store.
type savedSession struct {
	Server    string    `yaml:"server"`
	UserID    string    `yaml:"user_id"`
	Username  string    `yaml:"username"`
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

func sessionPath(cfg clientConfig) string { return filepath.Join(cfg.DataDir, "session.yaml") }

func saveSession(cfg clientConfig, s savedSession) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(sessionPath(cfg), data, 0o600)
}

var errNotLoggedIn = errors.New("not logged in: run `duo-client login` first")

func loadSession(cfg clientConfig, now time.Time) (savedSession, error) {
	data, err := os.ReadFile(sessionPath(cfg))
	if errors.Is(err, fs.ErrNotExist) {
		return savedSession{}, errNotLoggedIn
	}
	if err != nil {
		return savedSession{}, err
	}
	var s savedSession
	if err := yaml.Unmarshal(data, &s); err != nil {
		return savedSession{}, fmt.Errorf("parse session: %w", err)
	}
	if s.Token == "" || s.Server != cfg.Server || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)) {
		return savedSession{}, errNotLoggedIn
	}
	return s, nil
}
