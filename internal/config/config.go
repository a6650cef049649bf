// Package config loads the bridge configuration from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/remote-agent-terminal/ipmbridge/internal/buffer"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/relay"
)

// DefaultPath is the config file used when IPMBRIDGE_CONFIG is unset.
const DefaultPath = "ipmbridge.toml"

// Config is the bridge configuration.
type Config struct {
	Listen           string        `toml:"listen"`
	DBPath           string        `toml:"db_path"`
	LogDir           string        `toml:"log_dir"`
	PlaceholderDelay time.Duration `toml:"placeholder_delay"`
	ScrollInterval   time.Duration `toml:"scroll_interval"`
	TranscriptSize   int           `toml:"transcript_size"`
	Servers          []Server      `toml:"servers"`
}

// Server is a named server definition.
type Server struct {
	Name       string `toml:"name"`
	Scheme     string `toml:"scheme"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	PathPrefix string `toml:"path_prefix"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
}

// Target returns the server's web endpoint.
func (s Server) Target() model.Target {
	return model.Target{
		Name:       s.Name,
		Scheme:     s.Scheme,
		Host:       s.Host,
		Port:       s.Port,
		PathPrefix: s.PathPrefix,
	}
}

// Credentials returns the server's login.
func (s Server) Credentials() model.Credentials {
	return model.Credentials{Username: s.Username, Password: s.Password}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		DBPath:           "data/sessions.db",
		LogDir:           "data/logs",
		PlaceholderDelay: relay.DefaultPlaceholderDelay,
		ScrollInterval:   relay.DefaultScrollInterval,
		TranscriptSize:   buffer.DefaultTranscriptSize,
	}
}

// Path returns the config file location.
func Path() string {
	return getEnv("IPMBRIDGE_CONFIG", DefaultPath)
}

// Load reads the config file at path over the defaults and applies the
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := getEnv("PORT", ""); port != "" {
		c.Listen = ":" + port
	}
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
}

// Validate checks the server definitions and tuning values.
func (c *Config) Validate() error {
	if c.PlaceholderDelay <= 0 || c.ScrollInterval <= 0 {
		return fmt.Errorf("placeholder_delay and scroll_interval must be positive")
	}
	if c.TranscriptSize <= 0 {
		return fmt.Errorf("transcript_size must be positive")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("server entry %d missing name", i)
		}
		if strings.Contains(s.Name, ":") {
			return fmt.Errorf("server name %q must not contain ':'", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server %q", s.Name)
		}
		seen[s.Name] = true

		if s.Host == "" || s.Port <= 0 {
			return fmt.Errorf("server %q needs host and port", s.Name)
		}
		switch s.Scheme {
		case "", "http", "https":
		default:
			return fmt.Errorf("server %q has unsupported scheme %q", s.Name, s.Scheme)
		}
	}
	return nil
}

// Server returns the server definition called name.
func (c *Config) Server(name string) (Server, error) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, nil
		}
	}
	return Server{}, fmt.Errorf("%w: %s", model.ErrServerNotFound, name)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
