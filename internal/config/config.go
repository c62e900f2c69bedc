package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("1s", "250ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.chatfeed/config.toml.
type Config struct {
	DefaultProfile string    `toml:"default_profile"`
	Server         Server    `toml:"server"`
	Generator      Generator `toml:"generator"`
	Client         Client    `toml:"client"`
	Seed           Seed      `toml:"seed"`
}

// Server configures the subscriber listener.
type Server struct {
	Listen string `toml:"listen"`
	// IdleTimeout evicts a subscriber that sends nothing for this long. Zero disables eviction.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// Generator configures the synthetic message source.
type Generator struct {
	MinInterval Duration `toml:"min_interval"`
	MaxInterval Duration `toml:"max_interval"`
}

// Client configures a connection session.
type Client struct {
	URL                  string   `toml:"url"`
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	ReconnectBase        Duration `toml:"reconnect_base"`
	ReconnectCap         Duration `toml:"reconnect_cap"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	// PongTimeout closes a link whose oldest unanswered ping is older than this,
	// checked on each heartbeat. Zero disables the check.
	PongTimeout Duration `toml:"pong_timeout"`
	EventBuffer int      `toml:"event_buffer"`
}

// Seed sizes the sample data written into an empty store.
type Seed struct {
	Chats    int `toml:"chats"`
	Messages int `toml:"messages"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: Server{
			Listen: ":8080",
		},
		Generator: Generator{
			MinInterval: Duration{time.Second},
			MaxInterval: Duration{3 * time.Second},
		},
		Client: Client{
			URL:                  "ws://localhost:8080/ws",
			HeartbeatInterval:    Duration{10 * time.Second},
			ReconnectBase:        Duration{time.Second},
			ReconnectCap:         Duration{30 * time.Second},
			MaxReconnectAttempts: 10,
			EventBuffer:          256,
		},
		Seed: Seed{
			Chats:    200,
			Messages: 20000,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
