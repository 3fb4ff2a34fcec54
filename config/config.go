// Package config loads the YAML configuration shared by the client and the
// reference backend.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Backend BackendConfig `yaml:"backend"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig holds the capture client settings.
type ClientConfig struct {
	Server         string `yaml:"server"` // base URL, http(s) or ws(s)
	Token          string `yaml:"token"`
	Device         string `yaml:"device"` // name substring; empty selects the system default
	MetricsAddress string `yaml:"metrics_address"`
}

// BackendConfig holds the reference transcription server settings.
type BackendConfig struct {
	Address      string           `yaml:"address"`
	Token        string           `yaml:"token"`
	ChunkSeconds float64          `yaml:"chunk_seconds"`
	Recognizer   RecognizerConfig `yaml:"recognizer"`
}

type RecognizerConfig struct {
	Provider string `yaml:"provider"` // echo or openai
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Format   string `yaml:"format"`  // wav or flac
	Timeout  int    `yaml:"timeout"` // seconds
}

type LoggingConfig struct {
	Path string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Server: "http://localhost:8000",
		},
		Backend: BackendConfig{
			Address:      ":8000",
			ChunkSeconds: 2,
			Recognizer: RecognizerConfig{
				Provider: "echo",
				Format:   "wav",
				Timeout:  30,
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with LIVENOTES_SERVER, LIVENOTES_TOKEN,
// LIVENOTES_BACKEND_TOKEN, OPENAI_API_KEY and LIVENOTES_LOG_PATH when set.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.Client.Server, "LIVENOTES_SERVER")
	setFromEnv(&c.Client.Token, "LIVENOTES_TOKEN")
	setFromEnv(&c.Backend.Token, "LIVENOTES_BACKEND_TOKEN")
	setFromEnv(&c.Backend.Recognizer.APIKey, "OPENAI_API_KEY")
	setFromEnv(&c.Logging.Path, "LIVENOTES_LOG_PATH")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server cannot be empty")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("server %q: %w", c.Server, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("server scheme must be http, https, ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server %q has no host", c.Server)
	}
	return nil
}

func (b *BackendConfig) Validate() error {
	if b.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if b.ChunkSeconds <= 0 || b.ChunkSeconds > 30 {
		return fmt.Errorf("chunk_seconds must be in (0, 30], got %v", b.ChunkSeconds)
	}
	if err := b.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer: %w", err)
	}
	return nil
}

func (r *RecognizerConfig) Validate() error {
	switch r.Provider {
	case "echo":
	case "openai":
		switch r.Format {
		case "wav", "flac":
		default:
			return fmt.Errorf("format must be wav or flac, got %q", r.Format)
		}
	default:
		return fmt.Errorf("provider must be echo or openai, got %q", r.Provider)
	}
	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}
	return nil
}

func (r *RecognizerConfig) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
