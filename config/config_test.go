package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livenotes.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.Server != "http://localhost:8000" {
		t.Errorf("server = %q", cfg.Client.Server)
	}
	if cfg.Backend.ChunkSeconds != 2 {
		t.Errorf("chunk_seconds = %v, want 2", cfg.Backend.ChunkSeconds)
	}
	if cfg.Backend.Recognizer.Provider != "echo" {
		t.Errorf("provider = %q", cfg.Backend.Recognizer.Provider)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
client:
  server: https://notes.example.com
  device: usb
backend:
  address: 127.0.0.1:9000
  recognizer:
    provider: openai
    api_key: sk-file
    format: flac
    model: whisper-large
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.Server != "https://notes.example.com" || cfg.Client.Device != "usb" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Backend.Address != "127.0.0.1:9000" {
		t.Errorf("address = %q", cfg.Backend.Address)
	}
	r := cfg.Backend.Recognizer
	if r.Provider != "openai" || r.Format != "flac" || r.Model != "whisper-large" {
		t.Errorf("recognizer = %+v", r)
	}
	if r.Timeout != 30 {
		t.Errorf("timeout default lost: %d", r.Timeout)
	}
	if cfg.Backend.ChunkSeconds != 2 {
		t.Errorf("chunk_seconds default lost: %v", cfg.Backend.ChunkSeconds)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
client:
  server: http://file:8000
  token: from-file
`)
	t.Setenv("LIVENOTES_SERVER", "https://env.example.com")
	t.Setenv("LIVENOTES_TOKEN", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("LIVENOTES_LOG_PATH", "/tmp/livenotes-logs")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.Server != "https://env.example.com" || cfg.Client.Token != "from-env" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Backend.Recognizer.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.Backend.Recognizer.APIKey)
	}
	if cfg.Logging.Path != "/tmp/livenotes-logs" {
		t.Errorf("log path = %q", cfg.Logging.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "client: [unterminated")); err == nil {
		t.Error("invalid yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty server", func(c *Config) { c.Client.Server = "" }, "server cannot be empty"},
		{"bad scheme", func(c *Config) { c.Client.Server = "ftp://x" }, "server scheme"},
		{"no host", func(c *Config) { c.Client.Server = "http://" }, "has no host"},
		{"zero chunk", func(c *Config) { c.Backend.ChunkSeconds = 0 }, "chunk_seconds"},
		{"unknown provider", func(c *Config) { c.Backend.Recognizer.Provider = "vosk" }, "provider must be"},
		{"bad format", func(c *Config) {
			c.Backend.Recognizer.Provider = "openai"
			c.Backend.Recognizer.Format = "mp3"
		}, "format must be"},
		{"zero timeout", func(c *Config) { c.Backend.Recognizer.Timeout = 0 }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("err = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}
