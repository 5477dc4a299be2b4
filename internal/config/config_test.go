package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.NewsAPI.Groups) != 2 {
		t.Errorf("expected 2 source groups, got %d", len(cfg.Sources.NewsAPI.Groups))
	}
	if len(cfg.Sources.NewsAPI.Categories) != 7 {
		t.Errorf("expected 7 categories, got %d", len(cfg.Sources.NewsAPI.Categories))
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected storage backend 'sqlite', got %q", cfg.Storage.Backend)
	}
	if cfg.CacheTTL() != time.Hour {
		t.Errorf("expected 1h cache TTL, got %v", cfg.CacheTTL())
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.TrimFor("le monde") != 2085 {
		t.Errorf("expected Le Monde trim 2085, got %d", cfg.TrimFor("le monde"))
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
summarization:
  provider: openai
cache:
  backend: redis
  redis_url: redis://localhost:6379/0
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Summarization.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Summarization.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Summarization.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Summarization.OllamaURL)
	}
	if len(cfg.Filter.VideoKeywords) != 6 {
		t.Errorf("expected default video keywords, got %v", cfg.Filter.VideoKeywords)
	}
	if cfg.Cache.TTLSeconds != 3600 {
		t.Errorf("expected default ttl 3600, got %d", cfg.Cache.TTLSeconds)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDataDir() == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Storage.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestRedisURLPrefersEnv(t *testing.T) {
	cfg := Default()
	cfg.Cache.RedisURL = "redis://file:6379"
	t.Setenv("KV_URL", "redis://env:6379")
	if got := cfg.RedisURL(); got != "redis://env:6379" {
		t.Errorf("expected env redis url, got %q", got)
	}
}

func TestLogLevel(t *testing.T) {
	cfg := &Config{Logging: Logging{Level: "debug"}}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel())
	}
	cfg.Logging.Level = "bogus"
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info fallback, got %v", cfg.LogLevel())
	}
}
