package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources       Sources       `yaml:"sources"`
	Filter        Filter        `yaml:"filter"`
	Scraper       Scraper       `yaml:"scraper"`
	Summarization Summarization `yaml:"summarization"`
	Storage       Storage       `yaml:"storage"`
	Cache         Cache         `yaml:"cache"`
	Chatbot       Chatbot       `yaml:"chatbot"`
	TTS           TTS           `yaml:"tts"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Sources struct {
	Feeds   []Feed        `yaml:"feeds"`
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	DaysBack  int    `yaml:"days_back"`
	PageSize  int    `yaml:"page_size"`
	// Groups drive the ingest path (/v2/everything), one request per group.
	Groups []SourceGroup `yaml:"groups"`
	// Categories drive the loader path (/v2/top-headlines).
	Categories        []string `yaml:"categories"`
	Country           string   `yaml:"country"`
	HeadlinesLanguage string   `yaml:"headlines_language"`
}

type SourceGroup struct {
	Language string   `yaml:"language"`
	Sources  []string `yaml:"sources"`
	Query    string   `yaml:"query"`
}

type Filter struct {
	VideoKeywords      []string `yaml:"video_keywords"`
	HeadTimeoutSeconds int      `yaml:"head_timeout_seconds"`
}

type Scraper struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	Trims          []Trim `yaml:"trims"`
}

// Trim drops a fixed-length boilerplate prefix from articles of one source.
type Trim struct {
	Source string `yaml:"source"`
	Chars  int    `yaml:"chars"`
}

type Summarization struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	OllamaURL           string `yaml:"ollama_url"`
	OpenAIModel         string `yaml:"openai_model"`
	APIKeyEnv           string `yaml:"api_key_env"`
	MaxTokens           int    `yaml:"max_tokens"`
	ExtractiveSentences int    `yaml:"extractive_sentences"`
	RemoteURL           string `yaml:"remote_url"`
}

type Storage struct {
	Backend         string `yaml:"backend"`
	DataDir         string `yaml:"data_dir"`
	MongoURIEnv     string `yaml:"mongo_uri_env"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

type Cache struct {
	Backend     string `yaml:"backend"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
	RedisURL    string `yaml:"redis_url"`
	RedisURLEnv string `yaml:"redis_url_env"`
	KeyPrefix   string `yaml:"key_prefix"`
}

type Chatbot struct {
	BackendURL     string `yaml:"backend_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxHistory     int    `yaml:"max_history"`
	BackendPort    int    `yaml:"backend_port"`
}

type TTS struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	Voice     string `yaml:"voice"`
	Language  string `yaml:"language"`
	APIKeyEnv string `yaml:"api_key_env"`
	CacheSize int    `yaml:"cache_size"`
}

type Pipeline struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for newscontinent.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newscontinent")
}

// DataDir returns the XDG data directory for newscontinent.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newscontinent")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/newscontinent/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newscontinent init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			NewsAPI: NewsAPIConfig{
				Enabled:           true,
				APIKeyEnv:         "NEWSAPI_KEY",
				BaseURL:           "https://newsapi.org",
				DaysBack:          7,
				PageSize:          100,
				Country:           "us",
				HeadlinesLanguage: "en",
			},
		},
		Filter: Filter{
			VideoKeywords:      []string{"video", "watch", "stream", "youtube", "vimeo", "sound"},
			HeadTimeoutSeconds: 5,
		},
		Scraper: Scraper{
			TimeoutSeconds: 15,
			UserAgent:      "NewsContinent/1.0 (news aggregator)",
		},
		Summarization: Summarization{
			Provider:            "ollama",
			Model:               "qwen2.5:7b",
			OllamaURL:           "http://localhost:11434",
			OpenAIModel:         "gpt-4o-mini",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxTokens:           512,
			ExtractiveSentences: 3,
			RemoteURL:           "http://localhost:8001",
		},
		Storage: Storage{
			Backend:         "sqlite",
			MongoURIEnv:     "MONGO_URI",
			MongoURI:        "mongodb://localhost:27017",
			MongoDatabase:   "The_News_Continent_DB",
			MongoCollection: "TheNewsContinent_article",
		},
		Cache: Cache{
			Backend:     "memory",
			TTLSeconds:  3600,
			RedisURLEnv: "KV_URL",
			KeyPrefix:   "newscontinent",
		},
		Chatbot: Chatbot{
			BackendURL:     "http://localhost:8001",
			TimeoutSeconds: 60,
			BackendPort:    8001,
		},
		TTS: TTS{
			Enabled:   true,
			Model:     "gpt-4o-mini-tts",
			Voice:     "alloy",
			Language:  "fr",
			APIKeyEnv: "OPENAI_API_KEY",
			CacheSize: 100,
		},
		Pipeline: Pipeline{Workers: 4, MaxAttempts: 3},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO", Format: "text"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// MongoURI returns the MongoDB connection string, preferring the environment.
func (c *Config) MongoURI() string {
	if c.Storage.MongoURIEnv != "" {
		if v := os.Getenv(c.Storage.MongoURIEnv); v != "" {
			return v
		}
	}
	return c.Storage.MongoURI
}

// RedisURL returns the Redis URL, preferring the environment. Empty means
// no Redis is configured.
func (c *Config) RedisURL() string {
	if c.Cache.RedisURLEnv != "" {
		if v := os.Getenv(c.Cache.RedisURLEnv); v != "" {
			return v
		}
	}
	return c.Cache.RedisURL
}

// CacheTTL returns the reader snapshot lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// TrimFor returns the prefix length to strip for the given source name.
func (c *Config) TrimFor(source string) int {
	for _, t := range c.Scraper.Trims {
		if strings.EqualFold(t.Source, source) {
			return t.Chars
		}
	}
	return 0
}

// LogLevel maps the configured level name to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
