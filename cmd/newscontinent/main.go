package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/NewsContinent/internal/chat"
	"github.com/TobiSchelling/NewsContinent/internal/collect"
	"github.com/TobiSchelling/NewsContinent/internal/config"
	"github.com/TobiSchelling/NewsContinent/internal/database"
	"github.com/TobiSchelling/NewsContinent/internal/llm"
	"github.com/TobiSchelling/NewsContinent/internal/pipeline"
	"github.com/TobiSchelling/NewsContinent/internal/reader"
	"github.com/TobiSchelling/NewsContinent/internal/scrape"
	"github.com/TobiSchelling/NewsContinent/internal/server"
	"github.com/TobiSchelling/NewsContinent/internal/summarize"
	"github.com/TobiSchelling/NewsContinent/internal/tts"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newscontinent",
	Short:   "News ingestion and reading service",
	Long:    "NewsContinent collects news articles, scrapes and summarizes them, and serves them with a per-article chatbot.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		_ = godotenv.Load()

		if cmd.Name() == "init" || cmd.Name() == "version" {
			setupLogging(config.Default())
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			if configPath != "" {
				return err
			}
			cfg = config.Default()
			setupLogging(cfg)
			slog.Warn("no config file found, using defaults")
			return nil
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogging(cfg)
		slog.Debug("loaded config", "path", path)
		return nil
	},
}

func setupLogging(c *config.Config) {
	level := c.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: verbose}

	var h slog.Handler
	if c.Logging.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backendCmd)
	rootCmd.AddCommand(askCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newscontinent", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newscontinent/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, API keys, storage, and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show article store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Storage: %s\n\n", cfg.Storage.Backend)
		fmt.Println("Articles:")
		fmt.Printf("  Total stored: %d\n", stats.TotalArticles)
		fmt.Printf("  Summarized: %d\n", stats.SummarizedArticles)

		if len(stats.ByLanguage) > 0 {
			fmt.Println("\nBy language:")
			langs := make([]string, 0, len(stats.ByLanguage))
			for l := range stats.ByLanguage {
				langs = append(langs, l)
			}
			sort.Strings(langs)
			for _, l := range langs {
				name := l
				if name == "" {
					name = "(unknown)"
				}
				fmt.Printf("  %s: %d\n", name, stats.ByLanguage[l])
			}
		}
		return nil
	},
}

// --- ingest command ---

var (
	dryRun   bool
	daysBack int
	fromDate string
	toDate   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the pipeline: fetch -> filter -> scrape -> summarize -> persist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := resolveWindow(time.Now())
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pipe := pipeline.New(cfg, store, newSummarizer())

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(ctx, w)
		} else {
			result = pipe.Run(ctx, w)
		}
		printSteps(result)
		return result.Err()
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and filter only; store nothing")
	ingestCmd.Flags().IntVar(&daysBack, "days-back", 0, "Override lookback window (days)")
	ingestCmd.Flags().StringVar(&fromDate, "from", "", "Start date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&toDate, "to", "", "End date (YYYY-MM-DD)")
}

// resolveWindow applies --from/--to, then --days-back, then the configured
// lookback.
func resolveWindow(now time.Time) (collect.Window, error) {
	days := cfg.Sources.NewsAPI.DaysBack
	if daysBack > 0 {
		days = daysBack
	}
	w := collect.LastDays(now, days)

	if fromDate != "" {
		t, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return w, fmt.Errorf("invalid --from date %q: %w", fromDate, err)
		}
		w.From = t
	}
	if toDate != "" {
		t, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return w, fmt.Errorf("invalid --to date %q: %w", toDate, err)
		}
		w.To = t
	}
	if w.To.Before(w.From) {
		return w, fmt.Errorf("window ends before it starts")
	}
	return w, nil
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- load command ---

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load current top headlines, updating articles already stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		result := pipeline.New(cfg, store, newSummarizer()).Load(ctx)
		printSteps(result)
		return result.Err()
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reader web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		deps, closeCache, err := readerDeps(ctx, store)
		if err != nil {
			return err
		}
		defer closeCache()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, deps, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// readerDeps wires the reader, chat state, and speech synthesis to the
// configured cache backend.
func readerDeps(ctx context.Context, store database.Store) (server.Deps, func(), error) {
	deps := server.Deps{SpeechLang: cfg.TTS.Language}
	closeCache := func() {}

	relayClient := chat.NewClient(cfg.Chatbot.BackendURL, time.Duration(cfg.Chatbot.TimeoutSeconds)*time.Second)
	opts := reader.Options{TTL: cfg.CacheTTL(), KeyPrefix: cfg.Cache.KeyPrefix}

	switch cfg.Cache.Backend {
	case "redis":
		rdb, err := openRedis(ctx)
		if err != nil {
			return deps, closeCache, err
		}
		closeCache = func() { rdb.Close() }
		deps.Reader = reader.New(store, reader.NewRedis(rdb), opts)
		deps.Relay = chat.NewRelay(relayClient, chat.NewRedisLog(rdb, cfg.Chatbot.MaxHistory, cfg.CacheTTL()))
		deps.Selections = chat.NewRedisSelections(rdb, cfg.CacheTTL())
	case "memory", "":
		deps.Reader = reader.New(store, reader.NewMemory(nil), opts)
		deps.Relay = chat.NewRelay(relayClient, chat.NewMemoryLog(cfg.Chatbot.MaxHistory, cfg.CacheTTL()))
		deps.Selections = chat.NewMemorySelections(cfg.CacheTTL())
	default:
		return deps, closeCache, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	if cfg.TTS.Enabled {
		speaker := tts.NewOpenAISpeaker(cfg.TTS.Model, cfg.TTS.Voice, cfg.TTS.APIKeyEnv)
		if speaker.IsConfigured() {
			cached, err := tts.NewCached(speaker, cfg.TTS.CacheSize)
			if err != nil {
				return deps, closeCache, err
			}
			deps.Speaker = cached
		} else {
			slog.Warn("text-to-speech enabled but no API key configured", "env", cfg.TTS.APIKeyEnv)
		}
	}
	return deps, closeCache, nil
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	url := cfg.RedisURL()
	if url == "" {
		return nil, fmt.Errorf("cache backend is redis but no redis URL is configured (set %s)", cfg.Cache.RedisURLEnv)
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// --- chatbot-backend command ---

var backendPort int

var backendCmd = &cobra.Command{
	Use:   "chatbot-backend",
	Short: "Serve the question-answering and summarization backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := cfg.Summarization
		provider := llm.CreateProvider(s.Provider, s.Model, s.OllamaURL, s.OpenAIModel, s.APIKeyEnv)
		backend := chat.NewBackend(provider, summarize.NewLocal(provider, s.ExtractiveSentences, s.MaxTokens), s.MaxTokens)

		port := backendPort
		if port == 0 {
			port = cfg.Chatbot.BackendPort
		}
		return backend.Serve(ctx, port)
	},
}

func init() {
	backendCmd.Flags().IntVarP(&backendPort, "port", "p", 0, "Port to run the backend on (default from config)")
}

// --- ask command ---

var askCmd = &cobra.Command{
	Use:   "ask [url] [question]",
	Short: "Scrape an article and ask the chatbot backend about it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sc := scrape.New(scrape.Options{
			Timeout:   time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
			UserAgent: cfg.Scraper.UserAgent,
		})
		res := sc.Scrape(ctx, args[0])
		if res.Content == "" {
			return fmt.Errorf("scraping %s: %s", args[0], res.Message)
		}

		client := chat.NewClient(cfg.Chatbot.BackendURL, time.Duration(cfg.Chatbot.TimeoutSeconds)*time.Second)
		fmt.Println(client.Ask(ctx, res.Content, args[1]))
		return nil
	},
}

func newSummarizer() summarize.Summarizer {
	s := cfg.Summarization
	return summarize.New(summarize.Options{
		Provider:            s.Provider,
		Model:               s.Model,
		OllamaURL:           s.OllamaURL,
		OpenAIModel:         s.OpenAIModel,
		APIKeyEnv:           s.APIKeyEnv,
		MaxTokens:           s.MaxTokens,
		ExtractiveSentences: s.ExtractiveSentences,
		RemoteURL:           s.RemoteURL,
	})
}

func openStore(ctx context.Context) (database.Store, error) {
	switch cfg.Storage.Backend {
	case "mongo", "mongodb":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return database.OpenMongo(connectCtx, cfg.MongoURI(), cfg.Storage.MongoDatabase, cfg.Storage.MongoCollection)
	case "sqlite", "":
		dataDir := cfg.GetDataDir()
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return database.Open(filepath.Join(dataDir, "newscontinent.db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
