package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/config"
	"github.com/llamaedge/nexus-gateway/internal/memory"
	"github.com/llamaedge/nexus-gateway/internal/observability"
	"github.com/llamaedge/nexus-gateway/internal/registry"
	"github.com/llamaedge/nexus-gateway/internal/retrieval"
	"github.com/llamaedge/nexus-gateway/internal/toolpool"
)

// main wires up the gateway process: load environment and configuration,
// initialize logging, connect durable storage, build the subsystem bundle,
// and start serving. Grounded on the teacher's cmd/agentd/main.go startup
// sequence (.env first, then config, then the logger it configures, then
// everything that needs them).
func main() {
	configPath := flag.String("config", os.Getenv("NEXUS_CONFIG"), "path to the gateway's YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Logging.Path, cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize memory store")
	}

	summarizer := buildSummarizer(cfg)
	mgr := memory.NewManager(store, summarizer, memory.Options{
		Enabled:             cfg.Memory.Enabled,
		MaxContextTokens:    cfg.Memory.MaxContextTokens,
		MaxWorkingMessages:  cfg.Memory.MaxWorkingMessages,
		AutoSummarize:       cfg.Memory.AutoSummarize,
		SummarizeThreshold:  cfg.Memory.SummarizeThreshold,
		SummaryTriggerRatio: cfg.Memory.SummaryTriggerRatio,
		KeepRecentMessages:  cfg.Memory.KeepRecentMessages,
	})

	modelCatalog := registry.NewModelCatalog(cfg.Redis.URL)
	reg := registry.New(registry.NewCatalog(modelCatalog))

	pool := toolpool.New()
	pool.RegisterFromConfig(ctx, cfg.ToolServers)
	defer pool.Close()

	vectorServer, keywordServer := firstSearchServers(cfg.ToolServers)
	engine := &retrieval.Engine{
		Pool:             pool,
		HTTP:             &http.Client{Timeout: 30 * time.Second},
		EmbeddingsHost:   cfg.Embeddings.Host,
		EmbeddingsAPIKey: cfg.Embeddings.APIKey,
		EmbedPrefix:      cfg.Embeddings.EmbedPrefix,
		SearchPrefix:     cfg.Embeddings.SearchPrefix,
	}

	app := newApp(cfg, reg, modelCatalog, pool, mgr, engine, vectorServer, keywordServer)
	engine.Downstream = app.Downstream

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware())
	e.Use(requestLoggerMiddleware())

	registerRoutes(e, app)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	pterm.Info.Printf("nexus-gateway listening on %s (mode=%s)\n", addr, cfg.Mode)

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

// buildStore connects to Postgres when a connection string is configured,
// else falls back to the in-process store (useful for local development
// and the demo/no-database deployment path).
func buildStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.Database.ConnectionString == "" {
		log.Warn().Msg("no database configured, conversation memory will not survive a restart")
		return memory.NewMemoryStore(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	store := memory.NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

// buildSummarizer returns an LLM-backed summarizer when a completions
// endpoint is configured, else a deterministic stub (no external call).
func buildSummarizer(cfg *config.Config) memory.Summarizer {
	if cfg.Completions.DefaultHost == "" {
		return memory.StubSummarizer{}
	}
	return &memory.LLMSummarizer{
		Endpoint: cfg.Completions.DefaultHost,
		APIKey:   cfg.Completions.APIKey,
		Model:    cfg.Completions.CompletionsModel,
	}
}

// firstSearchServers returns the names of the first configured vector- and
// keyword-style search tool servers, used for every chat request that
// carries retrieval extensions (a request cannot name another). Detection is name-based since the
// tool server config only carries a generic search Role, not a modality.
func firstSearchServers(servers []config.ToolServerConfig) (vector, keyword string) {
	for _, s := range servers {
		if s.Role != "search" {
			continue
		}
		switch {
		case vector == "" && (contains(s.Name, "vdb") || contains(s.Name, "vector") || contains(s.Name, "qdrant")):
			vector = s.Name
		case keyword == "" && (contains(s.Name, "kw") || contains(s.Name, "tidb") || contains(s.Name, "elastic")):
			keyword = s.Name
		}
	}
	return vector, keyword
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
