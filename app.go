package main

import (
	"net/http"
	"time"

	"github.com/llamaedge/nexus-gateway/internal/config"
	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/memory"
	"github.com/llamaedge/nexus-gateway/internal/orchestrator"
	"github.com/llamaedge/nexus-gateway/internal/registry"
	"github.com/llamaedge/nexus-gateway/internal/retrieval"
	"github.com/llamaedge/nexus-gateway/internal/toolpool"
)

// App bundles every wired subsystem the HTTP handlers need, grounded on the
// teacher's routes.go convention of threading a single *Config through every
// registerXEndpoints function — generalized here to a richer dependency
// bundle since the gateway's handlers need more than configuration.
type App struct {
	Config *config.Config

	Registry   *registry.Registry
	Catalog    *registry.ModelCatalog
	Pool       *toolpool.Pool
	Memory     *memory.Manager
	Retrieval  *retrieval.Engine
	Downstream *downstream.Client

	Orchestrator *orchestrator.Orchestrator

	// DefaultVectorServer/DefaultKeywordServer name the tool servers used for
	// retrieval on every chat request that carries retrieval extensions,
	// detected from the configured tool servers' names (main.go's
	// firstSearchServers); a request cannot select a different server.
	DefaultVectorServer  string
	DefaultKeywordServer string

	// ProxyClient is shared by the passthrough endpoints (embeddings, audio,
	// images), mirroring the teacher's completions.go's one-client-per-handler
	// idiom generalized to a single shared client.
	ProxyClient *http.Client
}

func newApp(cfg *config.Config, reg *registry.Registry, catalog *registry.ModelCatalog, pool *toolpool.Pool, mgr *memory.Manager, engine *retrieval.Engine, defaultVectorServer, defaultKeywordServer string) *App {
	client := downstream.NewClient()

	orch := &orchestrator.Orchestrator{
		Registry:      reg,
		Pool:          pool,
		Memory:        mgr,
		Downstream:    client,
		Retrieval:     engine,
		MaxReactSteps: cfg.React.MaxSteps,
		ChunkSize:     10,
	}

	return &App{
		Config:               cfg,
		Registry:             reg,
		Catalog:              catalog,
		Pool:                 pool,
		Memory:               mgr,
		Retrieval:            engine,
		Downstream:           client,
		Orchestrator:         orch,
		DefaultVectorServer:  defaultVectorServer,
		DefaultKeywordServer: defaultKeywordServer,
		ProxyClient:          &http.Client{Timeout: 300 * time.Second},
	}
}
