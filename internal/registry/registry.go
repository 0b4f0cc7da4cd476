// Package registry implements the downstream server registry (spec §4.A):
// a capability-indexed, round-robin-picked set of dynamically registered
// model servers. Grounded on the teacher's internal/mcpclient/pool.go
// reader-preferring-lock idiom, generalized from MCP sessions to chat/
// embeddings/image/audio servers.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
)

// Capability is a downstream server's advertised function.
type Capability string

const (
	CapChat        Capability = "chat"
	CapEmbeddings  Capability = "embeddings"
	CapImage       Capability = "image"
	CapTTS         Capability = "tts"
	CapTranscribe  Capability = "transcribe"
	CapTranslate   Capability = "translate"
)

// Health tracks liveness of a registered server. Mutation is the job of an
// external probe (out of scope here); the registry only stores the result.
type Health struct {
	Healthy   bool
	LastCheck time.Time
}

// Server is a registered downstream model server.
type Server struct {
	ID     string
	URL    string
	APIKey string
	Kinds  map[Capability]struct{}
	Health Health
}

// HasCapability reports whether the server advertises kind.
func (s *Server) HasCapability(kind Capability) bool {
	_, ok := s.Kinds[kind]
	return ok
}

// ErrNoServerAvailable is returned by Pick when no registered server
// advertises the requested capability.
var ErrNoServerAvailable = gatewayerr.New(gatewayerr.NoServerAvailable, "no registered server available for this capability")

// capState tracks the round-robin cursor for one capability.
type capState struct {
	servers []*Server
	next    int
}

// Registry holds the fleet of registered downstream servers, indexed by
// capability, with a round-robin picker per capability. A reader-preferring
// RWMutex protects it: registration/unregistration happens rarely (admin
// endpoints), lookups happen on every chat/embeddings/image/audio request.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*Server
	byKind  map[Capability]*capState

	refresher CatalogRefresher
}

// CatalogRefresher refreshes a server's model catalog; a Refresh error makes
// Register reject the server. Implemented by internal/registry.Catalog
// (vendor SDK call to the server's models endpoint). Declared capabilities
// are not checked against the server's models.
type CatalogRefresher interface {
	Refresh(ctx context.Context, s *Server) error
	Drop(serverID string)
}

// New creates an empty registry. refresher may be nil, in which case
// Register skips the catalog refresh (useful in tests).
func New(refresher CatalogRefresher) *Registry {
	return &Registry{
		servers:   make(map[string]*Server),
		byKind:    make(map[Capability]*capState),
		refresher: refresher,
	}
}

// Register refreshes the server's model catalog (via the catalog refresher,
// if configured), then adds it to the registry. A failed refresh rejects the
// server; the declared capabilities are taken as given and not validated.
func (r *Registry) Register(ctx context.Context, s *Server) (*Server, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if r.refresher != nil {
		if err := r.refresher.Refresh(ctx, s); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "registering server %s: catalog refresh failed", s.ID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.servers[s.ID] = s
	for kind := range s.Kinds {
		state := r.byKind[kind]
		if state == nil {
			state = &capState{}
			r.byKind[kind] = state
		}
		state.servers = append(state.servers, s)
	}

	log.Info().Str("server_id", s.ID).Str("url", s.URL).Msg("registry_server_registered")
	return s, nil
}

// Unregister removes the server, silently succeeding if it is already absent.
func (r *Registry) Unregister(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[serverID]
	if !ok {
		return
	}
	delete(r.servers, serverID)

	for kind := range s.Kinds {
		state := r.byKind[kind]
		if state == nil {
			continue
		}
		filtered := state.servers[:0]
		for _, cand := range state.servers {
			if cand.ID != serverID {
				filtered = append(filtered, cand)
			}
		}
		state.servers = filtered
		if state.next >= len(state.servers) {
			state.next = 0
		}
	}

	if r.refresher != nil {
		r.refresher.Drop(serverID)
	}

	log.Info().Str("server_id", serverID).Msg("registry_server_unregistered")
}

// Pick returns the next server (round-robin) advertising kind, skipping
// servers known to be unhealthy. Returns ErrNoServerAvailable only if no
// server advertises kind; if every such server is unhealthy, it returns the
// first one.
func (r *Registry) Pick(kind Capability) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.byKind[kind]
	if state == nil || len(state.servers) == 0 {
		return nil, ErrNoServerAvailable
	}

	n := len(state.servers)
	for i := 0; i < n; i++ {
		idx := (state.next + i) % n
		cand := state.servers[idx]
		if !cand.Health.Healthy && !cand.Health.LastCheck.IsZero() {
			continue // skip servers a liveness probe has marked unhealthy
		}
		state.next = (idx + 1) % n
		return cand, nil
	}

	// Every server is marked unhealthy; fail open to the first one rather
	// than refusing the request outright (probe data may be stale).
	state.next = (state.next + 1) % n
	return state.servers[0], nil
}

// List returns the registered servers grouped by capability.
func (r *Registry) List() map[Capability][]*Server {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Capability][]*Server, len(r.byKind))
	for kind, state := range r.byKind {
		servers := make([]*Server, len(state.servers))
		copy(servers, state.servers)
		out[kind] = servers
	}
	return out
}

// Get returns a single server by id.
func (r *Registry) Get(serverID string) (*Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[serverID]
	return s, ok
}

// MarkHealth updates a server's health, as reported by an external liveness
// probe (out of scope here beyond storing the result).
func (r *Registry) MarkHealth(serverID string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[serverID]; ok {
		s.Health = Health{Healthy: healthy, LastCheck: time.Now()}
	}
}
