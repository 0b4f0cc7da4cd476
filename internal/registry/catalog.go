package registry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ModelCatalog is the gateway's view of a server's declared models, keyed by
// server id (spec §4.A: "Catalog is keyed by server id; server removal drops
// its entry").
type ModelCatalog struct {
	redis *redis.Client // nil => in-process only
	local map[string][]string
}

// NewModelCatalog constructs a catalog. If redisURL is non-empty, catalog
// entries are shared across gateway replicas via Redis; otherwise the
// catalog lives only in this process's memory, matching the teacher's
// single-process in-memory catalog cache.
func NewModelCatalog(redisURL string) *ModelCatalog {
	c := &ModelCatalog{local: make(map[string][]string)}
	if redisURL == "" {
		return c
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Str("redis_url", redisURL).Msg("catalog_redis_url_invalid_falling_back_to_local")
		return c
	}
	c.redis = redis.NewClient(opt)
	return c
}

func catalogKey(serverID string) string { return "nexus:catalog:" + serverID }

// Set stores the model list for a server.
func (c *ModelCatalog) Set(ctx context.Context, serverID string, models []string) {
	c.local[serverID] = models
	if c.redis == nil {
		return
	}
	b, err := json.Marshal(models)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, catalogKey(serverID), b, 0).Err(); err != nil {
		log.Warn().Err(err).Str("server_id", serverID).Msg("catalog_redis_set_failed")
	}
}

// Get returns the cached model list for a server, if any.
func (c *ModelCatalog) Get(ctx context.Context, serverID string) ([]string, bool) {
	if c.redis != nil {
		if b, err := c.redis.Get(ctx, catalogKey(serverID)).Bytes(); err == nil {
			var models []string
			if json.Unmarshal(b, &models) == nil {
				return models, true
			}
		}
	}
	models, ok := c.local[serverID]
	return models, ok
}

// Drop removes a server's cached catalog entry.
func (c *ModelCatalog) Drop(serverID string) {
	delete(c.local, serverID)
	if c.redis != nil {
		_ = c.redis.Del(context.Background(), catalogKey(serverID)).Err()
	}
}

// Catalog is the CatalogRefresher implementation: it queries a server's
// models endpoint (via the vendor's own Go SDK) and caches the model ids. It
// does not check the server's declared capabilities. Grounded on the teacher's internal/llm/openai_client.go
// GetEndpointModels (builds a fresh SDK client per call, scoped to that
// server's base URL and key) and internal/llm/anthropic/client.go's
// anthropic.NewClient(opts...) construction idiom.
type Catalog struct {
	Models *ModelCatalog
}

// NewCatalog builds a Catalog refresher with the given model catalog cache.
func NewCatalog(models *ModelCatalog) *Catalog {
	return &Catalog{Models: models}
}

// isAnthropicVendor reports whether a server's URL matches Anthropic's API
// shape, selecting the vendor-specific SDK client (spec §4.A).
func isAnthropicVendor(url string) bool {
	return strings.Contains(url, "api.anthropic.com")
}

// Refresh queries the server's models endpoint through the matching vendor
// SDK (anthropic-sdk-go for Anthropic-vendor URLs, openai-go/v2 otherwise),
// then caches the resulting model list.
func (c *Catalog) Refresh(ctx context.Context, s *Server) error {
	var models []string
	if isAnthropicVendor(s.URL) {
		ids, err := anthropicModels(ctx, s.URL, s.APIKey)
		if err != nil {
			return err
		}
		models = ids
	} else {
		ids, err := openAIModels(ctx, s.URL, s.APIKey)
		if err != nil {
			return err
		}
		models = ids
	}

	c.Models.Set(ctx, s.ID, models)
	log.Debug().Str("server_id", s.ID).Int("model_count", len(models)).Msg("catalog_refreshed")
	return nil
}

func openAIModels(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func anthropicModels(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	page, err := client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Drop removes a server's catalog entry.
func (c *Catalog) Drop(serverID string) { c.Models.Drop(serverID) }
