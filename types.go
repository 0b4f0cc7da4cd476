package main

import (
	"strings"

	"github.com/llamaedge/nexus-gateway/internal/registry"
)

// allowedResponseHeaders is the response header allow-list applied to every
// passthrough response (spec §6): everything else a downstream server sets
// is dropped at the edge rather than forwarded verbatim.
var allowedResponseHeaders = []string{
	"content-type", "content-length", "cache-control", "connection", "user", "date", "requires-tool-call",
}

func isAllowedResponseHeader(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "access-control-") {
		return true
	}
	for _, h := range allowedResponseHeaders {
		if h == lower {
			return true
		}
	}
	return false
}

// capabilityForPassthrough maps a passthrough endpoint's path to the
// registry capability that must serve it.
func capabilityForPassthrough(path string) registry.Capability {
	switch path {
	case "/embeddings":
		return registry.CapEmbeddings
	case "/audio/transcriptions":
		return registry.CapTranscribe
	case "/audio/translations":
		return registry.CapTranslate
	case "/audio/speech":
		return registry.CapTTS
	case "/images/generations":
		return registry.CapImage
	default:
		return registry.CapChat
	}
}

// registerServerRequest is the body of POST /admin/servers/register.
type registerServerRequest struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	APIKey string   `json:"api_key,omitempty"`
	Kind   []string `json:"kind"`
}

// registerServerResponse is the body returned by POST /admin/servers/register.
type registerServerResponse struct {
	ID   string   `json:"id"`
	URL  string   `json:"url"`
	Kind []string `json:"kind"`
}

// unregisterServerRequest is the body of POST /admin/servers/unregister.
type unregisterServerRequest struct {
	ServerID string `json:"server_id"`
}

// listedServer is one entry of GET /admin/servers.
type listedServer struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Kind    []string `json:"kind"`
	Healthy bool     `json:"healthy"`
}

// errorResponse is the gateway's plain-JSON error shape (spec §7: "else
// JSON {error: message}").
type errorResponse struct {
	Error string `json:"error"`
}
