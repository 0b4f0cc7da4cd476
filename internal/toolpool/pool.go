// Package toolpool implements the named external tool-server ("MCP") client
// pool (spec §4.B): a process-wide directory of tool servers reachable by
// name, each exposing call_tool/list_tools. Grounded on the teacher's
// internal/mcpclient (session management over the official MCP SDK) and
// internal/mcp (config-driven server startup), generalized per the
// REDESIGN FLAGS in spec §9: tool servers carry an explicit Role attribute
// instead of being matched against a hardcoded name allow-list.
package toolpool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/config"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
)

// Role classifies a tool server for dispatch purposes. Search-capable
// servers get their output wrapped in the retrieval context template
// (spec §4.E step 6 / §4.F step c); generic servers do not.
type Role string

const (
	RoleSearch  Role = "search"
	RoleGeneric Role = "generic"
)

// DefaultSearchFallbackMessage is used when a search tool server has no
// configured fallback_message, carried over verbatim from the original
// implementation's DEFAULT_SEARCH_FALLBACK_MESSAGE constant.
const DefaultSearchFallbackMessage = "I'm unable to retrieve the necessary information to answer your question right now. Please try rephrasing or asking about something else."

// ToolDescriptor mirrors an MCP tool's discovery shape.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ContentItem is one element of a tool call's result content list.
type ContentItem struct {
	Type string // "text" or otherwise
	Text string
}

// CallResult is the outcome of a tool invocation.
type CallResult struct {
	Content []ContentItem
	IsError bool
}

// server holds one named tool server's live session plus its registration
// metadata (role, fallback message).
type server struct {
	name            string
	role            Role
	fallbackMessage string
	session         *mcp.ClientSession
	cleanup         func() error
}

// Pool manages MCP client sessions for every configured tool server,
// reachable by name. Registration is rare (startup, admin endpoints);
// lookups happen on every tool-call hop, so a reader-preferring RWMutex
// guards it, per spec §5 ("read-heavy, mutated by admin endpoints").
type Pool struct {
	mu      sync.RWMutex
	servers map[string]*server
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{servers: make(map[string]*server)}
}

// RegisterFromConfig connects to every configured tool server. A server that
// fails to connect is skipped with a warning rather than failing startup —
// the gateway should still serve requests that don't need that tool.
func (p *Pool) RegisterFromConfig(ctx context.Context, servers []config.ToolServerConfig) {
	for _, cfg := range servers {
		if err := p.Register(ctx, cfg); err != nil {
			log.Warn().Err(err).Str("server", cfg.Name).Msg("toolpool_register_failed")
		}
	}
}

// Register connects to a single tool server described by cfg.
func (p *Pool) Register(ctx context.Context, cfg config.ToolServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("tool server name required")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "nexus-gateway", Version: "1"}, nil)

	var session *mcp.ClientSession
	var err error
	var cleanup func() error

	switch {
	case strings.TrimSpace(cfg.Command) != "":
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		session, err = client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
		cleanup = func() error { return session.Close() }
	case strings.TrimSpace(cfg.URL) != "":
		httpClient := buildToolServerHTTPClient(cfg.BearerToken)
		transport := &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}
		session, err = client.Connect(ctx, transport, nil)
		cleanup = func() error { return session.Close() }
	default:
		return fmt.Errorf("tool server %q: neither command nor url configured", cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("connecting to tool server %q: %w", cfg.Name, err)
	}

	role := Role(cfg.Role)
	if role == "" {
		role = RoleGeneric
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.servers[cfg.Name]; ok && existing.cleanup != nil {
		_ = existing.cleanup()
	}
	p.servers[cfg.Name] = &server{
		name:            cfg.Name,
		role:            role,
		fallbackMessage: cfg.FallbackMessage,
		session:         session,
		cleanup:         cleanup,
	}

	log.Info().Str("server", cfg.Name).Str("role", string(role)).Msg("toolpool_registered")
	return nil
}

// Has reports whether a named server is registered.
func (p *Pool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.servers[name]
	return ok
}

// Role returns the named server's role, defaulting to RoleGeneric if unknown.
func (p *Pool) Role(name string) Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.servers[name]; ok && s.role != "" {
		return s.role
	}
	return RoleGeneric
}

// FallbackMessage returns the named server's configured fallback message, or
// the built-in default if none is configured.
func (p *Pool) FallbackMessage(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.servers[name]; ok && strings.TrimSpace(s.fallbackMessage) != "" {
		return s.fallbackMessage
	}
	return DefaultSearchFallbackMessage
}

// Names returns every registered tool server's name.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.servers))
	for name := range p.servers {
		out = append(out, name)
	}
	return out
}

// ListTools returns the tool catalog for a named server.
func (p *Pool) ListTools(ctx context.Context, name string) ([]ToolDescriptor, error) {
	p.mu.RLock()
	s, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return nil, gatewayerr.New(gatewayerr.ToolNotFoundClient, "tool server %q not registered", name)
	}

	var out []ToolDescriptor
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools on %s: %w", name, err)
		}
		schema := map[string]any{}
		if tool.InputSchema != nil {
			schema = map[string]any{"schema": tool.InputSchema}
		}
		out = append(out, ToolDescriptor{Name: tool.Name, Description: tool.Description, InputSchema: schema})
	}
	return out, nil
}

// FindServerForTool returns the name of the tool server whose catalog lists
// toolName. Used by the ReAct orchestrator (§4.F), which routes by tool name
// rather than by the "<tool>---<server>" suffix normal mode uses.
func (p *Pool) FindServerForTool(ctx context.Context, toolName string) (string, error) {
	p.mu.RLock()
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	p.mu.RUnlock()

	for _, name := range names {
		tools, err := p.ListTools(ctx, name)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == toolName {
				return name, nil
			}
		}
	}
	return "", gatewayerr.New(gatewayerr.ToolNotFoundClient, "no tool server advertises tool %q", toolName)
}

// CallTool invokes a named tool on a named server.
func (p *Pool) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*CallResult, error) {
	p.mu.RLock()
	s, ok := p.servers[serverName]
	p.mu.RUnlock()
	if !ok {
		return nil, gatewayerr.New(gatewayerr.ToolNotFoundClient, "tool server %q not registered", serverName)
	}

	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, gatewayerr.Wrap(gatewayerr.Cancelled, ctx.Err(), "tool call %s on %s cancelled", toolName, serverName)
		default:
		}
		return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "calling tool %q on %q", toolName, serverName)
	}

	out := &CallResult{IsError: res.IsError}
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out.Content = append(out.Content, ContentItem{Type: "text", Text: tc.Text})
		} else {
			out.Content = append(out.Content, ContentItem{Type: "other"})
		}
	}
	return out, nil
}

// Close terminates every tool server session.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.servers {
		if s.cleanup != nil {
			_ = s.cleanup()
		}
	}
}
