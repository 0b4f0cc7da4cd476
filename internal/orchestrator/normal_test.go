package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/memory"
	"github.com/llamaedge/nexus-gateway/internal/registry"
	"github.com/llamaedge/nexus-gateway/internal/toolpool"
)

func newTestOrchestrator(t *testing.T, chatServerURL string) *Orchestrator {
	t.Helper()
	reg := registry.New(nil)
	_, err := reg.Register(context.Background(), &registry.Server{
		URL:   chatServerURL,
		Kinds: map[registry.Capability]struct{}{registry.CapChat: {}},
	})
	require.NoError(t, err)

	mgr := memory.NewManager(memory.NewMemoryStore(), memory.StubSummarizer{}, memory.Options{
		Enabled:            true,
		MaxContextTokens:   8192,
		MaxWorkingMessages: 50,
	})

	return &Orchestrator{
		Registry:      reg,
		Pool:          toolpool.New(),
		Memory:        mgr,
		Downstream:    downstream.NewClient(),
		MaxReactSteps: 8,
		ChunkSize:     10,
	}
}

func chatCompletionServer(t *testing.T, respond func(req downstream.ChatCompletionRequest) downstream.ChatCompletionResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req downstream.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream, "downstream calls must always force stream=false")
		resp := respond(req)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHandleNormalNoToolCallRecordsAssistantMessage(t *testing.T) {
	srv := chatCompletionServer(t, func(req downstream.ChatCompletionRequest) downstream.ChatCompletionResponse {
		return downstream.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Model:  "gpt-test",
			Usage:  downstream.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
			Choices: []downstream.Choice{{
				Message:      downstream.ChatMessage{Role: "assistant", Content: "hello there"},
				FinishReason: "stop",
			}},
		}
	})
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	ctx := context.Background()

	conv, err := o.Memory.GetOrCreateUserConversation(ctx, "alice", "gpt-test")
	require.NoError(t, err)

	outcome, err := o.HandleNormal(ctx, Request{
		ConversationID: conv.ID,
		Model:          "gpt-test",
		Messages:       []downstream.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", outcome.AssistantText)
	require.Equal(t, 8, outcome.Usage.TotalTokens)

	history, err := o.Memory.GetFullHistory(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, memory.RoleUser, history[0].Role)
	require.Equal(t, memory.RoleAssistant, history[1].Role)
	require.Equal(t, "hello there", history[1].Content)
}

func TestHandleNormalForwardsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"downstream unavailable"}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	ctx := context.Background()

	outcome, err := o.HandleNormal(ctx, Request{
		Model:    "gpt-test",
		Messages: []downstream.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Raw)
	require.Equal(t, http.StatusBadGateway, outcome.Raw.StatusCode)
}

func TestSplitToolCallName(t *testing.T) {
	tool, server, ok := splitToolCallName("search_points---cardea-vdb")
	require.True(t, ok)
	require.Equal(t, "search_points", tool)
	require.Equal(t, "cardea-vdb", server)

	_, _, ok = splitToolCallName("no-separator-here")
	require.False(t, ok)

	_, _, ok = splitToolCallName("---leading-separator")
	require.False(t, ok)
}

func TestSplitToolCallNameRejectsMoreThanTwoParts(t *testing.T) {
	_, _, ok := splitToolCallName("a---b---c")
	require.False(t, ok, "a name with more than one separator must not be split on the first occurrence")
}

// TestToolHopRefreshDoesNotDuplicateUserMessage guards against a regression
// where re-reading memory context after a tool hop re-recorded the user's
// message, producing a duplicate with a fresh sequence (the expected trail
// is exactly one user message, one tool-calling assistant message, one
// tool-result message, and one final assistant message).
func TestToolHopRefreshDoesNotDuplicateUserMessage(t *testing.T) {
	o := newTestOrchestrator(t, "http://unused.invalid")
	ctx := context.Background()

	conv, err := o.Memory.GetOrCreateUserConversation(ctx, "bob", "gpt-test")
	require.NoError(t, err)

	req := Request{
		ConversationID: conv.ID,
		Model:          "gpt-test",
		Messages:       []downstream.ChatMessage{{Role: "user", Content: "search the docs"}},
	}

	_, err = o.hydrate(ctx, &req)
	require.NoError(t, err)

	toolCalls := []downstream.ToolCall{{
		ID:       "call-1",
		Type:     "function",
		Function: downstream.ToolCallFunction{Name: "search---cardea-vdb", Arguments: "{}"},
	}}
	_, err = o.Memory.AddAssistantMessage(ctx, conv.ID, "", toOrchestratorToolCalls(toolCalls))
	require.NoError(t, err)
	_, err = o.Memory.AddToolMessage(ctx, conv.ID, "search results", "call-1")
	require.NoError(t, err)

	// This mirrors the second hydrate() call a tool hop used to make; it
	// must only re-read context, never re-record the user message.
	_, err = o.refreshContext(ctx, &req)
	require.NoError(t, err)

	_, err = o.Memory.AddAssistantMessage(ctx, conv.ID, "here is what I found", nil)
	require.NoError(t, err)

	history, err := o.Memory.GetFullHistory(ctx, conv.ID)
	require.NoError(t, err)

	var userCount int
	for _, m := range history {
		if m.Role == memory.RoleUser {
			userCount++
		}
	}
	require.Equal(t, 1, userCount, "a tool hop must not duplicate the user message")
	require.Len(t, history, 4) // user, assistant-with-tool-call, tool, final assistant
}
