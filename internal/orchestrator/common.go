// Package orchestrator implements the two chat orchestrators (spec §4.E
// normal mode, §4.F ReAct mode) as a shared single-turn primitive plus two
// thin drivers, per the REDESIGN FLAGS in spec §9 ("extract a common
// single-turn downstream call + memory I/O + streaming synth primitive and
// compose both orchestrators from it").
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
	"github.com/llamaedge/nexus-gateway/internal/memory"
	"github.com/llamaedge/nexus-gateway/internal/registry"
	"github.com/llamaedge/nexus-gateway/internal/retrieval"
	"github.com/llamaedge/nexus-gateway/internal/toolpool"
)

// ToolNameSeparator is the literal three-hyphen separator encoding
// "<tool_name>---<server_name>" in normal-mode tool calls (spec §6).
const ToolNameSeparator = "---"

// Orchestrator holds every subsystem handle both chat modes need.
type Orchestrator struct {
	Registry   *registry.Registry
	Pool       *toolpool.Pool
	Memory     *memory.Manager
	Downstream *downstream.Client
	Retrieval  *retrieval.Engine

	MaxReactSteps int
	ChunkSize     int
}

// Request is one inbound /v1/chat/completions call, already parsed.
type Request struct {
	ConversationID string
	UserID         string
	Model          string
	Messages       []downstream.ChatMessage
	SystemMessage  string
	Stream         bool
	RequestUser    string

	InboundAuthHeader string

	Retrieval *retrieval.Request // nil => no retrieval this turn
}

// Outcome is what the HTTP handler renders back to the client: either a raw
// downstream response to forward verbatim (non-2xx path only), or an
// assistant text to stream-synth / wrap into a ChatCompletionObject. A
// successful downstream body is never forwarded as-is; the handler always
// rebuilds the response from AssistantText, Usage, ChatID and Model.
type Outcome struct {
	Raw           *downstream.RawResponse // set only for a non-2xx downstream response
	AssistantText string
	Usage         downstream.Usage
	ChatID        string
	Model         string
	WantsStream   bool
}

// hydrate records the incoming user message and reconciles the system
// message, then returns the prompt to send downstream: memory's model
// context when memory is enabled and a conversation id is set, else the
// request's own messages with the system message (stripped out by the HTTP
// layer before memory lookup) re-attached at the head (spec §4.E step 1 /
// §4.F step 1; request.messages only gets overwritten from memory when
// memory is actually active).
func (o *Orchestrator) hydrate(ctx context.Context, req *Request) ([]downstream.ChatMessage, error) {
	if !o.Memory.Enabled() || req.ConversationID == "" {
		if req.SystemMessage == "" {
			return req.Messages, nil
		}
		out := make([]downstream.ChatMessage, 0, len(req.Messages)+1)
		out = append(out, downstream.ChatMessage{Role: "system", Content: req.SystemMessage})
		return append(out, req.Messages...), nil
	}

	if req.SystemMessage != "" {
		if _, err := o.Memory.SetSystemMessage(ctx, req.ConversationID, req.SystemMessage); err != nil {
			return nil, fmt.Errorf("reconciling system message: %w", err)
		}
	}

	lastUser := lastUserMessage(req.Messages)
	if lastUser != "" {
		if _, err := o.Memory.AddUserMessage(ctx, req.ConversationID, lastUser); err != nil {
			return nil, fmt.Errorf("recording user message: %w", err)
		}
	}

	return o.refreshContext(ctx, req)
}

// refreshContext re-reads the model context from memory without recording
// anything new, used after a tool hop records its own assistant/tool
// messages and the caller just needs the refreshed prompt (original
// src/chat/normal.rs:688-703 re-reads context via get_model_context without
// re-running add_user_message).
func (o *Orchestrator) refreshContext(ctx context.Context, req *Request) ([]downstream.ChatMessage, error) {
	outbound, err := o.Memory.GetModelContext(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading memory context: %w", err)
	}
	return toDownstreamMessages(outbound), nil
}

func lastUserMessage(messages []downstream.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func toDownstreamMessages(outbound []memory.OutboundMessage) []downstream.ChatMessage {
	out := make([]downstream.ChatMessage, 0, len(outbound))
	for _, m := range outbound {
		dm := downstream.ChatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			dm.ToolCalls = append(dm.ToolCalls, downstream.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: downstream.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, dm)
	}
	return out
}

// applyRetrieval runs the configured retrieval engine and merges its
// assembled context into messages, per spec §4.D steps 5-6. A nil
// req.Retrieval or nil o.Retrieval is a no-op.
func (o *Orchestrator) applyRetrieval(ctx context.Context, messages []downstream.ChatMessage, rreq *retrieval.Request) ([]downstream.ChatMessage, error) {
	if o.Retrieval == nil || rreq == nil {
		return messages, nil
	}
	lastUser := lastUserMessage(messages)
	if lastUser == "" {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "retrieval requires the last message to be from the user")
	}
	rreq.Query = lastUser
	if rreq.ChatServerURL == "" {
		if server, err := o.Registry.Pick(registry.CapChat); err == nil {
			rreq.ChatServerURL = server.URL
			rreq.ChatServerAPIKey = server.APIKey
		}
	}

	points := o.Retrieval.Retrieve(ctx, *rreq)
	context := retrieval.AssembleContext(points)
	return retrieval.MergeContext(messages, context, retrieval.PolicySystemMessage, true), nil
}

// postChatServer picks a chat server, forwards messages with stream forced
// false (spec §4.E step 2-3), and returns the raw response for the caller to
// interpret.
func (o *Orchestrator) postChatServer(ctx context.Context, req Request, messages []downstream.ChatMessage, tools []downstream.Tool, toolChoice any) (*downstream.RawResponse, error) {
	server, err := o.Registry.Pick(registry.CapChat)
	if err != nil {
		return nil, err
	}

	chatReq := downstream.ChatCompletionRequest{
		Model:      req.Model,
		Messages:   messages,
		Stream:     false,
		Tools:      tools,
		ToolChoice: toolChoice,
		User:       req.RequestUser,
	}
	auth := downstream.Auth{ServerAPIKey: server.APIKey, InboundAuthHeader: req.InboundAuthHeader}
	return o.Downstream.PostChatCompletions(ctx, server.URL, chatReq, auth)
}

// wrapIfSearchServer applies the retrieval context template to a tool's raw
// text output when the server is flagged as search-capable (spec §4.E step 6
// / §4.F step c), using the server's configured fallback message for the
// empty-result case.
func (o *Orchestrator) wrapIfSearchServer(serverName, text string) string {
	if o.Pool.Role(serverName) != toolpool.RoleSearch {
		return text
	}
	content := strings.TrimSpace(text)
	if content == "" {
		content = o.Pool.FallbackMessage(serverName)
	}
	return fmt.Sprintf(retrieval.ContextTemplate, content)
}

// toolResultContent extracts the single text content item from a tool call
// result (spec §4.E step 6: "exactly one Text-typed content element").
func toolResultContent(result *toolpool.CallResult) (string, error) {
	if len(result.Content) == 0 {
		return "", gatewayerr.New(gatewayerr.ToolEmptyContent, "tool call returned zero content items")
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		return "", gatewayerr.New(gatewayerr.Operation, "only text content is supported for tool call results")
	}
	if result.IsError {
		return "", gatewayerr.New(gatewayerr.Operation, "tool call returned an error result")
	}
	return result.Content[0].Text, nil
}

// parseToolArguments parses a tool call's raw argument string as JSON,
// falling back to a single "input" string key if it isn't valid JSON (spec
// §4.E step 6: "arguments are parsed as JSON if possible, else stored as a
// string").
func parseToolArguments(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	return map[string]any{"input": raw}
}
