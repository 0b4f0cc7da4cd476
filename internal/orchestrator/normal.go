package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
	"github.com/llamaedge/nexus-gateway/internal/memory"
)

// HandleNormal runs one normal-mode chat turn (spec §4.E). On success it
// returns an Outcome the HTTP layer renders as either an SSE stream or a
// plain JSON body; on a non-OK downstream response it returns an Outcome
// whose Raw field should be forwarded verbatim.
func (o *Orchestrator) HandleNormal(ctx context.Context, req Request) (*Outcome, error) {
	messages, err := o.hydrate(ctx, &req)
	if err != nil {
		return nil, err
	}
	messages, err = o.applyRetrieval(ctx, messages, req.Retrieval)
	if err != nil {
		return nil, err
	}

	raw, err := o.postChatServer(ctx, req, messages, nil, nil)
	if err != nil {
		return nil, err
	}
	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		return &Outcome{Raw: raw}, nil
	}

	resp, err := downstream.ParseChatCompletionResponse(raw.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "parsing downstream chat completion response")
	}
	if len(resp.Choices) == 0 {
		return nil, gatewayerr.New(gatewayerr.Operation, "downstream response carried no choices")
	}
	choice := resp.Choices[0]

	if len(choice.Message.ToolCalls) == 0 {
		if req.ConversationID != "" && o.Memory.Enabled() {
			if _, err := o.Memory.AddAssistantMessage(ctx, req.ConversationID, choice.Message.Content, nil); err != nil {
				log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("normal_record_assistant_failed")
			}
		}
		return &Outcome{
			AssistantText: choice.Message.Content,
			Usage:         resp.Usage,
			ChatID:        resp.ID,
			Model:         resp.Model,
			WantsStream:   req.Stream,
		}, nil
	}

	return o.handleToolCall(ctx, req, messages, resp, choice)
}

func (o *Orchestrator) handleToolCall(ctx context.Context, req Request, messages []downstream.ChatMessage, resp *downstream.ChatCompletionResponse, choice downstream.Choice) (*Outcome, error) {
	call := choice.Message.ToolCalls[0]

	toolName, serverName, ok := splitToolCallName(call.Function.Name)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.Operation, "the tool call %q is not supported", call.Function.Name)
	}
	if !o.Pool.Has(serverName) {
		return nil, gatewayerr.New(gatewayerr.ToolNotFoundClient, "tool server %q is not registered", serverName)
	}

	args := parseToolArguments(call.Function.Arguments)
	result, err := o.Pool.CallTool(ctx, serverName, toolName, args)
	if err != nil {
		return nil, err
	}
	text, err := toolResultContent(result)
	if err != nil {
		return nil, err
	}
	wrapped := o.wrapIfSearchServer(serverName, text)

	if req.ConversationID != "" && o.Memory.Enabled() {
		if _, err := o.Memory.AddAssistantMessage(ctx, req.ConversationID, choice.Message.Content, toOrchestratorToolCalls(choice.Message.ToolCalls)); err != nil {
			return nil, fmt.Errorf("recording assistant tool-call message: %w", err)
		}
		if _, err := o.Memory.AddToolMessage(ctx, req.ConversationID, wrapped, call.ID); err != nil {
			return nil, fmt.Errorf("recording tool result message: %w", err)
		}
		messages, err = o.refreshContext(ctx, &req)
		if err != nil {
			return nil, err
		}
	} else {
		messages = append(messages,
			downstream.ChatMessage{Role: "assistant", Content: choice.Message.Content, ToolCalls: choice.Message.ToolCalls},
			downstream.ChatMessage{Role: "tool", Content: wrapped, ToolCallID: call.ID},
		)
	}

	raw, err := o.postChatServer(ctx, req, messages, nil, "none")
	if err != nil {
		return nil, err
	}
	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		return &Outcome{Raw: raw}, nil
	}

	final, err := downstream.ParseChatCompletionResponse(raw.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "parsing downstream chat completion response")
	}
	if len(final.Choices) == 0 {
		return nil, gatewayerr.New(gatewayerr.Operation, "downstream response carried no choices")
	}
	finalText := final.Choices[0].Message.Content

	if req.ConversationID != "" && o.Memory.Enabled() {
		if _, err := o.Memory.AddAssistantMessage(ctx, req.ConversationID, finalText, nil); err != nil {
			log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("normal_record_final_assistant_failed")
		}
	}

	return &Outcome{
		AssistantText: finalText,
		Usage:         final.Usage,
		ChatID:        final.ID,
		Model:         final.Model,
		WantsStream:   req.Stream,
	}, nil
}

// splitToolCallName parses the literal "<tool>---<server>" encoding (spec
// §4.E step 6 / §6). Exactly two non-empty parts are required, matching the
// original's parts.len() == 2 check (src/chat/normal.rs:205) — a name with
// more than one separator is rejected rather than split on the first
// occurrence.
func splitToolCallName(name string) (tool, server string, ok bool) {
	parts := strings.Split(name, ToolNameSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func toOrchestratorToolCalls(calls []downstream.ToolCall) []memory.ToolCall {
	out := make([]memory.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, memory.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: json.RawMessage(c.Function.Arguments)})
	}
	return out
}
