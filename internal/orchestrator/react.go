package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
)

var (
	thoughtTag      = regexp.MustCompile(`(?s)<thought>(.*?)</thought>`)
	actionTag       = regexp.MustCompile(`(?s)<action>(.*?)</action>`)
	finalAnswerTag  = regexp.MustCompile(`(?s)<final_answer>(.*?)</final_answer>`)
)

// HandleReact runs the bounded ReAct loop (spec §4.F), re-POSTing to the
// downstream chat server after every tool observation until the model emits
// a final answer or the step budget is exceeded.
func (o *Orchestrator) HandleReact(ctx context.Context, req Request) (*Outcome, error) {
	messages, err := o.hydrate(ctx, &req)
	if err != nil {
		return nil, err
	}
	messages, err = o.applyRetrieval(ctx, messages, req.Retrieval)
	if err != nil {
		return nil, err
	}

	maxSteps := o.MaxReactSteps
	if maxSteps <= 0 {
		maxSteps = 8
	}

	for step := 0; step < maxSteps; step++ {
		select {
		case <-ctx.Done():
			return nil, gatewayerr.Wrap(gatewayerr.Cancelled, ctx.Err(), "react loop cancelled")
		default:
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

		if m := thoughtTag.FindStringSubmatch(choice.Message.Content); m != nil {
			log.Info().Str("conversation_id", req.ConversationID).Str("thought", strings.TrimSpace(m[1])).Msg("react_thought")
		}

		if len(choice.Message.ToolCalls) > 0 {
			if !actionTag.MatchString(choice.Message.Content) {
				return nil, gatewayerr.New(gatewayerr.Operation, "react step emitted a tool call with no <action> tag")
			}

			messages, err = o.dispatchReactToolCall(ctx, req, messages, resp, choice)
			if err != nil {
				return nil, err
			}
			continue
		}

		content := choice.Message.Content
		switch {
		case finalAnswerTag.MatchString(content):
			final := strings.TrimSpace(finalAnswerTag.FindStringSubmatch(content)[1])
			return o.finishReact(ctx, req, resp, final)
		case actionTag.MatchString(content):
			log.Info().Str("conversation_id", req.ConversationID).Msg("react_action_without_tool_call")
			messages = append(messages, downstream.ChatMessage{Role: "assistant", Content: content})
			continue
		default:
			return o.finishReact(ctx, req, resp, content)
		}
	}

	return nil, gatewayerr.New(gatewayerr.Operation, "ReAct step budget exceeded")
}

func (o *Orchestrator) dispatchReactToolCall(ctx context.Context, req Request, messages []downstream.ChatMessage, resp *downstream.ChatCompletionResponse, choice downstream.Choice) ([]downstream.ChatMessage, error) {
	call := choice.Message.ToolCalls[0]

	serverName, err := o.Pool.FindServerForTool(ctx, call.Function.Name)
	if err != nil {
		return nil, err
	}

	args := parseToolArguments(call.Function.Arguments)
	result, err := o.Pool.CallTool(ctx, serverName, call.Function.Name, args)
	if err != nil {
		return nil, err
	}
	text, err := toolResultContent(result)
	if err != nil {
		return nil, err
	}

	observation := o.wrapIfSearchServer(serverName, text)
	observation = "<observation>" + observation + "</observation>"

	if req.ConversationID != "" && o.Memory.Enabled() {
		if _, err := o.Memory.AddAssistantMessage(ctx, req.ConversationID, choice.Message.Content, toOrchestratorToolCalls(choice.Message.ToolCalls)); err != nil {
			return nil, err
		}
		if _, err := o.Memory.AddToolMessage(ctx, req.ConversationID, observation, call.ID); err != nil {
			return nil, err
		}
		return o.refreshContext(ctx, &req)
	}

	return append(messages,
		downstream.ChatMessage{Role: "assistant", Content: choice.Message.Content, ToolCalls: choice.Message.ToolCalls},
		downstream.ChatMessage{Role: "tool", Content: observation, ToolCallID: call.ID},
	), nil
}

func (o *Orchestrator) finishReact(ctx context.Context, req Request, resp *downstream.ChatCompletionResponse, finalText string) (*Outcome, error) {
	if req.ConversationID != "" && o.Memory.Enabled() {
		if _, err := o.Memory.AddAssistantMessage(ctx, req.ConversationID, finalText, nil); err != nil {
			log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("react_record_final_assistant_failed")
		}
	}
	return &Outcome{
		AssistantText: finalText,
		Usage:         resp.Usage,
		ChatID:        resp.ID,
		Model:         resp.Model,
		WantsStream:   req.Stream,
	}, nil
}
