package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
)

func TestHandleReactExtractsFinalAnswer(t *testing.T) {
	srv := chatCompletionServer(t, func(req downstream.ChatCompletionRequest) downstream.ChatCompletionResponse {
		return downstream.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-test",
			Usage: downstream.Usage{TotalTokens: 1},
			Choices: []downstream.Choice{{
				Message: downstream.ChatMessage{
					Role:    "assistant",
					Content: "<thought>I know this.</thought><final_answer>42</final_answer>",
				},
			}},
		}
	})
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	outcome, err := o.HandleReact(context.Background(), Request{
		Model:    "gpt-test",
		Messages: []downstream.ChatMessage{{Role: "user", Content: "what is the answer?"}},
	})
	require.NoError(t, err)
	require.Equal(t, "42", outcome.AssistantText)
}

func TestHandleReactPermissiveFallthroughOnNoTags(t *testing.T) {
	srv := chatCompletionServer(t, func(req downstream.ChatCompletionRequest) downstream.ChatCompletionResponse {
		return downstream.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-test",
			Choices: []downstream.Choice{{
				Message: downstream.ChatMessage{Role: "assistant", Content: "just a plain answer"},
			}},
		}
	})
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	outcome, err := o.HandleReact(context.Background(), Request{
		Model:    "gpt-test",
		Messages: []downstream.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "just a plain answer", outcome.AssistantText)
}

func TestHandleReactExceedsStepBudget(t *testing.T) {
	srv := chatCompletionServer(t, func(req downstream.ChatCompletionRequest) downstream.ChatCompletionResponse {
		return downstream.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-test",
			Choices: []downstream.Choice{{
				Message: downstream.ChatMessage{Role: "assistant", Content: "<thought>still thinking</thought><action>keep going</action>"},
			}},
		}
	})
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	o.MaxReactSteps = 3

	_, err := o.HandleReact(context.Background(), Request{
		Model:    "gpt-test",
		Messages: []downstream.ChatMessage{{Role: "user", Content: "loop forever"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReAct step budget exceeded")
}

func TestHandleReactToolCallWithoutActionTagIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-test","choices":[{"message":{"role":"assistant","content":"no tags here","tool_calls":[{"id":"call_1","type":"function","function":{"name":"search","arguments":"{}"}}]}}]}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	_, err := o.HandleReact(context.Background(), Request{
		Model:    "gpt-test",
		Messages: []downstream.ChatMessage{{Role: "user", Content: "search something"}},
	})
	require.Error(t, err)
}
