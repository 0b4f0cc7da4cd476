package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Summarizer is a pure function of (drained messages, existing summary) ->
// new summary text (spec §4.C), typically itself an LLM call.
type Summarizer interface {
	Summarize(ctx context.Context, existingSummary string, drained []Message) (string, error)
}

// StubSummarizer synthesizes a placeholder summary without calling out to a
// model, for deployments without a configured summarization endpoint and for
// tests that don't want a network dependency.
type StubSummarizer struct{}

func (StubSummarizer) Summarize(ctx context.Context, existingSummary string, drained []Message) (string, error) {
	var b strings.Builder
	if strings.TrimSpace(existingSummary) != "" {
		b.WriteString(strings.TrimSpace(existingSummary))
		b.WriteString(" ")
	}
	b.WriteString(fmt.Sprintf("[summarized %d earlier message(s)]", len(drained)))
	return b.String(), nil
}

// LLMSummarizer produces a running summary via a one-shot chat completion
// call, grounded on the teacher's internal/llm.CallLLM helper (plain HTTP
// POST to an OpenAI-compatible completions endpoint, no SDK round-trip
// needed for a single summarization prompt).
type LLMSummarizer struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

type summarizeChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type summarizeChatRequest struct {
	Model    string                 `json:"model"`
	Messages []summarizeChatMessage `json:"messages"`
}

type summarizeChatResponse struct {
	Choices []struct {
		Message summarizeChatMessage `json:"message"`
	} `json:"choices"`
}

func (s *LLMSummarizer) Summarize(ctx context.Context, existingSummary string, drained []Message) (string, error) {
	var transcript strings.Builder
	for _, m := range drained {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	prompt := "Summarize the following conversation turns into a concise running summary, " +
		"preserving facts, decisions, and open questions.\n\n"
	if strings.TrimSpace(existingSummary) != "" {
		prompt += "Existing summary:\n" + existingSummary + "\n\n"
	}
	prompt += "New turns:\n" + transcript.String()

	body, err := json.Marshal(summarizeChatRequest{
		Model: s.Model,
		Messages: []summarizeChatMessage{
			{Role: "system", Content: "You are a concise conversation summarizer."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building summarize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling summarizer endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading summarize response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer endpoint returned status %d: %s", resp.StatusCode, raw)
	}

	var parsed summarizeChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding summarize response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("summarizer response carried no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
