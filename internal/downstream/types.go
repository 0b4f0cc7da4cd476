// Package downstream defines the OpenAI-compatible wire shapes exchanged
// with registered chat servers, and a thin HTTP client for POSTing them.
// Grounded on the teacher's internal/llm (completions.go, embeddings.go),
// which talks to its downstream model server with plain net/http rather
// than a generated SDK client.
package downstream

import "encoding/json"

// ToolFunction is the function-call shape inside a Tool declaration.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool is one entry in a ChatCompletionRequest's tools list.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the function payload inside an emitted tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ChatMessage is one OpenAI-compatible chat message, request or response side.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatCompletionRequest is the request body POSTed to a downstream chat
// server's /chat/completions. The retrieval extension fields (spec §6) are
// carried as plain optional fields so a client can set them without an
// intermediate map.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	User        string        `json:"user,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`

	Limit               *int     `json:"limit,omitempty"`
	ScoreThreshold      *float64 `json:"score_threshold,omitempty"`
	WeightedAlpha       *float64 `json:"weighted_alpha,omitempty"`
	ContextWindow       *int     `json:"context_window,omitempty"`
	VdbCollectionName   string   `json:"vdb_collection_name,omitempty"`
	KwSearchIndex       string   `json:"kw_search_index,omitempty"`
	EsSearchIndex       string   `json:"es_search_index,omitempty"`
	EsSearchFields      []string `json:"es_search_fields,omitempty"`
	TidbSearchDatabase  string   `json:"tidb_search_database,omitempty"`
	TidbSearchTable     string   `json:"tidb_search_table,omitempty"`
}

// Usage mirrors the OpenAI usage block, passed through verbatim.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is a non-streamed downstream response.
type ChatCompletionResponse struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	SystemFingerprint string          `json:"system_fingerprint,omitempty"`
	Choices           []Choice        `json:"choices"`
	Usage             Usage           `json:"usage"`
}

// ParseChatCompletionResponse unmarshals a downstream body, surfacing the
// raw bytes on error so callers can log them (spec §7: Operation errors log
// downstream body).
func ParseChatCompletionResponse(body []byte) (*ChatCompletionResponse, error) {
	var out ChatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
