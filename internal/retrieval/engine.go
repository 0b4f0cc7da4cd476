package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
	"github.com/llamaedge/nexus-gateway/internal/toolpool"
)

// Engine runs the hybrid retrieval pipeline over an optional vector tool
// server and an optional keyword tool server.
type Engine struct {
	Pool       *toolpool.Pool
	Downstream *downstream.Client
	HTTP       *http.Client

	EmbeddingsHost   string
	EmbeddingsAPIKey string
	EmbedPrefix      string
	SearchPrefix     string
}

// Request carries one retrieval call's parameters (spec §4.D / §6 request
// extensions). Fields left empty disable that side of the search.
type Request struct {
	Query             string
	RecentUserTexts   []string // chronological, for the embedding input (context_window)
	VectorServerName  string
	KeywordServerName string

	ChatServerURL    string
	ChatServerAPIKey string
	ChatModel        string
	RequestUser      string

	Limit          int
	ScoreThreshold float64
	WeightedAlpha  float64

	VdbCollectionName  string
	KwSearchIndex      string
	EsSearchIndex      string
	EsSearchFields     []string
	TidbSearchDatabase string
	TidbSearchTable    string
}

// Retrieve runs the vector and keyword searches concurrently (spec §9:
// "both searches MUST be launched concurrently... latency = max, not sum"),
// fuses their results, and returns the ordered, deduplicated point list. A
// failure in one modality degrades to the other (spec §7); only a failure in
// both leaves the result empty.
func (e *Engine) Retrieve(ctx context.Context, req Request) []Point {
	var kwHits []keywordHit
	var vecPoints []vectorPoint

	group, gctx := errgroup.WithContext(ctx)

	if req.VectorServerName != "" {
		group.Go(func() error {
			points, err := e.vectorSearch(gctx, req)
			if err != nil {
				log.Warn().Err(err).Str("server", req.VectorServerName).Msg("retrieval_vector_search_failed")
				return nil // degrade, don't cancel the keyword side
			}
			vecPoints = points
			return nil
		})
	}

	if req.KeywordServerName != "" {
		group.Go(func() error {
			hits, err := e.keywordSearch(gctx, req)
			if err != nil {
				log.Warn().Err(err).Str("server", req.KeywordServerName).Msg("retrieval_keyword_search_failed")
				return nil
			}
			kwHits = hits
			return nil
		})
	}

	_ = group.Wait() // work funcs never return non-nil; Wait just joins

	alpha := req.WeightedAlpha
	if alpha == 0 {
		alpha = 0.5
	}
	points := fuse(kwHits, vecPoints, alpha)

	if req.Limit > 0 && len(points) > req.Limit {
		points = points[:req.Limit]
	}
	if req.ScoreThreshold > 0 {
		filtered := points[:0]
		for _, p := range points {
			if p.Score >= req.ScoreThreshold {
				filtered = append(filtered, p)
			}
		}
		points = filtered
	}
	return points
}

// AssembleContext concatenates source texts with blank-line separators, or
// the literal fallback when both sides produced nothing (spec §4.D step 5).
func AssembleContext(points []Point) string {
	if len(points) == 0 {
		return noContextRetrieved
	}
	texts := make([]string, 0, len(points))
	for _, p := range points {
		texts = append(texts, p.Source)
	}
	return strings.Join(texts, "\n\n")
}

// embeddingRequest/-Response mirror the OpenAI-compatible embeddings shape,
// grounded on the teacher's internal/llm.EmbeddingRequest/-Response.
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.EmbeddingsHost, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.EmbeddingsAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.EmbeddingsAPIKey)
	}

	client := e.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned status %d: %s", resp.StatusCode, raw)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings response carried no data")
	}
	return parsed.Data[0].Embedding, nil
}

// vectorSearch embeds the concatenated recent user turns and calls the
// vector tool server's search_points tool (spec §4.D step 2).
func (e *Engine) vectorSearch(ctx context.Context, req Request) ([]vectorPoint, error) {
	query := strings.Join(req.RecentUserTexts, "\n")
	if strings.TrimSpace(query) == "" {
		query = req.Query
	}

	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query for vector search: %w", err)
	}

	args := map[string]any{"vector": vector}
	if req.VdbCollectionName != "" {
		args["collection_name"] = req.VdbCollectionName
	}
	if req.Limit > 0 {
		args["limit"] = req.Limit
	}
	if req.ScoreThreshold > 0 {
		args["score_threshold"] = req.ScoreThreshold
	}

	result, err := e.Pool.CallTool(ctx, req.VectorServerName, "search_points", args)
	if err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, gatewayerr.New(gatewayerr.ToolEmptyContent, "vector search on %q returned no content", req.VectorServerName)
	}

	var parsed struct {
		Points []struct {
			Source string  `json:"source"`
			Score  float64 `json:"score"`
		} `json:"points"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &parsed); err != nil {
		return nil, fmt.Errorf("parsing vector search_points response: %w", err)
	}

	out := make([]vectorPoint, 0, len(parsed.Points))
	for _, p := range parsed.Points {
		out = append(out, vectorPoint{Source: p.Source, Score: p.Score})
	}
	return out, nil
}

// keywordSearch runs the one-shot "extract keywords and call the keyword
// tool" chat turn, then dispatches the resulting tool call against the
// keyword server and parses whichever of the three recognized response
// shapes that server's name implies (spec §4.D step 3, ported from
// original_source/src/rag.rs's call_keyword_search_mcp_server_new).
func (e *Engine) keywordSearch(ctx context.Context, req Request) ([]keywordHit, error) {
	tools, err := e.Pool.ListTools(ctx, req.KeywordServerName)
	if err != nil {
		return nil, err
	}
	var toolDecls []downstream.Tool
	for _, t := range tools {
		toolDecls = append(toolDecls, downstream.Tool{
			Type: "function",
			Function: downstream.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	prompt := fmt.Sprintf(
		"Please extract 3 to 5 keywords from my question, separated by spaces. "+
			"Then, try to return a tool call that invokes the keyword search tool.\n\nMy question is: %q", req.Query)

	chatReq := downstream.ChatCompletionRequest{
		Model: req.ChatModel,
		Messages: []downstream.ChatMessage{
			{Role: "user", Content: prompt},
		},
		Tools:      toolDecls,
		ToolChoice: "auto",
		User:       req.RequestUser,
		Stream:     false,
	}

	resp, err := e.Downstream.PostChatCompletions(ctx, req.ChatServerURL, chatReq, downstream.Auth{ServerAPIKey: req.ChatServerAPIKey})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, gatewayerr.New(gatewayerr.Operation, "keyword extraction chat call returned status %d", resp.StatusCode).WithDownstream(string(resp.Body))
	}

	completion, err := downstream.ParseChatCompletionResponse(resp.Body)
	if err != nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("parsing keyword extraction response: %w", err)
	}

	toolCalls := completion.Choices[0].Message.ToolCalls
	if len(toolCalls) == 0 {
		return nil, nil // model didn't call the tool; no hits, not an error
	}

	var args map[string]any
	_ = json.Unmarshal([]byte(toolCalls[0].Function.Arguments), &args)

	result, err := e.Pool.CallTool(ctx, req.KeywordServerName, toolCalls[0].Function.Name, args)
	if err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, nil
	}

	return parseKeywordSearchResponse(req.KeywordServerName, result.Content[0].Text)
}
