package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
)

// Client POSTs chat completion requests to registered downstream servers.
// A single *http.Client is shared across calls, per the teacher's
// internal/llm pattern of one client per process rather than per request.
type Client struct {
	HTTP *http.Client
}

// NewClient builds a Client with a sane default timeout. Per-call deadlines
// are the caller's responsibility (spec §5: "not specified by this design").
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 120 * time.Second}}
}

// Auth describes how to authenticate the outbound call: the registered
// server's own api_key wins over the inbound request's Authorization header
// (spec §6 header conventions).
type Auth struct {
	ServerAPIKey      string
	InboundAuthHeader string
}

func (a Auth) header() string {
	if strings.TrimSpace(a.ServerAPIKey) != "" {
		if strings.HasPrefix(a.ServerAPIKey, "Bearer ") {
			return a.ServerAPIKey
		}
		return "Bearer " + a.ServerAPIKey
	}
	return a.InboundAuthHeader
}

// RawResponse is a downstream response that hasn't been decoded yet: status,
// headers (for the response-header allow-list filter at the edge), and body.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// PostChatCompletions sends req to baseURL+"/chat/completions", racing ctx's
// cancellation (spec §5: every downstream call races the request's
// cancellation signal). Returns the raw response for the caller to interpret
// (forward on non-200, or decode into a ChatCompletionResponse).
func (c *Client) PostChatCompletions(ctx context.Context, baseURL string, req ChatCompletionRequest, auth Auth) (*RawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling downstream chat request: %w", err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building downstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h := auth.header(); h != "" {
		httpReq.Header.Set("Authorization", h)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, gatewayerr.Wrap(gatewayerr.Cancelled, ctx.Err(), "downstream call to %s cancelled", endpoint)
		default:
		}
		return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "calling downstream chat server %s", endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Operation, err, "reading downstream response from %s", endpoint)
	}

	return &RawResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: raw}, nil
}
