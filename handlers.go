package main

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/llamaedge/nexus-gateway/internal/config"
	"github.com/llamaedge/nexus-gateway/internal/downstream"
	"github.com/llamaedge/nexus-gateway/internal/gatewayerr"
	"github.com/llamaedge/nexus-gateway/internal/memory"
	"github.com/llamaedge/nexus-gateway/internal/orchestrator"
	"github.com/llamaedge/nexus-gateway/internal/registry"
	"github.com/llamaedge/nexus-gateway/internal/retrieval"
	"github.com/llamaedge/nexus-gateway/internal/streaming"
)

// writeGatewayError renders a gatewayerr.Error (or any error) as the
// gateway's plain-JSON error shape, mapped to its taxonomy's HTTP status
// (spec §7).
func writeGatewayError(c echo.Context, err error) error {
	kind := gatewayerr.KindOf(err)
	log.Error().Err(err).Str("kind", string(kind)).Msg("request_failed")
	return c.JSON(kind.Status(), errorResponse{Error: err.Error()})
}

// chatCompletionsHandler implements POST /v1/chat/completions (spec §6):
// binds the OpenAI-compatible request plus its extensions, dispatches to
// whichever orchestrator the gateway is configured for, and renders either
// an SSE stream or a single ChatCompletionObject.
func chatCompletionsHandler(c echo.Context, app *App) error {
	var body downstream.ChatCompletionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
	}
	if len(body.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "messages must not be empty"})
	}

	ctx := c.Request().Context()
	userID := body.User

	var convID string
	if app.Memory.Enabled() && userID != "" {
		conv, err := app.Memory.GetOrCreateUserConversation(ctx, userID, body.Model)
		if err != nil {
			return writeGatewayError(c, err)
		}
		convID = conv.ID
	}

	req := orchestratorRequest(app, &body, convID, userID, c.Request().Header.Get("authorization"))

	var outcome *orchestrator.Outcome
	var err error
	if app.Config.Mode == config.ModeReAct {
		outcome, err = app.Orchestrator.HandleReact(ctx, req)
	} else {
		outcome, err = app.Orchestrator.HandleNormal(ctx, req)
	}
	if err != nil {
		return writeGatewayError(c, err)
	}

	if outcome.Raw != nil {
		return forwardRaw(c, outcome.Raw)
	}

	if body.Stream {
		streaming.SetHeaders(c.Response().Header())
		c.Response().WriteHeader(http.StatusOK)
		flusher, ok := c.Response().Writer.(streaming.Writer)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "streaming not supported by this response writer"})
		}
		return streaming.WriteStream(flusher, outcome.ChatID, outcome.Model, outcome.AssistantText, outcome.Usage, app.Orchestrator.ChunkSize, time.Now().Unix())
	}

	return c.JSON(http.StatusOK, downstream.ChatCompletionResponse{
		ID:                outcome.ChatID,
		Object:            "chat.completion",
		Created:           time.Now().Unix(),
		Model:             outcome.Model,
		SystemFingerprint: streaming.SystemFingerprint,
		Usage:             outcome.Usage,
		Choices: []downstream.Choice{{
			Index:        0,
			FinishReason: "stop",
			Message:      downstream.ChatMessage{Role: "assistant", Content: outcome.AssistantText},
		}},
	})
}

// passthroughHandler forwards the raw request body to a capability-matched
// downstream server and relays the response through the header allow-list,
// grounded on the teacher's completions.go non-streaming proxy branch.
func passthroughHandler(c echo.Context, app *App, capability registry.Capability, path string) error {
	server, err := app.Registry.Pick(capability)
	if err != nil {
		return writeGatewayError(c, err)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "error reading request body: " + err.Error()})
	}

	endpoint := strings.TrimRight(server.URL, "/") + path
	proxyReq, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "error building proxy request: " + err.Error()})
	}
	proxyReq.Header.Set("Content-Type", c.Request().Header.Get("Content-Type"))
	auth := downstream.Auth{ServerAPIKey: server.APIKey, InboundAuthHeader: c.Request().Header.Get("authorization")}
	if h := authHeader(auth); h != "" {
		proxyReq.Header.Set("Authorization", h)
	}

	resp, err := app.ProxyClient.Do(proxyReq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "error forwarding request: " + err.Error()})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "error reading downstream response: " + err.Error()})
	}

	for name, values := range resp.Header {
		if !isAllowedResponseHeader(name) {
			continue
		}
		for _, v := range values {
			c.Response().Header().Add(name, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = c.Response().Write(respBody)
	return err
}

// authHeader mirrors downstream.Auth's header() logic for the plain-proxy
// path, which doesn't go through downstream.Client.
func authHeader(auth downstream.Auth) string {
	if strings.TrimSpace(auth.ServerAPIKey) != "" {
		if strings.HasPrefix(auth.ServerAPIKey, "Bearer ") {
			return auth.ServerAPIKey
		}
		return "Bearer " + auth.ServerAPIKey
	}
	return auth.InboundAuthHeader
}

// forwardRaw relays a downstream RawResponse verbatim through the response
// header allow-list (spec §7: "passthrough preserves downstream body/status
// when present").
func forwardRaw(c echo.Context, raw *downstream.RawResponse) error {
	for name, values := range raw.Header {
		if !isAllowedResponseHeader(name) {
			continue
		}
		for _, v := range values {
			c.Response().Header().Add(name, v)
		}
	}
	c.Response().WriteHeader(raw.StatusCode)
	_, err := c.Response().Write(raw.Body)
	return err
}

// modelsHandler implements GET /v1/models: the aggregated model catalog
// across every registered server (spec §6).
func modelsHandler(c echo.Context, app *App) error {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	ctx := c.Request().Context()
	seen := make(map[string]struct{})
	var out []modelEntry
	for _, servers := range app.Registry.List() {
		for _, s := range servers {
			models, ok := app.Catalog.Get(ctx, s.ID)
			if !ok {
				continue
			}
			for _, id := range models {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, modelEntry{ID: id, Object: "model", OwnedBy: s.ID})
			}
		}
	}
	if out == nil {
		out = []modelEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": out})
}

// infoHandler implements GET /info: models grouped by capability (spec §6).
func infoHandler(c echo.Context, app *App) error {
	ctx := c.Request().Context()
	byCapability := make(map[string][]string)
	for kind, servers := range app.Registry.List() {
		var models []string
		for _, s := range servers {
			if m, ok := app.Catalog.Get(ctx, s.ID); ok {
				models = append(models, m...)
			}
		}
		byCapability[string(kind)] = models
	}
	return c.JSON(http.StatusOK, byCapability)
}

// conversationHandler implements GET /v1/conversations/{conv_id}.
func conversationHandler(c echo.Context, app *App) error {
	history, err := app.Memory.GetFullHistory(c.Request().Context(), c.Param("conv_id"))
	if err != nil {
		return writeGatewayError(c, err)
	}
	return c.JSON(http.StatusOK, historyResponse(history))
}

// userHistoryHandler implements GET /v1/users/{user_id}/history.
func userHistoryHandler(c echo.Context, app *App) error {
	history, err := app.Memory.GetUserFullHistory(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return writeGatewayError(c, err)
	}
	return c.JSON(http.StatusOK, historyResponse(history))
}

// userConversationsHandler implements GET /v1/users/{user_id}/conversations?limit=.
func userConversationsHandler(c echo.Context, app *App) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	summaries, err := app.Memory.ListUserConversations(c.Request().Context(), c.Param("user_id"), limit)
	if err != nil {
		return writeGatewayError(c, err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func historyResponse(messages []memory.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"role":      m.Role,
			"content":   m.Content,
			"sequence":  m.Sequence,
			"timestamp": m.Timestamp,
		})
	}
	return out
}

// orchestratorRequest builds an orchestrator.Request from the bound inbound
// body, threading the retrieval extension fields through when
// hasRetrievalExtension reports one of its trigger fields set (spec §6).
// es_search_fields and tidb_search_table are threaded but do not trigger
// retrieval on their own; context_window is accepted but not used.
func orchestratorRequest(app *App, body *downstream.ChatCompletionRequest, convID, userID, authHeader string) orchestrator.Request {
	var systemMessage string
	messages := body.Messages
	if len(messages) > 0 && messages[0].Role == "system" {
		systemMessage = messages[0].Content
		messages = messages[1:]
	}

	req := orchestrator.Request{
		ConversationID:    convID,
		UserID:            userID,
		Model:             body.Model,
		Messages:          messages,
		SystemMessage:     systemMessage,
		Stream:            body.Stream,
		RequestUser:       body.User,
		InboundAuthHeader: authHeader,
	}

	if hasRetrievalExtension(body) {
		req.Retrieval = &retrieval.Request{
			VectorServerName:   app.DefaultVectorServer,
			KeywordServerName:  app.DefaultKeywordServer,
			ChatModel:          body.Model,
			RequestUser:        body.User,
			Limit:              app.Config.Retrieval.DefaultLimit,
			ScoreThreshold:     app.Config.Retrieval.DefaultScoreThreshold,
			WeightedAlpha:      app.Config.Retrieval.DefaultWeightedAlpha,
			VdbCollectionName:  body.VdbCollectionName,
			KwSearchIndex:      body.KwSearchIndex,
			EsSearchIndex:      body.EsSearchIndex,
			EsSearchFields:     body.EsSearchFields,
			TidbSearchDatabase: body.TidbSearchDatabase,
			TidbSearchTable:    body.TidbSearchTable,
		}
		if body.Limit != nil {
			req.Retrieval.Limit = *body.Limit
		}
		if body.ScoreThreshold != nil {
			req.Retrieval.ScoreThreshold = *body.ScoreThreshold
		}
		if body.WeightedAlpha != nil {
			req.Retrieval.WeightedAlpha = *body.WeightedAlpha
		}
	}

	return req
}

func hasRetrievalExtension(body *downstream.ChatCompletionRequest) bool {
	return body.VdbCollectionName != "" || body.KwSearchIndex != "" || body.EsSearchIndex != "" ||
		body.TidbSearchDatabase != "" || body.Limit != nil || body.ScoreThreshold != nil || body.WeightedAlpha != nil
}
