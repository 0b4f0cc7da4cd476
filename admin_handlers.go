package main

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/llamaedge/nexus-gateway/internal/registry"
)

// registerServerHandler implements POST /admin/servers/register (spec §6).
func registerServerHandler(c echo.Context, app *App) error {
	var body registerServerRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
	}
	if body.URL == "" || len(body.Kind) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url and kind are required"})
	}

	kinds := make(map[registry.Capability]struct{}, len(body.Kind))
	for _, k := range body.Kind {
		kinds[registry.Capability(k)] = struct{}{}
	}

	server, err := app.Registry.Register(c.Request().Context(), &registry.Server{
		ID:     body.ID,
		URL:    body.URL,
		APIKey: body.APIKey,
		Kinds:  kinds,
	})
	if err != nil {
		return writeGatewayError(c, err)
	}

	return c.JSON(http.StatusOK, registerServerResponse{
		ID:   server.ID,
		URL:  server.URL,
		Kind: body.Kind,
	})
}

// unregisterServerHandler implements POST /admin/servers/unregister.
func unregisterServerHandler(c echo.Context, app *App) error {
	var body unregisterServerRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
	}
	if body.ServerID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "server_id is required"})
	}
	app.Registry.Unregister(body.ServerID)
	return c.NoContent(http.StatusOK)
}

// listServersHandler implements GET /admin/servers.
func listServersHandler(c echo.Context, app *App) error {
	byKind := app.Registry.List()

	byID := make(map[string]*listedServer)
	for kind, servers := range byKind {
		for _, s := range servers {
			entry, ok := byID[s.ID]
			if !ok {
				entry = &listedServer{ID: s.ID, URL: s.URL, Healthy: s.Health.Healthy}
				byID[s.ID] = entry
			}
			entry.Kind = append(entry.Kind, string(kind))
		}
	}

	out := make([]listedServer, 0, len(byID))
	for _, entry := range byID {
		sort.Strings(entry.Kind)
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return c.JSON(http.StatusOK, out)
}
