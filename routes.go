package main

import (
	"github.com/labstack/echo/v4"
)

// registerRoutes sets up the gateway's entire HTTP surface (spec §6),
// grouped the way the teacher's routes.go groups its API endpoints.
func registerRoutes(e *echo.Echo, app *App) {
	v1 := e.Group("/v1")
	registerChatEndpoints(v1, app)
	registerPassthroughEndpoints(v1, app)
	registerCatalogEndpoints(v1, app)
	registerConversationEndpoints(v1, app)

	e.GET("/info", func(c echo.Context) error { return infoHandler(c, app) })

	admin := e.Group("/admin")
	registerAdminEndpoints(admin, app)
}

func registerChatEndpoints(v1 *echo.Group, app *App) {
	v1.POST("/chat/completions", func(c echo.Context) error {
		return chatCompletionsHandler(c, app)
	})
}

// registerPassthroughEndpoints registers the endpoints the gateway forwards
// to a capability-matched downstream server without reinterpreting the body,
// grounded on the teacher's completions.go proxy idiom.
func registerPassthroughEndpoints(v1 *echo.Group, app *App) {
	v1.POST("/embeddings", func(c echo.Context) error {
		return passthroughHandler(c, app, capabilityForPassthrough("/embeddings"), "/embeddings")
	})
	v1.POST("/audio/transcriptions", func(c echo.Context) error {
		return passthroughHandler(c, app, capabilityForPassthrough("/audio/transcriptions"), "/audio/transcriptions")
	})
	v1.POST("/audio/translations", func(c echo.Context) error {
		return passthroughHandler(c, app, capabilityForPassthrough("/audio/translations"), "/audio/translations")
	})
	v1.POST("/audio/speech", func(c echo.Context) error {
		return passthroughHandler(c, app, capabilityForPassthrough("/audio/speech"), "/audio/speech")
	})
	v1.POST("/images/generations", func(c echo.Context) error {
		return passthroughHandler(c, app, capabilityForPassthrough("/images/generations"), "/images/generations")
	})
}

func registerCatalogEndpoints(v1 *echo.Group, app *App) {
	v1.GET("/models", func(c echo.Context) error { return modelsHandler(c, app) })
}

func registerConversationEndpoints(v1 *echo.Group, app *App) {
	v1.GET("/conversations/:conv_id", func(c echo.Context) error { return conversationHandler(c, app) })
	v1.GET("/users/:user_id/history", func(c echo.Context) error { return userHistoryHandler(c, app) })
	v1.GET("/users/:user_id/conversations", func(c echo.Context) error { return userConversationsHandler(c, app) })
}

func registerAdminEndpoints(admin *echo.Group, app *App) {
	admin.POST("/servers/register", func(c echo.Context) error { return registerServerHandler(c, app) })
	admin.POST("/servers/unregister", func(c echo.Context) error { return unregisterServerHandler(c, app) })
	admin.GET("/servers", func(c echo.Context) error { return listServersHandler(c, app) })
}
