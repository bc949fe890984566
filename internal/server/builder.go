package server

import (
	"net/http"

	"aistudio2api-go/internal/config"
	adminh "aistudio2api-go/internal/handlers/admin"
	oh "aistudio2api-go/internal/handlers/openai"
	ph "aistudio2api-go/internal/handlers/passthrough"
	mw "aistudio2api-go/internal/middleware"
	"aistudio2api-go/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies carries the runtime services the HTTP engines are built from.
type Dependencies struct {
	OpenAI      *oh.Handler
	Passthrough *ph.Handler
	Admin       *adminh.Handler
}

// BuildAPI constructs the client-facing engine: the OpenAI compatibility
// surface, the Google passthrough, and the admin UI.
func BuildAPI(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.Recovery(), mw.RequestID(), mw.RequestLogger(), mw.Metrics(), mw.CORS())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := engine.Group("/", mw.KeyAuth(cfg.APIKeys))
	authed.POST("/v1/chat/completions", deps.OpenAI.ChatCompletions)
	authed.GET("/v1/models", deps.OpenAI.ListModels)
	authed.Any("/v1beta/*path", deps.Passthrough.Handle)

	// Any path without a registered route is proxied to the relay verbatim.
	engine.NoRoute(mw.KeyAuth(cfg.APIKeys), deps.Passthrough.Handle)

	registerAdmin(engine, deps.Admin)

	return engine
}

// BuildRelay constructs the engine the in-page relay script connects to.
func BuildRelay(cfg *config.Config, channel *relay.Channel) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(mw.Recovery())
	engine.GET("/", gin.WrapF(channel.Handler()))
	return engine
}

func registerAdmin(engine *gin.Engine, admin *adminh.Handler) {
	engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/admin")
	})
	engine.GET("/admin", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(adminPage))
	})
	engine.POST("/login", admin.Login)
	engine.POST("/logout", admin.Logout)

	api := engine.Group("/api", admin.RequireSession())
	api.GET("/status", admin.Status)
	api.POST("/switch-account", admin.SwitchAccount)
	api.POST("/set-mode", admin.SetMode)
	api.POST("/toggle-reasoning", admin.ToggleReasoning)
	api.POST("/toggle-native-reasoning", admin.ToggleNativeReasoning)
	api.POST("/toggle-redirect-25-30", admin.ToggleRedirect2530)
	api.POST("/set-resume-config", admin.SetResumeConfig)
}
