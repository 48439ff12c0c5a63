package api

import (
	"log/slog"
	"net/http"

	_ "github.com/Stanislav-Kankin/idle-company-game/docs" // register generated Swagger spec

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler
// with the CORS policy applied outside the engine, so preflight requests
// are answered before any route matching happens.
type Router struct {
	engine *gin.Engine
	cors   *cors.Cors
}

// NewRouter constructs a Router with the full middleware chain and all
// routes registered. The middleware order is:
//  1. Recovery: panic becomes a 500 and the server keeps serving
//  2. Tracing: trace context per request
//  3. RequestID: correlation id per request
//  4. RequestLogger: structured request/response logging
func NewRouter(cfg config.Config, svc gameService, logger *slog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(Tracing(cfg.Telemetry.ServiceName))
	engine.Use(RequestID())
	engine.Use(RequestLogger(logger))

	h := &Handler{
		appName:         cfg.App.Name,
		leaderboardSize: cfg.Game.LeaderboardSize,
		game:            svc,
		allowedOrigins:  cfg.CORS.AllowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}

	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	mounted := engine.Group("/api")
	mounted.POST("/companies", h.CreateCompany)
	mounted.GET("/companies/:id", h.GetCompany)
	mounted.GET("/companies/:id/upgrades", h.ListCompanyUpgrades)
	mounted.POST("/companies/:id/upgrades", h.PurchaseUpgrade)
	mounted.GET("/upgrades", h.Catalog)
	mounted.GET("/leaderboard", h.Leaderboard)
	mounted.POST("/tick", h.TriggerTick)
	mounted.GET("/events", h.Events)

	// API docs served at /api-docs/index.html
	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine, cors: buildCORS(cfg.CORS)}
}

// Handler returns the CORS-wrapped engine for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.cors.Handler(r.engine)
}
