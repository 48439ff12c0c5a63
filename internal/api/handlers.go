package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// gameService is the subset of *game.Service used by the HTTP handlers.
// Declaring it as an interface allows test doubles to be injected.
type gameService interface {
	CreateCompany(ctx context.Context, name string) (game.Company, error)
	GetCompany(ctx context.Context, id uuid.UUID) (game.Company, error)
	BuyUpgrade(ctx context.Context, companyID uuid.UUID, upgradeID string) (game.Company, game.Receipt, error)
	CompanyUpgrades(ctx context.Context, companyID uuid.UUID) ([]game.OwnedUpgrade, error)
	Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardEntry, error)
	RunTick(ctx context.Context) (*game.TickResult, error)
	RunDeepHealth(ctx context.Context) map[string]game.ProbeResult
	Subscribe() (<-chan game.Event, func())
	IsTickInProgress() bool
	IsReady() bool
	LastTick() *game.TickResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	appName         string
	leaderboardSize int
	game            gameService
	allowedOrigins  []string
	upgrader        websocket.Upgrader
}

// Root handles GET /.
// It reports the configured application name and nothing else, for any
// configured name including the empty string.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": h.appName})
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes all 3 backing services and returns 200 only when every probe is OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.game.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after the first successful tick; 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	if h.game.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

// TriggerTick handles POST /api/tick.
// It returns 202 immediately when a new tick is started, or 409 if one is
// already in progress. The actual tick work runs in a background goroutine.
func (h *Handler) TriggerTick(c *gin.Context) {
	if h.game.IsTickInProgress() {
		c.JSON(http.StatusConflict, gin.H{"status": "in-progress"})
		return
	}
	go func() {
		//nolint:errcheck
		h.game.RunTick(context.Background()) //nolint:contextcheck
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
