package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

type createCompanyRequest struct {
	Name string `json:"name"`
}

type purchaseRequest struct {
	UpgradeID string `json:"upgrade_id"`
}

// writeError emits the uniform error body used by every endpoint.
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}

// mapGameError translates a domain error into its HTTP shape. Anything
// not covered by a sentinel is an internal error and the detail stays out
// of the response.
func mapGameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, game.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, game.ErrInsufficientFunds):
		writeError(c, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, game.ErrTickInProgress):
		writeError(c, http.StatusConflict, "tick_in_progress", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// companyID parses the :id path parameter. A malformed id is reported as
// 400 and the handler should return immediately.
func companyID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "company id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// CreateCompany handles POST /api/companies.
func (h *Handler) CreateCompany(c *gin.Context) {
	var req createCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "request body must be JSON with a name field")
		return
	}

	company, err := h.game.CreateCompany(c.Request.Context(), req.Name)
	if err != nil {
		mapGameError(c, err)
		return
	}
	c.JSON(http.StatusCreated, company)
}

// GetCompany handles GET /api/companies/:id.
// The returned balance is accrued to the time of the request.
func (h *Handler) GetCompany(c *gin.Context) {
	id, ok := companyID(c)
	if !ok {
		return
	}

	company, err := h.game.GetCompany(c.Request.Context(), id)
	if err != nil {
		mapGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

// ListCompanyUpgrades handles GET /api/companies/:id/upgrades.
// It returns the full catalog annotated with the company's owned counts
// and the cost of the next unit of each upgrade.
func (h *Handler) ListCompanyUpgrades(c *gin.Context) {
	id, ok := companyID(c)
	if !ok {
		return
	}

	upgrades, err := h.game.CompanyUpgrades(c.Request.Context(), id)
	if err != nil {
		mapGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"company_id": id,
		"upgrades":   upgrades,
	})
}

// PurchaseUpgrade handles POST /api/companies/:id/upgrades.
func (h *Handler) PurchaseUpgrade(c *gin.Context) {
	id, ok := companyID(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UpgradeID == "" {
		writeError(c, http.StatusBadRequest, "invalid_input", "request body must be JSON with an upgrade_id field")
		return
	}

	company, receipt, err := h.game.BuyUpgrade(c.Request.Context(), id, req.UpgradeID)
	if err != nil {
		mapGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"company": company,
		"receipt": receipt,
	})
}

// Catalog handles GET /api/upgrades.
func (h *Handler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"upgrades": game.Catalog()})
}

// Leaderboard handles GET /api/leaderboard.
// The optional limit query parameter is clamped to the configured size.
func (h *Handler) Leaderboard(c *gin.Context) {
	limit := h.leaderboardSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_input", "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := h.game.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		mapGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
