package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status values used across ProvisionResult, PhaseResult and TickResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
)

// Event types delivered to WebSocket subscribers and published to the
// GAME_EVENTS stream as "game.<type>".
const (
	EventCompanyCreated   = "company.created"
	EventUpgradePurchased = "upgrade.purchased"
	EventTick             = "tick"
)

// Company is a player company. Balance grows continuously at Rate
// (currency per second); UpdatedAt is the accrual watermark, i.e. the
// instant Balance was last materialised.
type Company struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Balance   float64   `json:"balance"`
	Rate      float64   `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accrued returns a copy of c with the balance advanced to now. The stored
// row is untouched; display paths use this so reads never write.
func (c Company) Accrued(now time.Time) Company {
	elapsed := now.Sub(c.UpdatedAt).Seconds()
	if elapsed > 0 {
		c.Balance += c.Rate * elapsed
		c.UpdatedAt = now
	}
	return c
}

// Upgrade is one entry of the static catalog. Buying a unit adds RateBonus
// to the company rate; the price of the next unit follows the geometric
// curve computed by UpgradeCost.
type Upgrade struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RateBonus float64 `json:"rate_bonus"`
	BaseCost  float64 `json:"base_cost"`
	Growth    float64 `json:"growth"`
}

// OwnedUpgrade is an upgrade seen from one company's perspective.
type OwnedUpgrade struct {
	Upgrade
	Owned    int     `json:"owned"`
	NextCost float64 `json:"next_cost"`
}

// Receipt describes a completed purchase: what was bought, what it cost and
// how many units the company now owns.
type Receipt struct {
	UpgradeID string  `json:"upgrade_id"`
	Cost      float64 `json:"cost"`
	Count     int     `json:"count"`
}

// LeaderboardEntry is one row of the ranked company list.
type LeaderboardEntry struct {
	Rank      int       `json:"rank"`
	CompanyID uuid.UUID `json:"company_id"`
	Name      string    `json:"name"`
	Balance   float64   `json:"balance"`
	Rate      float64   `json:"rate"`
}

// Event is the single event model for both the WebSocket stream and NATS
// publication. Payload fields are populated per Type and omitted otherwise.
type Event struct {
	Type        string             `json:"type"`
	At          time.Time          `json:"at"`
	Company     *Company           `json:"company,omitempty"`
	Purchase    *Receipt           `json:"purchase,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard,omitempty"`
}

// TickResult is the outcome of one accrual tick.
type TickResult struct {
	Status    string    `json:"status"`
	Companies int64     `json:"companies"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// ProvisionResult is the aggregate result of a full provisioning run.
// sync.Mutex is embedded so phases can be written concurrently from
// multiple goroutines without external locking. Callers must hold the
// mutex before marshalling while phase writers are active.
type ProvisionResult struct {
	sync.Mutex
	Status string                 `json:"status"`
	Phases map[string]PhaseResult `json:"phases"`
}

// PhaseResult represents the outcome of a single provisioning phase.
type PhaseResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
