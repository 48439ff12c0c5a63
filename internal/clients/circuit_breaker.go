package clients

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// probeResult builds the ProbeResult for a probe that started at start and
// finished with err. An open breaker is reported as "circuit open" rather
// than the wrapped error chain.
func probeResult(name string, start time.Time, err error) game.ProbeResult {
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return game.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return game.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}
