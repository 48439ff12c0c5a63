package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// writeWait bounds a single WebSocket write so a wedged client cannot
// hold the relay goroutine forever.
const writeWait = 10 * time.Second

// Events handles GET /api/events.
// The connection is upgraded to a WebSocket and receives the live event
// stream as JSON frames, the same event model published to the broker.
// When a tick has already happened the first frame is a snapshot so new
// clients render a leaderboard without waiting for the next tick.
func (h *Handler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
	defer conn.Close()

	events, cancel := h.game.Subscribe()
	defer cancel()

	if snap, ok := h.snapshot(c.Request.Context()); ok {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}

	// The socket is server-to-client only. The read pump discards client
	// frames and unblocks the relay when the peer goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// snapshot builds a tick-shaped event from the current leaderboard. It
// reports false until the first tick has run.
func (h *Handler) snapshot(ctx context.Context) (game.Event, bool) {
	last := h.game.LastTick()
	if last == nil {
		return game.Event{}, false
	}
	entries, err := h.game.Leaderboard(ctx, h.leaderboardSize)
	if err != nil {
		return game.Event{}, false
	}
	return game.Event{Type: game.EventTick, At: last.At, Leaderboard: entries}, true
}

// originAllowed implements the WebSocket origin check. Browsers enforce
// CORS themselves for XHR but not for WebSocket upgrades, so the server
// applies the same origin list here. Requests without an Origin header
// (non-browser clients) and same-host requests are accepted.
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
