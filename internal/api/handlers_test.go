package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// noopLogger returns a slog.Logger that discards all output to keep test
// output clean.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGame is a test double that implements gameService.
type fakeGame struct {
	company    game.Company
	companyErr error
	receipt    game.Receipt
	buyErr     error
	owned      []game.OwnedUpgrade
	ownedErr   error
	entries    []game.LeaderboardEntry
	entriesErr error
	deepProbes map[string]game.ProbeResult
	tickResult *game.TickResult
	// tickDelay simulates a slow tick so async tests can verify 202.
	tickDelay  time.Duration
	inProgress bool
	ready      bool
	lastTick   *game.TickResult
	events     chan game.Event

	gotName      string
	gotLimit     int
	gotUpgradeID string
}

func (f *fakeGame) CreateCompany(_ context.Context, name string) (game.Company, error) {
	f.gotName = name
	return f.company, f.companyErr
}

func (f *fakeGame) GetCompany(_ context.Context, _ uuid.UUID) (game.Company, error) {
	return f.company, f.companyErr
}

func (f *fakeGame) BuyUpgrade(_ context.Context, _ uuid.UUID, upgradeID string) (game.Company, game.Receipt, error) {
	f.gotUpgradeID = upgradeID
	if f.buyErr != nil {
		return game.Company{}, game.Receipt{}, f.buyErr
	}
	return f.company, f.receipt, nil
}

func (f *fakeGame) CompanyUpgrades(_ context.Context, _ uuid.UUID) ([]game.OwnedUpgrade, error) {
	return f.owned, f.ownedErr
}

func (f *fakeGame) Leaderboard(_ context.Context, limit int) ([]game.LeaderboardEntry, error) {
	f.gotLimit = limit
	return f.entries, f.entriesErr
}

func (f *fakeGame) RunTick(_ context.Context) (*game.TickResult, error) {
	if f.tickDelay > 0 {
		time.Sleep(f.tickDelay)
	}
	if f.tickResult != nil {
		return f.tickResult, nil
	}
	return &game.TickResult{Status: game.StatusOK, At: time.Now().UTC()}, nil
}

func (f *fakeGame) RunDeepHealth(_ context.Context) map[string]game.ProbeResult {
	if f.deepProbes != nil {
		return f.deepProbes
	}
	return map[string]game.ProbeResult{}
}

func (f *fakeGame) Subscribe() (<-chan game.Event, func()) {
	if f.events == nil {
		f.events = make(chan game.Event, 8)
	}
	return f.events, func() {}
}

func (f *fakeGame) IsTickInProgress() bool { return f.inProgress }
func (f *fakeGame) IsReady() bool          { return f.ready }

func (f *fakeGame) LastTick() *game.TickResult { return f.lastTick }

// testRouterConfig returns the config used by router-level tests: the dev
// CORS policy plus a small leaderboard.
func testRouterConfig(name string) config.Config {
	return config.Config{
		App: config.AppConfig{Name: name},
		CORS: config.CORSConfig{
			AllowedOrigins:   []string{"http://localhost:5173"},
			AllowCredentials: true,
			AllowedMethods:   []string{"*"},
			AllowedHeaders:   []string{"*"},
		},
		Game:      config.GameConfig{TickInterval: time.Second, LeaderboardSize: 10},
		Telemetry: config.TelemetryConfig{ServiceName: "idleco-test"},
	}
}

func newTestRouter(name string, fake *fakeGame) *Router {
	return NewRouter(testRouterConfig(name), fake, noopLogger())
}

// newTestEngine builds a minimal Gin engine with only the given handler,
// no middleware, for isolated handler testing.
func newTestEngine(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

// --- Root handler ---

func TestRoot_ReportsConfiguredName(t *testing.T) {
	t.Parallel()

	names := []string{"MyService", "", "Idle Company Game"}
	for _, name := range names {
		router := newTestRouter(name, &fakeGame{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		router.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		got, present := body["name"]
		assert.True(t, present, "name key must be present for %q", name)
		assert.Equal(t, name, got)
	}
}

// --- Health handler ---

func TestHealth_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	handler := &Handler{game: &fakeGame{}}
	engine := newTestEngine(http.MethodGet, "/health", handler.Health)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "shallow", body["mode"])
}

// --- DeepHealth handler ---

func TestDeepHealth_200WhenAllHealthy(t *testing.T) {
	t.Parallel()

	fake := &fakeGame{
		deepProbes: map[string]game.ProbeResult{
			"postgres": {Name: "postgres", OK: true},
			"redis":    {Name: "redis", OK: true},
			"nats":     {Name: "nats", OK: true},
		},
	}
	handler := &Handler{game: fake}
	engine := newTestEngine(http.MethodGet, "/health/deep", handler.DeepHealth)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/deep", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestDeepHealth_503WhenAnyUnhealthy(t *testing.T) {
	t.Parallel()

	fake := &fakeGame{
		deepProbes: map[string]game.ProbeResult{
			"postgres": {Name: "postgres", OK: true},
			"redis":    {Name: "redis", OK: true},
			"nats":     {Name: "nats", OK: false, Error: "connection refused"},
		},
	}
	handler := &Handler{game: fake}
	engine := newTestEngine(http.MethodGet, "/health/deep", handler.DeepHealth)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/deep", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body["status"])
}

// --- Ready handler ---

func TestReady_503BeforeFirstTick(t *testing.T) {
	t.Parallel()

	handler := &Handler{game: &fakeGame{ready: false}}
	engine := newTestEngine(http.MethodGet, "/ready", handler.Ready)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, false, body["ready"])
}

func TestReady_200AfterFirstTick(t *testing.T) {
	t.Parallel()

	handler := &Handler{game: &fakeGame{ready: true}}
	engine := newTestEngine(http.MethodGet, "/ready", handler.Ready)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, true, body["ready"])
}

// --- TriggerTick handler ---

func TestTriggerTick_202WhenNotRunning(t *testing.T) {
	t.Parallel()

	fake := &fakeGame{inProgress: false, tickDelay: 50 * time.Millisecond}
	handler := &Handler{game: fake}
	engine := newTestEngine(http.MethodPost, "/api/tick", handler.TriggerTick)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tick", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "accepted", body["status"])
}

func TestTriggerTick_409WhenInProgress(t *testing.T) {
	t.Parallel()

	handler := &Handler{game: &fakeGame{inProgress: true}}
	engine := newTestEngine(http.MethodPost, "/api/tick", handler.TriggerTick)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tick", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "in-progress", body["status"])
}

// --- Recovery middleware ---

func TestRecoveryMiddleware_Returns500OnPanic(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(Recovery(noopLogger()))
	engine.GET("/panic", func(c *gin.Context) {
		panic("intentional test panic")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "internal", body["code"])
}

// --- RequestID middleware ---

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("generates an id when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		engine.ServeHTTP(w, req)

		id := w.Header().Get(requestIDHeader)
		require.NotEmpty(t, id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("keeps a client-supplied id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, "client-id-1")
		engine.ServeHTTP(w, req)

		assert.Equal(t, "client-id-1", w.Header().Get(requestIDHeader))
	})
}

// --- NewRouter integration smoke test ---

func TestNewRouter_RoutesRegistered(t *testing.T) {
	t.Parallel()

	fake := &fakeGame{
		ready: true,
		deepProbes: map[string]game.ProbeResult{
			"postgres": {Name: "postgres", OK: true},
		},
	}
	router := newTestRouter("MyService", fake)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/deep", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodPost, "/api/tick", http.StatusAccepted},
		{http.MethodGet, "/api/upgrades", http.StatusOK},
		{http.MethodGet, "/api/leaderboard", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(""))
		router.Handler().ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "route %s %s", tc.method, tc.path)
	}
}
