package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "idleco"

	// maxCompanyName bounds company names in runes.
	maxCompanyName = 64

	// subscriberBuffer is the per-subscriber event channel capacity. A full
	// buffer drops events for that subscriber instead of blocking the game.
	subscriberBuffer = 8
)

// Store is satisfied by *clients.PostgresStore.
type Store interface {
	CreateCompany(ctx context.Context, c Company) error
	Company(ctx context.Context, id uuid.UUID) (Company, error)
	TopCompanies(ctx context.Context, n int) ([]Company, error)
	UpgradeCounts(ctx context.Context, companyID uuid.UUID) (map[string]int, error)
	PurchaseUpgrade(ctx context.Context, companyID uuid.UUID, u Upgrade) (Company, Receipt, error)
	AccrueAll(ctx context.Context) (int64, error)
	EnsureSchema(ctx context.Context) error
	Probe(ctx context.Context) ProbeResult
}

// Cache is satisfied by *clients.RedisCache. Leaderboard returns an empty
// slice and nil error when no snapshot is cached.
type Cache interface {
	SetLeaderboard(ctx context.Context, entries []LeaderboardEntry) error
	Leaderboard(ctx context.Context) ([]LeaderboardEntry, error)
	Probe(ctx context.Context) ProbeResult
}

// Publisher is satisfied by *clients.NATSPublisher.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	ProvisionStream(ctx context.Context) error
	Probe(ctx context.Context) ProbeResult
}

// Config carries the gameplay tunables the service needs.
type Config struct {
	TickInterval    time.Duration
	StartingBalance float64
	StartingRate    float64
	LeaderboardSize int
}

// Service owns the game rules: company lifecycle, purchases, the periodic
// accrual tick, the live event fan-out and dependency health.
type Service struct {
	cfg    Config
	store  Store
	cache  Cache
	events Publisher

	tickInProgress atomic.Bool
	lastTick       *TickResult
	tickMu         sync.RWMutex

	subMu   sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64
}

// New constructs a Service with the given backing clients. The concrete
// client types satisfy the interfaces defined in this package.
func New(cfg Config, store Store, cache Cache, events Publisher) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		events: events,
		subs:   make(map[uint64]chan Event),
	}
}

// CreateCompany founds a new company with the configured starting balance
// and rate. The name is trimmed and must be 1..64 runes.
func (s *Service) CreateCompany(ctx context.Context, name string) (Company, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxCompanyName {
		return Company{}, fmt.Errorf("%w: company name must be 1-%d characters", ErrInvalidInput, maxCompanyName)
	}

	now := time.Now().UTC()
	c := Company{
		ID:        uuid.New(),
		Name:      name,
		Balance:   s.cfg.StartingBalance,
		Rate:      s.cfg.StartingRate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCompany(ctx, c); err != nil {
		return Company{}, fmt.Errorf("create company: %w", err)
	}

	slog.InfoContext(ctx, "company created", "company_id", c.ID, "name", c.Name)
	s.emit(ctx, Event{Type: EventCompanyCreated, At: now, Company: &c})
	return c, nil
}

// GetCompany returns one company with its balance accrued to now for
// display. The stored row is not written.
func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	c, err := s.store.Company(ctx, id)
	if err != nil {
		return Company{}, err
	}
	return c.Accrued(time.Now().UTC()), nil
}

// BuyUpgrade purchases one unit of an upgrade for a company. Pricing,
// funds check and the rate bump all happen inside the store transaction.
func (s *Service) BuyUpgrade(ctx context.Context, companyID uuid.UUID, upgradeID string) (Company, Receipt, error) {
	u, ok := UpgradeByID(upgradeID)
	if !ok {
		return Company{}, Receipt{}, fmt.Errorf("%w: unknown upgrade %q", ErrNotFound, upgradeID)
	}

	c, rcpt, err := s.store.PurchaseUpgrade(ctx, companyID, u)
	if err != nil {
		return Company{}, Receipt{}, err
	}

	slog.InfoContext(ctx, "upgrade purchased",
		"company_id", c.ID, "upgrade", rcpt.UpgradeID, "cost", rcpt.Cost, "count", rcpt.Count)
	s.emit(ctx, Event{Type: EventUpgradePurchased, At: time.Now().UTC(), Company: &c, Purchase: &rcpt})
	return c, rcpt, nil
}

// CompanyUpgrades returns the full catalog annotated with the company's
// owned counts and the price of the next unit of each upgrade.
func (s *Service) CompanyUpgrades(ctx context.Context, companyID uuid.UUID) ([]OwnedUpgrade, error) {
	if _, err := s.store.Company(ctx, companyID); err != nil {
		return nil, err
	}
	counts, err := s.store.UpgradeCounts(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load upgrade counts: %w", err)
	}

	out := make([]OwnedUpgrade, 0, len(defaultUpgrades))
	for _, u := range defaultUpgrades {
		owned := counts[u.ID]
		out = append(out, OwnedUpgrade{Upgrade: u, Owned: owned, NextCost: UpgradeCost(u, owned)})
	}
	return out, nil
}

// Leaderboard returns up to limit ranked companies. It serves the cached
// snapshot when one exists and falls back to the store otherwise, so a
// cache outage degrades latency, not availability.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > s.cfg.LeaderboardSize {
		limit = s.cfg.LeaderboardSize
	}

	entries, err := s.cache.Leaderboard(ctx)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard cache read failed, falling back to store", "error", err)
	}
	if len(entries) == 0 {
		return s.leaderboardFromStore(ctx, limit)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) leaderboardFromStore(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	top, err := s.store.TopCompanies(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	return toLeaderboard(top, time.Now().UTC()), nil
}

// RunTick materialises accrual for every company, refreshes the cached
// leaderboard snapshot and broadcasts a tick event. Returns
// ErrTickInProgress if a tick is already running; phase failures are
// recorded in the TickResult instead of aborting the loop.
func (s *Service) RunTick(ctx context.Context) (*TickResult, error) {
	if !s.tickInProgress.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.tickInProgress.Store(false)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "game.tick")
	defer span.End()

	now := time.Now().UTC()
	result := &TickResult{Status: StatusOK, At: now}

	n, err := s.store.AccrueAll(ctx)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		span.SetStatus(codes.Error, "accrual failed")
		slog.WarnContext(ctx, "tick accrual failed", "error", err)
		s.storeTick(result)
		return result, nil
	}
	result.Companies = n

	top, err := s.store.TopCompanies(ctx, s.cfg.LeaderboardSize)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		span.SetStatus(codes.Error, "leaderboard load failed")
		slog.WarnContext(ctx, "tick leaderboard load failed", "error", err)
		s.storeTick(result)
		return result, nil
	}

	entries := toLeaderboard(top, now)
	if err := s.cache.SetLeaderboard(ctx, entries); err != nil {
		// Best effort: readers fall back to the store.
		slog.WarnContext(ctx, "leaderboard cache write failed", "error", err)
	}

	s.broadcast(Event{Type: EventTick, At: now, Leaderboard: entries})

	span.SetAttributes(attribute.Int64("tick.companies", n))
	span.SetStatus(codes.Ok, "")
	s.storeTick(result)
	return result, nil
}

// Run executes one immediate tick, then keeps ticking at the configured
// interval until ctx is cancelled. An overlapping tick is skipped, not
// queued.
func (s *Service) Run(ctx context.Context) {
	slog.InfoContext(ctx, "tick loop started", "interval", s.cfg.TickInterval)
	if _, err := s.RunTick(ctx); errors.Is(err, ErrTickInProgress) {
		slog.DebugContext(ctx, "tick skipped, previous tick still running")
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "tick loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunTick(ctx); errors.Is(err, ErrTickInProgress) {
				slog.DebugContext(ctx, "tick skipped, previous tick still running")
			}
		}
	}
}

// Subscribe registers a live event consumer. The returned channel is
// buffered; events are dropped for consumers that fall behind so a slow
// WebSocket can never stall the game. The cancel func releases the
// subscription and closes the channel.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Service) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// emit publishes an event to NATS and fans it out to local subscribers.
// Publish failures are logged, never surfaced: the state change already
// committed.
func (s *Service) emit(ctx context.Context, ev Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "event publish failed", "type", ev.Type, "error", err)
	}
	s.broadcast(ev)
}

// RunDeepHealth probes all 3 backing stores concurrently and returns a map
// of dependency name to ProbeResult.
func (s *Service) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, 3)
	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		probe := s.store.Probe(ctx)
		mu.Lock()
		results["postgres"] = probe
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		probe := s.cache.Probe(ctx)
		mu.Lock()
		results["redis"] = probe
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		probe := s.events.Probe(ctx)
		mu.Lock()
		results["nats"] = probe
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	return results
}

// Provision prepares the backing stores: the game schema in Postgres, the
// GAME_EVENTS stream in NATS and a Redis round trip. Phases run
// concurrently; a phase failure is recorded in the result, not cascaded.
func (s *Service) Provision(ctx context.Context) *ProvisionResult {
	result := &ProvisionResult{
		Status: StatusInProgress,
		Phases: make(map[string]PhaseResult),
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "game.provision")
	defer span.End()

	slog.InfoContext(ctx, "provisioning started")

	// Plain errgroup (no context) so a phase failure does not cancel the
	// context passed to sibling phases.
	var g errgroup.Group

	g.Go(func() error {
		err := s.store.EnsureSchema(ctx)
		phase := provisionToPhase("postgres", err)
		logPhase(ctx, phase)
		result.Lock()
		result.Phases["postgres"] = phase
		result.Unlock()
		return nil
	})

	g.Go(func() error {
		err := s.events.ProvisionStream(ctx)
		phase := provisionToPhase("nats", err)
		logPhase(ctx, phase)
		result.Lock()
		result.Phases["nats"] = phase
		result.Unlock()
		return nil
	})

	g.Go(func() error {
		// Redis holds only derived snapshots; a reachability check is all
		// the provisioning it needs.
		probe := s.cache.Probe(ctx)
		phase := probeToPhase("redis", probe)
		logPhase(ctx, phase)
		result.Lock()
		result.Phases["redis"] = phase
		result.Unlock()
		return nil
	})

	_ = g.Wait()

	result.Status = StatusOK
	for _, phase := range result.Phases {
		if phase.Status == StatusError {
			result.Status = StatusError
			break
		}
	}

	span.SetAttributes(attribute.String("provision.status", result.Status))
	if result.Status == StatusError {
		span.SetStatus(codes.Error, "one or more provisioning phases failed")
		slog.WarnContext(ctx, "provisioning completed with errors", "status", result.Status)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "provisioning completed", "status", result.Status)
	}

	return result
}

// IsTickInProgress returns true while an accrual tick is running.
func (s *Service) IsTickInProgress() bool {
	return s.tickInProgress.Load()
}

// IsReady returns true once a tick has completed successfully. A server
// that has never reconciled balances is not ready for traffic.
func (s *Service) IsReady() bool {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	return s.lastTick != nil && s.lastTick.Status == StatusOK
}

// LastTick returns the most recent tick result, or nil before the first
// tick.
func (s *Service) LastTick() *TickResult {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	return s.lastTick
}

func (s *Service) storeTick(r *TickResult) {
	s.tickMu.Lock()
	s.lastTick = r
	s.tickMu.Unlock()
}

// toLeaderboard accrues companies to now, orders them by balance and
// assigns ranks.
func toLeaderboard(companies []Company, now time.Time) []LeaderboardEntry {
	accrued := make([]Company, len(companies))
	for i, c := range companies {
		accrued[i] = c.Accrued(now)
	}
	sort.Slice(accrued, func(i, j int) bool { return accrued[i].Balance > accrued[j].Balance })

	entries := make([]LeaderboardEntry, len(accrued))
	for i, c := range accrued {
		entries[i] = LeaderboardEntry{
			Rank:      i + 1,
			CompanyID: c.ID,
			Name:      c.Name,
			Balance:   c.Balance,
			Rate:      c.Rate,
		}
	}
	return entries
}

// logPhase emits a trace-correlated log for a provisioning phase result.
// Errors log at WARN so they are visible without being fatal.
func logPhase(ctx context.Context, p PhaseResult) {
	if p.Status == StatusOK {
		slog.InfoContext(ctx, "provision phase ok", "phase", p.Name)
		return
	}
	slog.WarnContext(ctx, "provision phase failed", "phase", p.Name, "error", p.Error)
}

// probeToPhase converts a ProbeResult to a PhaseResult.
func probeToPhase(name string, p ProbeResult) PhaseResult {
	if p.OK {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: p.Error}
}

// provisionToPhase converts a provisioning error to a PhaseResult.
func provisionToPhase(name string, err error) PhaseResult {
	if err == nil {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: err.Error()}
}
