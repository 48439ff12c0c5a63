package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

const pgProbeName = "postgres"

// schemaStatements are idempotent so provisioning can run repeatedly.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL,
		balance    DOUBLE PRECISION NOT NULL,
		rate       DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS company_upgrades (
		company_id UUID NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		upgrade_id TEXT NOT NULL,
		count      INTEGER NOT NULL,
		PRIMARY KEY (company_id, upgrade_id)
	)`,
	`CREATE INDEX IF NOT EXISTS companies_balance_idx ON companies (balance DESC)`,
}

// pgPool abstracts the pgxpool.Pool methods the store uses so that tests
// can inject a fake without standing up a real database.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore persists companies and their upgrades. It is the authority
// for all money math: accrual and purchases are materialised here, inside
// the database, never in handler code.
type PostgresStore struct {
	pool pgPool
	cb   *gobreaker.CircuitBreaker
}

// NewPostgresStore opens a pgx pool and verifies connectivity with a ping.
// Postgres is a required dependency; a failure here is fatal to startup.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, cb *gobreaker.CircuitBreaker) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool: pool, cb: cb}, nil
}

// EnsureSchema creates the game tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// CreateCompany inserts a new company row.
func (s *PostgresStore) CreateCompany(ctx context.Context, c game.Company) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, balance, rate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.Balance, c.Rate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting company: %w", err)
	}
	return nil
}

// Company loads one company by id.
func (s *PostgresStore) Company(ctx context.Context, id uuid.UUID) (game.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, balance, rate, created_at, updated_at
		 FROM companies WHERE id = $1`, id)

	c, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Company{}, fmt.Errorf("company %s: %w", id, game.ErrNotFound)
		}
		return game.Company{}, fmt.Errorf("loading company: %w", err)
	}
	return c, nil
}

// TopCompanies returns the n richest companies by materialised balance.
func (s *PostgresStore) TopCompanies(ctx context.Context, n int) ([]game.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, balance, rate, created_at, updated_at
		 FROM companies ORDER BY balance DESC, created_at ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("querying top companies: %w", err)
	}
	defer rows.Close()

	var out []game.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning company: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating companies: %w", err)
	}
	return out, nil
}

// UpgradeCounts returns the owned count per upgrade id for one company.
func (s *PostgresStore) UpgradeCounts(ctx context.Context, companyID uuid.UUID) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT upgrade_id, count FROM company_upgrades WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, fmt.Errorf("querying upgrade counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning upgrade count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating upgrade counts: %w", err)
	}
	return counts, nil
}

// AccrueAll materialises balance accrual for every company in a single
// statement and returns the number of rows touched.
func (s *PostgresStore) AccrueAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies
		 SET balance = balance + rate * EXTRACT(EPOCH FROM (now() - updated_at)),
		     updated_at = now()`)
	if err != nil {
		return 0, fmt.Errorf("accruing balances: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurchaseUpgrade buys one unit of u for a company. The UPDATE ... RETURNING
// takes the row lock for the whole transaction and materialises accrual
// first, so the funds check always sees the up-to-date balance.
func (s *PostgresStore) PurchaseUpgrade(ctx context.Context, companyID uuid.UUID, u game.Upgrade) (game.Company, game.Receipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return game.Company{}, game.Receipt{}, fmt.Errorf("beginning purchase: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`UPDATE companies
		 SET balance = balance + rate * EXTRACT(EPOCH FROM (now() - updated_at)),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, balance, rate, created_at, updated_at`, companyID)
	c, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Company{}, game.Receipt{}, fmt.Errorf("company %s: %w", companyID, game.ErrNotFound)
		}
		return game.Company{}, game.Receipt{}, fmt.Errorf("locking company: %w", err)
	}

	var owned int
	err = tx.QueryRow(ctx,
		`SELECT count FROM company_upgrades WHERE company_id = $1 AND upgrade_id = $2`,
		companyID, u.ID).Scan(&owned)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return game.Company{}, game.Receipt{}, fmt.Errorf("loading owned count: %w", err)
	}

	cost := game.UpgradeCost(u, owned)
	if c.Balance < cost {
		return game.Company{}, game.Receipt{}, fmt.Errorf(
			"upgrade %s costs %.0f, balance is %.2f: %w", u.ID, cost, c.Balance, game.ErrInsufficientFunds)
	}

	c.Balance -= cost
	c.Rate += u.RateBonus
	if _, err := tx.Exec(ctx,
		`UPDATE companies SET balance = $2, rate = $3 WHERE id = $1`,
		companyID, c.Balance, c.Rate); err != nil {
		return game.Company{}, game.Receipt{}, fmt.Errorf("charging company: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO company_upgrades (company_id, upgrade_id, count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (company_id, upgrade_id) DO UPDATE SET count = company_upgrades.count + 1`,
		companyID, u.ID); err != nil {
		return game.Company{}, game.Receipt{}, fmt.Errorf("recording purchase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return game.Company{}, game.Receipt{}, fmt.Errorf("committing purchase: %w", err)
	}

	return c, game.Receipt{UpgradeID: u.ID, Cost: cost, Count: owned + 1}, nil
}

// Probe pings Postgres and verifies the companies table exists. It wraps
// the check in the circuit breaker so that persistent failures trip the
// breaker after three consecutive errors.
func (s *PostgresStore) Probe(ctx context.Context) game.ProbeResult {
	start := time.Now()

	_, err := s.cb.Execute(func() (any, error) {
		if err := s.pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}

		var exists int
		row := s.pool.QueryRow(ctx,
			"SELECT 1 FROM information_schema.tables WHERE table_schema='public' AND table_name='companies'",
		)
		if err := row.Scan(&exists); err != nil {
			return nil, fmt.Errorf("companies table not found: %w", err)
		}
		return nil, nil
	})

	return probeResult(pgProbeName, start, err)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanCompany(row pgx.Row) (game.Company, error) {
	var c game.Company
	err := row.Scan(&c.ID, &c.Name, &c.Balance, &c.Rate, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
