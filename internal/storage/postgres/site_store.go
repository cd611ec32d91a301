// Package postgres provides the Postgres-backed Site and Check repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it too.
type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// SiteStore implements analyzer.Repository on Postgres.
type SiteStore struct {
	pool pool
}

// NewSiteStore connects a pool using the provided config.
func NewSiteStore(ctx context.Context, cfg Config) (*SiteStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SiteStore{pool: p}, nil
}

// NewSiteStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSiteStoreWithPool(p pool) (*SiteStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SiteStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *SiteStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	canonical_name TEXT NOT NULL UNIQUE,
	registered_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS checks (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	site_id BIGINT NOT NULL REFERENCES sites(id),
	status_code INT,
	h1 TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	snapshot_uri TEXT NOT NULL DEFAULT '',
	checked_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS checks_site_id_checked_at_idx ON checks (site_id, checked_at DESC)`,
}

// Migrate creates the schema if it does not exist.
func (s *SiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// FindOrCreateSite upserts by canonical name. xmax is zero only for a row
// inserted by this statement, so concurrent callers agree on one winner.
func (s *SiteStore) FindOrCreateSite(ctx context.Context, name string, registeredAt time.Time) (int64, bool, error) {
	const query = `
INSERT INTO sites (canonical_name, registered_at)
VALUES ($1, $2)
ON CONFLICT (canonical_name) DO UPDATE SET canonical_name = EXCLUDED.canonical_name
RETURNING id, (xmax = 0) AS created`
	var (
		id      int64
		created bool
	)
	if err := s.pool.QueryRow(ctx, query, name, registeredAt).Scan(&id, &created); err != nil {
		return 0, false, fmt.Errorf("upsert site: %w", err)
	}
	return id, created, nil
}

// GetSite loads one site by id.
func (s *SiteStore) GetSite(ctx context.Context, id int64) (analyzer.Site, error) {
	const query = `SELECT id, canonical_name, registered_at FROM sites WHERE id = $1`
	var site analyzer.Site
	err := s.pool.QueryRow(ctx, query, id).Scan(&site.ID, &site.Name, &site.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analyzer.Site{}, analyzer.ErrSiteNotFound
		}
		return analyzer.Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// ListSitesWithLatestCheck returns every site joined to its newest check.
func (s *SiteStore) ListSitesWithLatestCheck(ctx context.Context) ([]analyzer.SiteSummary, error) {
	const query = `
SELECT s.id, s.canonical_name, s.registered_at,
	c.id, c.status_code, c.h1, c.title, c.description, c.snapshot_uri, c.checked_at
FROM sites s
LEFT JOIN LATERAL (
	SELECT id, status_code, h1, title, description, snapshot_uri, checked_at
	FROM checks
	WHERE site_id = s.id
	ORDER BY checked_at DESC, id DESC
	LIMIT 1
) c ON TRUE
ORDER BY c.checked_at DESC NULLS LAST, s.id DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	summaries := []analyzer.SiteSummary{}
	for rows.Next() {
		var (
			summary     analyzer.SiteSummary
			checkID     *int64
			statusCode  *int
			h1          *string
			title       *string
			description *string
			snapshotURI *string
			checkedAt   *time.Time
		)
		err := rows.Scan(
			&summary.Site.ID,
			&summary.Site.Name,
			&summary.Site.RegisteredAt,
			&checkID,
			&statusCode,
			&h1,
			&title,
			&description,
			&snapshotURI,
			&checkedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		if checkID != nil {
			summary.LatestCheck = &analyzer.Check{
				ID:          *checkID,
				SiteID:      summary.Site.ID,
				StatusCode:  statusCode,
				H1:          deref(h1),
				Title:       deref(title),
				Description: deref(description),
				SnapshotURI: deref(snapshotURI),
			}
			if checkedAt != nil {
				summary.LatestCheck.CheckedAt = *checkedAt
			}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return summaries, nil
}

// ListChecks returns the site's checks, newest first.
func (s *SiteStore) ListChecks(ctx context.Context, siteID int64) ([]analyzer.Check, error) {
	const query = `
SELECT id, site_id, status_code, h1, title, description, snapshot_uri, checked_at
FROM checks
WHERE site_id = $1
ORDER BY checked_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	checks := []analyzer.Check{}
	for rows.Next() {
		var c analyzer.Check
		err := rows.Scan(
			&c.ID,
			&c.SiteID,
			&c.StatusCode,
			&c.H1,
			&c.Title,
			&c.Description,
			&c.SnapshotURI,
			&c.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan check row: %w", err)
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}
	return checks, nil
}

// AppendCheck inserts a check inside a transaction that locks the site row,
// so concurrent appends for one site are serialized and checked_at never
// moves backwards.
func (s *SiteStore) AppendCheck(ctx context.Context, siteID int64, outcome analyzer.CheckOutcome) (analyzer.Check, error) {
	check := analyzer.Check{
		SiteID:      siteID,
		StatusCode:  analyzer.IntPtr(outcome.StatusCode),
		H1:          outcome.H1,
		Title:       outcome.Title,
		Description: outcome.Description,
		SnapshotURI: outcome.SnapshotURI,
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM sites WHERE id = $1 FOR UPDATE`, siteID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return analyzer.ErrSiteNotFound
			}
			return fmt.Errorf("lock site: %w", err)
		}

		const insert = `
INSERT INTO checks (site_id, status_code, h1, title, description, snapshot_uri, checked_at)
VALUES ($1, $2, $3, $4, $5, $6,
	GREATEST($7::timestamptz, COALESCE((SELECT MAX(checked_at) FROM checks WHERE site_id = $1), $7::timestamptz)))
RETURNING id, checked_at`
		err = tx.QueryRow(ctx, insert,
			siteID,
			outcome.StatusCode,
			outcome.H1,
			outcome.Title,
			outcome.Description,
			outcome.SnapshotURI,
			outcome.CheckedAt,
		).Scan(&check.ID, &check.CheckedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return analyzer.ErrSiteNotFound
			}
			return fmt.Errorf("insert check: %w", err)
		}
		return nil
	})
	if err != nil {
		return analyzer.Check{}, err
	}
	return check, nil
}

// Ping verifies the database is reachable.
func (s *SiteStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
