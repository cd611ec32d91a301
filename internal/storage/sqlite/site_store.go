// Package sqlite provides an embedded SQLite (or remote libSQL/Turso)
// implementation of analyzer.Repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // SQLite driver

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

// timeLayout has fixed-width fractional seconds so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SiteStore implements analyzer.Repository on database/sql.
type SiteStore struct {
	db *sql.DB
}

// Open opens the database named by dsn. A libsql:// or wss:// URL selects the
// Turso driver; anything else is a local SQLite file that is created if
// missing.
func Open(ctx context.Context, dsn string) (*SiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	driver := driverFor(dsn)
	source := dsn
	if driver == "sqlite" {
		if dir := filepath.Dir(localPath(dsn)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		source = withPragmas(dsn)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	// SQLite has a single writer; one connection serializes every transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return &SiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SiteStore) Close() error {
	return s.db.Close()
}

func driverFor(dsn string) string {
	if strings.Contains(dsn, "libsql://") || strings.Contains(dsn, "wss://") {
		return "libsql"
	}
	return "sqlite"
}

func localPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	canonical_name TEXT NOT NULL UNIQUE,
	registered_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id      INTEGER NOT NULL REFERENCES sites(id),
	status_code  INTEGER,
	h1           TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	snapshot_uri TEXT NOT NULL DEFAULT '',
	checked_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_site_id_checked_at ON checks (site_id, checked_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *SiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// FindOrCreateSite inserts the site unless the name is taken and returns the
// id of whichever row holds the name.
func (s *SiteStore) FindOrCreateSite(ctx context.Context, name string, registeredAt time.Time) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sites (canonical_name, registered_at) VALUES (?, ?) ON CONFLICT(canonical_name) DO NOTHING`,
		name, formatTime(registeredAt),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert site: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM sites WHERE canonical_name = ?`, name).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("select site: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit site: %w", err)
	}
	return id, affected == 1, nil
}

// GetSite loads one site by id.
func (s *SiteStore) GetSite(ctx context.Context, id int64) (analyzer.Site, error) {
	var (
		site       analyzer.Site
		registered string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, canonical_name, registered_at FROM sites WHERE id = ?`, id,
	).Scan(&site.ID, &site.Name, &registered)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return analyzer.Site{}, analyzer.ErrSiteNotFound
		}
		return analyzer.Site{}, fmt.Errorf("get site: %w", err)
	}
	if site.RegisteredAt, err = parseTime(registered); err != nil {
		return analyzer.Site{}, err
	}
	return site, nil
}

// ListSitesWithLatestCheck returns every site joined to its newest check.
func (s *SiteStore) ListSitesWithLatestCheck(ctx context.Context) ([]analyzer.SiteSummary, error) {
	const query = `
SELECT s.id, s.canonical_name, s.registered_at,
	c.id, c.status_code, c.h1, c.title, c.description, c.snapshot_uri, c.checked_at
FROM sites s
LEFT JOIN checks c ON c.id = (
	SELECT id FROM checks
	WHERE site_id = s.id
	ORDER BY checked_at DESC, id DESC
	LIMIT 1
)
ORDER BY c.checked_at IS NULL, c.checked_at DESC, s.id DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []analyzer.SiteSummary{}
	for rows.Next() {
		var (
			summary     analyzer.SiteSummary
			registered  string
			checkID     sql.NullInt64
			statusCode  sql.NullInt64
			h1          sql.NullString
			title       sql.NullString
			description sql.NullString
			snapshotURI sql.NullString
			checkedAt   sql.NullString
		)
		err := rows.Scan(
			&summary.Site.ID,
			&summary.Site.Name,
			&registered,
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
		if summary.Site.RegisteredAt, err = parseTime(registered); err != nil {
			return nil, err
		}
		if checkID.Valid {
			check := analyzer.Check{
				ID:          checkID.Int64,
				SiteID:      summary.Site.ID,
				StatusCode:  nullInt(statusCode),
				H1:          h1.String,
				Title:       title.String,
				Description: description.String,
				SnapshotURI: snapshotURI.String,
			}
			if check.CheckedAt, err = parseTime(checkedAt.String); err != nil {
				return nil, err
			}
			summary.LatestCheck = &check
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
	rows, err := s.db.QueryContext(ctx, `
SELECT id, site_id, status_code, h1, title, description, snapshot_uri, checked_at
FROM checks
WHERE site_id = ?
ORDER BY checked_at DESC, id DESC`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checks := []analyzer.Check{}
	for rows.Next() {
		var (
			c          analyzer.Check
			statusCode sql.NullInt64
			checkedAt  string
		)
		if err := rows.Scan(&c.ID, &c.SiteID, &statusCode, &c.H1, &c.Title, &c.Description, &c.SnapshotURI, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan check row: %w", err)
		}
		c.StatusCode = nullInt(statusCode)
		if c.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}
	return checks, nil
}

// AppendCheck inserts a check; checked_at is raised to the site's latest
// check time when the clock reads earlier.
func (s *SiteStore) AppendCheck(ctx context.Context, siteID int64, outcome analyzer.CheckOutcome) (analyzer.Check, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return analyzer.Check{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sites WHERE id = ?`, siteID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return analyzer.Check{}, analyzer.ErrSiteNotFound
		}
		return analyzer.Check{}, fmt.Errorf("lookup site: %w", err)
	}

	at := formatTime(outcome.CheckedAt)
	check := analyzer.Check{
		SiteID:      siteID,
		StatusCode:  analyzer.IntPtr(outcome.StatusCode),
		H1:          outcome.H1,
		Title:       outcome.Title,
		Description: outcome.Description,
		SnapshotURI: outcome.SnapshotURI,
	}
	var checkedAt string
	err = tx.QueryRowContext(ctx, `
INSERT INTO checks (site_id, status_code, h1, title, description, snapshot_uri, checked_at)
VALUES (?, ?, ?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(checked_at) FROM checks WHERE site_id = ?), ?)))
RETURNING id, checked_at`,
		siteID, outcome.StatusCode, outcome.H1, outcome.Title, outcome.Description, outcome.SnapshotURI,
		at, siteID, at,
	).Scan(&check.ID, &checkedAt)
	if err != nil {
		return analyzer.Check{}, fmt.Errorf("insert check: %w", err)
	}
	if check.CheckedAt, err = parseTime(checkedAt); err != nil {
		return analyzer.Check{}, err
	}
	if err := tx.Commit(); err != nil {
		return analyzer.Check{}, fmt.Errorf("commit check: %w", err)
	}
	return check, nil
}

// Ping verifies the database is reachable.
func (s *SiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", v, err)
	}
	return t.UTC(), nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return analyzer.IntPtr(int(v.Int64))
}
