package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

func newMockStore(t *testing.T) (*SiteStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewSiteStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewSiteStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewSiteStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewSiteStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewSiteStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrateCreatesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sites").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checks").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS checks_site_id_checked_at_idx").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sites").WillReturnError(errors.New("permission denied"))

	require.Error(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateSite(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name    string
		created bool
	}{
		{name: "inserted", created: true},
		{name: "existing", created: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t)
			mock.ExpectQuery("INSERT INTO sites").
				WithArgs("https://example.com", now).
				WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(7), tt.created))

			id, created, err := store.FindOrCreateSite(context.Background(), "https://example.com", now)
			require.NoError(t, err)
			assert.Equal(t, int64(7), id)
			assert.Equal(t, tt.created, created)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindOrCreateSiteError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO sites").WillReturnError(errors.New("connection reset"))

	_, _, err := store.FindOrCreateSite(context.Background(), "https://example.com", time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSite(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, canonical_name, registered_at FROM sites").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "canonical_name", "registered_at"}).
			AddRow(int64(3), "https://example.com", now))

	site, err := store.GetSite(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, analyzer.Site{ID: 3, Name: "https://example.com", RegisteredAt: now}, site)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, canonical_name, registered_at FROM sites").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSite(context.Background(), 404)
	require.ErrorIs(t, err, analyzer.ErrSiteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSitesWithLatestCheck(t *testing.T) {
	t.Parallel()

	registered := time.Unix(1700000000, 0).UTC()
	checked := registered.Add(time.Hour)
	checkID := int64(11)
	h1, title, description, snapshot := "Welcome", "Shop", "Best shoes", ""

	store, mock := newMockStore(t)
	cols := []string{
		"id", "canonical_name", "registered_at",
		"check_id", "status_code", "h1", "title", "description", "snapshot_uri", "checked_at",
	}
	mock.ExpectQuery("LEFT JOIN LATERAL").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "https://shop.example", registered,
				&checkID, analyzer.IntPtr(200), &h1, &title, &description, &snapshot, &checked).
			AddRow(int64(5), "https://new.example", registered,
				(*int64)(nil), (*int)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil)))

	sites, err := store.ListSitesWithLatestCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 2)

	require.NotNil(t, sites[0].LatestCheck)
	assert.Equal(t, int64(11), sites[0].LatestCheck.ID)
	assert.Equal(t, int64(2), sites[0].LatestCheck.SiteID)
	assert.Equal(t, 200, *sites[0].LatestCheck.StatusCode)
	assert.Equal(t, "Shop", sites[0].LatestCheck.Title)
	assert.Equal(t, checked, sites[0].LatestCheck.CheckedAt)

	assert.Equal(t, "https://new.example", sites[1].Site.Name)
	assert.Nil(t, sites[1].LatestCheck)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChecks(t *testing.T) {
	t.Parallel()

	newer := time.Unix(1700003600, 0).UTC()
	older := time.Unix(1700000000, 0).UTC()
	store, mock := newMockStore(t)
	cols := []string{"id", "site_id", "status_code", "h1", "title", "description", "snapshot_uri", "checked_at"}
	mock.ExpectQuery("FROM checks").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(9), int64(2), analyzer.IntPtr(500), "", "", "", "", newer).
			AddRow(int64(4), int64(2), analyzer.IntPtr(200), "Welcome", "Shop", "Best shoes", "gs://b/2/x.html", older))

	checks, err := store.ListChecks(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, int64(9), checks[0].ID)
	assert.Equal(t, 500, *checks[0].StatusCode)
	assert.Equal(t, "gs://b/2/x.html", checks[1].SnapshotURI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChecksEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM checks").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	checks, err := store.ListChecks(context.Background(), 2)
	require.NoError(t, err)
	assert.NotNil(t, checks)
	assert.Empty(t, checks)
}

func TestAppendCheck(t *testing.T) {
	t.Parallel()

	checkedAt := time.Unix(1700000000, 0).UTC()
	clamped := checkedAt.Add(time.Second)
	outcome := analyzer.CheckOutcome{
		StatusCode:  200,
		H1:          "Welcome",
		Title:       "Shop",
		Description: "Best shoes",
		CheckedAt:   checkedAt,
	}

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sites").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery("INSERT INTO checks").
		WithArgs(int64(2), 200, "Welcome", "Shop", "Best shoes", "", checkedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "checked_at"}).AddRow(int64(31), clamped))
	mock.ExpectCommit()

	check, err := store.AppendCheck(context.Background(), 2, outcome)
	require.NoError(t, err)
	assert.Equal(t, int64(31), check.ID)
	assert.Equal(t, int64(2), check.SiteID)
	assert.Equal(t, 200, *check.StatusCode)
	assert.Equal(t, clamped, check.CheckedAt, "store-assigned time wins")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCheckMissingSite(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sites").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.AppendCheck(context.Background(), 99, analyzer.CheckOutcome{StatusCode: 200})
	require.ErrorIs(t, err, analyzer.ErrSiteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCheckForeignKeyViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sites").
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectQuery("INSERT INTO checks").
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolation})
	mock.ExpectRollback()

	_, err := store.AppendCheck(context.Background(), 8, analyzer.CheckOutcome{StatusCode: 200})
	require.ErrorIs(t, err, analyzer.ErrSiteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewSiteStoreWithPool(mock)
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, store.Ping(context.Background()))
	require.Error(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
