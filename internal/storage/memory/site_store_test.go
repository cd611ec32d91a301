package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

func TestSiteStoreFindOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewSiteStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	id, created, err := store.FindOrCreateSite(ctx, "https://example.com", now)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := store.FindOrCreateSite(ctx, "https://example.com", now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, id, again)

	site, err := store.GetSite(ctx, id)
	require.NoError(t, err)
	require.Equal(t, now, site.RegisteredAt, "registration time must not change")
}

func TestSiteStoreFindOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	store := NewSiteStore()
	ctx := context.Background()
	const callers = 32

	ids := make([]int64, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, created, err := store.FindOrCreateSite(ctx, "http://race.example", time.Now())
			assert.NoError(t, err)
			ids[i] = id
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, createdCount)
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	sites, err := store.ListSitesWithLatestCheck(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
}

func TestSiteStoreGetSiteMissing(t *testing.T) {
	t.Parallel()

	_, err := NewSiteStore().GetSite(context.Background(), 42)
	require.ErrorIs(t, err, analyzer.ErrSiteNotFound)
}

func TestSiteStoreAppendCheckRequiresSite(t *testing.T) {
	t.Parallel()

	store := NewSiteStore()
	_, err := store.AppendCheck(context.Background(), 7, analyzer.CheckOutcome{StatusCode: 200})
	require.ErrorIs(t, err, analyzer.ErrSiteNotFound)
}

func TestSiteStoreChecksAreNewestFirstAndNonDecreasing(t *testing.T) {
	t.Parallel()

	store := NewSiteStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	id, _, err := store.FindOrCreateSite(ctx, "https://example.com", base)
	require.NoError(t, err)

	first, err := store.AppendCheck(ctx, id, analyzer.CheckOutcome{StatusCode: 200, Title: "one", CheckedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	// A clock that steps backwards must not reorder history.
	second, err := store.AppendCheck(ctx, id, analyzer.CheckOutcome{StatusCode: 500, Title: "two", CheckedAt: base})
	require.NoError(t, err)
	require.False(t, second.CheckedAt.Before(first.CheckedAt))

	checks, err := store.ListChecks(ctx, id)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	require.Equal(t, second.ID, checks[0].ID)
	require.Equal(t, first.ID, checks[1].ID)
	require.Equal(t, 500, *checks[0].StatusCode)

	checks[0].Title = "mutated"
	again, err := store.ListChecks(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "two", again[0].Title, "ListChecks must return a copy")
}

func TestSiteStoreListOrdersByLatestCheck(t *testing.T) {
	t.Parallel()

	store := NewSiteStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	oldID, _, err := store.FindOrCreateSite(ctx, "https://old.example", base)
	require.NoError(t, err)
	newID, _, err := store.FindOrCreateSite(ctx, "https://new.example", base)
	require.NoError(t, err)
	neverID, _, err := store.FindOrCreateSite(ctx, "https://never.example", base)
	require.NoError(t, err)

	_, err = store.AppendCheck(ctx, oldID, analyzer.CheckOutcome{StatusCode: 200, CheckedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.AppendCheck(ctx, newID, analyzer.CheckOutcome{StatusCode: 404, CheckedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	sites, err := store.ListSitesWithLatestCheck(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 3)
	require.Equal(t, newID, sites[0].Site.ID)
	require.Equal(t, 404, *sites[0].LatestCheck.StatusCode)
	require.Equal(t, oldID, sites[1].Site.ID)
	require.Equal(t, neverID, sites[2].Site.ID)
	require.Nil(t, sites[2].LatestCheck)
}
