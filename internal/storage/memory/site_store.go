// Package memory provides in-memory stores for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

// SiteStore is an in-memory analyzer.Repository. A single mutex serializes
// writers, which gives FindOrCreateSite the same one-row-per-name guarantee
// the SQL stores get from their uniqueness constraint.
type SiteStore struct {
	mu          sync.RWMutex
	nextSiteID  int64
	nextCheckID int64
	sites       map[int64]analyzer.Site
	byName      map[string]int64
	checks      map[int64][]analyzer.Check
}

// NewSiteStore constructs an empty SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{
		sites:  make(map[int64]analyzer.Site),
		byName: make(map[string]int64),
		checks: make(map[int64][]analyzer.Check),
	}
}

// FindOrCreateSite returns the existing id for name or registers a new Site.
func (s *SiteStore) FindOrCreateSite(_ context.Context, name string, registeredAt time.Time) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		return id, false, nil
	}
	s.nextSiteID++
	id := s.nextSiteID
	s.sites[id] = analyzer.Site{ID: id, Name: name, RegisteredAt: registeredAt}
	s.byName[name] = id
	return id, true, nil
}

// GetSite fetches a Site by id.
func (s *SiteStore) GetSite(_ context.Context, id int64) (analyzer.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return analyzer.Site{}, analyzer.ErrSiteNotFound
	}
	return site, nil
}

// ListSitesWithLatestCheck returns every Site paired with its newest Check.
func (s *SiteStore) ListSitesWithLatestCheck(_ context.Context) ([]analyzer.SiteSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analyzer.SiteSummary, 0, len(s.sites))
	for id, site := range s.sites {
		summary := analyzer.SiteSummary{Site: site}
		if history := s.checks[id]; len(history) > 0 {
			latest := history[len(history)-1]
			summary.LatestCheck = &latest
		}
		out = append(out, summary)
	}
	slices.SortFunc(out, compareSummaries)
	return out, nil
}

// ListChecks returns a copy of the Site's history, newest first.
func (s *SiteStore) ListChecks(_ context.Context, siteID int64) ([]analyzer.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.checks[siteID]
	out := make([]analyzer.Check, len(history))
	for i, check := range history {
		out[len(history)-1-i] = check
	}
	return out, nil
}

// AppendCheck records a Check for an existing Site. CheckedAt is clamped so
// the Site's history never goes backwards in time.
func (s *SiteStore) AppendCheck(_ context.Context, siteID int64, outcome analyzer.CheckOutcome) (analyzer.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[siteID]; !ok {
		return analyzer.Check{}, analyzer.ErrSiteNotFound
	}
	checkedAt := outcome.CheckedAt
	if history := s.checks[siteID]; len(history) > 0 {
		if last := history[len(history)-1].CheckedAt; checkedAt.Before(last) {
			checkedAt = last
		}
	}
	s.nextCheckID++
	check := analyzer.Check{
		ID:          s.nextCheckID,
		SiteID:      siteID,
		StatusCode:  analyzer.IntPtr(outcome.StatusCode),
		H1:          outcome.H1,
		Title:       outcome.Title,
		Description: outcome.Description,
		SnapshotURI: outcome.SnapshotURI,
		CheckedAt:   checkedAt,
	}
	s.checks[siteID] = append(s.checks[siteID], check)
	return check, nil
}

// Ping always succeeds.
func (s *SiteStore) Ping(context.Context) error {
	return nil
}

// Migrate is a no-op; the maps need no schema.
func (s *SiteStore) Migrate(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *SiteStore) Close() {}

func compareSummaries(a, b analyzer.SiteSummary) int {
	switch {
	case a.LatestCheck != nil && b.LatestCheck == nil:
		return -1
	case a.LatestCheck == nil && b.LatestCheck != nil:
		return 1
	case a.LatestCheck != nil && b.LatestCheck != nil:
		if c := b.LatestCheck.CheckedAt.Compare(a.LatestCheck.CheckedAt); c != 0 {
			return c
		}
	}
	return cmp.Compare(b.Site.ID, a.Site.ID)
}
