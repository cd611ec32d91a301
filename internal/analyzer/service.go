package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-analyzer/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/page-analyzer/internal/analyzer")

// Config controls the optional snapshot and notification steps of a check.
type Config struct {
	// SnapshotPrefix is prepended to archived body paths.
	SnapshotPrefix string
	// ContentType is recorded on archived bodies.
	ContentType string
	// Topic receives check events; empty disables publishing.
	Topic string
}

// Service is the collaborator interface exposed to the presentation layer.
type Service struct {
	repo      Repository
	fetcher   Fetcher
	extractor Extractor
	clock     Clock
	snapshots BlobStore
	hasher    Hasher
	publisher Publisher
	idGen     IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewService constructs a Service. snapshots, hasher, publisher and idGen may
// be nil, which disables archiving and notifications.
func NewService(
	repo Repository,
	fetcher Fetcher,
	extractor Extractor,
	clock Clock,
	snapshots BlobStore,
	hasher Hasher,
	publisher Publisher,
	idGen IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	metrics.Init()
	return &Service{
		repo:      repo,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		snapshots: snapshots,
		hasher:    hasher,
		publisher: publisher,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitSite normalizes raw and finds or creates the matching Site.
// Resubmitting a known site is not an error; Created is false.
func (s *Service) SubmitSite(ctx context.Context, raw string) (Submission, error) {
	name, err := Normalize(raw)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		return Submission{}, err
	}
	id, created, err := s.repo.FindOrCreateSite(ctx, name, s.clock.Now())
	if err != nil {
		metrics.ObserveSubmission("error")
		s.logger.Error("find or create site failed", zap.String("site", name), zap.Error(err))
		return Submission{}, persistenceError("find or create site", err)
	}
	if created {
		metrics.ObserveSubmission("created")
		s.logger.Info("site registered", zap.Int64("site_id", id), zap.String("site", name))
	} else {
		metrics.ObserveSubmission("existing")
		s.logger.Debug("site already registered", zap.Int64("site_id", id), zap.String("site", name))
	}
	return Submission{SiteID: id, Name: name, Created: created}, nil
}

// RunCheck fetches the Site's page, extracts its metadata and appends a Check.
// A fetch that receives no response persists nothing and fails with
// ErrCheckFailed; any HTTP response, including 4xx and 5xx, is recorded.
func (s *Service) RunCheck(ctx context.Context, siteID int64) (summary CheckSummary, err error) {
	ctx, span := tracer.Start(ctx, "analyzer.RunCheck")
	span.SetAttributes(attribute.Int64("site.id", siteID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	site, err := s.lookupSite(ctx, siteID)
	if err != nil {
		return CheckSummary{}, err
	}
	span.SetAttributes(attribute.String("site.name", site.Name))

	resp, err := s.fetcher.Fetch(ctx, site.Name)
	if err != nil {
		metrics.ObserveCheck("failed")
		s.logger.Warn("check fetch failed",
			zap.Int64("site_id", site.ID),
			zap.String("site", site.Name),
			zap.Error(err),
		)
		return CheckSummary{}, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}
	metrics.ObserveFetch(resp.Duration)
	s.logger.Debug("check fetch completed",
		zap.Int64("site_id", site.ID),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)

	meta := s.extractor.Extract(resp.Body)
	outcome := CheckOutcome{
		StatusCode:  resp.StatusCode,
		H1:          meta.H1,
		Title:       meta.Title,
		Description: meta.Description,
		SnapshotURI: s.archive(ctx, site, resp),
		CheckedAt:   s.clock.Now(),
	}

	check, err := s.repo.AppendCheck(ctx, site.ID, outcome)
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			metrics.ObserveCheck("not_found")
			return CheckSummary{}, fmt.Errorf("%w: %d", ErrSiteNotFound, site.ID)
		}
		metrics.ObserveCheck("error")
		s.logger.Error("append check failed", zap.Int64("site_id", site.ID), zap.Error(err))
		return CheckSummary{}, persistenceError("append check", err)
	}
	metrics.ObserveCheck(statusClass(resp.StatusCode))
	s.logger.Info("check recorded",
		zap.Int64("site_id", site.ID),
		zap.Int64("check_id", check.ID),
		zap.Int("status_code", resp.StatusCode),
	)

	s.notify(ctx, site, check)
	return CheckSummary{Check: check, SiteName: site.Name}, nil
}

// GetSitePage returns a Site with its check history, newest first.
func (s *Service) GetSitePage(ctx context.Context, siteID int64) (SitePage, error) {
	site, err := s.lookupSite(ctx, siteID)
	if err != nil {
		return SitePage{}, err
	}
	checks, err := s.repo.ListChecks(ctx, site.ID)
	if err != nil {
		return SitePage{}, persistenceError("list checks", err)
	}
	if checks == nil {
		checks = []Check{}
	}
	return SitePage{Site: site, Checks: checks}, nil
}

// ListSites returns every Site with its latest Check, most recently checked first.
func (s *Service) ListSites(ctx context.Context) ([]SiteSummary, error) {
	sites, err := s.repo.ListSitesWithLatestCheck(ctx)
	if err != nil {
		return nil, persistenceError("list sites", err)
	}
	if sites == nil {
		sites = []SiteSummary{}
	}
	return sites, nil
}

// Ready reports whether the underlying store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}

func (s *Service) lookupSite(ctx context.Context, siteID int64) (Site, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	switch {
	case err == nil:
		return site, nil
	case errors.Is(err, ErrSiteNotFound):
		return Site{}, fmt.Errorf("%w: %d", ErrSiteNotFound, siteID)
	default:
		return Site{}, persistenceError("get site", err)
	}
}

func (s *Service) archive(ctx context.Context, site Site, resp FetchResponse) string {
	if s.snapshots == nil || s.hasher == nil {
		return ""
	}
	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		s.logger.Warn("hash snapshot failed", zap.Int64("site_id", site.ID), zap.Error(err))
		return ""
	}
	path := s.snapshotPath(site.ID, hash)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = s.cfg.ContentType
	}
	uri, err := s.snapshots.PutObject(ctx, path, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		s.logger.Warn("store snapshot failed",
			zap.Int64("site_id", site.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (s *Service) snapshotPath(siteID int64, hash string) string {
	id := strconv.FormatInt(siteID, 10)
	prefix := strings.Trim(s.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", id, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, id, hash)
}

func (s *Service) notify(ctx context.Context, site Site, check Check) {
	if s.cfg.Topic == "" || s.publisher == nil {
		return
	}
	event := CheckEvent{
		Type:        CheckCompletedEvent,
		SiteID:      site.ID,
		SiteName:    site.Name,
		CheckID:     check.ID,
		SnapshotURI: check.SnapshotURI,
		CheckedAt:   check.CheckedAt,
		PublishedAt: s.clock.Now(),
	}
	if check.StatusCode != nil {
		event.StatusCode = *check.StatusCode
	}
	if s.idGen != nil {
		id, err := s.idGen.NewID()
		if err != nil {
			s.logger.Warn("generate event id failed", zap.Error(err))
		}
		event.EventID = id
	}
	msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		s.logger.Warn("publish check event failed",
			zap.Int64("site_id", site.ID),
			zap.Int64("check_id", check.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("check event published", zap.Int64("check_id", check.ID), zap.String("message_id", msgID))
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
