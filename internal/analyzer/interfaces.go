package analyzer

import (
	"context"
	"io"
	"time"
)

// Repository owns Sites and Checks and is their only writer.
type Repository interface {
	// FindOrCreateSite returns the id of the Site with the given canonical
	// name, creating it atomically when absent. created reports whether this
	// call inserted the row.
	FindOrCreateSite(ctx context.Context, name string, registeredAt time.Time) (id int64, created bool, err error)
	// GetSite loads one Site or returns ErrSiteNotFound.
	GetSite(ctx context.Context, id int64) (Site, error)
	// ListSitesWithLatestCheck orders by latest check time descending; Sites
	// without checks come last, ties broken by id descending.
	ListSitesWithLatestCheck(ctx context.Context) ([]SiteSummary, error)
	// ListChecks returns the history of a Site, newest first.
	ListChecks(ctx context.Context, siteID int64) ([]Check, error)
	// AppendCheck persists a new Check or returns ErrSiteNotFound.
	AppendCheck(ctx context.Context, siteID int64, outcome CheckOutcome) (Check, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// Fetcher performs exactly one HTTP GET. Any received response is returned
// without error; a non-nil error means no response was received.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Extractor pulls SEO metadata out of an HTML document. It never fails.
type Extractor interface {
	Extract(body []byte) Metadata
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes check events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for snapshot keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs.
type IDGenerator interface {
	NewID() (string, error)
}
