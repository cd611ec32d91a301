package analyzer

import "time"

// Site is the deduplicated registration record for one canonical name.
type Site struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Check is one recorded probe of a Site. Checks are append-only.
type Check struct {
	ID     int64 `json:"id"`
	SiteID int64 `json:"site_id"`
	// StatusCode is nil only when no response was observed.
	StatusCode  *int      `json:"status_code"`
	H1          string    `json:"h1"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// CheckOutcome is what the pipeline hands to the Repository for persistence.
type CheckOutcome struct {
	StatusCode  int
	H1          string
	Title       string
	Description string
	SnapshotURI string
	CheckedAt   time.Time
}

// SiteSummary pairs a Site with its most recent Check, if any.
type SiteSummary struct {
	Site        Site   `json:"site"`
	LatestCheck *Check `json:"latest_check,omitempty"`
}

// SitePage is a Site together with its check history, newest first.
type SitePage struct {
	Site   Site    `json:"site"`
	Checks []Check `json:"checks"`
}

// Submission reports the outcome of registering a URL.
type Submission struct {
	SiteID  int64  `json:"id"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// CheckSummary is returned to callers after a successful check.
type CheckSummary struct {
	Check    Check  `json:"check"`
	SiteName string `json:"site_name"`
}

// FetchResponse is the result of a fetch that received an HTTP response,
// whatever its status code.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Metadata holds the SEO fields pulled out of a page. Missing elements are
// represented by empty strings.
type Metadata struct {
	H1          string `json:"h1"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CheckEvent is published after a check has been persisted.
type CheckEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	SiteID      int64     `json:"site_id"`
	SiteName    string    `json:"site_name"`
	CheckID     int64     `json:"check_id"`
	StatusCode  int       `json:"status_code"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
	PublishedAt time.Time `json:"published_at"`
}

// CheckCompletedEvent is the CheckEvent type emitted by RunCheck.
const CheckCompletedEvent = "check.completed"

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
