package analyzer

import "errors"

// Error kinds returned by the Service. Every error it returns matches exactly
// one of them under errors.Is.
var (
	// ErrInvalidURL means the submitted string cannot be normalized.
	ErrInvalidURL = errors.New("invalid url")
	// ErrSiteNotFound means the referenced site id does not exist.
	ErrSiteNotFound = errors.New("site not found")
	// ErrCheckFailed means the page could not be fetched at all.
	ErrCheckFailed = errors.New("check failed")
	// ErrPersistence means the store rejected or could not complete an operation.
	ErrPersistence = errors.New("persistence failure")
)
