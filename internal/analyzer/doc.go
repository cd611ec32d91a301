// Package analyzer implements the page analyzer core: URL canonicalization,
// the repository contract for sites and their check history, and the check
// pipeline that fetches a page, extracts its SEO metadata and records the
// outcome.
package analyzer
