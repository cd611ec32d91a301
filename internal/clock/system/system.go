// Package system provides the wall clock used to stamp sites and checks.
package system

import "time"

// Clock implements analyzer.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the finest
// precision Postgres timestamptz keeps, so stored and returned values agree.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
