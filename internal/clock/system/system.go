// Package system provides the wall clock used outside tests.
package system

import "time"

// DefaultPrecision matches the millisecond resolution of BSON dates so
// timestamps read back from the store compare equal to the ones written.
const DefaultPrecision = time.Millisecond

// Clock implements crawler.Clock using time.Now in UTC.
type Clock struct {
	precision time.Duration
}

// New creates a Clock truncating to DefaultPrecision.
func New() *Clock {
	return &Clock{precision: DefaultPrecision}
}

// NewWithPrecision creates a Clock truncating to d. Non positive d keeps
// full resolution.
func NewWithPrecision(d time.Duration) *Clock {
	return &Clock{precision: d}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
