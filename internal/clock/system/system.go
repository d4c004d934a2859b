// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements screenshot.Clock. Cache entries are stamped in UTC so
// entries written by different replicas compare cleanly in Redis.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
