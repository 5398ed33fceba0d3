// Package system provides the wall clock used to stamp crawls and file names.
package system

import "time"

// Clock implements crawler.Clock using time.Now. Times are UTC so artifact
// timestamps do not depend on the host's zone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
