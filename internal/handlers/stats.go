package handlers

import (
	"sync/atomic"
	"time"
)

// RequestStats tracks screenshot submissions for the status endpoint.
type RequestStats struct {
	count    atomic.Int64
	lastUnix atomic.Int64
}

// NewRequestStats creates an empty stats tracker.
func NewRequestStats() *RequestStats {
	return &RequestStats{}
}

// RecordRequest notes one submission at the current time.
func (s *RequestStats) RecordRequest() {
	s.count.Add(1)
	s.lastUnix.Store(time.Now().UnixNano())
}

// Count returns the number of submissions recorded so far.
func (s *RequestStats) Count() int64 {
	return s.count.Load()
}

// LastRequest returns the time of the most recent submission and whether one
// has happened at all.
func (s *RequestStats) LastRequest() (time.Time, bool) {
	ns := s.lastUnix.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
