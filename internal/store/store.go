package store

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"snaplens/internal/models"
)

// ErrNotFound is returned when a record has been evicted or never existed.
// This is a normal, expected outcome for follow-up actions arriving late.
var ErrNotFound = errors.New("analysis not found")

// ErrClassificationSet is returned when SetClassification is called twice
// for the same record. Classification is write-once; a second call is a
// programming error and must not silently overwrite.
var ErrClassificationSet = errors.New("classification already set")

// Store is the capacity-bounded, thread-safe collection of in-flight
// analysis records. All mutating operations are mutually exclusive with
// each other and with eviction; reads may run concurrently. Lock-held time
// is O(n) map work at worst (the eviction scan) and never includes I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*models.AnalysisRecord
	order   []string // record IDs in creation order, oldest first
	max     int
}

// New creates a store that holds at most max records before the halving
// eviction kicks in. A max below 1 is clamped to 1.
func New(max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{
		entries: make(map[string]*models.AnalysisRecord),
		max:     max,
	}
}

// Create assigns a fresh identifier to the record, inserts it atomically and
// returns the identifier. Identifiers encode the creation time in
// milliseconds so creation order is recoverable from the ID alone; the
// candidate is bumped under the lock until unique.
func (s *Store) Create(record *models.AnalysisRecord) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidate := now.UnixMilli()
	for {
		id := strconv.FormatInt(candidate, 10)
		if _, exists := s.entries[id]; !exists {
			record.ID = id
			record.CreatedAt = now
			s.entries[id] = record
			s.order = append(s.order, id)
			return id
		}
		candidate++
	}
}

// Get returns the record for id. The second return value is false when the
// record is absent (evicted or never created); absence is not an error.
func (s *Store) Get(id string) (*models.AnalysisRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.entries[id]
	return record, ok
}

// SetClassification stores the stage-2 result for id. It fails with
// ErrNotFound if the record is absent and with ErrClassificationSet if the
// classification was already written.
func (s *Store) SetClassification(id string, c *models.ContentClassification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("set classification for %s: %w", id, ErrNotFound)
	}
	if record.Classification != nil {
		return fmt.Errorf("set classification for %s: %w", id, ErrClassificationSet)
	}
	record.Classification = c
	return nil
}

// EvictIfOverCapacity removes the oldest half of records (by creation
// order) in one atomic pass when the store exceeds its capacity. It is the
// only mechanism bounding memory growth; there is no TTL expiry. Returns
// the number of records removed.
func (s *Store) EvictIfOverCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) <= s.max {
		return 0
	}

	evict := len(s.order) / 2
	for _, id := range s.order[:evict] {
		delete(s.entries, id)
	}
	s.order = append([]string(nil), s.order[evict:]...)

	log.Printf("🧹 [STORE] Evicted %d old analyses (%d remaining)", evict, len(s.order))
	return evict
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
