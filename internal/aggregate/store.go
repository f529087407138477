package aggregate

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Record holds the running counters for one bucket. All four values are
// monotonically non-decreasing for the record's lifetime; nothing ever
// un-applies an event.
type Record struct {
	Impressions uint64
	Clicks      uint64
	Conversions uint64
	Revenue     decimal.Decimal
}

// Store accumulates records under concurrent access and evicts closed
// buckets on demand. One mutex guards the whole map; every operation is O(1)
// under the lock and performs no I/O, so contention stays negligible even
// with all three queue consumers and the flush timer sharing it.
type Store struct {
	mu          sync.Mutex
	granularity time.Duration
	grace       time.Duration
	records     map[BucketKey]*Record
}

// NewStore creates an empty store with the given bucket granularity and
// grace window.
func NewStore(granularity, grace time.Duration) *Store {
	return &Store{
		granularity: granularity,
		grace:       grace,
		records:     make(map[BucketKey]*Record),
	}
}

// Add increments the counter for kind on the record at key, creating the
// record on first touch. For conversions the revenue is folded in as well.
// Add cannot fail and is safe for unbounded concurrent callers.
func (s *Store) Add(key BucketKey, kind EventKind, revenue decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Revenue: decimal.Zero}
		s.records[key] = rec
	}

	switch kind {
	case KindImpression:
		rec.Impressions++
	case KindClick:
		rec.Clicks++
	case KindConversion:
		rec.Conversions++
		rec.Revenue = rec.Revenue.Add(revenue)
	}
}

// Apply folds a batch of derived accumulations into the store.
func (s *Store) Apply(adds []Add) {
	for _, a := range adds {
		s.Add(a.Key, a.Kind, a.Revenue)
	}
}

// DrainClosed atomically removes and returns every record whose bucket has
// been closed for at least the grace window: a bucket starting at T is
// eligible once now >= T + granularity + grace.
// Ownership of the returned records transfers to the caller; a key never
// exists in both the live map and a drained batch. Newer buckets stay in
// place and keep accepting Add calls. No Add can race a drain for the same
// bucket because drained buckets are strictly older than any bucket derived
// from current time.
//
// The lock is held only for the snapshot-and-remove step, never during the
// persistence that follows.
func (s *Store) DrainClosed(now time.Time) map[BucketKey]*Record {
	cutoff := now.Truncate(s.granularity).Add(-(s.granularity + s.grace)).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	drained := make(map[BucketKey]*Record)
	for key, rec := range s.records {
		if key.BucketStart <= cutoff {
			drained[key] = rec
			delete(s.records, key)
		}
	}
	return drained
}

// DrainAll removes and returns every record regardless of age. Used for the
// final best-effort flush on shutdown.
func (s *Store) DrainAll() map[BucketKey]*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.records
	s.records = make(map[BucketKey]*Record)
	return drained
}

// Len reports the number of live buckets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
