// Package stats aggregates the hit, miss, invalidation and flush counters of a
// coherence engine.
package stats

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Flushes       uint64 `json:"flushes"`
}

// Reads returns the number of reads counted, which is the sum of hits and
// misses.
func (s Snapshot) Reads() uint64 {
	return s.Hits + s.Misses
}

// HitRate returns hits over reads, or 0 if there has been no read.
func (s Snapshot) HitRate() float64 {
	reads := s.Reads()
	if reads == 0 {
		return 0
	}

	return float64(s.Hits) / float64(reads)
}

// An Aggregator maintains the counters as operations are applied. The counters
// only grow until Reset.
//
// An Aggregator is not safe for concurrent use; its owner serializes access.
type Aggregator struct {
	counters Snapshot
}

// NewAggregator creates an Aggregator with all counters at zero.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordHit counts one read hit.
func (a *Aggregator) RecordHit() {
	a.counters.Hits++
}

// RecordMiss counts one read miss.
func (a *Aggregator) RecordMiss() {
	a.counters.Misses++
}

// RecordInvalidation counts one invalidated peer line.
func (a *Aggregator) RecordInvalidation() {
	a.counters.Invalidations++
}

// RecordFlush counts one flush.
func (a *Aggregator) RecordFlush() {
	a.counters.Flushes++
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	return a.counters
}

// Reset sets all counters back to zero.
func (a *Aggregator) Reset() {
	a.counters = Snapshot{}
}
