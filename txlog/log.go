package txlog

// DefaultCapacity is the number of transactions a Log keeps when no capacity
// is given.
const DefaultCapacity = 10

// A Log keeps the most recent transactions in a fixed-size ring. When the
// ring is full, appending evicts the oldest transaction.
//
// A Log is not safe for concurrent use. The engine that owns it serializes
// all access.
type Log struct {
	ring    []Transaction
	head    int
	size    int
	evicted uint64
}

// New creates a Log that keeps up to capacity transactions. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{
		ring: make([]Transaction, capacity),
	}
}

// Capacity returns the maximum number of transactions the Log keeps.
func (l *Log) Capacity() int {
	return len(l.ring)
}

// Len returns the number of transactions currently kept.
func (l *Log) Len() int {
	return l.size
}

// Evicted returns the number of transactions dropped to make room since the
// last Clear.
func (l *Log) Evicted() uint64 {
	return l.evicted
}

// Append records t. It never fails and never blocks.
func (l *Log) Append(t Transaction) {
	tail := (l.head + l.size) % len(l.ring)
	l.ring[tail] = t

	if l.size < len(l.ring) {
		l.size++
		return
	}

	l.head = (l.head + 1) % len(l.ring)
	l.evicted++
}

// Entries returns a copy of the kept transactions, oldest first.
func (l *Log) Entries() []Transaction {
	entries := make([]Transaction, l.size)
	for i := range l.size {
		entries[i] = l.ring[(l.head+i)%len(l.ring)]
	}

	return entries
}

// Latest returns the most recent transaction. The second return value is
// false if the Log is empty.
func (l *Log) Latest() (Transaction, bool) {
	if l.size == 0 {
		return Transaction{}, false
	}

	return l.ring[(l.head+l.size-1)%len(l.ring)], true
}

// Clear drops every kept transaction.
func (l *Log) Clear() {
	clear(l.ring)
	l.head = 0
	l.size = 0
	l.evicted = 0
}
