// Package idgen provides the sequential ID generators used to number
// coherence transactions.
package idgen

import "sync/atomic"

// ID is a unique identifier represented as a uint64.
type ID uint64

// Generator produces unique identifiers.
type Generator interface {
	// Generate returns an ID that has never been returned before.
	Generate() ID

	// Last returns the most recently generated ID, or 0 if none.
	Last() ID
}

// New returns a sequential generator whose first emitted ID is 1.
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(atomic.AddUint64(&g.next, 1))
}

func (g *sequentialGenerator) Last() ID {
	return ID(atomic.LoadUint64(&g.next))
}
