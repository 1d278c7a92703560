// Package memory provides the shared backing store that the private caches of
// a coherence domain fill from and flush into.
package memory

import "sort"

// Address identifies one coherence unit. The engine tracks coherence at the
// granularity of a whole Address; there is no byte offset within a unit.
type Address uint64

// Word is the value stored at one Address.
type Word int64

// An Entry is one committed value of the backing store.
type Entry struct {
	Address Address `json:"address"`
	Value   Word    `json:"value"`
}

// A BackingStore keeps the architectural memory of the simulated system.
//
// Addresses that are never written are not allocated. Loading such an address
// returns zero, so the store can be treated as if every address is present.
type BackingStore struct {
	values map[Address]Word
}

// NewBackingStore creates an empty backing store.
func NewBackingStore() *BackingStore {
	s := new(BackingStore)
	s.values = make(map[Address]Word)

	return s
}

// Load returns the last committed value at addr.
func (s *BackingStore) Load(addr Address) Word {
	return s.values[addr]
}

// Store commits value at addr.
func (s *BackingStore) Store(addr Address, value Word) {
	s.values[addr] = value
}

// Contains tells if addr has ever been stored to.
func (s *BackingStore) Contains(addr Address) bool {
	_, ok := s.values[addr]
	return ok
}

// Len returns the number of addresses that hold a committed value.
func (s *BackingStore) Len() int {
	return len(s.values)
}

// Entries returns all the committed values, ordered by address.
func (s *BackingStore) Entries() []Entry {
	entries := make([]Entry, 0, len(s.values))
	for addr, value := range s.values {
		entries = append(entries, Entry{Address: addr, Value: value})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})

	return entries
}

// Clear drops every committed value.
func (s *BackingStore) Clear() {
	s.values = make(map[Address]Word)
}
