// Package coherence implements a MESI/MOESI cache coherence engine over a set
// of private cache agents that share one backing store.
//
// The engine is a synchronous state machine. Every operation is applied
// atomically and operations are serialized in the order they are submitted,
// which is the single ordering point a snooping bus or a directory gives real
// hardware.
package coherence

import (
	"fmt"
	"strings"
)

// State is the coherence state of a cache line.
type State int

// The coherence states. Owned is only reachable under MOESI.
const (
	Invalid State = iota
	Shared
	Exclusive
	Owned
	Modified
)

var stateNames = []string{"Invalid", "Shared", "Exclusive", "Owned", "Modified"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// Short returns the one-letter name of the state.
func (s State) Short() string {
	return s.String()[:1]
}

// IsValid tells if a line in this state can serve a local read.
func (s State) IsValid() bool {
	return s != Invalid
}

// IsExclusive tells if a line in this state forbids any other valid copy of
// the same address.
func (s State) IsExclusive() bool {
	return s == Modified || s == Exclusive
}

// MarshalText encodes the state by its name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown coherence state %d", int(s))
	}

	return []byte(s.String()), nil
}

// UnmarshalText accepts either the full or the one-letter name.
func (s *State) UnmarshalText(text []byte) error {
	str := string(text)
	for i, name := range stateNames {
		if strings.EqualFold(name, str) || strings.EqualFold(name[:1], str) {
			*s = State(i)
			return nil
		}
	}

	return fmt.Errorf("unknown coherence state %q", str)
}
