// Package txlog records the coherence transactions of an engine in a
// fixed-capacity ring.
package txlog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sarchlab/coherencesim/memory"
)

// Kind is the type of a coherence transaction.
type Kind int

// The kinds of transactions an engine emits.
const (
	KindRead Kind = iota
	KindWrite
	KindInvalidate
	KindFlush
)

var kindNames = []string{"Read", "Write", "Invalidate", "Flush"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kindNames[k]
}

// MarshalText encodes the kind by its name.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown transaction kind %d", int(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name, ignoring case.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if strings.EqualFold(name, string(text)) {
			*k = Kind(i)
			return nil
		}
	}

	return fmt.Errorf("unknown transaction kind %q", string(text))
}

// An Endpoint is either a cache agent or the backing store.
type Endpoint int

// Memory is the Endpoint that stands for the backing store.
const Memory Endpoint = -1

// Agent returns the Endpoint of the agent with the given ID.
func Agent(id int) Endpoint {
	if id < 0 {
		panic(fmt.Sprintf("agent id %d is negative", id))
	}

	return Endpoint(id)
}

// IsMemory tells if the endpoint is the backing store.
func (e Endpoint) IsMemory() bool {
	return e == Memory
}

// AgentID returns the agent ID of the endpoint. The second return value is
// false if the endpoint is the backing store.
func (e Endpoint) AgentID() (int, bool) {
	if e.IsMemory() {
		return 0, false
	}

	return int(e), true
}

func (e Endpoint) String() string {
	if e.IsMemory() {
		return "Memory"
	}

	return fmt.Sprintf("Agent%d", int(e))
}

// MarshalJSON encodes the backing store as null and an agent as its ID.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	if e.IsMemory() {
		return []byte("null"), nil
	}

	return json.Marshal(int(e))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = Memory
		return nil
	}

	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}

	if id < 0 {
		return fmt.Errorf("agent id %d is negative", id)
	}

	*e = Endpoint(id)

	return nil
}

// A Transaction is one coherence event. It is immutable once appended to a
// Log.
type Transaction struct {
	ID        uint64         `json:"id"`
	Source    Endpoint       `json:"source"`
	Dest      Endpoint       `json:"dest"`
	Kind      Kind           `json:"kind"`
	Address   memory.Address `json:"address"`
	Data      memory.Word    `json:"data"`
	Timestamp uint64         `json:"timestamp"`
}

func (t Transaction) String() string {
	return fmt.Sprintf("#%d@%d %s %s->%s 0x%x=%d",
		t.ID, t.Timestamp, t.Kind, t.Source, t.Dest, uint64(t.Address), t.Data)
}
