package coherence

import (
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/stats"
	"github.com/sarchlab/coherencesim/txlog"
)

// An AgentSnapshot is a copy of one agent's lines.
type AgentSnapshot struct {
	ID    AgentID     `json:"id"`
	Name  string      `json:"name"`
	Lines []CacheLine `json:"lines"`
}

// Line returns the snapshot of the line at addr.
func (s AgentSnapshot) Line(addr memory.Address) (CacheLine, bool) {
	for _, l := range s.Lines {
		if l.Address == addr {
			return l, true
		}
	}

	return CacheLine{}, false
}

// A Snapshot is a read-only copy of the whole state of an engine, taken
// atomically with respect to every operation.
type Snapshot struct {
	Name         string              `json:"name"`
	Variant      Variant             `json:"variant"`
	Addresses    []memory.Address    `json:"addresses"`
	Agents       []AgentSnapshot     `json:"agents"`
	BackingStore []memory.Entry      `json:"backing_store"`
	Log          []txlog.Transaction `json:"log"`
	Stats        stats.Snapshot      `json:"stats"`
	Timestamp    uint64              `json:"timestamp"`
}

// Memory returns the backing store value at addr as of the snapshot.
func (s Snapshot) Memory(addr memory.Address) memory.Word {
	for _, e := range s.BackingStore {
		if e.Address == addr {
			return e.Value
		}
	}

	return 0
}
