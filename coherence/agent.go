package coherence

import (
	"fmt"

	"github.com/sarchlab/coherencesim/memory"
)

// AgentID identifies a cache agent within an engine. IDs are dense, starting
// from 0.
type AgentID int

// A CacheLine is the smallest unit that coherence is tracked at.
type CacheLine struct {
	Address memory.Address `json:"address"`
	State   State          `json:"state"`
	Data    memory.Word    `json:"data"`

	// Owner is the agent responsible for the dirty value of the line. It is
	// nil unless the line is Modified or Owned.
	Owner *AgentID `json:"owner"`
}

func (l CacheLine) clone() CacheLine {
	if l.Owner != nil {
		owner := *l.Owner
		l.Owner = &owner
	}

	return l
}

func (l CacheLine) String() string {
	owner := "-"
	if l.Owner != nil {
		owner = fmt.Sprintf("%d", *l.Owner)
	}

	return fmt.Sprintf("0x%x:%s=%d(owner %s)",
		uint64(l.Address), l.State.Short(), l.Data, owner)
}

// A CacheAgent is the private cache of one core. It holds one line per
// address of the engine's address space, kept in address-space order.
type CacheAgent struct {
	id    AgentID
	name  string
	lines []CacheLine
	index map[memory.Address]int
}

func newCacheAgent(
	id AgentID,
	name string,
	addresses []memory.Address,
	index map[memory.Address]int,
) *CacheAgent {
	a := &CacheAgent{
		id:    id,
		name:  name,
		lines: make([]CacheLine, len(addresses)),
		index: index,
	}

	for i, addr := range addresses {
		a.lines[i] = CacheLine{Address: addr, State: Invalid}
	}

	return a
}

// ID returns the ID of the agent.
func (a *CacheAgent) ID() AgentID {
	return a.id
}

// Name returns the name of the agent.
func (a *CacheAgent) Name() string {
	return a.name
}

func (a *CacheAgent) line(addr memory.Address) (*CacheLine, bool) {
	i, ok := a.index[addr]
	if !ok {
		return nil, false
	}

	return &a.lines[i], true
}

func (a *CacheAgent) reset() {
	for i := range a.lines {
		a.lines[i] = CacheLine{Address: a.lines[i].Address, State: Invalid}
	}
}

func (a *CacheAgent) snapshot() AgentSnapshot {
	lines := make([]CacheLine, len(a.lines))
	for i, l := range a.lines {
		lines[i] = l.clone()
	}

	return AgentSnapshot{ID: a.id, Name: a.name, Lines: lines}
}
