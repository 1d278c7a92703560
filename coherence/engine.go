package coherence

import (
	"fmt"
	"sync"

	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/idgen"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/stats"
	"github.com/sarchlab/coherencesim/txlog"
)

// An Engine keeps a set of cache agents coherent over one backing store.
//
// All operations take a single lock, so concurrent callers are serialized in
// the order the lock is acquired. Hooks are invoked while the lock is held and
// must not call back into the engine.
type Engine struct {
	*hooking.HookableBase

	mu sync.Mutex

	name      string
	protocol  protocol
	addresses []memory.Address
	addrIndex map[memory.Address]int
	agents    []*CacheAgent
	store     *memory.BackingStore
	log       *txlog.Log
	stats     *stats.Aggregator
	ids       idgen.Generator

	// now is the logical clock. It advances once per applied operation and is
	// never rewound, not even by Reset.
	now uint64
}

// Configure builds an engine with default names and log capacity.
func Configure(
	variant Variant,
	agentCount int,
	addresses []memory.Address,
) (*Engine, error) {
	return MakeBuilder().
		WithVariant(variant).
		WithNumAgents(agentCount).
		WithAddresses(addresses...).
		Build("Coherence")
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Variant returns the protocol the engine runs.
func (e *Engine) Variant() Variant {
	return e.protocol.variant()
}

// NumAgents returns the number of cache agents.
func (e *Engine) NumAgents() int {
	return len(e.agents)
}

// Addresses returns a copy of the configured address space.
func (e *Engine) Addresses() []memory.Address {
	out := make([]memory.Address, len(e.addresses))
	copy(out, e.addresses)

	return out
}

// Read returns the value of addr as seen by agent.
//
// A read by an agent that holds a valid line is a hit and changes nothing but
// the hit counter. Otherwise the line is filled, from the dirty or exclusive
// copy of a peer if there is one, and from the backing store if not.
func (e *Engine) Read(agent AgentID, addr memory.Address) (memory.Word, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.locate(agent, addr)
	if err != nil {
		return 0, err
	}

	e.now++

	line, _ := a.line(addr)
	if line.State.IsValid() {
		e.stats.RecordHit()
		return line.Data, nil
	}

	e.stats.RecordMiss()

	return e.fill(a, addr), nil
}

// Write sets addr to value on behalf of agent. Every other valid copy is
// invalidated, and the writer's line becomes Modified. The backing store is
// not updated until the line is flushed.
func (e *Engine) Write(agent AgentID, addr memory.Address, value memory.Word) error {
	_, err := e.write(agent, addr, func(memory.Word) memory.Word { return value }, false)
	return err
}

// ReadModifyWrite atomically replaces the value of addr with fn applied to the
// current value and returns the new value. The current value is the coherent
// one: a dirty peer's copy is folded in before that peer is invalidated.
func (e *Engine) ReadModifyWrite(
	agent AgentID,
	addr memory.Address,
	fn func(old memory.Word) memory.Word,
) (memory.Word, error) {
	return e.write(agent, addr, fn, true)
}

// Increment adds delta to addr and returns the new value.
func (e *Engine) Increment(
	agent AgentID,
	addr memory.Address,
	delta memory.Word,
) (memory.Word, error) {
	return e.ReadModifyWrite(agent, addr, func(old memory.Word) memory.Word {
		return old + delta
	})
}

// Flush copies the data of agent's line for addr into the backing store,
// whatever the state of the line. The state of the line does not change.
func (e *Engine) Flush(agent AgentID, addr memory.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.locate(agent, addr)
	if err != nil {
		return err
	}

	e.now++

	line, _ := a.line(addr)
	e.store.Store(addr, line.Data)
	e.stats.RecordFlush()
	e.record(txlog.KindFlush, txlog.Agent(int(a.id)), txlog.Memory, addr, line.Data)

	return nil
}

// Reset invalidates every line, clears the transaction log and zeroes the
// statistics. The backing store keeps its contents.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset(false)
}

// ResetMemory does what Reset does and also clears the backing store.
func (e *Engine) ResetMemory() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset(true)
}

// Line returns a copy of agent's line for addr.
func (e *Engine) Line(agent AgentID, addr memory.Address) (CacheLine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.locate(agent, addr)
	if err != nil {
		return CacheLine{}, err
	}

	line, _ := a.line(addr)

	return line.clone(), nil
}

// Stats returns the current statistics.
func (e *Engine) Stats() stats.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stats.Snapshot()
}

// Transactions returns the transactions kept in the log, oldest first.
func (e *Engine) Transactions() []txlog.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.log.Entries()
}

// Snapshot returns a copy of the whole engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	agents := make([]AgentSnapshot, len(e.agents))
	for i, a := range e.agents {
		agents[i] = a.snapshot()
	}

	return Snapshot{
		Name:         e.name,
		Variant:      e.protocol.variant(),
		Addresses:    e.Addresses(),
		Agents:       agents,
		BackingStore: e.store.Entries(),
		Log:          e.log.Entries(),
		Stats:        e.stats.Snapshot(),
		Timestamp:    e.now,
	}
}

func (e *Engine) locate(agent AgentID, addr memory.Address) (*CacheAgent, error) {
	if agent < 0 || int(agent) >= len(e.agents) {
		return nil, fmt.Errorf("%w: %d (engine has %d agents)",
			ErrInvalidAgent, agent, len(e.agents))
	}

	if _, ok := e.addrIndex[addr]; !ok {
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidAddress, uint64(addr))
	}

	return e.agents[agent], nil
}

// fill serves a read miss of requester at addr and returns the value read.
//
// The Read transaction names a peer as its source whenever the data came from
// that peer and memory does not hold the same value. This includes a Shared
// peer under MESI whose value was never flushed. Otherwise the source is
// Memory.
func (e *Engine) fill(requester *CacheAgent, addr memory.Address) memory.Word {
	var supplier, sharer *CacheAgent

	for _, peer := range e.agents {
		if peer == requester {
			continue
		}

		line, _ := peer.line(addr)
		switch line.State {
		case Modified, Exclusive, Owned:
			supplier = peer
		case Shared:
			if sharer == nil {
				sharer = peer
			}
		}
	}

	memValue := e.store.Load(addr)
	value := memValue
	source := txlog.Memory
	next := Exclusive

	switch {
	case supplier != nil:
		line, _ := supplier.line(addr)
		value = line.Data
		if e.protocol.isDirty(line.State) || value != memValue {
			source = txlog.Agent(int(supplier.id))
		}

		e.setState(supplier, line, e.protocol.supplierState(line.State),
			CauseRemoteRead, false)

		next = Shared
	case sharer != nil:
		// Every Shared copy holds the coherent value. Under MESI that value
		// may not have been flushed yet, so it is taken from the sharer.
		line, _ := sharer.line(addr)
		value = line.Data
		if value != memValue {
			source = txlog.Agent(int(sharer.id))
		}

		next = Shared
	}

	line, _ := requester.line(addr)
	line.Data = value
	e.setState(requester, line, next, CauseLocalRead, false)
	e.record(txlog.KindRead, source, txlog.Agent(int(requester.id)), addr, value)

	return value
}

func (e *Engine) write(
	agent AgentID,
	addr memory.Address,
	fn func(old memory.Word) memory.Word,
	readModify bool,
) (memory.Word, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.locate(agent, addr)
	if err != nil {
		return 0, err
	}

	e.now++

	var old memory.Word
	if readModify {
		old = e.coherentValue(a, addr)
	}

	for _, peer := range e.agents {
		if peer == a {
			continue
		}

		line, _ := peer.line(addr)
		if !line.State.IsValid() {
			continue
		}

		discarded := e.protocol.isDirty(line.State) && !readModify
		e.setState(peer, line, Invalid, CauseRemoteInvalidate, discarded)
		e.stats.RecordInvalidation()
		e.record(txlog.KindInvalidate,
			txlog.Agent(int(a.id)), txlog.Agent(int(peer.id)), addr, line.Data)
	}

	value := fn(old)

	line, _ := a.line(addr)
	line.Data = value
	e.setState(a, line, Modified, CauseLocalWrite, false)
	e.record(txlog.KindWrite, txlog.Agent(int(a.id)), txlog.Memory, addr, value)

	return value, nil
}

// coherentValue returns the value a read of addr by a would observe, without
// changing any state.
func (e *Engine) coherentValue(a *CacheAgent, addr memory.Address) memory.Word {
	if line, _ := a.line(addr); line.State.IsValid() {
		return line.Data
	}

	var clean *CacheLine

	for _, peer := range e.agents {
		line, _ := peer.line(addr)
		if e.protocol.isDirty(line.State) {
			return line.Data
		}

		if line.State.IsValid() && clean == nil {
			clean = line
		}
	}

	if clean != nil {
		return clean.Data
	}

	return e.store.Load(addr)
}

// setState moves line to state to and keeps the owner consistent with the
// new state.
func (e *Engine) setState(
	a *CacheAgent,
	line *CacheLine,
	to State,
	cause Cause,
	dirtyDiscarded bool,
) {
	from := line.State
	line.State = to

	switch to {
	case Modified, Owned:
		owner := a.id
		line.Owner = &owner
	default:
		line.Owner = nil
	}

	if from == to {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosLineTransition,
		Item: LineTransition{
			Agent:          a.id,
			Address:        line.Address,
			From:           from,
			To:             to,
			Cause:          cause,
			Timestamp:      e.now,
			DirtyDiscarded: dirtyDiscarded,
		},
	})
}

func (e *Engine) record(
	kind txlog.Kind,
	src, dst txlog.Endpoint,
	addr memory.Address,
	data memory.Word,
) {
	t := txlog.Transaction{
		ID:        uint64(e.ids.Generate()),
		Source:    src,
		Dest:      dst,
		Kind:      kind,
		Address:   addr,
		Data:      data,
		Timestamp: e.now,
	}

	e.log.Append(t)

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosTransaction,
		Item:   t,
	})
}

func (e *Engine) reset(memoryToo bool) {
	e.now++

	for _, a := range e.agents {
		a.reset()
	}

	e.log.Clear()
	e.stats.Reset()

	if memoryToo {
		e.store.Clear()
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosReset,
		Item:   ResetEvent{Timestamp: e.now, MemoryReset: memoryToo},
	})
}
