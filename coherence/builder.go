package coherence

import (
	"fmt"

	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/idgen"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/stats"
	"github.com/sarchlab/coherencesim/txlog"
)

// Builder can build coherence engines.
type Builder struct {
	variant      Variant
	numAgents    int
	addresses    []memory.Address
	logCapacity  int
	agentNames   []string
	memoryValues map[memory.Address]memory.Word
	hooks        []hooking.Hook
}

// MakeBuilder creates a new builder. By default it builds a MESI engine with
// two agents and a single address 0.
func MakeBuilder() Builder {
	return Builder{
		variant:     MESI,
		numAgents:   2,
		addresses:   []memory.Address{0},
		logCapacity: txlog.DefaultCapacity,
	}
}

// WithVariant sets the coherence protocol.
func (b Builder) WithVariant(variant Variant) Builder {
	b.variant = variant
	return b
}

// WithNumAgents sets the number of cache agents.
func (b Builder) WithNumAgents(n int) Builder {
	b.numAgents = n
	return b
}

// WithAddresses sets the address space. The order of the addresses is the
// order lines are kept and reported in.
func (b Builder) WithAddresses(addresses ...memory.Address) Builder {
	b.addresses = append([]memory.Address(nil), addresses...)
	return b
}

// WithAddressRange sets the address space to count addresses, starting at
// start and stride apart.
func (b Builder) WithAddressRange(start memory.Address, count int, stride uint64) Builder {
	addresses := make([]memory.Address, 0, count)
	for i := range count {
		addresses = append(addresses, start+memory.Address(uint64(i)*stride))
	}

	b.addresses = addresses

	return b
}

// WithLogCapacity sets how many transactions the log keeps.
func (b Builder) WithLogCapacity(capacity int) Builder {
	b.logCapacity = capacity
	return b
}

// WithAgentNames names the agents. Agents without a name are called CoreN.
func (b Builder) WithAgentNames(names ...string) Builder {
	b.agentNames = append([]string(nil), names...)
	return b
}

// WithMemoryValue seeds the backing store with value at addr.
func (b Builder) WithMemoryValue(addr memory.Address, value memory.Word) Builder {
	values := make(map[memory.Address]memory.Word, len(b.memoryValues)+1)
	for k, v := range b.memoryValues {
		values[k] = v
	}

	values[addr] = value
	b.memoryValues = values

	return b
}

// WithHook registers a hook on the engine as soon as it is built.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the engine. All lines start Invalid, the log is empty and the
// statistics are zero.
func (b Builder) Build(name string) (*Engine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	p, err := protocolOf(b.variant)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		protocol:     p,
		addresses:    append([]memory.Address(nil), b.addresses...),
		addrIndex:    make(map[memory.Address]int, len(b.addresses)),
		store:        memory.NewBackingStore(),
		log:          txlog.New(b.logCapacity),
		stats:        stats.NewAggregator(),
		ids:          idgen.New(),
	}

	for i, addr := range e.addresses {
		e.addrIndex[addr] = i
	}

	for i := range b.numAgents {
		e.agents = append(e.agents,
			newCacheAgent(AgentID(i), b.agentName(i), e.addresses, e.addrIndex))
	}

	for addr, value := range b.memoryValues {
		e.store.Store(addr, value)
	}

	for _, h := range b.hooks {
		e.AcceptHook(h)
	}

	return e, nil
}

// Validate reports the error Build would return, without building.
func (b Builder) Validate() error {
	if _, err := protocolOf(b.variant); err != nil {
		return err
	}

	if b.numAgents <= 0 {
		return fmt.Errorf("%w: need at least one agent, got %d",
			ErrInvalidConfig, b.numAgents)
	}

	if len(b.addresses) == 0 {
		return fmt.Errorf("%w: address space is empty", ErrInvalidConfig)
	}

	if len(b.agentNames) > b.numAgents {
		return fmt.Errorf("%w: %d names for %d agents",
			ErrInvalidConfig, len(b.agentNames), b.numAgents)
	}

	seen := make(map[memory.Address]bool, len(b.addresses))
	for _, addr := range b.addresses {
		if seen[addr] {
			return fmt.Errorf("%w: address 0x%x listed twice",
				ErrInvalidConfig, uint64(addr))
		}

		seen[addr] = true
	}

	for addr := range b.memoryValues {
		if !seen[addr] {
			return fmt.Errorf("%w: memory value for 0x%x outside the address space",
				ErrInvalidAddress, uint64(addr))
		}
	}

	return nil
}

func (b Builder) agentName(i int) string {
	if i < len(b.agentNames) && b.agentNames[i] != "" {
		return b.agentNames[i]
	}

	return fmt.Sprintf("Core%d", i)
}
