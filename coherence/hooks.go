package coherence

import (
	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/memory"
)

// The positions an engine invokes hooks at.
var (
	// HookPosTransaction fires after a transaction is appended to the log.
	// The item is the txlog.Transaction.
	HookPosTransaction = &hooking.HookPos{Name: "CoherenceTransaction"}

	// HookPosLineTransition fires when a line changes its coherence state.
	// The item is a LineTransition.
	HookPosLineTransition = &hooking.HookPos{Name: "CoherenceLineTransition"}

	// HookPosReset fires after the engine is reset. The item is a ResetEvent.
	HookPosReset = &hooking.HookPos{Name: "CoherenceReset"}
)

// Cause names the event that made a line change state.
type Cause string

// The causes of a line transition.
const (
	CauseLocalRead        Cause = "LocalRead"
	CauseLocalWrite       Cause = "LocalWrite"
	CauseRemoteRead       Cause = "RemoteRead"
	CauseRemoteInvalidate Cause = "RemoteInvalidate"
)

// A LineTransition describes one state change of one line.
type LineTransition struct {
	Agent     AgentID        `json:"agent"`
	Address   memory.Address `json:"address"`
	From      State          `json:"from"`
	To        State          `json:"to"`
	Cause     Cause          `json:"cause"`
	Timestamp uint64         `json:"timestamp"`

	// DirtyDiscarded is set when a dirty line was invalidated and its value
	// never reached the backing store.
	DirtyDiscarded bool `json:"dirty_discarded,omitempty"`
}

// A ResetEvent describes a reset of the engine.
type ResetEvent struct {
	Timestamp   uint64 `json:"timestamp"`
	MemoryReset bool   `json:"memory_reset"`
}
