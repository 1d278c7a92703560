// Package tracing provides hooks that follow the transactions and line
// transitions of coherence engines.
package tracing

import (
	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/datarecording"
	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/txlog"
)

// Table names used by DBTracer.
const (
	TransactionTable = "coherence_transactions"
	TransitionTable  = "coherence_transitions"
	ResetTable       = "coherence_resets"
)

// TransactionEntry is the row DBTracer writes for each transaction. Source
// and Dest are -1 for the backing store.
type TransactionEntry struct {
	ID        uint64
	Engine    string
	Kind      string
	Source    int64
	Dest      int64
	Address   uint64
	Data      int64
	Timestamp uint64
}

// TransitionEntry is the row DBTracer writes for each line transition.
type TransitionEntry struct {
	Engine         string
	Agent          int64
	Address        uint64
	FromState      string
	ToState        string
	Cause          string
	Timestamp      uint64
	DirtyDiscarded bool
}

// ResetEntry is the row DBTracer writes for each reset.
type ResetEntry struct {
	Engine      string
	Timestamp   uint64
	MemoryReset bool
}

type named interface {
	Name() string
}

// DBTracer is a hook that stores everything an engine reports into a
// DataRecorder. Since the transaction log of an engine only keeps the latest
// transactions, the tracer is the way to keep a complete history.
//
// One DBTracer can be attached to several engines; rows carry the engine
// name.
type DBTracer struct {
	recorder datarecording.DataRecorder
}

// NewDBTracer creates the tracing tables in recorder and returns the tracer.
func NewDBTracer(recorder datarecording.DataRecorder) *DBTracer {
	recorder.CreateTable(TransactionTable, TransactionEntry{})
	recorder.CreateTable(TransitionTable, TransitionEntry{})
	recorder.CreateTable(ResetTable, ResetEntry{})

	return &DBTracer{recorder: recorder}
}

// Func records the hook item.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	engine := domainName(ctx)

	switch ctx.Pos {
	case coherence.HookPosTransaction:
		tx := ctx.Item.(txlog.Transaction)
		t.recorder.InsertData(TransactionTable, TransactionEntry{
			ID:        tx.ID,
			Engine:    engine,
			Kind:      tx.Kind.String(),
			Source:    endpointColumn(tx.Source),
			Dest:      endpointColumn(tx.Dest),
			Address:   uint64(tx.Address),
			Data:      int64(tx.Data),
			Timestamp: tx.Timestamp,
		})
	case coherence.HookPosLineTransition:
		tr := ctx.Item.(coherence.LineTransition)
		t.recorder.InsertData(TransitionTable, TransitionEntry{
			Engine:         engine,
			Agent:          int64(tr.Agent),
			Address:        uint64(tr.Address),
			FromState:      tr.From.String(),
			ToState:        tr.To.String(),
			Cause:          string(tr.Cause),
			Timestamp:      tr.Timestamp,
			DirtyDiscarded: tr.DirtyDiscarded,
		})
	case coherence.HookPosReset:
		r := ctx.Item.(coherence.ResetEvent)
		t.recorder.InsertData(ResetTable, ResetEntry{
			Engine:      engine,
			Timestamp:   r.Timestamp,
			MemoryReset: r.MemoryReset,
		})
	}
}

// Flush writes the buffered rows to the database.
func (t *DBTracer) Flush() {
	t.recorder.Flush()
}

func domainName(ctx hooking.HookCtx) string {
	if n, ok := ctx.Domain.(named); ok {
		return n.Name()
	}

	return ""
}

func endpointColumn(e txlog.Endpoint) int64 {
	if id, ok := e.AgentID(); ok {
		return int64(id)
	}

	return -1
}
