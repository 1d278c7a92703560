package tracing

import (
	"sync"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/hooking"
	"github.com/sarchlab/coherencesim/txlog"
)

// A TransitionKey identifies a kind of state change.
type TransitionKey struct {
	From coherence.State
	To   coherence.State
}

// CountTracer counts transactions by kind and line transitions by their from
// and to states. Unlike the engine statistics, the counts survive resets.
type CountTracer struct {
	lock           sync.Mutex
	kindCount      map[txlog.Kind]uint64
	transitions    map[TransitionKey]uint64
	dirtyDiscarded uint64
	resets         uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{
		kindCount:   make(map[txlog.Kind]uint64),
		transitions: make(map[TransitionKey]uint64),
	}
}

// Func counts the hook item.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case coherence.HookPosTransaction:
		t.kindCount[ctx.Item.(txlog.Transaction).Kind]++
	case coherence.HookPosLineTransition:
		tr := ctx.Item.(coherence.LineTransition)
		t.transitions[TransitionKey{From: tr.From, To: tr.To}]++

		if tr.DirtyDiscarded {
			t.dirtyDiscarded++
		}
	case coherence.HookPosReset:
		t.resets++
	}
}

// KindCount returns how many transactions of kind k were seen.
func (t *CountTracer) KindCount(k txlog.Kind) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.kindCount[k]
}

// TransitionCount returns how many times a line went from one state to
// another.
func (t *CountTracer) TransitionCount(from, to coherence.State) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.transitions[TransitionKey{From: from, To: to}]
}

// Transitions returns a copy of all transition counts.
func (t *CountTracer) Transitions() map[TransitionKey]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make(map[TransitionKey]uint64, len(t.transitions))
	for k, v := range t.transitions {
		out[k] = v
	}

	return out
}

// DirtyDiscarded returns how many dirty lines were invalidated before their
// value reached the backing store.
func (t *CountTracer) DirtyDiscarded() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.dirtyDiscarded
}

// Resets returns the number of resets seen.
func (t *CountTracer) Resets() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.resets
}
