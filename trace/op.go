// Package trace reads operation scripts and replays them against a coherence
// engine.
//
// A script has one operation per line:
//
//	read <agent> <addr>
//	write <agent> <addr> <value>
//	inc <agent> <addr> <delta>
//	flush <agent> <addr>
//	expect <agent> <addr> <value>
//	reset
//	reset-memory
//
// Numbers may be decimal or 0x-prefixed hexadecimal. Blank lines and text
// after a '#' are ignored.
package trace

import (
	"fmt"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
)

// OpKind is the kind of a scripted operation.
type OpKind int

// Operation kinds.
const (
	OpRead OpKind = iota
	OpWrite
	OpIncrement
	OpFlush
	OpExpect
	OpReset
	OpResetMemory
)

var opKeywords = map[OpKind]string{
	OpRead:        "read",
	OpWrite:       "write",
	OpIncrement:   "inc",
	OpFlush:       "flush",
	OpExpect:      "expect",
	OpReset:       "reset",
	OpResetMemory: "reset-memory",
}

func (k OpKind) String() string {
	if s, ok := opKeywords[k]; ok {
		return s
	}

	return fmt.Sprintf("OpKind(%d)", int(k))
}

// operands is the number of arguments following the keyword.
func (k OpKind) operands() int {
	switch k {
	case OpRead, OpFlush:
		return 2
	case OpWrite, OpIncrement, OpExpect:
		return 3
	default:
		return 0
	}
}

// Op is one scripted operation.
type Op struct {
	Line    int
	Kind    OpKind
	Agent   coherence.AgentID
	Address memory.Address
	Value   memory.Word
}

func (o Op) String() string {
	switch o.Kind.operands() {
	case 2:
		return fmt.Sprintf("%s %d 0x%x", o.Kind, o.Agent, uint64(o.Address))
	case 3:
		return fmt.Sprintf("%s %d 0x%x %d",
			o.Kind, o.Agent, uint64(o.Address), o.Value)
	default:
		return o.Kind.String()
	}
}
