package trace

import (
	"fmt"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
)

// An ExpectationError is returned when an expect line reads a value other
// than the one the script asked for.
type ExpectationError struct {
	Op  Op
	Got memory.Word
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("line %d: %s: read %d", e.Op.Line, e.Op, e.Got)
}

// StepFunc is called after every applied operation. result is the value read
// or written, and zero for flush and reset. Returning an error stops the
// replay.
type StepFunc func(step int, op Op, result memory.Word) error

// Replay applies ops to engine in order. It stops at the first engine error,
// failed expectation or error returned by after, which may be nil.
func Replay(engine *coherence.Engine, ops []Op, after StepFunc) error {
	for i, op := range ops {
		result, err := Apply(engine, op)
		if err != nil {
			return err
		}

		if after == nil {
			continue
		}

		if err := after(i, op, result); err != nil {
			return err
		}
	}

	return nil
}

// Apply runs a single operation.
func Apply(engine *coherence.Engine, op Op) (memory.Word, error) {
	var (
		result memory.Word
		err    error
	)

	switch op.Kind {
	case OpRead:
		result, err = engine.Read(op.Agent, op.Address)
	case OpWrite:
		err = engine.Write(op.Agent, op.Address, op.Value)
		result = op.Value
	case OpIncrement:
		result, err = engine.Increment(op.Agent, op.Address, op.Value)
	case OpFlush:
		err = engine.Flush(op.Agent, op.Address)
	case OpExpect:
		result, err = engine.Read(op.Agent, op.Address)
		if err == nil && result != op.Value {
			return result, &ExpectationError{Op: op, Got: result}
		}
	case OpReset:
		engine.Reset()
	case OpResetMemory:
		engine.ResetMemory()
	default:
		panic(fmt.Sprintf("unknown operation kind %d", op.Kind))
	}

	if err != nil {
		return result, fmt.Errorf("line %d: %s: %w", op.Line, op, err)
	}

	return result, nil
}
