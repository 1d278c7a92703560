package coherence

import (
	"errors"
	"fmt"

	"github.com/sarchlab/coherencesim/memory"
)

// An InvariantViolation describes one address at which the coherence
// invariant does not hold.
type InvariantViolation struct {
	Address memory.Address
	Reason  string
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("address 0x%x: %s", uint64(v.Address), v.Reason)
}

// CheckInvariants verifies the coherence invariant on a snapshot:
//
//   - a Modified or Exclusive line excludes every other valid copy;
//   - at most one agent holds a line Owned, and never under MESI;
//   - all valid copies of an address hold the same value.
//
// It returns nil if the snapshot is coherent, or an error joining one
// InvariantViolation per offending address.
func CheckInvariants(s Snapshot) error {
	var errs []error

	for _, addr := range s.Addresses {
		if v, ok := checkAddress(s, addr); !ok {
			errs = append(errs, v)
		}
	}

	return errors.Join(errs...)
}

func checkAddress(s Snapshot, addr memory.Address) (InvariantViolation, bool) {
	var (
		valid, exclusive, owned int
		value                   memory.Word
		valueSet                bool
	)

	for _, agent := range s.Agents {
		line, ok := agent.Line(addr)
		if !ok || !line.State.IsValid() {
			continue
		}

		valid++

		switch line.State {
		case Modified, Exclusive:
			exclusive++
		case Owned:
			owned++
		}

		if valueSet && line.Data != value {
			return InvariantViolation{addr, "valid copies disagree on the value"}, false
		}

		value = line.Data
		valueSet = true
	}

	switch {
	case exclusive > 0 && valid > 1:
		return InvariantViolation{addr, "exclusive line coexists with another valid copy"}, false
	case owned > 1:
		return InvariantViolation{addr, "more than one owner"}, false
	case owned > 0 && s.Variant == MESI:
		return InvariantViolation{addr, "Owned state under MESI"}, false
	}

	return InvariantViolation{}, true
}
