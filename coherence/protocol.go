package coherence

import (
	"fmt"
	"strings"
)

// Variant selects the coherence protocol of an engine. It is fixed when the
// engine is built.
type Variant int

// The supported protocols.
const (
	MESI Variant = iota + 1
	MOESI
)

func (v Variant) String() string {
	switch v {
	case MESI:
		return "MESI"
	case MOESI:
		return "MOESI"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant converts a protocol name, in any case, to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "MESI":
		return MESI, nil
	case "MOESI":
		return MOESI, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidVariant, name)
	}
}

// MarshalText encodes the variant by its name.
func (v Variant) MarshalText() ([]byte, error) {
	if _, err := protocolOf(v); err != nil {
		return nil, err
	}

	return []byte(v.String()), nil
}

// UnmarshalText decodes a variant name.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

// A protocol holds the only two places where MESI and MOESI differ. Every
// other transition is shared by both variants and lives in the engine.
type protocol interface {
	variant() Variant

	// supplierState returns the state of a peer line after it has supplied
	// its data to a remote reader.
	supplierState(s State) State

	// isDirty tells if a line in state s holds a value that the backing store
	// may not have. Invalidating such a line without a flush loses the value.
	isDirty(s State) bool
}

func protocolOf(v Variant) (protocol, error) {
	switch v {
	case MESI:
		return mesiProtocol{}, nil
	case MOESI:
		return moesiProtocol{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidVariant, v)
	}
}

type mesiProtocol struct{}

func (mesiProtocol) variant() Variant {
	return MESI
}

func (mesiProtocol) supplierState(s State) State {
	switch s {
	case Modified, Exclusive, Shared:
		return Shared
	default:
		panic(fmt.Sprintf("MESI line in state %s cannot supply data", s))
	}
}

func (mesiProtocol) isDirty(s State) bool {
	return s == Modified
}

type moesiProtocol struct{}

func (moesiProtocol) variant() Variant {
	return MOESI
}

func (moesiProtocol) supplierState(s State) State {
	switch s {
	case Modified, Owned:
		return Owned
	case Exclusive, Shared:
		return Shared
	default:
		panic(fmt.Sprintf("MOESI line in state %s cannot supply data", s))
	}
}

func (moesiProtocol) isDirty(s State) bool {
	return s == Modified || s == Owned
}
