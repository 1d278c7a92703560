package coherence

import "errors"

// ErrInvalidAgent is returned when an operation names an agent that the
// engine was not configured with.
var ErrInvalidAgent = errors.New("invalid agent")

// ErrInvalidAddress is returned when an operation names an address outside of
// the configured address space.
var ErrInvalidAddress = errors.New("invalid address")

// ErrInvalidVariant is returned when an unsupported protocol is requested.
var ErrInvalidVariant = errors.New("invalid protocol variant")

// ErrInvalidConfig is returned when an engine cannot be built from the given
// parameters for a reason other than the variant.
var ErrInvalidConfig = errors.New("invalid engine configuration")
