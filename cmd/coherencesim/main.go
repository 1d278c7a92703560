// Command coherencesim replays operation scripts against a MESI or MOESI
// coherence engine, checks the protocol invariants and serves the engine
// state over HTTP.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
