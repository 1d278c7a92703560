package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/trace"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <script>...",
		Short: "Replay scripts and verify the invariants after every step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}

			for _, path := range args {
				ops, err := readScript(path)
				if err != nil {
					return err
				}

				s, err := newSession(cfg)
				if err != nil {
					return err
				}

				err = errors.Join(
					trace.Replay(s.engine, ops, checkStep(s.engine)),
					s.close())
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\t%d ops\n", path, len(ops))
			}

			return nil
		},
	}
}

func checkStep(engine *coherence.Engine) trace.StepFunc {
	return func(_ int, op trace.Op, _ memory.Word) error {
		if err := coherence.CheckInvariants(engine.Snapshot()); err != nil {
			return fmt.Errorf("after line %d (%s): %w", op.Line, op, err)
		}

		return nil
	}
}
