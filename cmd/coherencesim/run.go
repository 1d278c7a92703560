package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/trace"
	"github.com/sarchlab/coherencesim/tracing"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Replay a script and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}

			ops, err := readScript(args[0])
			if err != nil {
				return err
			}

			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer s.closeInto(&err)

			err = trace.Replay(s.engine, ops, logStep)
			if err != nil {
				return err
			}

			rep := newReport(s.engine.Snapshot(), s.counts)
			if asJSON {
				return rep.writeJSON(cmd.OutOrStdout())
			}

			return rep.writeText(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

func logStep(step int, op trace.Op, result memory.Word) error {
	logrus.WithFields(logrus.Fields{
		"step":   step,
		"line":   op.Line,
		"result": result,
	}).Debug(op.String())

	return nil
}

type transitionCount struct {
	From  coherence.State `json:"from"`
	To    coherence.State `json:"to"`
	Count uint64          `json:"count"`
}

type report struct {
	Snapshot       coherence.Snapshot `json:"snapshot"`
	Transitions    []transitionCount  `json:"transitions"`
	DirtyDiscarded uint64             `json:"dirty_discarded"`
	Invariants     []string           `json:"invariant_violations"`
}

func newReport(snap coherence.Snapshot, counts *tracing.CountTracer) report {
	rep := report{
		Snapshot:       snap,
		DirtyDiscarded: counts.DirtyDiscarded(),
		Invariants:     []string{},
	}

	for k, n := range counts.Transitions() {
		rep.Transitions = append(rep.Transitions,
			transitionCount{From: k.From, To: k.To, Count: n})
	}

	sort.Slice(rep.Transitions, func(i, j int) bool {
		a, b := rep.Transitions[i], rep.Transitions[j]
		if a.From != b.From {
			return a.From < b.From
		}

		return a.To < b.To
	})

	if err := coherence.CheckInvariants(snap); err != nil {
		rep.Invariants = strings.Split(err.Error(), "\n")
	}

	return rep
}

func (r report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(r)
}

func (r report) writeText(w io.Writer) error {
	snap := r.Snapshot
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s (%s) at t=%d\n\n", snap.Name, snap.Variant, snap.Timestamp)

	fmt.Fprint(tw, "AGENT")
	for _, addr := range snap.Addresses {
		fmt.Fprintf(tw, "\t0x%x", uint64(addr))
	}
	fmt.Fprintln(tw)

	for _, a := range snap.Agents {
		fmt.Fprint(tw, a.Name)
		for _, l := range a.Lines {
			fmt.Fprintf(tw, "\t%s:%d", l.State.Short(), l.Data)
		}
		fmt.Fprintln(tw)
	}

	fmt.Fprint(tw, "Memory")
	for _, addr := range snap.Addresses {
		fmt.Fprintf(tw, "\t%d", snap.Memory(addr))
	}
	fmt.Fprintln(tw)

	st := snap.Stats
	fmt.Fprintf(tw, "\nhits %d\tmisses %d\tinvalidations %d\tflushes %d\thit rate %.2f\n",
		st.Hits, st.Misses, st.Invalidations, st.Flushes, st.HitRate())

	for _, t := range r.Transitions {
		fmt.Fprintf(tw, "%s -> %s\t%d\n", t.From, t.To, t.Count)
	}

	if r.DirtyDiscarded > 0 {
		fmt.Fprintf(tw, "dirty lines discarded\t%d\n", r.DirtyDiscarded)
	}

	for _, v := range r.Invariants {
		fmt.Fprintf(tw, "VIOLATION %s\n", v)
	}

	return tw.Flush()
}
