package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/coherencesim/datarecording"
	"github.com/sarchlab/coherencesim/tracing"
	"github.com/sarchlab/coherencesim/txlog"
)

func newInspectCmd() *cobra.Command {
	var (
		limit   int
		address int64
	)

	cmd := &cobra.Command{
		Use:   "inspect <db-file>",
		Short: "List the transactions recorded with --record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			reader.MapTable(tracing.TransactionTable, tracing.TransactionEntry{})

			params := datarecording.QueryParams{
				OrderBy: "ID",
				Limit:   limit,
			}

			if address >= 0 {
				params.Where = "Address = ?"
				params.Args = []any{address}
			}

			rows, total, err := reader.Query(
				cmd.Context(), tracing.TransactionTable, params)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tT\tENGINE\tKIND\tSOURCE\tDEST\tADDRESS\tDATA")

			for _, r := range rows {
				e := r.(*tracing.TransactionEntry)
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t0x%x\t%d\n",
					e.ID, e.Timestamp, e.Engine, e.Kind,
					endpointName(e.Source), endpointName(e.Dest),
					e.Address, e.Data)
			}

			fmt.Fprintf(tw, "\n%d of %d transactions\n", len(rows), total)

			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many rows")
	cmd.Flags().Int64Var(&address, "address", -1, "Only show this address")

	return cmd
}

func endpointName(column int64) string {
	if column < 0 {
		return txlog.Memory.String()
	}

	return txlog.Agent(int(column)).String()
}
