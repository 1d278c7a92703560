package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/monitoring"
	"github.com/sarchlab/coherencesim/trace"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		port        int
		openBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "serve [script]",
		Short: "Serve the engine over HTTP, optionally after replaying a script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				cfg.MonitorPort = port
			}

			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer s.closeInto(&err)

			m := monitoring.NewMonitor().
				WithPortNumber(cfg.MonitorPort).
				WithBrowser(openBrowser)
			if err := m.RegisterEngine(s.engine); err != nil {
				return err
			}

			if _, err := m.StartServer(); err != nil {
				return err
			}

			if len(args) == 1 {
				if err := replayWithProgress(m, s, args[0]); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()

			logrus.Info("shutting down monitor")

			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second)
			defer cancel()

			return m.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to serve on, random if 0")
	cmd.Flags().BoolVar(&openBrowser, "open", false,
		"Open the monitor in the default browser")

	return cmd
}

func replayWithProgress(m *monitoring.Monitor, s *session, path string) error {
	ops, err := readScript(path)
	if err != nil {
		return err
	}

	bar := m.CreateProgressBar(path, uint64(len(ops)))
	defer m.CompleteProgressBar(bar)

	return trace.Replay(s.engine, ops,
		func(step int, op trace.Op, result memory.Word) error {
			bar.IncrementFinished(1)
			return logStep(step, op, result)
		})
}
