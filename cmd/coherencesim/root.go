package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/coherencesim/config"
)

type rootOptions struct {
	logLevel    string
	configPath  string
	envFile     string
	name        string
	variant     string
	agents      int
	addresses   string
	logCapacity int
	record      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "coherencesim",
		Short: "Cache coherence protocol engine for MESI and MOESI",
		Long: "coherencesim keeps a set of private caches coherent over one " +
			"backing store. It replays operation scripts, checks the " +
			"protocol invariants and serves the engine over HTTP.",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}

			logrus.SetLevel(level)

			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn",
		"Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.configPath, "config", "",
		"YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env",
		"File with COHERENCESIM_* variables, skipped if missing")
	flags.StringVar(&opts.name, "name", "", "Engine name")
	flags.StringVar(&opts.variant, "variant", "", "Protocol, MESI or MOESI")
	flags.IntVar(&opts.agents, "agents", 0, "Number of cache agents")
	flags.StringVar(&opts.addresses, "addresses", "",
		"Comma separated address space, e.g. 0x0,0x40")
	flags.IntVar(&opts.logCapacity, "log-capacity", 0,
		"Number of transactions kept in the log")
	flags.StringVar(&opts.record, "record", "",
		"Record every transaction into <record>.sqlite3")

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newServeCmd(opts),
		newInspectCmd(),
	)

	return cmd
}

// loadConfig layers the configuration file, the environment and the flags,
// in that order.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if o.configPath != "" {
		var err error

		cfg, err = config.LoadFile(o.configPath)
		if err != nil {
			return cfg, err
		}
	}

	if err := config.LoadDotEnv(o.envFile); err != nil {
		return cfg, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()

	if flags.Changed("name") {
		cfg.Name = o.name
	}

	if flags.Changed("variant") {
		cfg.Variant = o.variant
	}

	if flags.Changed("agents") {
		cfg.Agents = o.agents
	}

	if flags.Changed("log-capacity") {
		cfg.LogCapacity = o.logCapacity
	}

	if flags.Changed("record") {
		cfg.RecordPath = o.record
	}

	if flags.Changed("addresses") {
		addrs, err := config.ParseAddressList(o.addresses)
		if err != nil {
			return cfg, err
		}

		cfg.Addresses = addrs
		cfg.AddressRange = nil
	}

	logrus.WithFields(logrus.Fields{
		"variant":   cfg.Variant,
		"agents":    cfg.Agents,
		"addresses": cfg.Addresses,
	}).Debug("configuration loaded")

	return cfg, cfg.Validate()
}
