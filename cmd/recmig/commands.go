package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"recmig/internal/logging"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	verbose   bool
	logLevel  string
	logFormat string
	logFile   string

	metricsBackend string
	pushGatewayURL string
	ddAgentAddr    string

	log      *slog.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "recmig",
		Short:         "Migrate records between CSV exports, fixed-width dumps and SQL stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := rf.logLevel
			if rf.verbose && !cmd.Flags().Changed("log-level") {
				level = "debug"
			}
			log, closeFn, err := logging.New(logging.Options{Level: level, Format: rf.logFormat, File: rf.logFile})
			if err != nil {
				return err
			}
			rf.log, rf.closeLog = log, closeFn
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if rf.closeLog != nil {
				return rf.closeLog()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&rf.verbose, "verbose", "v", false, "enable debug logs")
	pf.StringVar(&rf.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&rf.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&rf.logFile, "log-file", "", "also append logs to this file")
	pf.StringVar(&rf.metricsBackend, "metrics-backend", "", "metrics backend: pushgateway, datadog, none (env METRICS_BACKEND)")
	pf.StringVar(&rf.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	pf.StringVar(&rf.ddAgentAddr, "dd-agent-addr", "", "DogStatsD address (env DD_AGENT_ADDR)")

	root.AddCommand(newRunCmd(rf), newValidateCmd(rf), newFixed2CSVCmd(rf))
	return root
}
