package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath      string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "signal-ingest",
	Short: "Ingest signal marketplace contract events from provider webhooks",
	Long: `signal-ingest verifies blockchain webhook deliveries, decodes marketplace
contract events and applies them once to the domain-write API, tracking
handled events in an idempotency ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.EnableCommandSorting = false

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level override: debug, info, warn or error")

	rootCmd.AddCommand(
		serveCmd,
		backfillCmd,
		validateCmd,
		ledgerCmd,
		exportCmd,
		initCmd,
		versionCmd,
	)
}

// Execute runs the command tree and reports the error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}
