package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagPrune      bool
	flagLedgerJSON bool
)

func init() {
	ledgerCmd.Flags().BoolVar(&flagPrune, "prune", false, "Delete expired records before reporting")
	ledgerCmd.Flags().BoolVar(&flagLedgerJSON, "json", false, "Print stats as JSON")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show idempotency ledger stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		now := time.Now()
		if flagPrune {
			n, err := ledger.Prune(ctx, now)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(out, "pruned %d expired record(s)\n", n)
		}

		stats, err := ledger.Stats(ctx, now)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		if flagLedgerJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Fprintf(out, "records: %d (expired %d)\n", stats.Total, stats.Expired)
		if stats.Total > 0 {
			fmt.Fprintf(out, "oldest:  %s\n", stats.Oldest.Format(time.RFC3339))
			fmt.Fprintf(out, "newest:  %s\n", stats.Newest.Format(time.RFC3339))
		}
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "  %-22s %d\n", t, stats.ByType[t])
		}
		return nil
	},
}
