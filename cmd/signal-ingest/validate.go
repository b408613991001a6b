package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/devblac/signal-ingest/internal/contract"
	"github.com/devblac/signal-ingest/internal/logging"
	"github.com/spf13/cobra"
)

const pingTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ABI, ledger and domain API connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, environment %s)\n", cfg.Version, cfg.Environment)

		failures := 0

		a, err := contract.LoadABI(cfg.Contract.ABIPath)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- abi: ERROR %v\n", err)
		} else {
			for _, name := range []string{contract.EventPredictorJoined, contract.EventSignalPurchased, contract.EventPredictorBlacklisted, contract.EventPredictorNFTMinted} {
				topic, _ := contract.Topic(a, name)
				fmt.Fprintf(out, "- abi: %s %s\n", name, topic.Hex())
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
		defer cancel()

		ledger, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- ledger (%s): ERROR %v\n", cfg.Ledger.Driver, err)
		} else {
			if err := ledger.Ping(ctx); err != nil {
				failures++
				fmt.Fprintf(out, "- ledger (%s): ERROR %v\n", cfg.Ledger.Driver, err)
			} else {
				fmt.Fprintf(out, "- ledger (%s): OK\n", cfg.Ledger.Driver)
			}
			_ = ledger.Close()
		}

		writer, err := buildWriter(cfg.Domain, false, logging.Discard())
		if err != nil {
			failures++
			fmt.Fprintf(out, "- domain api (%s): ERROR %v\n", cfg.Domain.Type, err)
		} else if err := writer.Ping(ctx); err != nil {
			failures++
			fmt.Fprintf(out, "- domain api (%s): ERROR %v\n", cfg.Domain.Type, err)
		} else {
			fmt.Fprintf(out, "- domain api (%s): OK\n", cfg.Domain.Type)
		}

		if cfg.Security.SigningSecret == "" {
			fmt.Fprintln(out, "- security: WARNING no signing secret configured")
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
