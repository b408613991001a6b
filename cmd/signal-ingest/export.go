package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/devblac/signal-ingest/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagLimit  int
	flagOut    string
)

func init() {
	exportCmd.Flags().StringVar(&flagFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().IntVar(&flagLimit, "limit", 1000, "Maximum records, newest first (0 for all)")
	exportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Write to file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export processed-event ledger records as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unsupported format %q", flagFormat)
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, err := openLedger(cmd.Context(), cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		records, err := ledger.List(cmd.Context(), flagLimit)
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}

		out := cmd.OutOrStdout()
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOut, err)
			}
			defer f.Close()
			out = f
		}

		if format == "csv" {
			return writeCSV(out, records)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func writeCSV(w io.Writer, records []storage.ProcessedEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_key", "transaction_hash", "topic0", "event_type", "delivery_id", "delivery_created_at", "processed_at", "expires_at"}); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.EventKey,
			r.TxHash,
			r.Topic0,
			r.EventType,
			r.DeliveryID,
			r.DeliveryCreatedAt.UTC().Format(time.RFC3339),
			r.ProcessedAt.UTC().Format(time.RFC3339),
			r.ExpiresAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
