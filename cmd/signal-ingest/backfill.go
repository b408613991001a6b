package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/devblac/signal-ingest/internal/backfill"
	"github.com/devblac/signal-ingest/internal/config"
	"github.com/devblac/signal-ingest/internal/contract"
	"github.com/devblac/signal-ingest/internal/ingest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	flagFrom        string
	flagTo          uint64
	flagBackfillDry bool
)

func init() {
	backfillCmd.Flags().StringVar(&flagFrom, "from", "latest-1000", "Start block, a number or latest-N")
	backfillCmd.Flags().Uint64Var(&flagTo, "to", 0, "End block inclusive (0 for the confirmed head)")
	backfillCmd.Flags().BoolVar(&flagBackfillDry, "dry-run", false, "Log domain writes instead of sending them")
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay contract logs from an EVM node through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Chain.RPCURL == "" {
			return errors.New("chain.rpc_url is required for backfill")
		}
		if cfg.Contract.Address == "" {
			return errors.New("contract.address is required for backfill")
		}
		log := newLogger(cfg, os.Stderr)

		ledger, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		a, err := contract.LoadABI(cfg.Contract.ABIPath)
		if err != nil {
			return err
		}
		writer, err := buildWriter(cfg.Domain, flagBackfillDry, log)
		if err != nil {
			return fmt.Errorf("domain api: %w", err)
		}
		router, err := contract.NewMarketplaceRouter(a, writer, log)
		if err != nil {
			return err
		}
		address := common.HexToAddress(cfg.Contract.Address)
		opts := []ingest.Option{
			ingest.WithLogger(log),
			ingest.WithHandlerTimeout(cfg.Server.HandlerTimeout.Std()),
			ingest.WithContract(address),
		}
		if writesDisabled(cfg.Domain, flagBackfillDry) {
			opts = append(opts, ingest.WithoutRecording())
		}
		pipeline := ingest.New(ledger, router, opts...)

		client, err := backfill.NewRPCClient(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()

		scanner := backfill.NewScanner(client, pipeline, address, router.Topics(),
			backfill.WithConfirmations(cfg.Chain.Confirmations),
			backfill.WithChunkSize(cfg.Chain.ChunkSize),
			backfill.WithLogger(log),
		)
		safe, err := scanner.SafeHead(ctx)
		if err != nil {
			return err
		}
		from, err := backfill.ResolveStart(flagFrom, safe)
		if err != nil {
			return err
		}

		sum, err := scanner.Run(ctx, from, flagTo)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "blocks %d-%d: %d with events, processed %d, duplicates %d, skipped %d, failed %d\n",
			sum.FromBlock, sum.ToBlock, sum.Blocks, sum.Processed, sum.Duplicates, sum.Skipped, sum.Failed)
		if sum.Failed > 0 {
			return fmt.Errorf("backfill: %d event(s) failed", sum.Failed)
		}
		return nil
	},
}
