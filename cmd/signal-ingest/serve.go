package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/devblac/signal-ingest/internal/contract"
	"github.com/devblac/signal-ingest/internal/health"
	"github.com/devblac/signal-ingest/internal/ingest"
	"github.com/devblac/signal-ingest/internal/janitor"
	"github.com/devblac/signal-ingest/internal/metrics"
	"github.com/devblac/signal-ingest/internal/server"
	"github.com/devblac/signal-ingest/internal/webhookauth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagAddr    string
	flagMetrics string
	flagDryRun  bool
)

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Webhook listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (overrides metrics.addr)")
	serveCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Log domain writes instead of sending them")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook ingestion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := newLogger(cfg, os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ledger, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		a, err := contract.LoadABI(cfg.Contract.ABIPath)
		if err != nil {
			return err
		}
		writer, err := buildWriter(cfg.Domain, flagDryRun, log)
		if err != nil {
			return fmt.Errorf("domain api: %w", err)
		}
		router, err := contract.NewMarketplaceRouter(a, writer, log)
		if err != nil {
			return err
		}

		metricsAddr := cfg.Metrics.Addr
		if flagMetrics != "" {
			metricsAddr = flagMetrics
		}
		var mtr *metrics.Metrics
		if metricsAddr != "" {
			mtr = metrics.Init()
		}

		opts := []ingest.Option{
			ingest.WithLogger(log),
			ingest.WithMetrics(mtr),
			ingest.WithHandlerTimeout(cfg.Server.HandlerTimeout.Std()),
		}
		if cfg.Contract.Address != "" {
			opts = append(opts, ingest.WithContract(common.HexToAddress(cfg.Contract.Address)))
		}
		if writesDisabled(cfg.Domain, flagDryRun) {
			log.Warn("domain writes are logged only; events will not be recorded in the ledger")
			opts = append(opts, ingest.WithoutRecording())
		}
		pipeline := ingest.New(ledger, router, opts...)

		policy := webhookauth.Policy{
			Secret:           cfg.Security.SigningSecret,
			SkipVerification: cfg.Security.SkipVerification,
			Production:       cfg.IsProduction(),
		}
		if policy.Bypassed() {
			log.Warn("webhook signature verification is DISABLED; development use only")
		} else if policy.Secret == "" {
			log.Warn("no signing secret configured; every delivery will be rejected")
		}

		webhook := server.NewWebhookHandler(pipeline, policy, server.Options{
			SignatureHeader: cfg.Server.SignatureHeader,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			MaxAge:          cfg.Security.MaxAge.Std(),
			MaxFutureSkew:   cfg.Security.MaxFutureSkew.Std(),
			Logger:          log,
			Metrics:         mtr,
		})
		healthz := health.Handler(health.Checker{DBPing: ledger.Ping, DomainPing: writer.Ping})

		addr := cfg.Server.Addr
		if flagAddr != "" {
			addr = flagAddr
		}
		srv := server.New(addr, server.Routes(cfg.Server.WebhookPath, webhook, healthz, log), cfg.Server.ReadTimeout.Std())

		jan, err := janitor.New(ledger, cfg.Ledger.PruneSchedule, log, mtr)
		if err != nil {
			return err
		}
		if _, err := jan.RunOnce(ctx); err != nil {
			log.Warn("initial ledger prune failed", "err", err)
		}
		jan.Start()

		servers := []*http.Server{srv}
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/healthz", healthz)
			servers = append(servers, &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 3 * time.Second})
			log.Info("metrics enabled", "addr", metricsAddr)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range servers {
			s := s
			g.Go(func() error {
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen %s: %w", s.Addr, err)
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			jan.Stop(shutdownCtx)
			var errs []error
			for _, s := range servers {
				if err := s.Shutdown(shutdownCtx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		})

		log.Info("listening",
			"addr", addr,
			"webhook_path", cfg.Server.WebhookPath,
			"ledger", cfg.Ledger.Driver,
			"domain", cfg.Domain.Type,
			"dry_run", flagDryRun,
		)
		if err := g.Wait(); err != nil {
			log.Error("server error", "err", err)
			return err
		}
		log.Info("shutdown complete")
		return nil
	},
}
