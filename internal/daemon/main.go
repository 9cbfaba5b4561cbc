package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notfall/dispatchd/internal/analytics"
	"github.com/notfall/dispatchd/internal/api"
	"github.com/notfall/dispatchd/internal/config"
	"github.com/notfall/dispatchd/internal/db"
	"github.com/notfall/dispatchd/internal/hub"
	"github.com/notfall/dispatchd/internal/store"
	"github.com/notfall/dispatchd/internal/ws"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "dispatchd", Short: "Dispatch daemon (widget hub + API)"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(serveCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required for migrate")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			return db.ApplyMigrations(ctx, dbConn)
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the widget hub and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			log, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Analytics persistence is optional; without it the hub still
			// runs and analytics frames are only re-published live.
			var (
				st   *store.Store
				sink *analytics.Sink
			)
			if cfg.Analytics.Enabled {
				dbConn, err := db.Open(ctx, cfg.DB.DSN)
				if err != nil {
					return err
				}
				defer dbConn.Close()
				if err := db.ApplyMigrations(ctx, dbConn); err != nil {
					return err
				}
				st = store.New(dbConn)
				sink = analytics.NewSink(analytics.Config{
					Enabled:         true,
					BatchSize:       cfg.Analytics.BatchSize,
					FlushInterval:   cfg.Analytics.FlushInterval,
					MaxAttempts:     cfg.Analytics.MaxAttempts,
					MaxBackoff:      cfg.Analytics.MaxBackoff,
					StrictCanonical: cfg.Analytics.StrictCanonical,
					DemoSafe:        cfg.Analytics.DemoSafe,
				}, st, log.Named("analytics"))
			}

			opts := hub.Options{
				PingInterval:       cfg.Hub.PingInterval,
				IdleTimeout:        cfg.Hub.IdleTimeout,
				PolicyDefaultAllow: cfg.Hub.PolicyDefaultAllow,
				Logger:             log.Named("hub"),
				Registerer:         reg,
			}
			if sink != nil {
				opts.Analytics = sink
			}
			h := hub.New(opts)

			wsHandler := ws.NewHandler(h, log.Named("ws"), cfg.Hub.SendQueue)
			a := api.New(cfg, h, wsHandler, st, sink, reg, log.Named("api"))
			srv := &http.Server{
				Addr:              cfg.API.Listen,
				Handler:           a.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				h.RunLiveness(gctx)
				return nil
			})
			if sink != nil {
				g.Go(func() error {
					sink.Run(gctx)
					return nil
				})
			}
			g.Go(func() error {
				log.Info("dispatchd listening", zap.String("addr", cfg.API.Listen))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := srv.Shutdown(shCtx)
				h.Close()
				return err
			})

			if err := g.Wait(); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
