package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/syncstore/pkg/auth"
	"github.com/cuemby/syncstore/pkg/cache"
	"github.com/cuemby/syncstore/pkg/config"
	"github.com/cuemby/syncstore/pkg/controller"
	"github.com/cuemby/syncstore/pkg/dispatcher"
	"github.com/cuemby/syncstore/pkg/health"
	"github.com/cuemby/syncstore/pkg/log"
	"github.com/cuemby/syncstore/pkg/metrics"
	"github.com/cuemby/syncstore/pkg/nodestatus"
	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync storage HTTP service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a syncstore.yaml config file (required)")
	serveCmd.Flags().String("listen", ":8080", "Address the storage HTTP surface listens on")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:8081", "Address the /metrics, /healthz, and admin endpoints listen on")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")
	metricsAddr, _ := cmd.Flags().GetString("metrics-listen")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, sqlStore, cleanup, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("building storage: %w", err)
	}
	defer cleanup()

	ctrl := controller.New(store, log.Logger, cfg.Storage.UseQuota, cfg.Storage.QuotaSizeKB)

	secrets := make([][]byte, len(cfg.Auth.Secrets))
	for i, s := range cfg.Auth.Secrets {
		secrets[i] = []byte(s)
	}
	hawk := auth.NewHawkVerifier(secrets)
	hawk.ExpiredTokenTimeout = time.Duration(cfg.Auth.ExpiredTokenTimeout) * time.Second
	authChain := &auth.Chain{Hawk: hawk, Log: log.Logger}

	var statusCache *cache.Client
	if len(cfg.Storage.CacheServers) > 0 {
		statusCache = cache.New(cfg.Storage.CacheServers, log.Logger)
	}

	handler := http.Handler(ctrl.Router())
	handler = dispatcher.Dispatch(handler, dispatcher.Options{
		Cache:           statusCache,
		CheckNodeStatus: cfg.Storage.CheckNodeStatus,
		Log:             log.Logger,
	})
	handler = auth.Middleware(authChain, log.Logger)(handler)

	sweeper := storage.NewSweeper(sqlStore, 10*time.Minute, 1000)
	sweeper.Start()
	defer sweeper.Stop()

	dbMonitor := health.NewMonitor("storage", health.NewDBChecker(sqlStore.DB()), health.DefaultConfig())
	dbMonitor.Start()
	defer dbMonitor.Stop()

	var cacheMonitors []*health.Monitor
	if len(cfg.Storage.CacheServers) > 0 {
		metrics.RegisterComponent("cache", true, "")
		for _, addr := range cfg.Storage.CacheServers {
			m := health.NewMonitor("cache", health.NewTCPChecker(addr), health.DefaultConfig())
			m.Start()
			cacheMonitors = append(cacheMonitors, m)
		}
	} else {
		metrics.RegisterComponent("cache", true, "not configured")
	}
	defer func() {
		for _, m := range cacheMonitors {
			m.Stop()
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/healthz", metrics.HealthHandler())
	metricsMux.Handle("/readyz", metrics.ReadyHandler())
	if statusCache != nil {
		metricsMux.Handle("/admin/node-status", nodestatus.AdminHandler(nodestatus.New(statusCache)))
	}

	storageServer := &http.Server{Addr: listenAddr, Handler: handler}
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		log.Logger.Info().Str("addr", listenAddr).Msg("storage HTTP surface listening")
		errCh <- storageServer.ListenAndServe()
	}()
	go func() {
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics/health surface listening")
		errCh <- metricsServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = storageServer.Shutdown(ctx)
	_ = metricsServer.Shutdown(ctx)
	return nil
}
