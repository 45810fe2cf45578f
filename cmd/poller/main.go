package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siri-poller/internal/config"
	"siri-poller/internal/db"
	"siri-poller/internal/httpapi"
	"siri-poller/internal/lines"
	"siri-poller/internal/logging"
	"siri-poller/internal/metrics"
	"siri-poller/internal/poller"
	"siri-poller/internal/publisher"
	"siri-poller/internal/siri"
	"siri-poller/internal/snapshot"
	"siri-poller/internal/vehicle"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "config error", err)
	}
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lineIDs, source := resolveLines(ctx, cfg, logger)
	logging.LogOperation(logger, "line_catalog_ready",
		slog.String("source", source),
		slog.Int("lines", len(lineIDs)))

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(len(lineIDs), cfg.Concurrency, cfg.RatePerSecond)
		metricsSrv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	// NATS is optional; snapshots are only published when NATS_URL is set
	var pub snapshot.Publisher
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger, wrapPublisherMetrics(mcol))
		if err != nil {
			fatal(logger, "nats error", err)
		}
		defer np.Close()
		pub = np
	}

	policy, err := snapshot.ParsePolicy(cfg.DuplicateMode)
	if err != nil {
		fatal(logger, "config error", err)
	}
	client, err := siri.NewClient(siri.ClientConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		OperatorRef: cfg.OperatorRef,
		Callback:    cfg.Callback,
		Timeout:     cfg.FetchTimeout,
	}, logger)
	if err != nil {
		fatal(logger, "siri client error", err)
	}

	p := poller.New(client, poller.Options{
		Concurrency:   cfg.Concurrency,
		RatePerSecond: cfg.RatePerSecond,
		FetchTimeout:  cfg.FetchTimeout,
		PassDeadline:  cfg.PassDeadline,
	}, logger, wrapPollerMetrics(mcol))
	sm := wrapSnapshotMetrics(mcol)
	svc := snapshot.NewService(p,
		snapshot.NewAssembler(vehicle.NewNormalizer(), policy, logger, sm),
		lineIDs,
		snapshot.Options{TTL: cfg.SnapshotTTL, RefreshInterval: cfg.RefreshEvery},
		logger, sm, pub)
	svc.StartRefresher(ctx)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(svc, httpapi.Options{
			CORSOrigins: cfg.CORSOrigins,
			CacheMaxAge: cfg.SnapshotTTL,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(logger, "http server error", err)
			cancel()
		}
	}()
	logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))

	// Block until context cancelled
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "http shutdown error", err)
	}
	svc.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

// resolveLines picks the probed identifiers: LINES_FILE, then the GTFS
// routes in Postgres, then LINE_MIN..LINE_MAX.
func resolveLines(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]int, string) {
	if cfg.LinesFile != "" {
		ids, err := lines.Load(cfg.LinesFile)
		if err != nil {
			fatal(logger, "line catalog error", err, slog.String("file", cfg.LinesFile))
		}
		return ids, "file"
	}
	if cfg.DatabaseURL != "" {
		ids, err := db.LoadLineCatalog(ctx, cfg.DatabaseURL, cfg.City, cfg.AgencyID, logger)
		if err == nil {
			return ids, "postgres"
		}
		logger.Warn("postgres line catalog unavailable, using range",
			slog.String("error", err.Error()),
			slog.Int("line_min", cfg.LineMin),
			slog.Int("line_max", cfg.LineMax))
	}
	return lines.Range(cfg.LineMin, cfg.LineMax), "range"
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	logging.LogError(logger, msg, err, attrs...)
	os.Exit(1)
}
