package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "swarmstream/internal/api/http"
	"swarmstream/internal/app"
	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
	"swarmstream/internal/engine/anacrolix"
	"swarmstream/internal/metrics"
	"swarmstream/internal/resolver"
	"swarmstream/internal/session"
	"swarmstream/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "swarmstream")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "swarmstream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("downloadDir", cfg.DownloadDir),
		slog.String("metadataCacheDir", cfg.MetadataCacheDir),
		slog.Bool("keepFiles", cfg.KeepFiles),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.DownloadDir, cfg.MetadataCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("create directory failed", slog.String("dir", dir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	backend, err := anacrolix.New(anacrolix.Config{
		DataDir:    cfg.DownloadDir,
		ListenPort: cfg.ListenPort,
		Seed:       cfg.Seed,
		DisableDHT: cfg.DisableDHT,
	}, logger)
	if err != nil {
		logger.Error("torrent backend init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eventBus := bus.New(backend, logger)
	registry := session.NewRegistry(eventBus, session.Config{
		PieceWait:    cfg.PieceWait,
		MetadataWait: cfg.MetadataWait,
		KeepFiles:    cfg.KeepFiles,
	}, logger)
	res := resolver.New(registry, cfg.MetadataCacheDir, cfg.DownloadDir, logger)

	handler := apihttp.NewServer(res, registry,
		apihttp.WithLogger(logger),
		apihttp.WithNetworkCaching(cfg.NetworkCaching),
		apihttp.WithRateLimit(cfg.RateLimitRPS),
	)

	// Status events fan out to Prometheus gauges and WebSocket clients.
	statusSink := &statusListener{handler: handler}
	eventBus.Register(statusSink)
	defer eventBus.Unregister(statusSink)

	go trackActiveSessions(rootCtx, registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := eventBus.Close(); err != nil {
		logger.Warn("event bus close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// statusListener feeds backend status events into metrics and the WebSocket
// broadcast path.
type statusListener struct {
	handler *apihttp.Server
}

func (l *statusListener) HandleEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.StatusEvent:
		var dlTotal, ulTotal int64
		var peersTotal int
		for _, snap := range e.Snapshots {
			dlTotal += snap.DownloadRate
			ulTotal += snap.UploadRate
			peersTotal += snap.Peers
		}
		metrics.DownloadSpeedBytes.Set(float64(dlTotal))
		metrics.UploadSpeedBytes.Set(float64(ulTotal))
		metrics.PeersConnected.Set(float64(peersTotal))
		l.handler.UpdateStatus(e.Snapshots)
	case domain.DHTStatsEvent:
		metrics.DHTNodes.Set(float64(e.Nodes))
		l.handler.UpdateDHTStats(e.Nodes)
	}
}

func trackActiveSessions(ctx context.Context, registry *session.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveSessions.Set(float64(registry.Active()))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
