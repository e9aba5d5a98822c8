package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/0xMiden/miden-note-transport/internal/config"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/admin"
	"github.com/0xMiden/miden-note-transport/internal/service/fetch"
	"github.com/0xMiden/miden-note-transport/internal/service/hub"
	"github.com/0xMiden/miden-note-transport/internal/service/ingest"
	"github.com/0xMiden/miden-note-transport/internal/service/scavenger"
	"github.com/0xMiden/miden-note-transport/internal/service/server"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
	"github.com/0xMiden/miden-note-transport/internal/utils/log"
)

const (
	exitOK           = 0
	exitConfigError  = 64
	exitRuntimeFatal = 70

	telemetryPushPeriod = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting note transport node",
		zap.String("listen", cfg.Listen),
		zap.String("database", cfg.Database),
		zap.Int("retention_days", cfg.RetentionDays),
	)

	store, err := notes.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("open store failed", zap.Error(err))
		return exitRuntimeFatal
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("close store failed", zap.Error(err))
		}
	}()

	collector := stats.NewCollector()

	ing := ingest.New(store, collector, ingest.Config{MaxInFlight: cfg.MaxInFlightIngest})
	if err := ing.Init(ctx); err != nil {
		log.Error("init ingestion failed", zap.Error(err))
		return exitRuntimeFatal
	}
	fe := fetch.New(store, fetch.Config{MaxPage: cfg.MaxPage, Retention: cfg.Retention()})
	h := hub.New(fe, ing, collector, hub.Config{
		QueueDepth:       cfg.SubQueueDepth,
		MaxSubscriptions: cfg.MaxSubscriptions,
	})
	ing.SetPublisher(h)

	srv := server.New(ing, fe, h, store, collector)
	scav := scavenger.New(store, collector, scavenger.Config{
		Retention:  cfg.Retention(),
		Period:     cfg.ScavengerPeriod(),
		FinalSweep: cfg.FinalSweep,
	})

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Error("listen failed", zap.String("addr", cfg.Listen), zap.Error(err))
		return exitRuntimeFatal
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, lis) })
	g.Go(func() error { return scav.Run(gctx) })

	if cfg.AdminListen != "" {
		adminLis, err := net.Listen("tcp", cfg.AdminListen)
		if err != nil {
			log.Error("admin listen failed", zap.String("addr", cfg.AdminListen), zap.Error(err))
			return exitRuntimeFatal
		}
		ad := admin.New(h, store, collector)
		g.Go(func() error { return ad.Serve(gctx, adminLis) })
	}

	if cfg.TelemetryEndpoint != "" {
		g.Go(func() error {
			pushTelemetry(gctx, collector, cfg.TelemetryEndpoint)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		return exitRuntimeFatal
	}
	log.Info("shutdown complete")
	return exitOK
}

// pushTelemetry periodically pushes the metrics registry to the
// configured gateway. Failures are logged and retried next period.
func pushTelemetry(ctx context.Context, collector *stats.Collector, endpoint string) {
	pusher := push.New(endpoint, "note_transport").Gatherer(collector.Registry())

	ticker := time.NewTicker(telemetryPushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := pusher.Push(); err != nil {
				log.Warn("telemetry push failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
