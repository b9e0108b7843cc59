// Command relay is the contactrelay agent process.
// It loads configuration, initialises the agent identity, opens the durable
// outbox, and serves the local HTTP API.
//
// Usage:
//
//	relay [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/snehjoshi/contactrelay/internal/activity"
	"github.com/snehjoshi/contactrelay/internal/archive"
	"github.com/snehjoshi/contactrelay/internal/config"
	"github.com/snehjoshi/contactrelay/internal/connectivity"
	"github.com/snehjoshi/contactrelay/internal/delivery"
	"github.com/snehjoshi/contactrelay/internal/metrics"
	"github.com/snehjoshi/contactrelay/internal/node"
	"github.com/snehjoshi/contactrelay/internal/outbox"
	"github.com/snehjoshi/contactrelay/internal/store"
	storebolt "github.com/snehjoshi/contactrelay/internal/store/bolt"
	storememory "github.com/snehjoshi/contactrelay/internal/store/memory"
	transphttp "github.com/snehjoshi/contactrelay/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise agent identity ─────────────────────────────────────────
	n, err := node.New(cfg.Agent.DataDir, cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("init agent identity: %w", err)
	}

	slog.Info("relay starting",
		"agent_id", n.ID(),
		"host", cfg.Agent.Host,
		"port", cfg.Agent.Port,
		"data_dir", n.DataDir(),
		"endpoint_configured", cfg.Endpoint.URL != "",
	)

	// ── 4. Open the outbox store (and archive, in durable mode) ──────────────
	var (
		st  store.Store
		arc *archive.Store
	)
	switch cfg.Outbox.Storage {
	case config.StorageMemory:
		st = storememory.New()
	default:
		st, err = storebolt.Open(filepath.Join(cfg.Agent.DataDir, "outbox.db"))
		if err != nil {
			return fmt.Errorf("open outbox store: %w", err)
		}
		arc, err = archive.Open(filepath.Join(cfg.Agent.DataDir, "archive.db"))
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("open archive: %w", err)
		}
	}

	// ── 5. Start the connectivity watcher ────────────────────────────────────
	watcher := connectivity.NewWatcher(
		cfg.Connectivity.ProbeAddr,
		time.Duration(cfg.Connectivity.ProbeIntervalMs)*time.Millisecond,
		time.Duration(cfg.Connectivity.ProbeTimeoutMs)*time.Millisecond,
	)
	watcher.Start()

	// ── 6. Build delivery client, sinks, and the outbox processor ────────────
	client := delivery.New(cfg.Endpoint.URL, time.Duration(cfg.Endpoint.TimeoutMs)*time.Millisecond, watcher)
	actLog := activity.New(cfg.Activity.History)
	metricsReg := &metrics.Registry{}

	opts := []outbox.Option{outbox.WithMaxTries(cfg.Outbox.MaxTries)}
	if arc != nil {
		opts = append(opts, outbox.WithArchive(arc))
	}
	proc := outbox.New(st, client, outbox.Sinks(actLog, metricsReg), opts...)

	// ── 7. Wire the flush triggers ───────────────────────────────────────────
	flush := func(trigger string) {
		err := proc.Flush(context.Background())
		switch {
		case errors.Is(err, outbox.ErrFlushInFlight):
			metricsReg.Flushes.Inc(metrics.FlushBusy)
			slog.Info("flush dropped, another pass running", "trigger", trigger)
		case err != nil:
			metricsReg.Flushes.Inc(metrics.FlushFailed)
			slog.Warn("flush failed", "trigger", trigger, "err", err)
		default:
			metricsReg.Flushes.Inc(metrics.FlushCompleted)
		}
	}

	if cfg.Flush.OnOnline {
		watcher.OnOnline(func() { flush("online") })
	}
	if cfg.Flush.OnStart {
		go flush("start")
	}

	flushTickerDone := make(chan struct{})
	if interval, _ := cfg.Flush.IntervalDuration(); interval > 0 {
		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-flushTickerDone:
					return
				case <-ticker.C:
					flush("timer")
				}
			}
		}()
	}

	// ── 8. Start the HTTP transport ──────────────────────────────────────────
	srv := transphttp.New(transphttp.Deps{
		Processor:    proc,
		Client:       client,
		Activity:     actLog,
		Connectivity: watcher,
		Archive:      arc,
		Registry:     metricsReg,
		AgentID:      string(n.ID()),
	}, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Agent.Host, cfg.Agent.Port)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("relay ready", "agent_id", n.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 9. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 10. Graceful shutdown on SIGINT / SIGTERM ────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(flushTickerDone)
	watcher.Stop()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := st.Close(); err != nil {
		slog.Warn("store close error", "err", err)
	}
	if arc != nil {
		if err := arc.Close(); err != nil {
			slog.Warn("archive close error", "err", err)
		}
	}

	slog.Info("relay stopped")
	return nil
}
