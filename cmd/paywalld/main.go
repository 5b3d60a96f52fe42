// Command paywalld serves paywalled articles priced in SOL. Configuration is
// read from the environment (and a .env file when present).
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/events"
	"github.com/mark3labs/paywall-go/replay"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	chainCfg, err := paywall.ChainConfigFor(cfg.Network)
	if err != nil {
		return err
	}
	if cfg.RPCURL != "" {
		chainCfg.RPCURL = cfg.RPCURL
	}
	chainCfg.FallbackRPCURLs = cfg.FallbackRPCURLs

	registry, err := chain.NewRegistry([]paywall.ChainConfig{chainCfg},
		chain.WithFallback(cfg.EnableRPCFallback),
		chain.WithRegistryLogger(logger))
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d := deps{
		Oracles:  registry,
		Events:   events.Noop{},
		Registry: promRegistry,
		Logger:   logger,
	}

	if cfg.RedisURL != "" {
		client, err := replay.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: client},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			return err
		}
		defer publisher.Close()

		d.Store = replay.NewRedisStore(client)
		d.Events = events.NewWatermillPublisher(publisher)
		logger.Info("using redis replay store and event stream")
	} else {
		store := replay.NewMemoryStore(time.Minute)
		defer store.Close()
		d.Store = store
		logger.Warn("using in-memory replay store; not safe for multiple instances")
	}

	a, err := newApp(cfg, d)
	if err != nil {
		return err
	}

	if !cfg.Production {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paywalld listening",
			"addr", cfg.Addr,
			"network", cfg.Network,
			"protected", cfg.Protected,
			"rpc_fallback", cfg.EnableRPCFallback)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
