package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/bridge"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/docs"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/ice"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/indexing"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/collab-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	nodeID := uuid.NewString()
	logger.Info("starting aero-collab-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"node_id", nodeID,
		"bridge", cfg.BridgeScheme(),
		"dev_tokens", cfg.AllowDevTokens,
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	verifier, err := auth.NewVerifier(auth.Config{JWTSecret: cfg.JWTSecret, AllowDevTokens: cfg.AllowDevTokens})
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	iceProvider, err := ice.NewProvider(cfg.ICEServers, ice.TURNRESTConfig{
		SharedSecret:   cfg.TURNREST.SharedSecret,
		TTL:            time.Duration(cfg.TURNREST.TTLSeconds) * time.Second,
		UsernamePrefix: cfg.TURNREST.UsernamePrefix,
	}, m)
	if err != nil {
		return fmt.Errorf("configure ice: %w", err)
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	broker, err := bridge.Open(openCtx, cfg.BridgeURL, logger)
	cancelOpen()
	if err != nil {
		return fmt.Errorf("open bridge: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Warn("bridge_close_failed", "err", err)
		}
	}()
	// The in-process broker only reaches this node, where local fan-out
	// already delivered every event.
	var crossNode bridge.Broker
	if cfg.BridgeScheme() != "memory" {
		crossNode = broker
	}

	registry := hub.NewRegistry()
	topics := hub.NewTopicRouter(logger, m)
	rooms := hub.NewRoomManager(iceProvider, logger, m)
	dispatcher := hub.NewDispatcher(topics, rooms, logger, m)

	var documents *docs.Registry
	indexQueue := indexing.NewQueue(indexing.Config{
		Interval:  cfg.IndexInterval,
		BatchSize: cfg.IndexBatchSize,
		Indexer:   indexing.LogIndexer{Log: logger},
		Active:    func(room string) bool { return documents.Active(room) },
		Logger:    logger,
		Metrics:   m,
	})
	documents = docs.NewRegistry(docs.Hooks{
		OnAttach: indexQueue.Enqueue,
		OnUpdate: indexQueue.Enqueue,
	}, logger, m)

	sig := signaling.NewServer(signaling.Config{
		Verifier:   verifier,
		Registry:   registry,
		Dispatcher: dispatcher,
		Broker:     crossNode,
		Bridge: bridge.Config{
			TopicPrefix:   cfg.AwarenessTopicPrefix,
			ChannelPrefix: cfg.BridgeChannelPrefix,
			NodeID:        nodeID,
		},
		BridgeTeardownTimeout: cfg.BridgeTeardownTimeout,
		Documents:             documents,
		Origins:               origin.NewPolicy(cfg.AllowedOrigins),
		Logger:                logger,
		Metrics:               m,

		SendQueueBytes:                cfg.SendQueueBytes,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		MaxDocumentMessageBytes:       cfg.MaxDocumentMessageBytes,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		ICE:     iceProvider,
		Metrics: m,
		Stats: func() any {
			return collectStats(registry, topics, rooms, documents, indexQueue)
		},
	})
	sig.RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	indexCtx, stopIndexing := context.WithCancel(context.Background())
	defer stopIndexing()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return indexQueue.Run(indexCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := sig.Shutdown(shutdownCtx); err != nil {
			logger.Warn("signaling shutdown incomplete", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server shutdown failed", "err", err)
		}
		stopIndexing()
		return nil
	})
	return g.Wait()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
