package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antelayer/streamgate/api/server"
	ws "github.com/antelayer/streamgate/api/websocket"
	"github.com/antelayer/streamgate/internal/chainapi"
	"github.com/antelayer/streamgate/internal/config"
	"github.com/antelayer/streamgate/internal/constants"
	"github.com/antelayer/streamgate/internal/logger"
	"github.com/antelayer/streamgate/pkg/fanout"
	"github.com/antelayer/streamgate/pkg/relay"
	"github.com/antelayer/streamgate/pkg/search"
	"github.com/antelayer/streamgate/pkg/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamgate version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting streamgate",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("chain", cfg.Chain.ID),
		zap.String("relay_endpoint", cfg.Relay.Endpoint),
		zap.String("search_endpoint", cfg.Search.Endpoint),
		zap.String("fanout_mode", cfg.Fanout.Mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Chain API client for head-block lookups
	head, err := chainapi.NewClient(&chainapi.Config{
		Endpoint: cfg.Chain.RPCEndpoint,
		Timeout:  cfg.Chain.RPCTimeout,
		Logger:   logger.WithComponent(log, "chainapi"),
	})
	if err != nil {
		log.Fatal("failed to create chain API client", zap.Error(err))
	}

	// Search backend
	backend := search.NewHTTPBackend(cfg.Search.Endpoint, cfg.Search.Timeout,
		logger.WithComponent(log, "search"))

	// Fan-out bus
	nodeID := uuid.NewString()
	var bus fanout.Bus
	switch cfg.Fanout.Mode {
	case "redis":
		redisBus, err := fanout.NewRedisBus(cfg.Fanout.Redis, nodeID,
			logger.WithComponent(log, "fanout"))
		if err != nil {
			log.Fatal("failed to create redis fanout bus", zap.Error(err))
		}
		if err := redisBus.Connect(ctx); err != nil {
			log.Fatal("failed to connect redis fanout bus", zap.Error(err))
		}
		bus = redisBus
	default:
		bus = fanout.NewLocalBus(logger.WithComponent(log, "fanout"))
	}
	go bus.Run()

	streamMetrics := stream.NewMetrics("streamgate")
	relayMetrics := relay.NewMetrics("streamgate")

	backfill := stream.NewBackfill(backend, logger.WithComponent(log, "backfill"), streamMetrics)

	// The session factory closes over the relay link, which is created
	// after the websocket server so it can broadcast through the hub
	var link *relay.Link

	wsServer := ws.NewServer(ws.Config{
		Chain: cfg.Chain.ID,
		SessionFactory: func(sink stream.Sink) *stream.Session {
			return stream.NewSession(stream.SessionConfig{
				Chain:       cfg.Chain.ID,
				Sink:        sink,
				Head:        head,
				Backfill:    backfill,
				Registrar:   link,
				DeltaIndex:  cfg.Search.DeltaIndex,
				ActionIndex: cfg.Search.ActionIndex,
				Logger:      logger.WithComponent(log, "session"),
				Metrics:     streamMetrics,
			})
		},
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		RequestBurst:      cfg.Limits.RequestBurst,
		Logger:            logger.WithComponent(log, "websocket"),
	})

	link = relay.NewLink(cfg.Chain.ID, wsServer.Hub(), bus,
		logger.WithComponent(log, "relay"), relayMetrics)
	wsServer.Hub().SetDisconnectNotifier(link)
	bus.Subscribe(wsServer.Hub().HandleFanout)

	supervisor := relay.NewSupervisor(link, &relay.WSDialer{Endpoint: cfg.Relay.Endpoint},
		cfg.Relay.ReconnectMin, cfg.Relay.ReconnectMax,
		logger.WithComponent(log, "relay"))
	go supervisor.Run(ctx)

	httpServer := server.New(server.Config{
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		StreamPath: cfg.API.StreamPath,
		Stream:     wsServer,
		Link:       link,
		Logger:     logger.WithComponent(log, "server"),
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start()
	}()

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	bus.Stop()

	log.Info("streamgate stopped")
}
