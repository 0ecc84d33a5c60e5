package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/audit"
	"github.com/duckgate/duckgate/internal/broker"
	"github.com/duckgate/duckgate/internal/cache"
	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/events"
	"github.com/duckgate/duckgate/internal/guardrail"
	"github.com/duckgate/duckgate/internal/logger"
	"github.com/duckgate/duckgate/internal/pii"
	"github.com/duckgate/duckgate/internal/security"
)

var (
	version = broker.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("duckgate %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting duckgate",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(cfg.Events, log.WithComponent("events").Logger)

	pipeline := guardrail.NewPipeline(log.WithComponent("pipeline").Logger)

	var redactor *pii.Redactor
	if cfg.Privacy.Enabled {
		var sink pii.FindingSink
		if cfg.Events.Enabled {
			sink = hub
		}
		redactor = pii.NewRedactor(cfg.Privacy, sink, log.WithComponent("pii").Logger)
		pipeline.Register(redactor)
	}

	if cfg.Blocklist.Enabled {
		blocklist, err := security.NewBlocklist(cfg.Blocklist, log.WithComponent("blocklist").Logger)
		if err != nil {
			log.Fatal("Failed to create blocklist module", zap.Error(err))
		}
		pipeline.Register(blocklist)
	}

	if cfg.RateLimit.Enabled {
		var store security.CounterStore
		if cfg.RateLimit.Store == "redis" {
			counters, err := cache.NewCounterStore(cfg.Cache, log.WithComponent("cache").Logger)
			if err != nil {
				log.Fatal("Failed to create rate counter store", zap.Error(err))
			}
			defer counters.Close()
			store = counters
		}
		rateLimit, err := security.NewRateLimit(cfg.RateLimit, store, log.WithComponent("rate_limit").Logger)
		if err != nil {
			log.Fatal("Failed to create rate limit module", zap.Error(err))
		}
		rateLimit.StartCleanup(baseCtx)
		pipeline.Register(rateLimit)
	}

	var auditSink *audit.Sink
	if cfg.Audit.Enabled {
		auditSink, err = audit.NewSink(cfg.Audit, log.WithComponent("audit").Logger)
		if err != nil {
			log.Fatal("Failed to create audit sink", zap.Error(err))
		}
		defer auditSink.Close()
	}

	server, err := broker.New(cfg, broker.Deps{
		Pipeline: pipeline,
		Redactor: redactor,
		Hub:      hub,
		Audit:    auditSink,
	}, log)
	if err != nil {
		log.Fatal("Failed to create broker server", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck checks the local gateway and exits.
func performHealthCheck() {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
