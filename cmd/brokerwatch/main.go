// brokerwatch - message broker connection supervisor
//
// brokerwatch holds a connection to an AMQP or MQTT broker, probes the
// broker's HTTP health endpoint out of band, and cycles the connection when
// health recovers after a failure. Supervision events are logged and can be
// persisted to SQLite, written to InfluxDB, and exported to Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/brokerwatch/internal/api"
	"github.com/nerrad567/brokerwatch/internal/broker"
	"github.com/nerrad567/brokerwatch/internal/events"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/logging"
	"github.com/nerrad567/brokerwatch/internal/journal"
	"github.com/nerrad567/brokerwatch/internal/metrics"
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default(version)
	log.Info("starting brokerwatch", buildInfo()...)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() {
		_ = log.Close() //nolint:errcheck // nothing left to log to
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	target := broker.Redact(cfg.Broker.URL)

	// The keeper has to observe connects before the first one happens.
	keep := newKeeper(cfg, log)
	observers := supervisor.Observers{keep}

	// Dependencies reported on /api/v1/health
	checks := make(map[string]api.HealthChecker)

	// Transition journal (optional)
	var transitions api.TransitionLog
	if cfg.Journal.Enabled {
		j, openErr := journal.Open(ctx, journal.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening journal: %w", openErr)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := j.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		j.SetLogger(log)
		if cfg.Journal.Retention > 0 {
			pruned, pruneErr := j.Prune(ctx, time.Now().Add(-cfg.Journal.Retention))
			if pruneErr != nil {
				log.Warn("journal prune failed", "error", pruneErr)
			} else if pruned > 0 {
				log.Info("journal pruned", "entries", pruned, "retention", cfg.Journal.Retention)
			}
		}
		observers = append(observers, j)
		transitions = j
		checks["journal"] = j
		log.Info("journal opened", "path", j.Path())
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxdb.NewObserver(influxClient, target))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Prometheus collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collected, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	observers = append(observers, collected)

	// The WebSocket hub streams every transition and probe result.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log)
		observers = append(observers, hub)
	}

	bus := events.NewBus()
	bus.SetLogger(log)

	sup := supervisor.New(supervisor.Options{
		Bus:      bus,
		Logger:   log,
		Observer: observers,
	})
	defer func() {
		log.Info("closing supervisor")
		if closeErr := sup.Close(); closeErr != nil {
			log.Error("error closing supervisor", "error", closeErr)
		}
	}()
	keep.sup = sup

	// HTTP API: metrics, status, transitions, WebSocket stream (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Status:   sup,
			Journal:  transitions,
			Gatherer: registry,
			Hub:      hub,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("supervising broker", "broker", target, "probe", cfg.Probe.URL)

	if err := keep.run(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// 1. API server (if enabled)
	// 2. Supervisor and broker connection
	// 3. InfluxDB (if enabled)
	// 4. Journal (if enabled)

	log.Info("brokerwatch stopped")
	return nil
}

// buildInfo returns the build attributes logged at startup. The logger adds
// version itself.
func buildInfo() []any {
	return []any{"commit", commit, "build_date", date}
}

// getConfigPath returns the configuration file path.
// Uses BROKERWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BROKERWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
