// Gray Logic Hub - presence and device messaging service
//
// This is the main entry point for the hub. It tracks which users and
// devices are connected, fans notifications out to client sessions and
// queues outbound messages for streaming devices.
//
// The hub owns no business data: backend services drive it through the
// REST API or MQTT, and it persists only the session trail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-hub/migrations"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/audit"
	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/relay"
	"github.com/nerrad567/gray-logic-hub/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup sequence: one block per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	comm := communicator.New(communicator.Options{
		QueueCapacity: cfg.Hub.QueueCapacity,
		Logger:        log.Component("communicator"),
	})

	// Session trail (optional)
	var sessions audit.Repository
	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		repo := audit.NewSQLiteRepository(db.DB)
		recorder = audit.NewRecorder(repo, cfg.Audit.BufferSize)
		recorder.SetLogger(log.Component("audit"))
		recorder.SetRetention(time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour)
		recorder.Start(ctx)
		defer func() {
			log.Info("stopping session recorder")
			recorder.Stop()
		}()
		comm.AddObserver(recorder)
		sessions = repo
		log.Info("session trail enabled", "retention_days", cfg.Audit.RetentionDays)
	} else {
		log.Info("session trail disabled")
	}

	// Connect to MQTT broker and start the relay (optional)
	var mqttClient *mqtt.Client
	var hubRelay *relay.Relay
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		hubRelay, err = relay.New(relay.Options{
			Client:          mqttClient,
			Hub:             comm,
			PublishPresence: cfg.MQTT.Relay.PublishPresence,
			ForwardInbound:  cfg.MQTT.Relay.ForwardInbound,
			QueueSize:       cfg.MQTT.Relay.QueueSize,
			NotifyTimeout:   cfg.GetNotifyTimeout(),
			Logger:          log.Component("relay"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT relay: %w", err)
		}
		if startErr := hubRelay.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT relay: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT relay")
			hubRelay.Stop()
		}()
		comm.AddObserver(hubRelay)
		log.Info("MQTT relay started")
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB and start telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		if cfg.Telemetry.Enabled {
			sampler := telemetry.New(telemetry.Config{
				SiteID:   cfg.Site.ID,
				Interval: cfg.GetTelemetryInterval(),
				Source:   comm,
				Writer:   influxClient,
			})
			sampler.SetLogger(log.Component("telemetry"))
			sampler.Start(ctx)
			defer func() {
				log.Info("stopping telemetry sampler")
				sampler.Stop()
			}()
			log.Info("telemetry sampler started", "interval", cfg.GetTelemetryInterval())
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start API server
	server, err := api.New(apiDeps(cfg, log, comm, db, sessions, recorder, mqttClient, hubRelay))
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, telemetry,
	// InfluxDB, relay, MQTT, session recorder, database.

	log.Info("Gray Logic Hub stopped")
	return nil
}

// apiDeps assembles the API server dependencies. Optional components are
// only set when present so the server never sees a typed nil interface.
func apiDeps(
	cfg *config.Config,
	log *logging.Logger,
	comm *communicator.Communicator,
	db *database.DB,
	sessions audit.Repository,
	recorder *audit.Recorder,
	mqttClient *mqtt.Client,
	hubRelay *relay.Relay,
) api.Deps {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		DeviceStream:    cfg.DeviceStream,
		Hub:             cfg.Hub,
		Security:        cfg.Security,
		Logger:          log.Component("api"),
		Communicator:    comm,
		Sessions:        sessions,
		DB:              db,
		MetricsRegistry: registry,
		Version:         version,
	}
	if recorder != nil {
		deps.Audit = recorder
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if hubRelay != nil {
		deps.Relay = hubRelay
	}
	return deps
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if server != nil {
		if err := server.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
