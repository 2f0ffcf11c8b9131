// admsd is the ADMS push-protocol server.
//
// Attendance and access-control terminals are pointed at this server's
// /iclock/* endpoints. It keeps one session per terminal, queues operator
// commands for the terminal's next poll and reports everything the
// terminals do as device events (log, audit trail, WebSocket, MQTT and
// InfluxDB sinks).
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/api"
	"github.com/nerrad567/gray-logic-adms/internal/audit"
	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-adms/internal/monitor"
	"github.com/nerrad567/gray-logic-adms/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupCheckTimeout bounds the health checks run before serving.
const startupCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ADMS server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"config", configPath,
	)

	// Database and audit trail
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	eventRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(eventRepo, log.Component("audit"))

	// Event fan-out. Sinks are subscribed before the notifier starts.
	notifier := adms.NewNotifier(0)
	notifier.SetLogger(log.Component("events"))
	notifier.Subscribe(adms.NewLogSink(log.Component("device")))
	notifier.Subscribe(recorder)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)
	notifier.Subscribe(hub)

	manager := adms.NewManager(adms.ManagerOptions{
		Config: cfg.Push,
		Sink:   notifier,
		Logger: log.Component("adms"),
	})

	checks := map[string]api.HealthChecker{"database": db}

	// MQTT bridge (optional)
	var bridge *adms.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient

		bridge, err = adms.NewBridge(adms.BridgeOptions{
			Manager:        manager,
			MQTT:           &mqttBridgeAdapter{client: mqttClient},
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			ServerID:       cfg.Server.ID,
			Version:        version,
			HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			Logger:         log.Component("mqtt-bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		notifier.Subscribe(bridge)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB metrics (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		checks["influxdb"] = influxClient
		notifier.Subscribe(adms.NewMetricsSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Attendance monitor (optional)
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		monLog := log.Component("monitor")
		mon = monitor.New(monitor.Options{
			Config:   cfg.Monitor,
			Sessions: manager,
			Logger:   monLog,
			OnTransactions: func(serial string, txs []adms.Transaction) {
				for _, tx := range txs {
					monLog.Info("transaction",
						"serial_number", serial,
						"pin", tx.Pin,
						"event_type", tx.EventType,
						"in_out_state", tx.InOutState,
						"verified", tx.Verified,
						"time", tx.DateTime,
					)
				}
			},
		})
		mon.Start(ctx)
		notifier.Subscribe(mon)
	}

	notifier.Start(ctx)
	defer func() {
		log.Info("stopping event notifier", "dropped", notifier.Dropped())
		notifier.Stop()
	}()

	if mon != nil {
		defer func() {
			log.Info("stopping attendance monitor")
			mon.Stop()
		}()
	}

	if bridge != nil {
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		log.Info("MQTT bridge started", "prefix", cfg.MQTT.TopicPrefix)
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Devices:  manager,
		Events:   eventRepo,
		Hub:      hub,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("operator API is unauthenticated; set security.jwt.secret")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for devices", "address", cfg.Address())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ADMS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ADMS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads path, falling back to built-in defaults only when the
// default path does not exist. An explicit ADMS_CONFIG must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if vErr := cfg.Validate(); vErr != nil {
			return nil, vErr
		}
		return cfg, nil
	}
	return nil, err
}

// healthCheck runs every component check once before serving.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// connectMQTT connects to the broker and installs logging callbacks.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the ADMS
// bridge's MQTTClient interface. The bridge's handlers return nothing;
// the infrastructure client's handlers return an error.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements adms.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements adms.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements adms.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
