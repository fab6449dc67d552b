// domobridge - HTTP bridge for Algo_Domo home-automation boards.
//
// The bridge exposes a small HTTP control API for smartphone pages and
// home-automation engines and translates it into 14-byte Algo_Domo
// v1.6 frames transacted over a TCP gateway. Entity configuration and
// derived state live in two JSON documents under the data directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/nerrad567/domo-bridge/migrations"

	"github.com/nerrad567/domo-bridge/internal/api"
	"github.com/nerrad567/domo-bridge/internal/audit"
	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
	"github.com/nerrad567/domo-bridge/internal/control"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/config"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/database"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/domo-bridge/internal/store"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main so it can return
// an error for a consistent exit path.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting domobridge", "version", version, "commit", commit)

	configPath := os.Getenv("DOMOBRIDGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	// Audit database.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	auditRepo := audit.NewSQLiteRepository(db.DB)
	log.Info("audit database ready", "path", cfg.Database.Path)

	// The two JSON documents.
	configStore, err := store.OpenConfig(filepath.Join(cfg.Data.Dir, "config.json"))
	if err != nil {
		return fmt.Errorf("loading entity configuration: %w", err)
	}
	stateStore, err := store.OpenState(filepath.Join(cfg.Data.Dir, "state.json"))
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	stateStore.SetLogger(log.With("component", "state"))
	defer func() {
		if closeErr := stateStore.Close(); closeErr != nil {
			log.Error("error flushing state", "error", closeErr)
		}
	}()

	doc := configStore.Get()
	log.Info("entity configuration loaded",
		"boards", len(doc.Boards),
		"lights", len(doc.Lights),
		"shutters", len(doc.Shutters),
		"thermostats", len(doc.Thermostats),
		"gateway", fmt.Sprintf("%s:%d", doc.Gateway.Host, doc.Gateway.Port),
	)

	// Gateway client and per-address serialisation.
	gateway := algodomo.NewClient(configStore.GatewaySettings)
	gateway.SetLogger(log.With("component", "gateway"))
	locks := algodomo.NewAddressLocks()

	// Optional MQTT state publisher.
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttLog := log.With("component", "mqtt")
		stateStore.SetPublisher(func(kind, id string, payload any) {
			data, marshalErr := json.Marshal(payload)
			if marshalErr != nil {
				return
			}
			if pubErr := mqttClient.PublishRetained(mqttClient.StateTopic(kind, id), data); pubErr != nil {
				mqttLog.Warn("state publish failed", "kind", kind, "id", id, "error", pubErr)
			}
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Command pipeline.
	service, err := control.New(control.Deps{
		Config:  configStore,
		State:   stateStore,
		Gateway: gateway,
		Locks:   locks,
		Audit:   auditRepo,
		Logger:  log.With("component", "control"),
	})
	if err != nil {
		return fmt.Errorf("creating control service: %w", err)
	}

	// HTTP surface.
	server, err := api.New(api.Deps{
		Config:      cfg.Server,
		Logger:      log.With("component", "api"),
		Control:     service,
		ConfigStore: configStore,
		Audit:       auditRepo,
		Version:     version,
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

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}
