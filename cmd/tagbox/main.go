// Tagbox Core - RFID jukebox for a child's room.
//
// Tapping a tag on the reader plays the audio track mapped to it. A small
// web page (and optionally MQTT) manages the mapping, the library and the
// volume.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/tagbox-core/migrations"

	"github.com/nerrad567/tagbox-core/internal/api"
	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/audit"
	"github.com/nerrad567/tagbox-core/internal/bridges/remote"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/database"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/logging"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tagbox-core/internal/jukebox"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/notify"
	"github.com/nerrad567/tagbox-core/internal/playback"
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
	log := logging.Default()
	log.Info("starting Tagbox Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Last thing before exit
	log.Info("configuration loaded",
		"path", configPath,
		"device_id", cfg.Device.ID,
		"level", cfg.Logging.Level,
	)

	// Database
	db, err := database.Open(ctx, cfg.Database)
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
	log.Info("database ready", "path", cfg.Database.Path)

	// Audit log. The recorder outlives the signal context so writes from
	// in-flight requests during shutdown still land before the database
	// closes.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	recCtx, recCancel := context.WithCancel(context.Background())
	go recorder.Run(recCtx)
	defer func() {
		recCancel()
		<-recorder.Done()
	}()

	// Mapping and library
	store := mapping.NewStore(mapping.NewSQLiteRepository(db.DB))
	store.SetLogger(log)
	rejected, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading tag mappings: %w", err)
	}
	if _, importErr := store.ImportLegacy(ctx, cfg.Media.LegacyMappingFile); importErr != nil {
		log.Warn("legacy mapping import failed", "path", cfg.Media.LegacyMappingFile, "error", importErr)
	}
	log.Info("tag mappings loaded", "count", store.Snapshot().Len(), "rejected", rejected)

	lib, err := media.NewLibrary(cfg.Media.Dir)
	if err != nil {
		return err
	}

	// Hardware
	device, err := reader.New(cfg.Hardware.Reader)
	if err != nil {
		return fmt.Errorf("creating tag reader: %w", err)
	}
	log.Info("tag reader configured", "driver", device.Driver())

	light, err := indicator.New(cfg.Hardware.LED, log)
	if err != nil {
		log.Warn("indicator light unavailable", "pin", cfg.Hardware.LED.Pin, "error", err)
		light = indicator.None{}
	}
	defer light.Off()

	// Audio
	chimes := audio.NewChimes(cfg.Sounds, log)
	defer chimes.Close()
	player := audio.NewPlayer(cfg.Player, lib, log)
	mixer := audio.NewMixer(cfg.Mixer, log)

	// Notifications: WebSocket hub always, MQTT and InfluxDB when enabled.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	fanout := notify.New(log, hub)

	mqttClient := connectMQTT(cfg, log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient := connectInfluxDB(cfg, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		fanout.Add(notify.NewTelemetry(influxClient, cfg.Device.ID))
	}

	// Playback and control plane
	coord := playback.New(playback.Config{
		StartupDelay:     cfg.Playback.StartupDelay,
		PollInterval:     cfg.Playback.PollInterval,
		Cooldown:         cfg.Playback.Cooldown,
		TerminateTimeout: cfg.Playback.TerminateTimeout,
		JoinTimeout:      cfg.Playback.JoinTimeout,
	}, playback.Deps{
		Reader:   device,
		Player:   playback.HandlePlayer(player.Play),
		Light:    light,
		Chimes:   chimes,
		Notifier: fanout,
		Logger:   log,
	})

	svc := jukebox.New(jukebox.Config{
		RegistrationTimeout: cfg.Playback.RegistrationTimeout,
		InitialVolume:       cfg.Mixer.InitialVolume,
	}, jukebox.Deps{
		Store:       store,
		Library:     lib,
		Coordinator: coord,
		Reader:      device,
		Mixer:       mixer,
		Light:       light,
		Chimes:      chimes,
		Notifier:    fanout,
		Audit:       recorder,
		Logger:      log,
	})

	var bridge *remote.Bridge
	if mqttClient != nil {
		bridge, err = startBridge(mqttClient, svc, log)
		if err != nil {
			return err
		}
		defer bridge.Stop()
		fanout.Add(bridge)
	}

	if cfg.Media.Watch {
		watcher, watchErr := media.NewWatcher(lib, 0, svc.LibraryChanged, log)
		if watchErr != nil {
			log.Warn("media watcher unavailable", "dir", lib.Dir(), "error", watchErr)
		} else {
			go watcher.Run(ctx)
		}
	}

	if bootErr := svc.Boot(ctx); bootErr != nil {
		return bootErr
	}
	defer func() {
		log.Info("stopping playback")
		if stopErr := svc.Shutdown(); stopErr != nil {
			log.Error("error stopping playback", "error", stopErr)
		}
	}()

	// HTTP API and control page
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Controller: svc,
		Playback:   coord,
		Hub:        hub,
		DB:         db,
		AuditRepo:  auditRepo,
		Bridge:     bridge,
		Version:    version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	server, err := api.New(deps)
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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("health check failed", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tags", store.Snapshot().Len(),
	)

	<-ctx.Done()

	// Deferred calls run in reverse: API server, playback, MQTT bridge,
	// InfluxDB, MQTT, audio, light, audit recorder, database, logger.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TAGBOX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TAGBOX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker when MQTT is enabled. The box is fully
// usable without it, so a failed connection is logged and MQTT stays off.
func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
		return nil
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

// connectInfluxDB connects the telemetry writer when enabled. Like MQTT it
// is optional; failures are logged and telemetry stays off.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without telemetry", "url", cfg.InfluxDB.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// startBridge publishes playback state to MQTT and accepts remote commands.
func startBridge(client *mqtt.Client, svc *jukebox.Service, log *logging.Logger) (*remote.Bridge, error) {
	bridge, err := remote.New(remote.Options{
		Client:     client,
		Topics:     client.Topics(),
		QoS:        client.QoS(),
		Controller: svc,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(); err != nil {
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started", "commands", client.Topics().AllCommands())
	return bridge, nil
}

// healthCheck verifies infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
	return nil
}
