// Purifier Bridge polls local-network air purifiers over CoAP and publishes
// their status to MQTT, InfluxDB, SQLite history and an HTTP/WebSocket API.
//
// Usage:
//
//	purifierbridge [-config configs/config.yaml]
//	purifierbridge token [-config path] [-subject name] [-role operator|admin] [-ttl 24h]
//	purifierbridge migrate [-config path] [status|up|down]
//
// The token subcommand prints an HS256 bearer token for the API's protected
// endpoints, signed with security.jwt.secret. The migrate subcommand shows
// or changes the history database schema; down reverts one migration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/api"
	"github.com/nerrad567/purifier-bridge/internal/audit"
	"github.com/nerrad567/purifier-bridge/internal/auth"
	"github.com/nerrad567/purifier-bridge/internal/bridge"
	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/history"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purifier-bridge/internal/profile"
	"github.com/nerrad567/purifier-bridge/migrations"
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

// hoursPerDay converts history_retention_days.
const hoursPerDay = 24

func main() {
	if len(os.Args) > 1 {
		var sub func([]string, io.Writer) error
		switch os.Args[1] {
		case "token":
			sub = runToken
		case "migrate":
			sub = runMigrate
		}
		if sub != nil {
			if err := sub(os.Args[2:], os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	configPath := flag.String("config", getConfigPath(), "path to config.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Startup wiring is linear
	log := logging.Default()
	log.Info("starting purifier bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"devices", len(cfg.Devices),
		"level", cfg.Logging.Level,
	)

	registry, err := loadProfiles(cfg.Profiles)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	log.Info("device profiles loaded", "profiles", len(registry.Profiles()), "path", cfg.Profiles.Path)

	// History (optional)
	var (
		db          *database.DB
		historyRepo history.Repository
		auditRepo   *audit.SQLiteRepository
		recorder    *history.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.FromConfig(cfg.Database))
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

		historyRepo = history.NewSQLiteRepository(db)
		auditRepo = audit.NewSQLiteRepository(db.DB)
		recorder = history.NewRecorder(historyRepo,
			history.WithRetention(time.Duration(cfg.Database.HistoryRetentionDays)*hoursPerDay*time.Hour),
			history.WithPruners(auditRepo),
			history.WithRecorderLogger(log.Component("history")),
		)
		go recorder.Run(ctx)
	} else {
		log.Info("database disabled, history not recorded")
	}

	manager, err := coordinator.NewManager(registry, policyFromConfig(cfg.Polling),
		coordinator.WithLogger(log.Component("coordinator")),
		coordinator.WithTimeout(cfg.Polling.Timeout),
	)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}
	defer func() {
		log.Info("stopping pollers")
		if stopErr := manager.StopAll(); stopErr != nil {
			log.Error("error stopping pollers", "error", stopErr)
		}
	}()
	if recorder != nil {
		manager.SubscribeAll(recorder.Handle)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			st := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points", st.Points, "write_errors", st.WriteErrors)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT and start the bridge (optional)
	var (
		mqttClient *mqtt.Client
		mqttBridge *bridge.Bridge
	)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		opts := bridge.Options{
			MQTT:            mqttClient,
			Controller:      manager,
			Endpoints:       bridge.ManagerEndpoints(manager),
			Logger:          log.Component("bridge"),
			Version:         version,
			HealthInterval:  time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			FilterThreshold: cfg.Filters.AlertThreshold,
		}
		if influxClient != nil {
			opts.Telemetry = influxClient
		}
		if auditRepo != nil {
			opts.Audit = auditRepo
		}
		mqttBridge, err = bridge.New(opts)
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := mqttBridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
		if influxClient != nil {
			log.Warn("InfluxDB telemetry is written by the MQTT bridge and stays idle without it")
		}
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Manager:  manager,
			History:  historyRepo,
			Settings: cfg,
			Version:  version,
		}
		if mqttBridge != nil {
			deps.BridgeStats = mqttBridge.Statistics
		}
		if auditRepo != nil {
			deps.Audit = auditRepo
		}
		server, apiErr := api.New(deps)
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
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := manager.StartAll(ctx, endpointConfigs(cfg.Devices)); err != nil {
		return fmt.Errorf("starting pollers: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "endpoints", len(manager.List()))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the default configuration file path.
// Uses PURIFIER_CONFIG environment variable if set.
func getConfigPath() string {
	if path := os.Getenv("PURIFIER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadProfiles reads the configured profile file, or the built-in set.
func loadProfiles(cfg config.ProfilesConfig) (*profile.Registry, error) {
	if cfg.Path == "" {
		return profile.LoadBuiltin()
	}
	return profile.Load(cfg.Path)
}

// policyFromConfig converts the polling section to a coordinator policy.
func policyFromConfig(cfg config.PollingConfig) coordinator.Policy {
	return coordinator.Policy{
		Interval:          cfg.Interval,
		FailureThreshold:  cfg.FailureThreshold,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMultiplier: cfg.BackoffMultiplier,
		BackoffMax:        cfg.BackoffMax,
		ConfirmDelay:      cfg.ConfirmDelay,
	}
}

// endpointConfigs converts configured devices to coordinator endpoints.
func endpointConfigs(devices []config.DeviceConfig) []coordinator.EndpointConfig {
	out := make([]coordinator.EndpointConfig, 0, len(devices))
	for _, d := range devices {
		// Validate has already rejected unknown names; empty stays unset.
		gen, _ := profile.ParseGeneration(d.Generation)
		out = append(out, coordinator.EndpointConfig{
			ID:         d.ID,
			Host:       d.Host,
			Port:       d.Port,
			Model:      d.Model,
			Generation: gen,
			Credentials: cipher.Credentials{
				Secret:     d.Secret,
				Obfuscated: d.Obfuscated,
			},
			Policy: coordinator.Policy{Interval: d.Interval},
		})
	}
	return out
}

// healthCheck verifies every enabled infrastructure connection.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection (nil if disabled)
//   - mqttClient: MQTT client (nil if disabled)
//   - influxClient: InfluxDB client (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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

// runToken implements the token subcommand.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", getConfigPath(), "path to config.yaml")
	subject := fs.String("subject", "operator", "token subject")
	roleName := fs.String("role", string(auth.RoleOperator), "token role (operator or admin)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; write endpoints are open")
	}

	role, err := auth.ParseRole(*roleName)
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(*subject, role, cfg.Security.JWT.Secret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// runMigrate implements the migrate subcommand.
func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", getConfigPath(), "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	action := "status"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return errors.New("database.enabled is false; there is no schema to migrate")
	}
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	ctx := context.Background()
	switch action {
	case "status":
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
	case "down":
		version, err := db.Rollback(ctx, migrations.FS)
		if err != nil {
			return err
		}
		if version == "" {
			fmt.Fprintln(out, "nothing to roll back")
		} else {
			fmt.Fprintf(out, "rolled back %s\n", version)
		}
	default:
		return fmt.Errorf("unknown migrate action %q (want status, up or down)", action)
	}

	status, err := db.Status(ctx, migrations.FS)
	if err != nil {
		return err
	}
	for _, a := range status.Applied {
		fmt.Fprintf(out, "applied  %s  %s\n", a.Version, a.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
