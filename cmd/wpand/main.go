// wpand manages IEEE 802.15.4 radios through the kernel's nl802154 generic
// netlink family.
//
// It discovers every wpan PHY and interface, moves PHYs to the configured
// page and channel, tracks 6LoWPAN links stacked on wpan interfaces, and
// publishes each entity as an object on MQTT with a small HTTP status API
// alongside.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-wpan/internal/api"
	"github.com/nerrad567/gray-logic-wpan/internal/bridges/objectbus"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-wpan/internal/journal"
	"github.com/nerrad567/gray-logic-wpan/internal/transport/genl"
	"github.com/nerrad567/gray-logic-wpan/internal/transport/rtnl"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
	"github.com/nerrad567/gray-logic-wpan/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/wpand.yaml"

// pruneInterval is how often old journal events are deleted.
const pruneInterval = time.Hour

// options holds the parsed command line.
type options struct {
	configPath  string
	debug       bool
	showVersion bool
	rollback    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("wpand %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path defaults to
// WPAND_CONFIG when set.
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("wpand", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "force debug logging")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.rollback, "rollback", false, "revert the newest journal migration and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses WPAND_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WPAND_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
//
// Components are opened in dependency order and closed in reverse by
// deferred calls. The engine is stopped before any of its observers close.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting wpand",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	log = logging.New(cfg.Logging, version)
	defer func() { _ = log.Close() }()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if opts.rollback {
		return rollbackJournal(ctx, cfg.Database, log)
	}

	checks := make(map[string]api.HealthChecker)
	var observers wpan.Observers

	// Event journal (optional)
	var recorder *journal.Recorder
	if cfg.Database.Enabled {
		var closeJournal func()
		recorder, closeJournal, err = openJournal(ctx, cfg.Database, log, checks)
		if err != nil {
			return err
		}
		defer closeJournal()
		observers = append(observers, recorder)

		if cfg.Database.RetentionDays > 0 {
			retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
			go pruneJournal(ctx, recorder, retention, log)
		}
	} else {
		log.Info("event journal disabled")
	}

	// nl802154 device control
	nl, err := genl.Dial(ctx, cfg.WPAN.Netlink, log)
	if err != nil {
		if errors.Is(err, genl.ErrFamilyNotFound) {
			log.Error("generic netlink family not registered, is mac802154 loaded?",
				"family", cfg.WPAN.Netlink.Family,
				"waited_seconds", cfg.WPAN.Netlink.FamilyWait,
			)
		}
		return fmt.Errorf("opening nl802154: %w", err)
	}
	defer func() {
		log.Info("closing nl802154 socket")
		if closeErr := nl.Close(); closeErr != nil {
			log.Error("error closing nl802154 socket", "error", closeErr)
		}
	}()
	checks["netlink"] = nl
	log.Info("nl802154 connected", "family", cfg.WPAN.Netlink.Family)

	// PHY power control (optional)
	var power wpan.PowerController
	if cfg.WPAN.PowerControl {
		ctrl, ctrlErr := rtnl.NewController(log)
		if ctrlErr != nil {
			return fmt.Errorf("starting power controller: %w", ctrlErr)
		}
		ctrl.Start(ctx)
		defer func() {
			log.Info("stopping power controller")
			if closeErr := ctrl.Close(); closeErr != nil {
				log.Error("error closing power controller", "error", closeErr)
			}
		}()
		power = ctrl
	}

	// InfluxDB telemetry (optional)
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
		checks["influxdb"] = influxClient
		observers = append(observers, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	engine := wpan.NewEngine(wpan.EngineOptions{
		Control: nl,
		Desired: wpan.DesiredChannel{
			Page:    uint8(cfg.WPAN.Desired.Page),    //nolint:gosec // validated 0-31 or 255
			Channel: uint8(cfg.WPAN.Desired.Channel), //nolint:gosec // validated 0-255
		},
		Power:     power,
		Logger:    log,
		QueueSize: cfg.WPAN.QueueSize,
	})

	// MQTT object bus (optional)
	if cfg.ObjectBus.Enabled {
		var drops objectbus.DropCounter
		if recorder != nil {
			drops = recorder
		}
		bridge, stopBridge, busErr := startObjectBus(ctx, cfg, engine, nl, drops, log, checks)
		if busErr != nil {
			return busErr
		}
		defer stopBridge()
		observers = append(observers, bridge)
		engine.SetReadyNotifier(bridge)
	} else {
		log.Info("object bus disabled")
	}

	// HTTP status API (optional)
	var server *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			Logger:         log,
			Engine:         engine,
			Checks:         checks,
			RequestTimeout: time.Duration(cfg.ObjectBus.RequestTimeout) * time.Second,
			Version:        version,
		}
		if recorder != nil {
			deps.History = recorder
		}
		server, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		observers = append(observers, server)
	}

	engine.SetObserver(observers)

	if cfg.WPAN.Desired.IsSet() {
		log.Info("channel reconciliation enabled",
			"page", cfg.WPAN.Desired.Page,
			"channel", cfg.WPAN.Desired.Channel,
		)
	}

	engineCtx, stopEngine := context.WithCancel(ctx)
	go func() {
		if runErr := engine.Run(engineCtx); runErr != nil {
			log.Error("wpan engine stopped", "error", runErr)
		}
	}()
	defer func() {
		log.Info("stopping wpan engine")
		stopEngine()
		<-engine.Done()
	}()

	// 6LoWPAN link monitor (optional)
	if cfg.WPAN.LowpanMonitor {
		monitor, monErr := rtnl.Listen(log)
		if monErr != nil {
			return fmt.Errorf("starting link monitor: %w", monErr)
		}
		defer func() {
			if closeErr := monitor.Close(); closeErr != nil {
				log.Error("error closing link monitor", "error", closeErr)
			}
		}()
		go func() {
			if runErr := monitor.Run(ctx, engine); runErr != nil {
				log.Error("link monitor stopped", "error", runErr)
			}
		}()
		log.Info("6LoWPAN link monitor started")
	}

	if server != nil {
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openJournal opens the database, applies migrations and starts the event
// recorder.
//
// Returns:
//   - *journal.Recorder: Running recorder
//   - func(): Drains the recorder, then closes the database
//   - error: If the database cannot be opened or migrated
func openJournal(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger, checks map[string]api.HealthChecker) (*journal.Recorder, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	recorder, err := journal.NewRecorder(db.DB, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("starting event journal: %w", err)
	}
	checks["database"] = db

	closeAll := func() {
		log.Info("closing event journal")
		if closeErr := recorder.Close(); closeErr != nil {
			log.Error("error closing event journal", "error", closeErr)
		}
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	return recorder, closeAll, nil
}

// rollbackJournal reverts the newest applied journal migration. It is a
// maintenance action run instead of the daemon.
func rollbackJournal(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) error {
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	reverted, err := db.Rollback(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	if reverted == "" {
		log.Info("no journal migrations to roll back", "path", cfg.Path)
		return nil
	}
	log.Info("journal migration rolled back", "version", reverted, "path", cfg.Path)
	return nil
}

// startObjectBus connects to the broker and starts the MQTT bridge.
//
// Returns:
//   - *objectbus.Bridge: Running bridge, to be attached to the engine
//   - func(): Stops the bridge and disconnects from the broker
//   - error: If the broker is unreachable or the bridge fails to start
func startObjectBus(ctx context.Context, cfg *config.Config, engine *wpan.Engine, nl *genl.Client, drops objectbus.DropCounter, log *logging.Logger, checks map[string]api.HealthChecker) (*objectbus.Bridge, func(), error) {
	topics := mqtt.Topics{Prefix: cfg.ObjectBus.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := objectbus.NewBridge(objectbus.BridgeOptions{
		Engine:         engine,
		MQTTClient:     mqttClient,
		Netlink:        nl,
		Journal:        drops,
		Topics:         topics,
		Version:        version,
		HealthInterval: time.Duration(cfg.ObjectBus.HealthInterval) * time.Second,
		RequestTimeout: time.Duration(cfg.ObjectBus.RequestTimeout) * time.Second,
		Logger:         log,
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating object bus bridge: %w", err)
	}

	// A reconnect may follow a broker restart that lost retained objects.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing objects")
		bridge.Resync()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if startErr := bridge.Start(ctx); startErr != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting object bus bridge: %w", startErr)
	}
	checks["mqtt"] = mqttClient
	log.Info("object bus started", "prefix", topics.Prefix)

	stop := func() {
		log.Info("stopping object bus bridge")
		bridge.Stop()
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}
	return bridge, stop, nil
}

// pruneJournal deletes journal events older than retention every hour until
// ctx is cancelled.
func pruneJournal(ctx context.Context, recorder *journal.Recorder, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := recorder.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("journal prune failed", "error", err)
		case n > 0:
			log.Info("journal pruned", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
