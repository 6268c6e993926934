// mfcd - mass-flow controller daemon
//
// mfcd owns the bench's flow controllers and meters. It connects them over
// a ProPar serial bus (or the built-in simulator), exposes them through an
// HTTP API and MQTT topics, samples their flows into InfluxDB and
// Prometheus, and brings every valve to a safe state on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/mfc-control/migrations"

	"github.com/nerrad567/mfc-control/internal/api"
	"github.com/nerrad567/mfc-control/internal/audit"
	"github.com/nerrad567/mfc-control/internal/bridge"
	"github.com/nerrad567/mfc-control/internal/calibration"
	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/infrastructure/config"
	"github.com/nerrad567/mfc-control/internal/infrastructure/database"
	"github.com/nerrad567/mfc-control/internal/infrastructure/influxdb"
	"github.com/nerrad567/mfc-control/internal/infrastructure/logging"
	"github.com/nerrad567/mfc-control/internal/infrastructure/mqtt"
	"github.com/nerrad567/mfc-control/internal/instrument"
	"github.com/nerrad567/mfc-control/internal/metrics"
	"github.com/nerrad567/mfc-control/internal/propar"
	"github.com/nerrad567/mfc-control/internal/safety"
	"github.com/nerrad567/mfc-control/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownGrace is added to the purge duration to bound safe shutdown.
	shutdownGrace = 30 * time.Second

	auditSource = "mfcd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon, separated from main for testability. It returns after
// ctx is cancelled and the bench has been made safe.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mfcd", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	db, err := database.OpenAndMigrate(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	schema, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema_version", schema.Current())

	store := calibration.NewStore(db.DB)
	cals, err := buildCalibrations(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, auditSource)
	collector := metrics.New(true)

	pool := openTransport(cfg.Transport, log)
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			log.Error("error closing transport", "error", closeErr)
		}
	}()

	ctrl, err := buildController(cfg, pool, cals, collector, log)
	if err != nil {
		return err
	}
	if failures := ctrl.ConnectAll(); len(failures) > 0 {
		// Unreachable devices stay registered and can be retried.
		log.Warn("some devices did not connect", "failed", len(failures), "error", controller.Join(failures))
	}

	mgr := safety.NewManager(ctrl, safetyConfig(cfg.Safety))
	mgr.SetLogger(log)
	mgr.SetRecorder(recorder)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}
	mgr.SetObserver(safetyObservers{collector, influxObserver{influxClient}})

	sampler := telemetry.NewSampler(ctrl, telemetry.Options{
		Interval:           cfg.Telemetry.Interval,
		DeviationThreshold: cfg.Safety.DeviationThreshold,
		Logger:             log,
	})
	sampler.AddSink("prometheus", collector)
	if influxClient != nil {
		sampler.AddSink("influxdb", telemetry.InfluxSink(influxClient))
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttBridge, err := startBridge(cfg.MQTT, ctrl, mgr, recorder, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		// Stopped before the shutdown purge so a queued MQTT purge cannot race it.
		defer mqttBridge.Stop()
		sampler.AddSink("mqtt", mqttBridge)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Thresholds:   cfg.Safety,
			Logger:       log,
			Controller:   ctrl,
			Safety:       mgr,
			Sampler:      sampler,
			Calibrations: store,
			AuditRepo:    auditRepo,
			Recorder:     recorder,
			Metrics:      collector.Handler(),
			Version:      version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		sampler.AddSink("websocket", srv.Hub())
	} else {
		log.Info("API disabled")
	}

	samplerDone := make(chan struct{})
	if cfg.Telemetry.Enabled {
		go func() {
			defer close(samplerDone)
			sampler.Run(ctx)
		}()
	} else {
		close(samplerDone)
		log.Info("telemetry disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"devices", len(ctrl.Devices()),
		"transport", cfg.Transport.Mode)

	<-ctx.Done()
	log.Info("shutdown signal received, bringing bench to a safe state")
	<-samplerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace+cfg.Safety.PurgeDuration)
	defer cancel()
	report, failures := mgr.SafeShutdown(shutdownCtx)
	if report != nil {
		log.Info("shutdown purge finished", "outcome", report.Outcome)
	}
	if len(failures) > 0 {
		log.Critical("devices failed to disconnect cleanly", "error", controller.Join(failures))
	}

	log.Info("mfcd stopped")
	return nil
}

// getConfigPath returns MFCD_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("MFCD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildCalibrations layers calibrations: built-in defaults, then the config
// file, then anything stored through the API.
func buildCalibrations(ctx context.Context, cfg *config.Config, store *calibration.Store, log *logging.Logger) (*calibration.Table, error) {
	table := calibration.Defaults()

	for _, cc := range cfg.Calibrations {
		cal, err := calibration.New(cc.Gas, cc.Device, cc.Real)
		if err != nil {
			return nil, fmt.Errorf("calibration %s in config: %w", cc.Gas, err)
		}
		table.Set(cal)
	}

	n, err := store.LoadInto(ctx, table)
	if err != nil {
		// Bad rows are skipped; the rest are loaded.
		log.Warn("some stored calibrations were skipped", "error", err)
	}
	log.Info("calibrations loaded", "gases", table.Gases(), "from_store", n)
	return table, nil
}

// openTransport creates the instrument pool for the configured mode.
func openTransport(cfg config.TransportConfig, log *logging.Logger) *instrument.Pool {
	var opener instrument.Opener
	switch cfg.Mode {
	case config.TransportProPar:
		opener = propar.NewBus(propar.Config{BaudRate: cfg.BaudRate, ReadTimeout: cfg.ReadTimeout})
		if ports, err := propar.ListPorts(); err == nil {
			log.Info("serial ports available", "ports", ports)
		}
	default:
		opts := instrument.DefaultSimulatorOptions()
		if cfg.Simulator.ResponseTime > 0 {
			opts.ResponseTime = cfg.Simulator.ResponseTime
		}
		if cfg.Simulator.NoiseLevel > 0 {
			opts.NoiseLevel = cfg.Simulator.NoiseLevel
		}
		if cfg.Simulator.Capacity > 0 {
			opts.Capacity = cfg.Simulator.Capacity
		}
		opener = instrument.NewSimulatedOpener(opts)
	}
	log.Info("transport ready", "mode", cfg.Mode, "port", cfg.Port)

	pool := instrument.NewPool(opener)
	pool.SetLogger(log)
	return pool
}

// buildController registers the configured devices, or the standard lab
// set on transport.port when none are configured.
func buildController(cfg *config.Config, dialer controller.Dialer, cals *calibration.Table, observer controller.Observer, log *logging.Logger) (*controller.Controller, error) {
	ctrl := controller.New(controller.Options{
		Dialer:       dialer,
		Calibrations: cals,
		Logger:       log,
		Observer:     observer,
	})

	if cfg.Devices.Empty() {
		if err := ctrl.AddStandardSet(cfg.Transport.Port); err != nil {
			return nil, fmt.Errorf("registering standard devices: %w", err)
		}
		return ctrl, nil
	}

	var errs []error
	for _, dc := range cfg.Devices.Controllers {
		if _, err := ctrl.AddMFC(deviceSpec(dc, cfg.Transport.Port)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, dc := range cfg.Devices.Meters {
		if _, err := ctrl.AddMeter(deviceSpec(dc, cfg.Transport.Port)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering devices: %w", err)
	}
	return ctrl, nil
}

func deviceSpec(dc config.DeviceConfig, defaultPort string) controller.DeviceSpec {
	port := dc.Port
	if port == "" {
		port = defaultPort
	}
	return controller.DeviceSpec{
		Name:    dc.Name,
		Gas:     dc.Gas,
		Locator: instrument.Locator{Port: port, Address: dc.Address},
	}
}

func safetyConfig(sc config.SafetyConfig) safety.Config {
	return safety.Config{
		PurgeDevice:     sc.PurgeDevice,
		PurgeFlow:       sc.PurgeFlow,
		PurgeDuration:   sc.PurgeDuration,
		PurgeOnShutdown: sc.PurgeOnShutdown,
	}
}

// startBridge connects to the broker and starts the command bridge.
func startBridge(cfg config.MQTTConfig, ctrl *controller.Controller, mgr *safety.Manager, recorder *audit.Recorder, log *logging.Logger) (*mqtt.Client, *bridge.Bridge, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID)

	b, err := bridge.New(bridge.Options{
		MQTT:       client,
		Controller: ctrl,
		Safety:     mgr,
		Recorder:   recorder.WithSource(bridge.SourceMQTT),
		Logger:     log,
		QoS:        client.QoS(),
	})
	if err == nil {
		err = b.Start()
	}
	if err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return client, b, nil
}

// safetyObservers fans safety notifications out to several observers.
type safetyObservers []safety.Observer

func (o safetyObservers) EmergencyStopped() {
	for _, obs := range o {
		obs.EmergencyStopped()
	}
}

func (o safetyObservers) PurgeFinished(outcome string) {
	for _, obs := range o {
		obs.PurgeFinished(outcome)
	}
}

// influxObserver writes safety actions as mfc_safety points. A nil client
// makes it a no-op.
type influxObserver struct {
	client *influxdb.Client
}

func (o influxObserver) EmergencyStopped() {
	if o.client != nil {
		o.client.WriteSafetyEvent(safety.ActionEmergencyStop, safety.OutcomeCompleted, 0, time.Now())
	}
}

func (o influxObserver) PurgeFinished(outcome string) {
	if o.client != nil {
		o.client.WriteSafetyEvent(safety.ActionPurge, outcome, 0, time.Now())
	}
}
