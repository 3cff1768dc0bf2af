// homecore is a small home automation core: an entity state machine and
// event bus behind an HTTP control API, with optional SQLite history, an
// MQTT mirror and InfluxDB telemetry.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/homecore/internal/api"
	"github.com/nerrad567/homecore/internal/auth"
	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/history"
	"github.com/nerrad567/homecore/internal/infrastructure/config"
	"github.com/nerrad567/homecore/internal/infrastructure/database"
	"github.com/nerrad567/homecore/internal/infrastructure/influxdb"
	"github.com/nerrad567/homecore/internal/infrastructure/logging"
	"github.com/nerrad567/homecore/internal/infrastructure/mqtt"
	"github.com/nerrad567/homecore/internal/infrastructure/otel"
	"github.com/nerrad567/homecore/internal/mqttbridge"
	"github.com/nerrad567/homecore/internal/state"
	"github.com/nerrad567/homecore/internal/telemetry"
	"github.com/nerrad567/homecore/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "homecore"
	defaultConfigPath = "configs/config.yaml"

	// stopTimeout bounds homecore_stop listeners and telemetry flushing.
	stopTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "hash-password":
		err = hashPassword(os.Stdin, os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = migrate(ctx, os.Args[2:], os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, fires homecore_start, waits for ctx to be
// cancelled, fires homecore_stop and tears down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting homecore", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing left to report to
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	shutdownOtel, err := otel.Init(ctx, serviceName, version, observabilityConfig(cfg.Observability))
	if err != nil {
		return fmt.Errorf("initialising observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Error("error shutting down observability", "error", err)
		}
	}()

	obs, err := eventbus.NewObservability()
	if err != nil {
		return fmt.Errorf("creating bus instruments: %w", err)
	}
	bus := eventbus.New(
		eventbus.WithLogger(log.With("component", "eventbus")),
		eventbus.WithObservability(obs),
	)
	machine := state.NewMachine(bus, state.WithLogger(log.With("component", "state")))

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Machine:  machine,
		Bus:      bus,
		DB:       db,
		Version:  version,
	}

	if cfg.History.Enabled {
		repo := history.NewSQLiteRepository(db.DB)
		states, events, err := repo.ApplyRetention(ctx, cfg.HistoryRetention())
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
		log.Info("history retention applied", "states_pruned", states, "events_pruned", events)

		recorder := history.NewRecorder(repo, repo, log.With("component", "history"))
		recorder.Attach(bus)
		defer recorder.Detach(bus)

		deps.History = repo
		deps.Events = repo
	}

	if cfg.MQTT.Enabled {
		stop, err := startMQTT(cfg.MQTT, machine, bus, log)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		stop, err := startTelemetry(ctx, cfg.InfluxDB, bus, log)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}()

	var startErr error
	bus.ListenOnce(eventbus.EventHomeStart, func(ctx context.Context, _ eventbus.Event) error {
		startErr = server.Start(ctx)
		return startErr
	})

	bus.Fire(ctx, eventbus.EventHomeStart, nil)
	if startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	log.Info("homecore started", "address", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	bus.Fire(stopCtx, eventbus.EventHomeStop, nil)

	log.Info("homecore stopped")
	return nil
}

// startMQTT connects to the broker and starts the bus mirror. The returned
// func stops both.
func startMQTT(cfg config.MQTTConfig, machine *state.Machine, bus *eventbus.Bus, log *logging.Logger) (func(), error) {
	client, err := mqtt.Connect(cfg, mqtt.WithLogger(log.With("component", "mqtt")))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}

	bridge := mqttbridge.New(client, machine, bus, log.With("component", "mqttbridge"))
	if err := bridge.Start(); err != nil {
		client.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"prefix", client.Topics().Prefix(),
	)

	return func() {
		log.Info("stopping MQTT bridge")
		bridge.Stop()
		if err := client.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}

// startTelemetry connects to InfluxDB and attaches the telemetry writer.
func startTelemetry(ctx context.Context, cfg config.InfluxDBConfig, bus *eventbus.Bus, log *logging.Logger) (func(), error) {
	client, err := influxdb.Connect(ctx, cfg, influxdb.WithLogger(log.With("component", "influxdb")))
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	writer := telemetry.NewWriter(client)
	writer.Attach(bus)
	log.Info("InfluxDB telemetry started", "url", cfg.URL, "bucket", cfg.Bucket)

	return func() {
		log.Info("stopping InfluxDB telemetry")
		writer.Detach(bus)
		if err := client.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}, nil
}

// observabilityConfig merges HOMECORE_OTEL_HEADERS into the configured
// exporter headers. Environment entries win.
func observabilityConfig(cfg config.ObservabilityConfig) config.ObservabilityConfig {
	extra := otel.ParseHeaders(os.Getenv("HOMECORE_OTEL_HEADERS"))
	if len(extra) == 0 {
		return cfg
	}
	headers := make(map[string]string, len(cfg.Headers)+len(extra))
	maps.Copy(headers, cfg.Headers)
	maps.Copy(headers, extra)
	cfg.Headers = headers
	return cfg
}

// hashPassword reads a password from the first line of in and writes its
// Argon2id hash, suitable for api.password, to out.
func hashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func getConfigPath() string {
	if path := os.Getenv("HOMECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
