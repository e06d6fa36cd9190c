// Command hubd runs the Bus Nephew hardware hub.
//
// Field devices (stop displays, sensors, kiosks) connect over WebSocket,
// register, heartbeat and receive configuration and transit updates. The hub
// optionally journals lifecycle events to SQLite, bridges to MQTT, writes
// telemetry to InfluxDB and advertises itself over mDNS.
//
// Usage:
//
//	hubd [-config path]
//	hubd -issue-token -subject ops-console -role operator [-ttl 60]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerrad567/busnephew-hub/internal/api"
	"github.com/nerrad567/busnephew-hub/internal/auth"
	"github.com/nerrad567/busnephew-hub/internal/bridge"
	"github.com/nerrad567/busnephew-hub/internal/device"
	"github.com/nerrad567/busnephew-hub/internal/discovery"
	"github.com/nerrad567/busnephew-hub/internal/hub"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/config"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/database"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/logging"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/busnephew-hub/internal/telemetry"
	"github.com/nerrad567/busnephew-hub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool

	issueToken bool
	subject    string
	role       string
	ttl        int
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	switch {
	case opts.showVersion:
		fmt.Printf("hubd %s (commit %s, built %s)\n", version, commit, date)
		return
	case opts.issueToken:
		if err := issueToken(opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("hubd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.issueToken, "issue-token", false, "print an operator API token and exit")
	fs.StringVar(&opts.subject, "subject", "", "token subject (with -issue-token)")
	fs.StringVar(&opts.role, "role", string(auth.RoleViewer), "token role: viewer or operator (with -issue-token)")
	fs.IntVar(&opts.ttl, "ttl", 0, "token lifetime in minutes, 0 uses security.jwt.access_token_ttl (with -issue-token)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// getConfigPath returns BUSNEPHEW_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("BUSNEPHEW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken signs an operator token with the configured secret.
func issueToken(opts options, w io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is not set; operator routes are open")
	}
	if opts.subject == "" {
		return fmt.Errorf("-subject is required")
	}
	role := auth.Role(opts.role)
	if !auth.IsValidRole(role) {
		return fmt.Errorf("invalid role %q", opts.role)
	}
	ttl := opts.ttl
	if ttl <= 0 {
		ttl = cfg.Security.JWT.AccessTokenTTL
	}

	token, err := auth.GenerateAccessToken(opts.subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run wires every component, blocks until ctx is cancelled and then shuts
// down in reverse order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting hub", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	h := hub.New(registry, hubOptions(cfg, log.Component("hub")))
	defer h.Close() //nolint:errcheck // idempotent, also called on the normal path

	// Background loops outlive the request path so late lifecycle events
	// (sessions closing during shutdown) are still journalled and published.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	var events api.EventLister
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("device event journal ready", "path", cfg.Database.Path)

		journal := device.NewJournal(device.NewSQLiteEventRepository(db.DB), 0)
		journal.SetLogger(log.Component("journal"))
		h.AddObserver(journal)
		workers.Go(func() error { return journal.Run(workerCtx) })
		events = journal
	} else {
		log.Info("device event journal disabled")
	}

	var broker api.BrokerStatus
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttLog := log.Component("mqtt")
		mqttClient.SetLogger(mqttLog)
		mqttClient.SetOnConnect(func() { mqttLog.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { mqttLog.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		br, err := bridge.New(bridge.Options{
			Broker: mqttClient,
			Router: h,
			Topics: mqttClient.Topics(),
			QoS:    mqttClient.QoS(),
			Logger: log.Component("bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := br.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		h.SetTransitSource(br)
		h.AddObserver(br)
		workers.Go(func() error { return br.Run(workerCtx) })
		broker = br
	} else {
		log.Info("MQTT bridge disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)

		recorder := telemetry.NewRecorder(influxClient, h, seconds(cfg.InfluxDB.StatsInterval), log.Component("telemetry"))
		h.AddObserver(recorder)
		workers.Go(func() error { return recorder.Run(workerCtx) })
	} else {
		log.Info("InfluxDB disabled")
	}

	h.Start(ctx)

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Hub:      h,
		Events:   events,
		DB:       db,
		MQTT:     broker,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer srv.Close() //nolint:errcheck // idempotent, also called on the normal path

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(cfg.Discovery)
		info := discovery.Info{Port: srv.Port(), Path: cfg.WebSocket.Path, Version: version, SiteID: cfg.Site.ID}
		if err := advertiser.Start(info); err != nil {
			log.Warn("mDNS advertisement failed, devices need a static hub address", "error", err)
			advertiser = nil
		} else {
			log.Info("advertising hub over mDNS", "service", cfg.Discovery.Service, "instance", cfg.Discovery.Instance)
		}
	}

	if err := healthCheck(ctx, db, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("hub ready", "addr", srv.Addr(), "websocket_path", cfg.WebSocket.Path)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if advertiser != nil {
		advertiser.Shutdown()
	}
	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	h.Close() //nolint:errcheck // always nil
	stopWorkers()
	if err := workers.Wait(); err != nil {
		log.Error("background worker failed", "error", err)
	}

	// Deferred closes run next: InfluxDB, MQTT, database.
	log.Info("hub stopped")
	return nil
}

func hubOptions(cfg *config.Config, logger hub.Logger) hub.Options {
	opts := hub.Options{
		HeartbeatInterval: seconds(cfg.Heartbeat.Interval),
		HeartbeatTimeout:  seconds(cfg.Heartbeat.Timeout),
		ServiceName:       cfg.Site.Name,
		Logger:            logger,
	}
	if rl := cfg.WebSocket.RateLimit; rl.Enabled {
		opts.FrameRate = rate.Limit(rl.PerSecond)
		opts.FrameBurst = rl.Burst
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// healthCheck verifies the components that must be up before devices are
// accepted. MQTT and InfluxDB are allowed to recover on their own.
func healthCheck(ctx context.Context, db *database.DB, srv *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
