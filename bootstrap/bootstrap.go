// Package bootstrap wires all dependencies and starts the application.
// Stores and lists are declared in the configuration file and each one is
// replicated over the shared websocket listener.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/artpar/livesync/adapters/clock"
	apihttp "github.com/artpar/livesync/adapters/http"
	"github.com/artpar/livesync/adapters/idgen"
	"github.com/artpar/livesync/adapters/memory"
	"github.com/artpar/livesync/adapters/metrics"
	lsredis "github.com/artpar/livesync/adapters/redis"
	"github.com/artpar/livesync/adapters/sqlite"
	"github.com/artpar/livesync/config"
	"github.com/artpar/livesync/core/collection"
	"github.com/artpar/livesync/core/replication"
	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/artpar/livesync/core/validation"
	"github.com/artpar/livesync/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options controls how the application is built.
type Options struct {
	// ConfigPath is loaded when set, otherwise Config or LIVESYNC_* variables are used.
	ConfigPath string
	Config     *config.Config

	// Watch reloads ConfigPath on file changes and SIGHUP.
	Watch bool

	// Registry receives the metrics. Nil uses the Prometheus default registry.
	Registry *prometheus.Registry

	Clock  ports.Clock
	Output io.Writer
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder
	HTTPServer *http.Server
	Router     http.Handler
	Metrics    *metrics.Collector
	Transport  *transport.Registry

	Stores map[string]*replication.SyncStore
	Lists  map[string]*replication.SyncCollection

	// Adapters (for cleanup)
	DB    *sqlite.DB
	redis *lsredis.DocumentStore

	validators *validation.Registry
	filters    *store.FilterRegistry

	output    *logOutput
	clock     ports.Clock
	startedAt time.Time
	sockets   []*transport.Socket
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadWithFallback(opts.ConfigPath); err != nil {
			return nil, err
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger, output := setupLogger(cfg.Logging, out)
	logger.Info().Msg("initializing livesync")

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &App{
		Logger:     logger,
		Config:     cfg,
		Stores:     make(map[string]*replication.SyncStore),
		Lists:      make(map[string]*replication.SyncCollection),
		validators: validation.NewRegistry(),
		filters:    store.NewFilterRegistry(),
		output:     output,
		clock:      clk,
		startedAt:  clk.Now(),
	}

	if err := a.init(opts); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *App) init(opts Options) error {
	if opts.Watch && opts.ConfigPath != "" {
		if err := a.initHolder(opts.ConfigPath); err != nil {
			return fmt.Errorf("init config watch: %w", err)
		}
	}

	var metricsHandler http.Handler
	if a.Config.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
			metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		} else {
			a.Metrics = metrics.New()
			metricsHandler = promhttp.Handler()
		}
		a.Logger.Info().Str("path", a.Config.Metrics.Path).Msg("prometheus metrics enabled")
	}

	factory, err := a.initStorage()
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	a.initTransport()

	if err := a.initContainers(factory); err != nil {
		return fmt.Errorf("init containers: %w", err)
	}

	a.initHTTPServer(metricsHandler)
	return nil
}

func (a *App) initHolder(path string) error {
	h, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}
	a.Holder = h
	a.Config = h.Get()

	h.OnChange(func(cfg *config.Config) {
		a.output.apply(cfg.Logging)
	})
	h.OnReload(func(err error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloaded(err, a.clock.Now())
		}
	})

	if err := h.WatchFile(); err != nil {
		return err
	}
	h.WatchSignals()
	return nil
}

func (a *App) initStorage() (ports.ServiceFactory, error) {
	s := a.Config.Storage
	ids := idgen.UUID{}

	switch s.Driver {
	case "sqlite":
		db, err := sqlite.Open(s.DSN)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info().Str("dsn", s.DSN).Msg("sqlite storage ready")
		return sqlite.NewDocumentStore(db, ids, a.clock).Factory(), nil

	case "redis":
		docs, err := lsredis.NewDocumentStore(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		}, s.Redis.Prefix, ids)
		if err != nil {
			return nil, err
		}
		a.redis = docs
		a.Logger.Info().Str("addr", s.Redis.Addr).Msg("redis storage configured")
		return docs.Factory(), nil

	default:
		a.Logger.Info().Msg("in-memory storage")
		return memory.NewDocumentStore(ids).Factory(), nil
	}
}

func (a *App) initTransport() {
	var obs transport.Observer
	if a.Metrics != nil {
		obs = a.Metrics
	}
	a.Transport = transport.NewRegistry(transport.RegistryConfig{
		WriteTimeout: a.Config.Socket.WriteTimeout,
		ReadLimit:    a.Config.Socket.ReadLimit,
		Clock:        a.clock,
		IDs:          idgen.UUID{},
		Observer:     obs,
		Logger:       a.Logger,
	})
}

func (a *App) replicationOptions(channel string, writable bool) replication.Options {
	return replication.Options{
		Channel:   channel,
		Host:      a.Config.Socket.Host,
		Port:      a.Config.Socket.Port,
		Path:      a.Config.Socket.Path,
		Writable:  writable,
		Detached:  true,
		Transport: a.Transport,
		Logger:    a.Logger,
	}
}

func (a *App) initContainers(factory ports.ServiceFactory) error {
	ctx := context.Background()

	var obs store.Observer
	if a.Metrics != nil {
		obs = a.Metrics
	}
	maxListeners := a.Config.Events.MaxListeners

	for _, sc := range a.Config.Stores {
		ss, err := replication.NewStore(ctx, sc.Name, store.Config{
			Schema:       sc.Schema,
			Defaults:     sc.Defaults,
			Service:      factory,
			Collection:   sc.Collection,
			AutoSave:     sc.AutoSave,
			Locale:       sc.Locale,
			MaxListeners: maxListeners,
			Registry:     a.validators,
			Filters:      a.filters,
			Observer:     obs,
		}, a.replicationOptions(sc.Channel, sc.Writable))
		if err != nil {
			return fmt.Errorf("store %s: %w", sc.Name, err)
		}
		a.Stores[sc.Name] = ss
		a.sockets = append(a.sockets, ss.Socket())
		a.Logger.Info().
			Str("store", ss.Name()).
			Str("channel", ss.Socket().Channel()).
			Bool("writable", sc.Writable).
			Msg("store ready")
	}

	for _, lc := range a.Config.Lists {
		opts := a.replicationOptions(lc.Channel, lc.Writable)
		opts.ItemIDs = lc.ItemIDs
		opts.IDs = idgen.NewULID(a.clock)

		sc, err := replication.NewCollection(ctx, lc.Name, collection.Config{
			Item: store.Config{
				Schema:       lc.Item.Schema,
				Defaults:     lc.Item.Defaults,
				MaxListeners: maxListeners,
				Registry:     a.validators,
				Filters:      a.filters,
				Observer:     obs,
			},
			ItemName:     lc.ItemName,
			MaxLength:    lc.MaxLength,
			Defaults:     lc.Defaults,
			MaxListeners: maxListeners,
		}, opts)
		if err != nil {
			return fmt.Errorf("list %s: %w", lc.Name, err)
		}
		a.Lists[lc.Name] = sc
		a.sockets = append(a.sockets, sc.Socket())
		a.Logger.Info().
			Str("list", sc.Name()).
			Str("channel", sc.Socket().Channel()).
			Bool("writable", lc.Writable).
			Msg("list ready")
	}
	return nil
}

func (a *App) initHTTPServer(metricsHandler http.Handler) {
	stores := make(map[string]*store.Store, len(a.Stores))
	for name, ss := range a.Stores {
		stores[name] = ss.Store
	}
	lists := make(map[string]*collection.Collection, len(a.Lists))
	for name, sc := range a.Lists {
		lists[name] = sc.Collection
	}

	var stats func() transport.Stats
	if len(a.sockets) > 0 {
		monitor := a.sockets[0].Monitor()
		stats = monitor.Stats
	}

	a.Router = apihttp.NewRouter(apihttp.RouterConfig{
		Stores:         stores,
		Lists:          lists,
		Stats:          stats,
		Metrics:        a.Metrics,
		MetricsPath:    a.Config.Metrics.Path,
		MetricsHandler: metricsHandler,
		Clock:          a.clock,
		StartedAt:      a.startedAt,
		Logger:         a.Logger,
	})

	addr := net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port))
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// SocketHandler serves websocket upgrades for every channel, nil when no
// store or list is declared.
func (a *App) SocketHandler() http.Handler {
	if len(a.sockets) == 0 {
		return nil
	}
	return a.sockets[0].Handler()
}

// Start opens the websocket listener.
func (a *App) Start(ctx context.Context) error {
	for _, s := range a.sockets {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start socket %s: %w", s.Channel(), err)
		}
	}
	if len(a.sockets) > 0 {
		a.Logger.Info().Str("addr", a.sockets[0].Addr().String()).Msg("websocket listener started")
	}
	return nil
}

// Run starts the listeners and blocks until shutdown.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
		a.Holder = nil
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Transport != nil {
		if err := a.Transport.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("transport shutdown error")
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
		a.redis = nil
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}
