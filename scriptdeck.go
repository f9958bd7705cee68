package scriptdeck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/scriptdeck/internal/broadcast"
	"github.com/loykin/scriptdeck/internal/config"
	"github.com/loykin/scriptdeck/internal/discovery"
	"github.com/loykin/scriptdeck/internal/history"
	"github.com/loykin/scriptdeck/internal/history/factory"
	"github.com/loykin/scriptdeck/internal/manager"
	"github.com/loykin/scriptdeck/internal/metrics"
	"github.com/loykin/scriptdeck/internal/packages"
	"github.com/loykin/scriptdeck/internal/process"
	"github.com/loykin/scriptdeck/internal/server"
	itls "github.com/loykin/scriptdeck/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Script = process.Script

type Status = process.Status

type State = process.State

type HistorySink = history.Sink

// ShutdownTimeout bounds draining HTTP connections on Run exit.
const ShutdownTimeout = 5 * time.Second

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Daemon wires the supervision core, package manager, script watcher and HTTP
// API together. It is what `scriptdeck serve` runs and what embedders mount.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger

	hub      *broadcast.Hub
	registry *manager.Registry
	packages *packages.Manager
	watcher  *discovery.Watcher
	sampler  *metrics.Collector
	sinks    []history.Sink
	router   *server.Router
	tls      *tls.Config
}

// NewDaemon creates the directories named by cfg, opens the history sinks
// and builds every component. Nothing runs until Run or Handler is used.
func NewDaemon(cfg *Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}
	scriptEnv, err := cfg.ScriptEnv()
	if err != nil {
		return nil, err
	}
	tlsConfig, err := itls.Setup(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	var sinks []history.Sink
	for _, h := range cfg.History {
		s, err := factory.NewSinkFromDSN(h.DSN)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	metricsPath := ""
	var sampler *metrics.Collector
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("failed to register metrics", "error", err)
		}
		metricsPath = cfg.Metrics.Path
		if cfg.Metrics.SampleInterval > 0 {
			sampler = metrics.NewCollector(metrics.CollectorConfig{
				Interval:    cfg.Metrics.SampleInterval,
				HistorySize: cfg.Metrics.HistorySize,
				Logger:      logger.With("component", "sampler"),
			})
		}
	}

	hub := broadcast.NewHub(broadcast.DefaultBuffer)
	reg := manager.New(manager.Config{
		Runtime:   cfg.ProcessRuntime(scriptEnv),
		LogsDir:   cfg.Paths.LogsDir,
		StopGrace: cfg.Supervisor.StopGrace,
		Publisher: hub,
		History:   sinks,
		Logger:    logger.With("component", "registry"),
	})
	pkgs := packages.New(packages.Config{
		ToolRoot:   cfg.Paths.VenvDir,
		ScriptsDir: cfg.Paths.ScriptsDir,
		Env:        scriptEnv,
		Logger:     logger.With("component", "packages"),
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		hub:      hub,
		registry: reg,
		packages: pkgs,
		sinks:    sinks,
		sampler:  sampler,
		tls:      tlsConfig,
		router: server.NewRouter(server.Options{
			Registry:    reg,
			Packages:    pkgs,
			Hub:         hub,
			Collector:   sampler,
			ScriptsDir:  cfg.Paths.ScriptsDir,
			BasePath:    cfg.Server.BasePath,
			MetricsPath: metricsPath,
			Logger:      logger.With("component", "server"),
		}),
	}
	if cfg.Supervisor.WatchScripts {
		d.watcher = discovery.NewWatcher(cfg.Paths.ScriptsDir, hub, logger.With("component", "watcher"))
		d.watcher.SetDebounce(cfg.Supervisor.WatchDebounce)
	}
	return d, nil
}

// Handler returns the HTTP API, mounted under the configured base path.
func (d *Daemon) Handler() http.Handler { return d.router.Handler() }

func (d *Daemon) Start(s Script) error          { return d.registry.Start(s) }
func (d *Daemon) Stop(id string) error          { return d.registry.Stop(id) }
func (d *Daemon) Status(id string) Status       { return d.registry.Status(id) }
func (d *Daemon) StatusAll() []Status           { return d.registry.StatusAll() }
func (d *Daemon) Log(id string) (string, error) { return d.registry.Log(id) }

// Watch publishes script-tree changes until ctx is done. It returns at once
// when watching is disabled.
func (d *Daemon) Watch(ctx context.Context) error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Run(ctx)
}

// Run serves the API on the configured listen address until ctx is done,
// then drains connections and closes the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	srv := server.NewServer(d.cfg.Server.Listen, d.Handler())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if d.tls != nil {
			srv.TLSConfig = d.tls
			d.logger.Info("starting HTTPS server", "listen", srv.Addr, "base_path", d.cfg.Server.BasePath)
			err = srv.ListenAndServeTLS("", "")
		} else {
			d.logger.Info("starting HTTP server", "listen", srv.Addr, "base_path", d.cfg.Server.BasePath)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := d.Watch(gctx); err != nil {
			// the API keeps working without change notifications
			d.logger.Warn("script watcher stopped", "error", err)
		}
		return nil
	})
	if d.sampler != nil {
		g.Go(func() error { return d.sampler.Run(gctx, d.registry.RunningPIDs) })
	}
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	return errors.Join(err, d.Close())
}

// Close stops every script (escalating to SIGKILL after the stop grace) and
// releases the journals and history sinks.
func (d *Daemon) Close() error {
	err := d.registry.Close()
	closeSinks(d.sinks)
	d.sinks = nil
	return err
}

func closeSinks(sinks []history.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
