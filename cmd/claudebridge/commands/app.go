package commands

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/backend"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/config"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/engine"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/logging"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/metrics"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/storage"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// app is the wired engine shared by the serve and run commands.
type app struct {
	cfg      *types.Config
	store    storage.Store
	sessions *session.Manager
	engine   *engine.Engine
	bus      *event.Bus
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	unaudit  func()
}

// openStore opens the configured session store under the data directory.
func openStore(cfg *types.Config) (storage.Store, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	sc := cfg.Storage
	if sc.Driver == "sqlite" && sc.Path == "" {
		sc.Path = paths.DatabasePath()
	}
	return storage.Open(sc, paths.StoragePath())
}

// newApp wires storage, sessions, backends and the engine. reg may be nil
// when metrics are not exported.
func newApp(ctx context.Context, cfg *types.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{
		cfg:    cfg,
		bus:    event.Default(),
		logger: logging.Component("cli"),
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.unaudit = event.LogTo(a.bus, logging.Component("audit"))

	a.sessions = session.NewManager(store, session.Options{
		TTL:        cfg.Session.TTL.Std(),
		BusyPolicy: cfg.Session.BusyPolicy,
		Publisher:  a.bus,
	})

	if reg != nil {
		a.metrics = metrics.New(reg)
	}

	backends := []backend.Backend{backend.NewProcessBackend(cfg.Process)}
	sdk, err := backend.NewSDKBackend(ctx, cfg.SDK)
	if err != nil {
		a.logger.Warn().Err(err).Msg("sdk backend disabled")
	} else {
		backends = append(backends, sdk)
	}

	opts := engine.OptionsFromConfig(cfg)
	opts.Publisher = a.bus
	opts.Metrics = a.metrics
	a.engine, err = engine.New(a.sessions, opts, backends...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// watchConfig reloads the tool policy whenever the project or global
// config file changes. The watcher announces each reload on the event bus.
// It returns nil when neither file exists.
func (a *app) watchConfig(dir string) *config.Watcher {
	path := config.ProjectConfigPath(dir)
	if _, err := os.Stat(path); err != nil {
		path = config.GlobalConfigPath()
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	w, err := config.NewWatcher(path, func(c *types.Config) {
		a.engine.SetPolicy(c.Policy.Tools)
		a.logger.Info().Str("path", path).Msg("tool policy reloaded")
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("config watch disabled")
		return nil
	}
	w.Start()
	return w
}

func (a *app) Close() error {
	a.unaudit()
	return a.store.Close()
}
