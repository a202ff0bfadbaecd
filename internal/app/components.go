package app

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/drblury/cloudmesh/internal/configclient"
	"github.com/drblury/cloudmesh/internal/configserver"
	"github.com/drblury/cloudmesh/internal/datasource"
	"github.com/drblury/cloudmesh/internal/gateway"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/registry/keeper"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	"github.com/drblury/cloudmesh/internal/services/base"
	"github.com/drblury/cloudmesh/internal/services/client"
	"github.com/drblury/cloudmesh/internal/services/cloudclient"
	"github.com/drblury/cloudmesh/internal/services/cloudserver"
	"github.com/drblury/cloudmesh/internal/session"
)

// buildServer assembles the registry server. It also serves the config
// directory, routes through the gateway and sends messages.
func (a *App) buildServer(ctx context.Context, deps Dependencies) error {
	reg := registry.New(registry.Options{
		LeaseDuration: a.conf.LeaseDuration,
		Logger:        a.log,
	})
	local := registry.LocalDiscovery{Registry: reg}
	reg.AddListener(registry.NewEventLogger(reg, a.log))
	if len(a.conf.RegistryPeers) > 0 {
		reg.AddListener(registry.NewReplicator(a.conf.RegistryPeers, deps.HTTPClient, a.log))
	}
	registry.Mount(a.router, reg, a.log)
	if err := a.registerServer(deps); err != nil {
		return err
	}

	if a.conf.KeeperEnabled {
		k, err := a.newKeeper(local, deps)
		if err != nil {
			return err
		}
		reg.AddListener(k)
		a.addRunner("keeper", func(ctx context.Context) error {
			k.Watch(ctx)
			return nil
		})
	}
	a.addRunner("eviction", func(ctx context.Context) error {
		reg.Emit(registry.Event{Type: registry.RegistryAvailable, Time: time.Now()})
		reg.Emit(registry.Event{Type: registry.ServerStarted, Time: time.Now()})
		reg.RunEviction(ctx, a.conf.EvictionInterval)
		return nil
	})

	b, err := a.newBinder(ctx, deps)
	if err != nil {
		return err
	}

	if a.conf.ConfigDir != "" {
		backend, err := configserver.NewFileBackend(a.conf.ConfigDir)
		if err != nil {
			return err
		}
		cs := configserver.NewServer(backend, b, a.conf.ServiceName, a.log)
		cs.Mount(a.router)
		a.addRunner("config-watch", func(ctx context.Context) error {
			return cs.Watch(ctx, backend.Dir())
		})
	}

	cloudserver.New(cloudserver.Options{
		Applications: reg,
		Discovery:    local,
		Sender:       b,
		Bindings:     b.Handler(),
		Logger:       a.log,
	}).Mount(a.router)

	if a.conf.LoginServiceID != "" && a.conf.SessionStore != configpkg.SessionStoreRedis && deps.Redis == nil {
		a.log.Info("Session gate uses a local store, sessions of the login service are not visible to it", loggingpkg.LogFields{
			"login_service": a.conf.LoginServiceID,
		})
	}
	gw, err := gateway.New(gateway.Options{
		Discovery: local,
		Filters: []gateway.Filter{
			&gateway.SessionGate{LoginServiceID: a.conf.LoginServiceID, Sessions: a.newSessions(deps)},
		},
		Registerer: deps.Registerer,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	a.router.Handle("/*", gw)

	a.runBinder(b)
	return nil
}

// buildConfigClient assembles the config client and login service.
func (a *App) buildConfigClient(ctx context.Context, deps Dependencies) error {
	discovery, err := a.newRegistryClient(a.conf, deps)
	if err != nil {
		return err
	}
	b, err := a.newBinder(ctx, deps)
	if err != nil {
		return err
	}
	cc, err := a.newConfigClient(ctx, b, deps)
	if err != nil {
		return err
	}
	ds := datasource.New(a.conf.DatabaseURL)
	a.addCloser(func() error {
		ds.Close()
		return nil
	})

	opts := cloudclient.Options{
		Properties: cc,
		Sessions:   a.newSessions(deps),
		DataSource: ds,
		Logger:     a.log,
	}
	// a nil *registry.Client must not end up in the interface
	if discovery != nil {
		opts.Discovery = discovery
	}
	svc := cloudclient.New(opts)
	svc.Mount(a.router)
	if err := svc.Listen(b); err != nil {
		return err
	}

	a.runBinder(b)
	return nil
}

// buildClient assembles the plain client.
func (a *App) buildClient(ctx context.Context, deps Dependencies) error {
	if _, err := a.newRegistryClient(a.conf, deps); err != nil {
		return err
	}
	b, err := a.newBinder(ctx, deps)
	if err != nil {
		return err
	}
	cc, err := a.newConfigClient(ctx, b, deps)
	if err != nil {
		return err
	}
	client.New(cc).Mount(a.router)

	a.runBinder(b)
	return nil
}

// buildBase assembles the echo service. It registers only when a registry
// is configured.
func (a *App) buildBase(deps Dependencies) error {
	if _, err := a.newRegistryClient(a.conf, deps); err != nil {
		return err
	}
	base.Mount(a.router)
	return nil
}

func (a *App) newBinder(ctx context.Context, deps Dependencies) (*binding.Binder, error) {
	b, err := binding.New(ctx, a.conf, a.log, binding.Dependencies{
		Registry:   deps.Transports,
		Registerer: deps.Registerer,
	})
	if err != nil {
		return nil, err
	}
	a.addCloser(b.Close)
	return b, nil
}

// runBinder starts b once every listener is registered.
func (a *App) runBinder(b *binding.Binder) {
	a.addRunner("binder", b.Run)
}

// registerServer makes the server a client of the registry so that its
// heartbeats reach the peers. Without registry URLs it registers with itself.
func (a *App) registerServer(deps Dependencies) error {
	conf := *a.conf
	if conf.Port <= 0 {
		a.log.Info("No fixed port, server does not register itself", nil)
		return nil
	}
	if len(conf.RegistryURLs) == 0 {
		conf.RegistryURLs = []string{"http://" + net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))}
	}
	_, err := a.newRegistryClient(&conf, deps)
	return err
}

// newRegistryClient registers the service described by conf with the
// registry servers. It returns nil when no registry is configured.
func (a *App) newRegistryClient(conf *configpkg.Config, deps Dependencies) (*registry.Client, error) {
	rc, err := registry.NewClient(conf, a.log, deps.HTTPClient)
	if errors.Is(err, errspkg.ErrNoRegistry) {
		a.log.Info("No registry configured, skipping registration", nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.addRunner("registry-client", rc.Run)
	return rc, nil
}

func (a *App) newConfigClient(ctx context.Context, b *binding.Binder, deps Dependencies) (*configclient.Client, error) {
	cc, err := configclient.New(a.conf, a.log, deps.HTTPClient)
	if err != nil {
		return nil, err
	}
	cc.Bootstrap(ctx)
	cc.Mount(a.router)
	if err := cc.SubscribeBus(b); err != nil {
		return nil, err
	}
	return cc, nil
}

// newSessions builds the session manager. The gateway and the login service
// only see each other's sessions through a shared redis store.
func (a *App) newSessions(deps Dependencies) *session.Manager {
	var store session.Store
	switch {
	case deps.Redis != nil:
		store = session.NewRedisStore(deps.Redis)
	case a.conf.SessionStore == configpkg.SessionStoreRedis:
		rdb := session.NewRedisClient(a.conf.RedisAddr, a.conf.RedisPassword, a.conf.RedisDB)
		a.addCloser(rdb.Close)
		store = session.NewRedisStore(rdb)
	default:
		store = session.NewMemoryStore()
	}
	return session.NewManager(store, a.conf.SessionMaxInactive)
}

func (a *App) newKeeper(discovery registry.Discovery, deps Dependencies) (*keeper.Keeper, error) {
	launcher := deps.Launcher
	if launcher == nil {
		binary := a.conf.LaunchBinary
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, err
			}
			binary = exe
		}
		launcher = &keeper.ExecLauncher{
			Binary: binary,
			Args:   keeper.DefaultArgs,
			LogDir: filepath.Join(os.TempDir(), "cloudmesh"),
			Log:    a.log,
		}
	}
	return keeper.New(keeper.Options{
		OwnPort:     a.conf.Port,
		Targets:     a.conf.TargetInstances,
		SettleDelay: a.conf.RestartSettleDelay,
		Discovery:   discovery,
		Launcher:    launcher,
		Logger:      a.log,
		Registerer:  deps.Registerer,
	})
}
