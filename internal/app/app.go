// Package app assembles one cloudmesh service out of its components and runs
// it until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/cloudmesh/internal/registry/keeper"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	"github.com/drblury/cloudmesh/internal/session"
	"github.com/drblury/cloudmesh/transport"
	_ "github.com/drblury/cloudmesh/transport/transports"
)

// Kind selects which service an App runs.
type Kind string

const (
	// KindServer hosts the registry, the config server, the gateway and the
	// message sending endpoints.
	KindServer Kind = "server"
	// KindConfigClient is the config client and login service.
	KindConfigClient Kind = "config-client"
	// KindClient shows a refreshable property.
	KindClient Kind = "client"
	// KindBase only echoes.
	KindBase Kind = "base"
)

// Kinds lists every service kind.
func Kinds() []Kind {
	return []Kind{KindServer, KindConfigClient, KindClient, KindBase}
}

// ParseKind resolves a service kind name.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), name) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown service kind %q", name)
}

// Dependencies overrides the collaborators an App builds by default.
type Dependencies struct {
	// Transports builds the message transport; transport.DefaultRegistry when nil.
	Transports *transport.Registry
	// Registerer receives every metric; prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	// HTTPClient talks to the registry and config servers.
	HTTPClient *http.Client
	// Launcher starts missing server instances.
	Launcher keeper.Launcher
	// Redis backs the session store when set, whatever session.store says.
	Redis session.RedisClient
}

type runner struct {
	name string
	run  func(ctx context.Context) error
}

// App is one assembled service.
type App struct {
	kind   Kind
	conf   *configpkg.Config
	log    loggingpkg.ServiceLogger
	router chi.Router

	runners []runner
	closers []func() error
}

// New builds the service of kind described by conf.
func New(ctx context.Context, kind Kind, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*App, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	log = log.With(loggingpkg.LogFields{"service": conf.ServiceName, "kind": string(kind)})

	a := &App{
		kind: kind,
		conf: conf,
		log:  log,
		router: httpserver.NewRouter(log, httpserver.RouterOptions{
			Metrics:  conf.MetricsEnabled,
			Gatherer: deps.Gatherer,
		}),
	}

	var err error
	switch kind {
	case KindServer:
		err = a.buildServer(ctx, deps)
	case KindConfigClient:
		err = a.buildConfigClient(ctx, deps)
	case KindClient:
		err = a.buildClient(ctx, deps)
	case KindBase:
		err = a.buildBase(deps)
	default:
		err = fmt.Errorf("unknown service kind %q", kind)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Info("Assembled service", loggingpkg.LogFields{"components": len(a.runners)})
	return a, nil
}

func (a *App) addRunner(name string, run func(ctx context.Context) error) {
	a.runners = append(a.runners, runner{name: name, run: run})
}

func (a *App) addCloser(c func() error) {
	a.closers = append(a.closers, c)
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run listens on the configured host and port and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", httpserver.Addr(a.conf.Host, a.conf.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and every background component. The
// first component failing stops the others.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := httpserver.New(ln.Addr().String(), a.router, a.log)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	for _, r := range a.runners {
		g.Go(func() error {
			if err := r.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases every component in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
