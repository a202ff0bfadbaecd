// Package cloudclient serves the config client and login service: config
// lookups, the data source check, session login and logout, discovery
// dumps and the stream listeners.
package cloudclient

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/samber/lo"

	"github.com/drblury/cloudmesh/internal/envelope"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	"github.com/drblury/cloudmesh/internal/session"
)

// ConfigKey is the property served by /config.
const ConfigKey = "test.config"

const null = "null"

// Properties reads the current configuration.
type Properties interface {
	Get(key string) (string, bool)
}

// DataSource describes the configured database connection.
type DataSource interface {
	Describe(ctx context.Context) string
}

// Listeners registers typed stream listeners.
type Listeners interface {
	ListenString(channel, name string, handler func(ctx context.Context, text string) error) error
	ListenEnvelope(channel, name string, handler func(ctx context.Context, m envelope.Message) error) error
}

// Options holds the collaborators of the service.
type Options struct {
	Properties Properties
	Sessions   *session.Manager
	DataSource DataSource
	Discovery  registry.Discovery
	Logger     loggingpkg.ServiceLogger
}

// Service implements the cloud client endpoints.
type Service struct {
	props     Properties
	sessions  *session.Manager
	ds        DataSource
	discovery registry.Discovery
	log       loggingpkg.ServiceLogger
}

// New creates the service.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	return &Service{
		props:     opts.Properties,
		sessions:  opts.Sessions,
		ds:        opts.DataSource,
		discovery: opts.Discovery,
		log:       log,
	}
}

// Mount installs the endpoints on r. Session and discovery endpoints are
// only mounted when their collaborator is set.
func (s *Service) Mount(r chi.Router) {
	r.Get("/config", s.config)
	r.Get("/get-config/{path}", s.getConfig)
	r.Get("/connection", s.connection)
	if s.sessions != nil {
		r.Get("/login", session.LoginHandler(s.sessions, s.log))
		r.Get("/logout", session.LogoutHandler(s.sessions, s.log))
	}
	if s.discovery != nil {
		r.Get("/client-info", s.clientInfo)
		r.Get("/client-info/{serviceId}", s.serviceInfo)
	}
}

func (s *Service) config(w http.ResponseWriter, r *http.Request) {
	httpserver.Text(w, r, s.value(ConfigKey))
}

func (s *Service) getConfig(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	name := null
	if s.sessions != nil {
		name = s.sessions.Name(r)
	}
	body := "Session name: " + name + ", Config URL: " + path + ", Config Value: " + s.value(path)
	s.log.Info(body, nil)
	httpserver.Text(w, r, body)
}

func (s *Service) value(key string) string {
	if s.props == nil {
		return null
	}
	if v, ok := s.props.Get(key); ok {
		return v
	}
	return null
}

func (s *Service) connection(w http.ResponseWriter, r *http.Request) {
	body := "Unkown data source..."
	if s.ds != nil {
		body = s.ds.Describe(r.Context())
	}
	s.log.Info(body, nil)
	httpserver.Text(w, r, body)
}

func (s *Service) clientInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.discovery.Services())
}

func (s *Service) serviceInfo(w http.ResponseWriter, r *http.Request) {
	instances := s.discovery.Instances(chi.URLParam(r, "serviceId"))
	render.JSON(w, r, lo.Map(instances, func(inst registry.Instance, _ int) string {
		return inst.Address()
	}))
}

// Listen registers the stream listeners on the input channel and both
// custom input channels. Each received message is logged.
func (s *Service) Listen(l Listeners) error {
	if err := l.ListenString(binding.Input, "cloudclient-input", func(ctx context.Context, text string) error {
		s.received(binding.Input, text)
		return nil
	}); err != nil {
		return err
	}
	for _, channel := range []string{binding.CustomInChannel1, binding.CustomInChannel2} {
		ch := channel
		if err := l.ListenEnvelope(ch, "cloudclient-"+ch, func(ctx context.Context, m envelope.Message) error {
			s.received(ch, m.String())
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) received(channel, payload string) {
	s.log.Info("Receive message from "+channel+": "+payload, loggingpkg.LogFields{"channel": channel})
}
