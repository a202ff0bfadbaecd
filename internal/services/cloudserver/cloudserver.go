// Package cloudserver serves the registry dumps and the message sending
// endpoints of the cloud server.
package cloudserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/drblury/cloudmesh/internal/envelope"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// Sender publishes on the logical channels.
type Sender interface {
	SendString(ctx context.Context, channel, text string) bool
	SendEnvelope(ctx context.Context, channel string, m envelope.Message) bool
}

// Applications lists the registered applications.
type Applications interface {
	Applications() []registry.Application
}

// Options holds the collaborators of the service.
type Options struct {
	Applications Applications
	Discovery    registry.Discovery
	Sender       Sender
	// Bindings serves /actuator/bindings when set.
	Bindings http.Handler
	Logger   loggingpkg.ServiceLogger
}

// Service implements the cloud server endpoints.
type Service struct {
	apps      Applications
	discovery registry.Discovery
	sender    Sender
	bindings  http.Handler
	log       loggingpkg.ServiceLogger
	index     envelope.Sequence
}

// New creates the service.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}
	return &Service{
		apps:      opts.Applications,
		discovery: opts.Discovery,
		sender:    opts.Sender,
		bindings:  opts.Bindings,
		log:       log,
	}
}

// Mount installs the endpoints on r.
func (s *Service) Mount(r chi.Router) {
	if s.apps != nil {
		r.Get("/eureka-client", s.eurekaClient)
	}
	if s.discovery != nil {
		r.Get("/discovery-client", s.discoveryClient)
	}
	if s.sender != nil {
		r.Get("/send-message/{message}", s.sendMessage)
		r.Get("/send-custom-message", s.sendCustomMessage)
	}
	if s.bindings != nil {
		r.Method(http.MethodGet, "/actuator/bindings", s.bindings)
	}
}

func (s *Service) eurekaClient(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, registry.ApplicationsResponse{Applications: s.apps.Applications()})
}

func (s *Service) discoveryClient(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.discovery.Services())
}

// sendMessage publishes the path value on the output channel, which feeds
// the input channel of the listening services.
func (s *Service) sendMessage(w http.ResponseWriter, r *http.Request) {
	msg := chi.URLParam(r, "message")
	ok := s.sender.SendString(r.Context(), binding.Output, msg)
	s.reply(w, r, msg, binding.Input, ok)
}

// sendCustomMessage numbers a new envelope and sends it on one of the four
// custom channels. The index advances even when the channel is rejected.
func (s *Service) sendCustomMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("message") || !q.Has("channel") {
		http.Error(w, "message and channel are required", http.StatusBadRequest)
		return
	}
	channel := q.Get("channel")
	m := envelope.Message{Index: s.index.Next(), Type: q.Get("type"), Content: q.Get("message")}

	ok := false
	switch channel {
	case binding.CustomInChannel1, binding.CustomInChannel2, binding.CustomOutChannel1, binding.CustomOutChannel2:
		ok = s.sender.SendEnvelope(r.Context(), channel, m)
	}
	s.reply(w, r, m.String(), channel, ok)
}

func (s *Service) reply(w http.ResponseWriter, r *http.Request, msg, channel string, ok bool) {
	body := fmt.Sprintf("Send message: %s, channel: %s, success: %s", msg, channel, strconv.FormatBool(ok))
	s.log.Info(body, loggingpkg.LogFields{"channel": channel, "success": ok})
	httpserver.Text(w, r, body)
}
