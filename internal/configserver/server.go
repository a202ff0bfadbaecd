package configserver

import (
	"context"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

// WatchDebounce collapses bursts of file events into one refresh.
const WatchDebounce = 250 * time.Millisecond

// Server exposes a Backend over HTTP.
type Server struct {
	backend Backend
	bus     Publisher
	origin  string
	log     loggingpkg.ServiceLogger
}

// NewServer creates a config server. bus may be nil, in which case refresh
// requests only log.
func NewServer(backend Backend, bus Publisher, origin string, log loggingpkg.ServiceLogger) *Server {
	return &Server{backend: backend, bus: bus, origin: origin, log: log}
}

// Mount installs GET /config/{application}/{profile} and
// POST /actuator/bus-refresh on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/config/{application}/{profile}", s.getEnvironment)
	r.Post("/actuator/bus-refresh", s.busRefresh)
}

func (s *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "application")
	profiles := ParseProfiles(chi.URLParam(r, "profile"))

	env, err := s.backend.Environment(app, profiles)
	if err != nil {
		s.log.Error("Resolve environment failed", err, loggingpkg.LogFields{"application": app})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, env)
}

func (s *Server) busRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Refresh(r.Context(), r.URL.Query().Get("destination")); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh publishes a refresh event for destination ("" for every service).
func (s *Server) Refresh(ctx context.Context, destination string) error {
	if s.bus == nil {
		s.log.Info("Refresh requested without a bus", nil)
		return errspkg.ErrPublisherRequired
	}
	payload, err := EncodeRefresh(RefreshEvent{
		Origin:      s.origin,
		Destination: destination,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	headers := metadatapkg.New(metadatapkg.KeyType, RefreshEventType)
	if err := s.bus.Publish(ctx, RefreshDestination, payload, headers); err != nil {
		s.log.Error("Publish refresh failed", err, nil)
		return err
	}
	s.log.Info("Published refresh event", loggingpkg.LogFields{"destination": destination})
	return nil
}

// Watch refreshes every service whenever a file in dir changes, until ctx
// ends.
func (s *Server) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.log.Info("Watching config directory", loggingpkg.LogFields{"dir": dir})

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.log.Debug("Config file changed", loggingpkg.LogFields{"file": ev.Name, "op": ev.Op.String()})
				pending = time.After(WatchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Config watch error", err, nil)
		case <-pending:
			pending = nil
			_ = s.Refresh(ctx, "")
		}
	}
}
