// Package client serves the endpoints of the plain client service.
package client

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
)

// NameKey is the property shown by /show.
const NameKey = "test.name"

// Properties reads the current configuration.
type Properties interface {
	Environment(key string) string
}

// Service holds the counter and the property source.
type Service struct {
	props Properties
	count atomic.Int64
}

// New creates the service.
func New(props Properties) *Service {
	return &Service{props: props}
}

// Mount installs /show and /count on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/show", s.show)
	r.Get("/count", s.counter)
}

func (s *Service) show(w http.ResponseWriter, r *http.Request) {
	httpserver.Text(w, r, "name is: "+s.props.Environment(NameKey))
}

// counter stores ?value= when present and answers the current count.
func (s *Service) counter(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("value"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid value: "+raw, http.StatusBadRequest)
			return
		}
		s.count.Store(n)
	}
	httpserver.Text(w, r, "count: "+strconv.FormatInt(s.count.Load(), 10))
}
