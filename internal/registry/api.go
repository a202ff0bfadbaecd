package registry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// ReplicationHeader marks requests forwarded between peer servers.
const ReplicationHeader = "X-Replication"

// AppsPath is the root of the registry API.
const AppsPath = "/eureka/apps"

// ApplicationsResponse is the body of GET /eureka/apps.
type ApplicationsResponse struct {
	Applications []Application `json:"applications"`
}

type api struct {
	reg *Registry
	log loggingpkg.ServiceLogger
}

// Mount installs the registry API under /eureka/apps on r.
func Mount(r chi.Router, reg *Registry, log loggingpkg.ServiceLogger) {
	a := &api{reg: reg, log: log}
	r.Route(AppsPath, func(r chi.Router) {
		r.Get("/", a.listApplications)
		r.Get("/{app}", a.getApplication)
		r.Post("/{app}", a.register)
		r.Put("/{app}/{id}", a.renew)
		r.Delete("/{app}/{id}", a.cancel)
	})
}

func isReplication(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(ReplicationHeader), "true")
}

func (a *api) listApplications(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ApplicationsResponse{Applications: a.reg.Applications()})
}

func (a *api) getApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := a.reg.Application(chi.URLParam(r, "app"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	render.JSON(w, r, app)
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var inst Instance
	if err := render.DecodeJSON(r.Body, &inst); err != nil {
		http.Error(w, "invalid instance: "+err.Error(), http.StatusBadRequest)
		return
	}
	inst.App = chi.URLParam(r, "app")

	registered, err := a.reg.Register(inst, isReplication(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, registered)
}

func (a *api) renew(w http.ResponseWriter, r *http.Request) {
	err := a.reg.Renew(chi.URLParam(r, "app"), chi.URLParam(r, "id"), isReplication(r))
	a.writeMutation(w, r, err)
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	err := a.reg.Cancel(chi.URLParam(r, "app"), chi.URLParam(r, "id"), isReplication(r))
	a.writeMutation(w, r, err)
}

func (a *api) writeMutation(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, errspkg.ErrInstanceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		a.log.Error("Registry request failed", err, loggingpkg.LogFields{"path": r.URL.Path})
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
