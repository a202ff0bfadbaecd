// Package base serves the echo endpoints of the base service.
package base

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
)

const none = "none"

// Mount installs /echo/{text} and /param?text= on r.
func Mount(r chi.Router) {
	r.Get("/echo", Echo)
	r.Get("/echo/{text}", Echo)
	r.Get("/param", Param)
}

// Echo answers "echo: <text>", or "echo: none" without a path value.
func Echo(w http.ResponseWriter, r *http.Request) {
	text := chi.URLParam(r, "text")
	if text == "" {
		text = none
	}
	httpserver.Text(w, r, "echo: "+text)
}

// Param answers "param: <text>", or "param: none" without the query value.
func Param(w http.ResponseWriter, r *http.Request) {
	text := none
	if r.URL.Query().Has("text") {
		text = r.URL.Query().Get("text")
	}
	httpserver.Text(w, r, "param: "+text)
}
