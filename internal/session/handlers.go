package session

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/drblury/cloudmesh/internal/runtime/httpserver"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// LoginMaxInactive keeps a logged-in session alive for 99999999 seconds.
const LoginMaxInactive = 99999999 * time.Second

// LoginHandler serves /login?user=: it creates or reuses the session, stores
// the user and answers "Login success, user: <user>" or "Login failed". A
// missing user is a bad request.
func LoginHandler(m *Manager, log loggingpkg.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			render.Status(r, http.StatusBadRequest)
			httpserver.Text(w, r, "Login failed")
			return
		}

		s, err := m.Get(w, r, true)
		if err != nil {
			log.Error("Login failed", err, loggingpkg.LogFields{"user": user})
			httpserver.Text(w, r, "Login failed")
			return
		}
		s.SetAttribute(AttributeName, user)
		s.MaxInactive = LoginMaxInactive
		if err := m.Save(r.Context(), s); err != nil {
			log.Error("Login failed", err, loggingpkg.LogFields{"user": user})
			httpserver.Text(w, r, "Login failed")
			return
		}

		body := "Login success, user: " + user
		log.Info(body, nil)
		httpserver.Text(w, r, body)
	}
}

// LogoutHandler serves /logout: it invalidates the existing session and
// answers "Logout success, user: <user>", or "Logout failed" without one.
func LogoutHandler(m *Manager, log loggingpkg.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Lookup(r)
		if err != nil {
			httpserver.Text(w, r, "Logout failed")
			return
		}
		user, err := s.Attribute(AttributeName)
		if err != nil {
			user = "null"
		}
		if err := m.Invalidate(r.Context(), w, s); err != nil {
			log.Error("Logout failed", err, loggingpkg.LogFields{"session": s.ID})
			httpserver.Text(w, r, "Logout failed")
			return
		}

		body := "Logout success, user: " + user
		log.Info(body, nil)
		httpserver.Text(w, r, body)
	}
}
