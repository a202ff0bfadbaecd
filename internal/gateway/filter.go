package gateway

import (
	"net/http"
	"sort"
	"strings"

	"github.com/drblury/cloudmesh/internal/session"
)

// RequestContext carries one request through the pre-filters. A filter
// that answers the request itself calls Respond, which stops forwarding.
type RequestContext struct {
	Request   *http.Request
	ServiceID string

	stopped     bool
	status      int
	contentType string
	body        string
}

// Respond stops forwarding and answers with body instead.
func (c *RequestContext) Respond(status int, contentType, body string) {
	c.stopped = true
	c.status = status
	c.contentType = contentType
	c.body = body
}

// Forwarding reports whether the request will still be proxied.
func (c *RequestContext) Forwarding() bool { return !c.stopped }

func (c *RequestContext) write(w http.ResponseWriter) {
	if c.contentType != "" {
		w.Header().Set("Content-Type", c.contentType)
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(c.body))
}

// Filter runs before a request is forwarded. Filters run by ascending Order.
type Filter interface {
	Name() string
	Order() int
	ShouldFilter(r *http.Request) bool
	Run(ctx *RequestContext) error
}

func sortFilters(filters []Filter) []Filter {
	sorted := append([]Filter(nil), filters...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })
	return sorted
}

// NoSessionBody is the answer of the session gate.
const NoSessionBody = "No session..."

// SessionGate lets a request through when it targets the login endpoint of
// the login service, is a CORS preflight, or carries a live session.
// Everything else is answered with NoSessionBody.
type SessionGate struct {
	LoginServiceID string
	Sessions       *session.Manager
}

func (g *SessionGate) Name() string { return "session-gate" }

func (g *SessionGate) Order() int { return 0 }

func (g *SessionGate) ShouldFilter(*http.Request) bool { return true }

func (g *SessionGate) Run(ctx *RequestContext) error {
	if Allowed(ctx.Request, g.LoginServiceID, g.Sessions) {
		return nil
	}
	ctx.Respond(http.StatusOK, "text/plain; charset=utf-8", NoSessionBody)
	return nil
}

// Allowed is the session gate predicate.
func Allowed(r *http.Request, loginServiceID string, sessions *session.Manager) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/"+loginServiceID+"/login") {
		return true
	}
	if sessions == nil {
		return false
	}
	_, err := sessions.Lookup(r)
	return err == nil
}
