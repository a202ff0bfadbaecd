package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/session"
)

func backend(t *testing.T, name string) registry.Instance {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, name+" "+r.URL.RequestURI())
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return registry.Instance{App: "cloud-base", Host: u.Hostname(), Port: port}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSplitRoute(t *testing.T) {
	tests := []struct {
		path, service, rest string
	}{
		{"/cloud-base/echo/hi", "cloud-base", "/echo/hi"},
		{"/cloud-base", "cloud-base", "/"},
		{"/", "", "/"},
	}
	for _, tt := range tests {
		service, rest := SplitRoute(tt.path)
		assert.Equal(t, tt.service, service, tt.path)
		assert.Equal(t, tt.rest, rest, tt.path)
	}
}

func TestForwardsRoundRobin(t *testing.T) {
	reg := registry.New(registry.Options{})
	for _, name := range []string{"a", "b"} {
		_, err := reg.Register(backend(t, name), false)
		require.NoError(t, err)
	}
	metrics := prometheus.NewRegistry()
	g, err := New(Options{Discovery: registry.LocalDiscovery{Registry: reg}, Registerer: metrics})
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		rec := get(t, g, "/cloud-base/param?text=x")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, " /param?text=x")
		seen[body[:1]]++
	}
	assert.Equal(t, map[string]int{"a": 2, "b": 2}, seen)
	assert.Equal(t, float64(4), testutil.ToFloat64(g.requests.WithLabelValues("cloud-base", OutcomeForwarded)))
}

func TestUnknownServiceAndUnavailable(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(registry.Instance{App: "down", Port: 1, Status: registry.StatusDown}, false)
	require.NoError(t, err)
	g, err := New(Options{Discovery: registry.LocalDiscovery{Registry: reg}})
	require.NoError(t, err)

	rec := get(t, g, "/missing/x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No route for missing")

	rec = get(t, g, "/down/x")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxyErrorAnswersBadGateway(t *testing.T) {
	reg := registry.New(registry.Options{})
	inst := backend(t, "a")
	_, err := reg.Register(inst, false)
	require.NoError(t, err)
	g, err := New(Options{
		Discovery: registry.LocalDiscovery{Registry: reg},
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("refused") }),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, get(t, g, "/cloud-base/x").Code)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type orderFilter struct {
	name  string
	order int
	calls *[]string
	stop  bool
	err   error
}

func (f orderFilter) Name() string                    { return f.name }
func (f orderFilter) Order() int                      { return f.order }
func (f orderFilter) ShouldFilter(*http.Request) bool { return true }
func (f orderFilter) Run(ctx *RequestContext) error {
	*f.calls = append(*f.calls, f.name)
	if f.stop {
		ctx.Respond(http.StatusTeapot, "text/plain", "stopped by "+f.name)
	}
	return f.err
}

func TestFiltersRunInOrderAndMayStop(t *testing.T) {
	var calls []string
	g, err := New(Options{
		Discovery: registry.LocalDiscovery{Registry: registry.New(registry.Options{})},
		Filters: []Filter{
			orderFilter{name: "late", order: 10, calls: &calls},
			orderFilter{name: "early", order: 1, calls: &calls, stop: true},
		},
	})
	require.NoError(t, err)

	rec := get(t, g, "/svc/x")
	assert.Equal(t, []string{"early"}, calls)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "stopped by early", rec.Body.String())
}

func TestFilterErrorAnswers500(t *testing.T) {
	var calls []string
	g, err := New(Options{
		Discovery: registry.LocalDiscovery{Registry: registry.New(registry.Options{})},
		Filters:   []Filter{orderFilter{name: "broken", calls: &calls, err: errors.New("boom")}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, get(t, g, "/svc/x").Code)
}

func TestSessionGate(t *testing.T) {
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, time.Hour)
	gate := &SessionGate{LoginServiceID: "cloud-client", Sessions: sessions}

	run := func(r *http.Request) *RequestContext {
		ctx := &RequestContext{Request: r}
		require.NoError(t, gate.Run(ctx))
		return ctx
	}

	assert.True(t, run(httptest.NewRequest(http.MethodGet, "/cloud-client/login?user=a", nil)).Forwarding())
	assert.True(t, run(httptest.NewRequest(http.MethodOptions, "/cloud-base/echo/x", nil)).Forwarding())

	blocked := run(httptest.NewRequest(http.MethodGet, "/cloud-base/echo/x", nil))
	assert.False(t, blocked.Forwarding())
	rec := httptest.NewRecorder()
	blocked.write(rec)
	assert.Equal(t, NoSessionBody, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	// an anonymous session is enough
	created := httptest.NewRecorder()
	s, err := sessions.Create(t.Context(), created)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/cloud-base/echo/x", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: s.ID})
	assert.True(t, run(req).Forwarding())

	// a stale cookie is not
	require.NoError(t, store.Delete(t.Context(), s.ID))
	req = httptest.NewRequest(http.MethodGet, "/cloud-base/echo/x", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: s.ID})
	assert.False(t, run(req).Forwarding())
}

func TestAllowedWithoutSessionManager(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/cloud-base/echo/x", nil)
	assert.False(t, Allowed(r, "cloud-client", nil))
	r = httptest.NewRequest(http.MethodGet, "/cloud-client/login", nil)
	assert.True(t, Allowed(r, "cloud-client", nil))
}
