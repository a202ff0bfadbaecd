package cloudclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cloudmesh/internal/envelope"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	"github.com/drblury/cloudmesh/internal/session"
	"github.com/drblury/cloudmesh/transport"
	"github.com/drblury/cloudmesh/transport/channel"
)

type props map[string]string

func (p props) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

type fixedSource string

func (f fixedSource) Describe(context.Context) string { return string(f) }

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }
func (l *recordingLogger) Debug(string, loggingpkg.LogFields)                 {}
func (l *recordingLogger) Trace(string, loggingpkg.LogFields)                 {}
func (l *recordingLogger) Error(msg string, _ error, _ loggingpkg.LogFields)  { l.add(msg) }
func (l *recordingLogger) Info(msg string, _ loggingpkg.LogFields)            { l.add(msg) }

func (l *recordingLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func get(t *testing.T, h http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	New(opts).Mount(r)
	return r
}

func TestConfigEndpoints(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	r := newRouter(Options{
		Properties: props{"test.config": "from-server", "db.user": "admin"},
		Sessions:   sessions,
	})

	assert.Equal(t, "from-server", get(t, r, "/config").Body.String())
	assert.Equal(t,
		"Session name: null, Config URL: db.user, Config Value: admin",
		get(t, r, "/get-config/db.user").Body.String())
	assert.Equal(t,
		"Session name: null, Config URL: missing, Config Value: null",
		get(t, r, "/get-config/missing").Body.String())

	login := get(t, r, "/login?user=dainslef")
	require.Equal(t, "Login success, user: dainslef", login.Body.String())
	cookies := login.Result().Cookies()
	require.NotEmpty(t, cookies)

	assert.Equal(t,
		"Session name: dainslef, Config URL: db.user, Config Value: admin",
		get(t, r, "/get-config/db.user", cookies...).Body.String())
	assert.Equal(t, "Logout success, user: dainslef", get(t, r, "/logout", cookies...).Body.String())
}

func TestConfigWithoutProperty(t *testing.T) {
	r := newRouter(Options{Properties: props{}})
	assert.Equal(t, "null", get(t, r, "/config").Body.String())

	rec := get(t, r, "/login?user=x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnection(t *testing.T) {
	r := newRouter(Options{})
	assert.Equal(t, "Unkown data source...", get(t, r, "/connection").Body.String())

	r = newRouter(Options{DataSource: fixedSource("Connection url: postgresql://db:5432/app")})
	assert.Equal(t, "Connection url: postgresql://db:5432/app", get(t, r, "/connection").Body.String())
}

func TestClientInfo(t *testing.T) {
	reg := registry.New(registry.Options{})
	for _, inst := range []registry.Instance{
		{App: "cloud-client", Host: "h1", Port: 9002},
		{App: "cloud-client", Host: "h1", Port: 9001},
		{App: "cloud-server", Host: "h2", Port: 8080},
	} {
		_, err := reg.Register(inst, false)
		require.NoError(t, err)
	}
	r := newRouter(Options{Discovery: registry.LocalDiscovery{Registry: reg}})

	var services []string
	require.NoError(t, json.Unmarshal(get(t, r, "/client-info").Body.Bytes(), &services))
	assert.Equal(t, []string{"cloud-client", "cloud-server"}, services)

	var addrs []string
	require.NoError(t, json.Unmarshal(get(t, r, "/client-info/cloud-client").Body.Bytes(), &addrs))
	assert.Equal(t, []string{"h1:9001", "h1:9002"}, addrs)

	assert.JSONEq(t, `[]`, get(t, r, "/client-info/nobody").Body.String())
}

func TestListenLogsReceivedMessages(t *testing.T) {
	reg := transport.NewRegistry()
	channel.Register(reg)
	conf := &configpkg.Config{ServiceName: "cloud-client", PubSubSystem: "channel"}
	b, err := binding.New(context.Background(), conf, loggingpkg.NewNopServiceLogger(), binding.Dependencies{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	log := &recordingLogger{}
	require.NoError(t, New(Options{Logger: log}).Listen(b))

	require.True(t, b.SendString(context.Background(), binding.Input, "hello"))
	require.True(t, b.SendEnvelope(context.Background(), binding.CustomInChannel2,
		envelope.Message{Index: 3, Type: "number", Content: "42"}))

	assert.Equal(t, []string{
		"Receive message from input: hello",
		"Receive message from customInChannel2: CustomMessage(index=3, type=number, content=42)",
	}, log.Lines())
}
