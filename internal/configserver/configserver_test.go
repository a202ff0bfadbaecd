package configserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

type published struct {
	destination string
	payload     []byte
	headers     metadatapkg.Metadata
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeBus) Publish(_ context.Context, destination string, payload []byte, headers metadatapkg.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{destination, payload, headers})
	return nil
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func testDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "application.yaml", "test:\n  name: shared\n  config: base\n")
	writeFile(t, dir, "cloud-client.yaml", "test:\n  config: client\n")
	writeFile(t, dir, "cloud-client-dev.toml", "[test]\nconfig = \"client-dev\"\n")
	writeFile(t, dir, "application-dev.json", `{"datasource":{"url":"postgres://db/dev"}}`)
	return dir
}

func TestSourceNames(t *testing.T) {
	assert.Equal(t, []string{
		"client-b", "client-a", "client", "application-b", "application-a", "application",
	}, SourceNames("client", []string{"a", "b"}))
	assert.Equal(t, []string{"application-x", "application"}, SourceNames("application", []string{"x"}))
}

func TestParseProfiles(t *testing.T) {
	assert.Equal(t, []string{"default"}, ParseProfiles(""))
	assert.Equal(t, []string{"a", "b"}, ParseProfiles("a, b,"))
}

func TestFileBackendLayersSources(t *testing.T) {
	backend, err := NewFileBackend(testDir(t))
	require.NoError(t, err)

	env, err := backend.Environment("cloud-client", []string{"dev"})
	require.NoError(t, err)
	require.Len(t, env.PropertySources, 4)

	assert.Contains(t, env.PropertySources[0].Name, "cloud-client-dev.toml")
	assert.Equal(t, "client-dev", env.PropertySources[0].Source["test.config"])
	assert.Contains(t, env.PropertySources[1].Name, "cloud-client.yaml")
	assert.Contains(t, env.PropertySources[2].Name, "application-dev.json")
	assert.Equal(t, "postgres://db/dev", env.PropertySources[2].Source["datasource.url"])
	assert.Equal(t, "shared", env.PropertySources[3].Source["test.name"])
}

func TestFileBackendRejectsMissingDir(t *testing.T) {
	_, err := NewFileBackend(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFileBackendReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.json", "{")
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	_, err = backend.Environment("svc", nil)
	assert.ErrorContains(t, err, "application.json")
}

func newTestServer(t *testing.T, bus Publisher) (*Server, *httptest.Server) {
	t.Helper()
	backend, err := NewFileBackend(testDir(t))
	require.NoError(t, err)
	s := NewServer(backend, bus, "cloud-server:8761", loggingpkg.NewNopServiceLogger())
	r := chi.NewRouter()
	s.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestGetEnvironment(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/config/cloud-client/dev")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env Environment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "cloud-client", env.Name)
	assert.Equal(t, []string{"dev"}, env.Profiles)
	assert.Len(t, env.PropertySources, 4)
}

func TestBusRefreshPublishes(t *testing.T) {
	bus := &fakeBus{}
	_, srv := newTestServer(t, bus)

	resp, err := http.Post(srv.URL+"/actuator/bus-refresh?destination=cloud-client", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Equal(t, 1, bus.count())
	msg := bus.msgs[0]
	assert.Equal(t, RefreshDestination, msg.destination)
	assert.Equal(t, RefreshEventType, msg.headers[metadatapkg.KeyType])

	event, err := DecodeRefresh(msg.payload)
	require.NoError(t, err)
	assert.Equal(t, "cloud-server:8761", event.Origin)
	assert.True(t, event.Matches("cloud-client"))
	assert.False(t, event.Matches("cloud-base"))
}

func TestBusRefreshFailures(t *testing.T) {
	_, srv := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/actuator/bus-refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, srv = newTestServer(t, &fakeBus{err: errors.New("broker down")})
	resp, err = http.Post(srv.URL+"/actuator/bus-refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRefreshEventMatches(t *testing.T) {
	assert.True(t, RefreshEvent{}.Matches("any"))
	assert.True(t, RefreshEvent{Destination: "**"}.Matches("any"))
	assert.True(t, RefreshEvent{Destination: "cloud-client:**"}.Matches("CLOUD-CLIENT"))
	assert.False(t, RefreshEvent{Destination: "cloud-client"}.Matches("client"))
}

func TestWatchPublishesOnChange(t *testing.T) {
	bus := &fakeBus{}
	dir := t.TempDir()
	s := NewServer(nil, bus, "test", loggingpkg.NewNopServiceLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, dir) }()

	require.Eventually(t, func() bool {
		writeFile(t, dir, "application.yaml", "a: 1\n")
		return bus.count() > 0
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
