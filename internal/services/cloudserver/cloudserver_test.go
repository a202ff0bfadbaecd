package cloudserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cloudmesh/internal/envelope"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	"github.com/drblury/cloudmesh/transport"
	"github.com/drblury/cloudmesh/transport/channel"
)

type sent struct {
	channel string
	text    string
	env     envelope.Message
}

type fakeSender struct {
	ok   bool
	sent []sent
}

func (f *fakeSender) SendString(_ context.Context, channel, text string) bool {
	f.sent = append(f.sent, sent{channel: channel, text: text})
	return f.ok
}

func (f *fakeSender) SendEnvelope(_ context.Context, channel string, m envelope.Message) bool {
	f.sent = append(f.sent, sent{channel: channel, env: m})
	return f.ok
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func newRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	New(opts).Mount(r)
	return r
}

func TestSendMessage(t *testing.T) {
	sender := &fakeSender{ok: true}
	r := newRouter(Options{Sender: sender})

	rec := get(t, r, "/send-message/hello")

	assert.Equal(t, "Send message: hello, channel: input, success: true", rec.Body.String())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, binding.Output, sender.sent[0].channel)
	assert.Equal(t, "hello", sender.sent[0].text)
}

func TestSendCustomMessage(t *testing.T) {
	sender := &fakeSender{ok: true}
	r := newRouter(Options{Sender: sender})

	rec := get(t, r, "/send-custom-message?message=42&channel=customInChannel1&type=number")
	assert.Equal(t,
		"Send message: CustomMessage(index=1, type=number, content=42), channel: customInChannel1, success: true",
		rec.Body.String())

	rec = get(t, r, "/send-custom-message?message=x&channel=bogus")
	assert.Equal(t,
		"Send message: CustomMessage(index=2, type=, content=x), channel: bogus, success: false",
		rec.Body.String())

	rec = get(t, r, "/send-custom-message?message=y&channel=customOutChannel2")
	assert.Contains(t, rec.Body.String(), "index=3")

	require.Len(t, sender.sent, 2)
	assert.Equal(t, binding.CustomInChannel1, sender.sent[0].channel)
	assert.Equal(t, envelope.Message{Index: 1, Type: "number", Content: "42"}, sender.sent[0].env)
	assert.Equal(t, binding.CustomOutChannel2, sender.sent[1].channel)
}

func TestSendCustomMessageRequiresParams(t *testing.T) {
	sender := &fakeSender{ok: true}
	r := newRouter(Options{Sender: sender})

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/send-custom-message?channel=customInChannel1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/send-custom-message?message=x").Code)
	assert.Empty(t, sender.sent)
}

func TestSendReportsFailure(t *testing.T) {
	r := newRouter(Options{Sender: &fakeSender{ok: false}})
	assert.Equal(t, "Send message: m, channel: input, success: false", get(t, r, "/send-message/m").Body.String())
}

func TestRegistryDumps(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(registry.Instance{App: "cloud-client", Host: "h", Port: 9001}, false)
	require.NoError(t, err)
	r := newRouter(Options{Applications: reg, Discovery: registry.LocalDiscovery{Registry: reg}})

	var apps registry.ApplicationsResponse
	require.NoError(t, json.Unmarshal(get(t, r, "/eureka-client").Body.Bytes(), &apps))
	require.Len(t, apps.Applications, 1)
	assert.Equal(t, "CLOUD-CLIENT", apps.Applications[0].Name)
	assert.Equal(t, 9001, apps.Applications[0].Instances[0].Port)

	assert.JSONEq(t, `["cloud-client"]`, get(t, r, "/discovery-client").Body.String())
}

func TestSendThroughBinder(t *testing.T) {
	reg := transport.NewRegistry()
	channel.Register(reg)
	conf := &configpkg.Config{ServiceName: "cloud-server", PubSubSystem: "channel"}
	b, err := binding.New(context.Background(), conf, loggingpkg.NewNopServiceLogger(), binding.Dependencies{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var got []envelope.Message
	require.NoError(t, b.ListenEnvelope(binding.CustomInChannel2, "custom-2-listener", func(_ context.Context, m envelope.Message) error {
		got = append(got, m)
		return nil
	}))
	r := newRouter(Options{Sender: b, Bindings: b.Handler()})

	rec := get(t, r, "/send-custom-message?message=hi&channel=customInChannel2&type=string")
	assert.Contains(t, rec.Body.String(), "success: true")
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)

	rec = get(t, r, "/actuator/bindings")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transport":"channel"`)
}
