package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type staticProps map[string]string

func (p staticProps) Environment(key string) string { return p[key] }

func serve(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func newRouter(props Properties) chi.Router {
	r := chi.NewRouter()
	New(props).Mount(r)
	return r
}

func TestShow(t *testing.T) {
	r := newRouter(staticProps{"test.name": "dainslef"})
	assert.Equal(t, "name is: dainslef", serve(t, r, "/show").Body.String())
}

func TestCounterDefaultsAndPersists(t *testing.T) {
	r := newRouter(staticProps{})

	assert.Equal(t, "count: 0", serve(t, r, "/count").Body.String())
	assert.Equal(t, "count: 42", serve(t, r, "/count?value=42").Body.String())
	assert.Equal(t, "count: 42", serve(t, r, "/count").Body.String())
	assert.Equal(t, "count: -3", serve(t, r, "/count?value=-3").Body.String())
}

func TestCounterRejectsGarbage(t *testing.T) {
	r := newRouter(staticProps{})
	serve(t, r, "/count?value=7")

	rec := serve(t, r, "/count?value=seven")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "count: 7", serve(t, r, "/count").Body.String())
}
