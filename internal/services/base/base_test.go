package base

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestEndpoints(t *testing.T) {
	r := chi.NewRouter()
	Mount(r)

	tests := []struct {
		target string
		want   string
	}{
		{"/echo/hello", "echo: hello"},
		{"/echo", "echo: none"},
		{"/param?text=world", "param: world"},
		{"/param", "param: none"},
		{"/param?text=", "param: "},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
		})
	}
}
