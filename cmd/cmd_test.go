package cmd

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cloudmesh/internal/app"
	"github.com/drblury/cloudmesh/internal/registry"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

func TestRootHasEveryServiceCommand(t *testing.T) {
	root := newRootCmd()
	for _, kind := range app.Kinds() {
		sub, _, err := root.Find([]string{string(kind)})
		require.NoError(t, err)
		assert.Equal(t, string(kind), sub.Name())
	}
	sub, _, err := root.Find([]string{"apps"})
	require.NoError(t, err)
	assert.Equal(t, "apps", sub.Name())
}

func TestLoadConfigAppliesServiceDefaultsAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cloudmesh.yaml")
	require.NoError(t, os.WriteFile(file, []byte("test:\n  name: base\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cloudmesh-peer1.yaml"), []byte("test:\n  name: peer\n"), 0o600))

	conf, err := loadConfig(app.KindConfigClient, &globalFlags{configFile: file, profiles: []string{"peer1"}, port: 9100})
	require.NoError(t, err)

	assert.Equal(t, "cloud-client", conf.ServiceName)
	assert.Equal(t, 9100, conf.Port)
	assert.Equal(t, []string{"peer1"}, conf.Profiles)
	name, ok := conf.Property("test.name")
	require.True(t, ok)
	assert.Equal(t, "peer", name)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, loadEnvFile(""))
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("CLOUDMESH_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("CLOUDMESH_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CLOUDMESH_TEST_DOTENV"))

	require.NoError(t, loadEnvFile(file))
	assert.Equal(t, "loaded", os.Getenv("CLOUDMESH_TEST_DOTENV"))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("loud")
	assert.Error(t, err)

	log, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestAppsCommandPrintsTable(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(registry.Instance{App: "cloud-client", Host: "h1", Port: 9001}, false)
	require.NoError(t, err)
	r := chi.NewRouter()
	registry.Mount(r, reg, loggingpkg.NewNopServiceLogger())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"apps", "--env-file", "", "--registry", srv.URL})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "CLOUD-CLIENT")
	assert.Contains(t, out.String(), "h1:9001")
	assert.Contains(t, out.String(), "UP")
}
