package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/btpeer"
	"github.com/kadcrawl/kadcrawl/internal/controller"
	"github.com/kadcrawl/kadcrawl/internal/dht"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "kadcrawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	localID, err := identifier.Random()
	require.NoError(t, err)
	cfg := dht.DefaultConfig()
	cfg.Port = 0
	cfg.BootstrapNodes = nil
	cfg.RandomDiscovery = false

	ctrl := controller.New(controller.Deps{
		DatabasePath:   filepath.Join(t.TempDir(), "controller.db"),
		LocalID:        localID,
		DHTConfig:      cfg,
		SessionConfig:  btpeer.DefaultSessionConfig(),
		MaxConnections: 10,
	})
	require.NoError(t, ctrl.Initialize())
	t.Cleanup(ctrl.Stop)

	return New(store, ctrl), store
}

func TestGetStatsReturnsControllerState(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "INITIALIZED")
}

func TestGetNodeNotFoundReturns404(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/nodes/deadbeef", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchFindsMetadataByName(t *testing.T) {
	s, store := testServer(t)

	require.NoError(t, store.StoreMetadata(storage.MetadataRecord{
		InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Name:     "ubuntu-24.04-desktop-amd64.iso",
		TotalSize: 5_000_000_000,
		DownloadTime: time.Now().UTC(),
	}, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=ubuntu", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ubuntu-24.04-desktop-amd64.iso")
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
