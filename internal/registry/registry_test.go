package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	svc, err := r.Register(Registration{ServiceName: "download", Host: "localhost", Port: 8001, HealthPath: "/health"})
	require.NoError(t, err)
	assert.True(t, svc.IsHealthy)
	assert.Nil(t, svc.LastHealthCheck)

	got, err := r.Get("download")
	require.NoError(t, err)
	assert.Equal(t, "download", got.ServiceName)
	assert.Equal(t, 8001, got.Port)
}

func TestGetUnknownService(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSortsByName(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = r.Register(Registration{ServiceName: "storage", Host: "h", Port: 1})
	require.NoError(t, err)
	_, err = r.Register(Registration{ServiceName: "download", Host: "h", Port: 2})
	require.NoError(t, err)

	services, err := r.List()
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "download", services[0].ServiceName)
	assert.Equal(t, "storage", services[1].ServiceName)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = r.Register(Registration{ServiceName: "metadata", Host: "h", Port: 1})
	require.NoError(t, err)

	removed, err := r.Unregister("metadata")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Unregister("metadata")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = r.Get("metadata")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckHealthPersistsResult(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	u, err := url.Parse(healthy.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	r, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = r.Register(Registration{ServiceName: "download", Host: u.Hostname(), Port: port, HealthPath: "/"})
	require.NoError(t, err)

	ok, err := r.CheckHealth(context.Background(), "download")
	require.NoError(t, err)
	assert.True(t, ok)

	svc, err := r.Get("download")
	require.NoError(t, err)
	assert.True(t, svc.IsHealthy)
	require.NotNil(t, svc.LastHealthCheck)
}

func TestCheckHealthMarksUnreachableServiceUnhealthy(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = r.Register(Registration{ServiceName: "ghost", Host: "127.0.0.1", Port: 1, HealthPath: "/health"})
	require.NoError(t, err)

	ok, err := r.CheckHealth(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	svc, err := r.Get("ghost")
	require.NoError(t, err)
	assert.False(t, svc.IsHealthy)
}
