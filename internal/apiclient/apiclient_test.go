package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDecodesSuccessData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"video_id":"abc123"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var out struct {
		VideoID string `json:"video_id"`
	}
	err := c.Get(context.Background(), "/videos/abc123", &out)
	require.NoError(t, err)
	assert.Equal(t, "abc123", out.VideoID)
}

func TestGetReturnsErrorOnFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":{"code":"E404","message":"not found"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Get(context.Background(), "/videos/missing", nil)
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "E404", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestPostSendsJSONBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":null}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Post(context.Background(), "/jobs", map[string]string{"job_type": "VIDEO_DOWNLOAD"}, nil)
	require.NoError(t, err)
	assert.Contains(t, gotBody, "VIDEO_DOWNLOAD")
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8001/")
	assert.Equal(t, "http://localhost:8001", c.baseURL)
}
