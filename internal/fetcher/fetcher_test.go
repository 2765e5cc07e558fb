package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(retries int) *Fetcher {
	f := New(models.HTTPConfig{Timeout: 2 * time.Second, Retries: retries})
	f.backoff = time.Millisecond
	return f
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "domain-redirector/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"a.com":"b.com"}`))
	}))
	defer srv.Close()

	data, err := newTestFetcher(1).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"a.com":"b.com"}`, string(data))
}

func TestFetchRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	data, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(2).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "failed after 2 retries")
}

func TestNewDefaults(t *testing.T) {
	f := New(models.HTTPConfig{})
	assert.Equal(t, 3, f.retries)
	assert.Equal(t, 30*time.Second, f.client.Timeout)
}
