package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/regsync/internal/domain"
)

func fastClient() *Client {
	c := New(time.Second, func(r *http.Request) { r.Header.Set("Authorization", "Bearer t0k") })
	c.InitialInterval = time.Millisecond
	c.MaxInterval = 5 * time.Millisecond
	c.MaxElapsedTime = 500 * time.Millisecond
	return c
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"x1"}`))
	}))
	defer srv.Close()

	var out struct{ ID string }
	require.NoError(t, fastClient().Do(context.Background(), http.MethodGet, srv.URL, nil, &out))
	assert.Equal(t, "x1", out.ID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDo_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := fastClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_ClientErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"INVALID_VALUE"}`))
	}))
	defer srv.Close()

	err := fastClient().Do(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"}, nil)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, se.Body, "INVALID_VALUE")
}

func TestDo_RetriesTooManyRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, fastClient().Do(context.Background(), http.MethodDelete, srv.URL, nil, nil))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDo_GivesUpAfterMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	start := time.Now()
	err := fastClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
