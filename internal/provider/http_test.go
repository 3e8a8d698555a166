package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

func TestRemoteClientFailsFastWhenTripped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newRemoteClient()
	c.brk = ragerrors.NewBreaker(ragerrors.BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	post := func() error {
		var out struct{}
		return c.postJSON(context.Background(), srv.URL, "", map[string]any{}, &out,
			time.Second, "test", "embedding")
	}

	require.Error(t, post())
	require.Error(t, post())

	// Third call never reaches the server.
	err := post()
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeRemoteTripped, ragerrors.GetCode(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteClientRejectionDoesNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newRemoteClient()
	c.brk = ragerrors.NewBreaker(ragerrors.BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 4; i++ {
		var out struct{}
		err := c.postJSON(context.Background(), srv.URL, "", map[string]any{}, &out,
			time.Second, "test", "embedding")
		require.Error(t, err)
		assert.Equal(t, ragerrors.ErrCodeRemoteRejected, ragerrors.GetCode(err))
	}
	assert.Equal(t, int32(4), calls.Load())
}
