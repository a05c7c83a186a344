package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliostack/portfolio-engine/internal/config"
)

func TestServerLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0"}, router)
	require.NoError(t, err)
	assert.NotEqual(t, "127.0.0.1:0", srv.Address(), "bound address should carry the real port")

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	resp, err := http.Get("http://" + srv.Address() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	select {
	case err := <-done:
		assert.NoError(t, err, "graceful shutdown should not surface an error")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestNewServerBadAddress(t *testing.T) {
	_, err := NewServer(config.ServerConfig{Address: "256.0.0.1:99999"}, nil)
	require.Error(t, err)
}
