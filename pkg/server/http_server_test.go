package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServerStartStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hs := NewHTTPServer("0", log.New(io.Discard, "", 0))
	NewService(nil, log.New(io.Discard, "", 0)).RegisterRoutes(hs.GetRouter())

	w := httptest.NewRecorder()
	hs.GetRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	done := make(chan error, 1)
	go func() { done <- hs.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return hs.Stop(ctx) == nil }, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("服务器没有退出")
	}
}
