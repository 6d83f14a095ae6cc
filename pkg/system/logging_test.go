package system

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		logger, err := NewLogger(debug)
		require.NoError(t, err)
		assert.Equal(t, debug, logger.Core().Enabled(zap.DebugLevel))
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := loggerConfig(false)
	assert.True(t, cfg.DisableStacktrace)
	assert.Equal(t, "ts", cfg.EncoderConfig.TimeKey)
}

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	r := gin.New()
	r.Use(RequestLogger(base))
	r.GET("/api/mail/status", func(c *gin.Context) {
		GetReqLogger(c, nil).Infow("handled")
		c.Status(http.StatusOK)
	})

	t.Run("propagates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/mail/status", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		entries := recorded.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-42", fields["requestId"])
		assert.Equal(t, "GET", fields["method"])
		assert.Equal(t, "/api/mail/status", fields["path"])
	})

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/mail/status", nil))
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		require.Len(t, recorded.TakeAll(), 1)
	})
}

func TestMessageFields(t *testing.T) {
	require.Equal(t, []interface{}{"id", "m-1", "subject", "Welcome"}, MessageFields("m-1", "Welcome"))
	require.Equal(t, []interface{}{"id", "m-1"}, MessageFields("m-1", ""))
}
