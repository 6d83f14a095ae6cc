package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/lessonplan-mailer/pkg/apiresponses"
	"github.com/telekom/lessonplan-mailer/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew(t *testing.T) {
	t.Run("creates limiter with config", func(t *testing.T) {
		rl := New(Config{Rate: 10, Burst: 20, CleanupInterval: time.Second, MaxAge: time.Minute})
		defer rl.Stop()

		assert.Equal(t, float64(10), rl.Config().Rate)
		assert.Equal(t, 20, rl.Config().Burst)
	})

	t.Run("applies defaults for zero values", func(t *testing.T) {
		rl := New(Config{})
		defer rl.Stop()

		assert.Equal(t, DefaultEnqueueConfig(), rl.Config())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		rl := New(Config{})
		rl.Stop()
		rl.Stop()
	})
}

func TestAllow(t *testing.T) {
	t.Run("allows requests within burst limit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 5, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
		assert.False(t, rl.Allow("192.168.1.1"), "request beyond burst should be denied")
	})

	t.Run("tracks IPs independently", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("concurrent access", func(t *testing.T) {
		rl := New(Config{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rl.Allow("10.0.0.1")
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, rl.Len())
	})
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	r := gin.New()
	r.POST("/api/mail", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/mail", nil)
		req.RemoteAddr = "203.0.113.7:4711"
		r.ServeHTTP(w, req)
		return w
	}

	before := testutil.ToFloat64(metrics.APIRateLimited)
	assert.Equal(t, http.StatusAccepted, send().Code)
	assert.Equal(t, http.StatusAccepted, send().Code)

	w := send()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRateLimited))
}

func TestCleanup(t *testing.T) {
	rl := New(Config{Rate: 10, Burst: 10, CleanupInterval: 10 * time.Millisecond, MaxAge: 20 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	require.Equal(t, 2, rl.Len())

	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 10*time.Millisecond)
}
