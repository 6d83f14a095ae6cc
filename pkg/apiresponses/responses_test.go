package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func respond(t *testing.T, fn func(c *gin.Context)) (*httptest.ResponseRecorder, APIError) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	var body APIError
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(c *gin.Context)
		status   int
		code     string
		errorMsg string
	}{
		{"not found", func(c *gin.Context) { RespondNotFound(c, "quarantined email", "abc") }, http.StatusNotFound, "NOT_FOUND", "quarantined email not found: abc"},
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "invalid body") }, http.StatusBadRequest, "BAD_REQUEST", "invalid body"},
		{"conflict", func(c *gin.Context) { RespondConflict(c, "paused") }, http.StatusConflict, "CONFLICT", "paused"},
		{"unavailable", func(c *gin.Context) { RespondServiceUnavailable(c, "mail sender", "") }, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable: mail sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := respond(t, tt.fn)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.errorMsg, body.Error)
		})
	}
}

func TestRespondBadRequestWithDetails(t *testing.T) {
	_, body := respond(t, func(c *gin.Context) { RespondBadRequestWithDetails(c, "invalid email", "no recipients") })
	assert.Equal(t, "no recipients", body.Details)
}

func TestRespondInternalErrorDoesNotLeak(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w, body := respond(t, func(c *gin.Context) {
		RespondInternalError(c, "read queue", errors.New("open /var/spool: permission denied"), zap.New(core).Sugar())
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to read queue", body.Error)
	assert.NotContains(t, w.Body.String(), "permission denied")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to read queue", logs.All()[0].Message)
}

func TestSuccessResponses(t *testing.T) {
	w, _ := respond(t, func(c *gin.Context) { RespondAccepted(c, gin.H{"id": "abc"}) })
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"id":"abc"}`, w.Body.String())

	w, _ = respond(t, func(c *gin.Context) { RespondOK(c, gin.H{"ok": true}) })
	assert.Equal(t, http.StatusOK, w.Code)
}
