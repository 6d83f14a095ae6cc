// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package system holds process-wide logging helpers shared by the mailer
// binaries and the HTTP API.
package system

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDHeader carries the correlation id of an API request.
const RequestIDHeader = "X-Request-ID"

// loggerConfig returns the production config, or the development config when
// debug is set, with RFC3339 UTC timestamps under "ts" and no automatic
// stacktraces for non-fatal levels.
func loggerConfig(debug bool) zap.Config {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}

// NewLogger builds the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	return loggerConfig(debug).Build()
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestLogger is a gin middleware that stores a logger annotated with the
// request id, method, path and client IP under ReqLoggerKey. A missing
// X-Request-ID header is generated and echoed back.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set(ReqLoggerKey, base.With(
			"requestId", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"clientIP", c.ClientIP(),
		))
		c.Next()
	}
}

// MessageFields returns key/value pairs identifying an email in log calls.
func MessageFields(id, subject string) []interface{} {
	if subject == "" {
		return []interface{}{"id", id}
	}
	return []interface{}{"id", id, "subject", subject}
}
