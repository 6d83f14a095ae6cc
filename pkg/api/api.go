package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/config"
	"github.com/telekom/lessonplan-mailer/pkg/metrics"
	"github.com/telekom/lessonplan-mailer/pkg/ratelimit"
	"github.com/telekom/lessonplan-mailer/pkg/system"
	"github.com/telekom/lessonplan-mailer/pkg/version"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// HealthChecker reports whether the mailer can currently deliver.
type HealthChecker interface {
	Healthy() (bool, string)
}

type Server struct {
	gin     *gin.Engine
	config  config.Config
	log     *zap.SugaredLogger
	health  HealthChecker
	limiter *ratelimit.IPRateLimiter

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool, health HealthChecker) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
		countRequests,
	)
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	origins := cfg.Server.AllowedOrigins
	if debug && len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:8080"}
	}
	if len(origins) > 0 {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: origins,
				AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type", system.RequestIDHeader, ActorHeader},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log.Sugar().Named("api"),
		health: health,
		limiter: ratelimit.New(ratelimit.Config{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		}),
	}

	engine.GET("healthz", s.getHealth)
	engine.GET("version", s.getVersion)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// EnqueueLimiter returns the per-IP limiter guarding message submission.
func (s *Server) EnqueueLimiter() *ratelimit.IPRateLimiter {
	return s.limiter
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until Shutdown is called. http.ErrServerClosed is not
// reported as an error.
func (s *Server) Listen() error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	var err error
	if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
		s.log.Infow("Serving HTTPS", "address", srv.Addr)
		err = srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
	} else {
		s.log.Infow("Serving HTTP", "address", srv.Addr)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	s.mu.Lock()
	s.shutdown = true
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

type healthResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

func (s *Server) getHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	if ok, details := s.health.Healthy(); !ok {
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "degraded", Details: details})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func countRequests(c *gin.Context) {
	c.Next()
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unmatched"
	}
	metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
}

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}
