// Package http wires the echo server: Twilio webhooks, operator routes,
// health and metrics.
package http

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/callback"
	"github.com/careloop/caring-relay/internal/config"
	"github.com/careloop/caring-relay/internal/dispatcher"
	"github.com/careloop/caring-relay/internal/http/middleware"
	"github.com/careloop/caring-relay/internal/logger"
	"github.com/careloop/caring-relay/internal/metrics"
	"github.com/careloop/caring-relay/internal/queue"
	"github.com/careloop/caring-relay/internal/sms"
)

type Server struct{ e *echo.Echo }

type Deps struct {
	Processor  *callback.Processor
	Dispatcher *dispatcher.Dispatcher
	Retry      *queue.RetryQueue
	Audit      *audit.Recorder
	Redis      *redis.Client
	Validator  *sms.SignatureValidator
}

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	twilioMW := middleware.TwilioSignatureMiddleware(deps.Validator, cfg.Twilio.CallbackBaseURL, deps.Audit)
	tokenMW := middleware.ServiceTokenMiddleware(cfg.HTTP.ServiceToken)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:op:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// Twilio webhooks
	e.POST("/sms", inboundSMSHandler(deps.Processor, deps.Audit), twilioMW)
	e.POST("/message-status", messageStatusHandler(deps.Processor, deps.Retry, deps.Audit), twilioMW)

	// operator routes
	e.POST("/auditlog", auditlogHandler(deps.Audit), tokenMW, rlMW)
	v1 := e.Group("/v1", tokenMW, rlMW)
	v1.GET("/audit-events", listAuditEventsHandler(deps.Audit))
	v1.POST("/dispatch", dispatchHandler(deps.Dispatcher))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.Log.Sugar().Infof("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
