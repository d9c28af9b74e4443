// Package server exposes the moderation core over HTTP JSON.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/block"
	"github.com/heibot/safety/chat"
	"github.com/heibot/safety/client"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/report"
	"github.com/heibot/safety/visibility"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string

	// AdminPassword guards /v1/admin with basic auth as user "admin".
	// Empty leaves the admin routes unregistered.
	AdminPassword string
}

// Services are the components the routes call into.
type Services struct {
	Client  *client.Client
	Ledger  *ledger.Ledger
	Reports *report.Service
	Blocks  *block.Registry
	Chat    *chat.Guard

	// Renderer applies visibility policies for /v1/render; nil uses the
	// default policy table.
	Renderer *visibility.Renderer

	// Ping reports backing store health for /healthz.
	Ping func(ctx context.Context) error
}

// Server is the HTTP front end.
type Server struct {
	echo   *echo.Echo
	svc    Services
	cfg    Config
	logger *zap.Logger
}

// New builds the server and registers its routes.
func New(svc Services, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc.Renderer == nil {
		svc.Renderer = visibility.NewRenderer(visibility.Config{})
	}
	s := &Server{
		echo:   echo.New(),
		svc:    svc,
		cfg:    cfg,
		logger: logger.Named("server"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = s.errorHandler
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		e.GET(s.cfg.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	v1 := e.Group("/v1")
	v1.POST("/evaluate", s.handleEvaluate)
	v1.POST("/evaluate/fields", s.handleEvaluateFields)
	v1.POST("/evaluate/batch", s.handleEvaluateBatch)
	v1.POST("/sanitize", s.handleSanitize)
	v1.POST("/render", s.handleRender)
	v1.GET("/users/:id/can-act", s.handleCanAct)

	v1.POST("/reports", s.handleSubmitReport)

	v1.POST("/blocks", s.handleBlock)
	v1.DELETE("/blocks", s.handleUnblock)
	v1.GET("/blocks/:id", s.handleListBlocks)

	v1.POST("/chat/check", s.handleChatCheck)
	v1.POST("/chat/mute", s.handleChatMute)
	v1.POST("/chat/block", s.handleChatBlock)
	v1.POST("/chat/unblock", s.handleChatUnblock)
	v1.POST("/chat/notifications", s.handleChatNotifications)
	v1.POST("/chat/can-view", s.handleChatCanView)

	if s.cfg.AdminPassword == "" {
		s.logger.Warn("admin password not set, admin routes disabled")
		return
	}
	admin := v1.Group("/admin", s.adminAuth())
	admin.GET("/reports", s.handleListReports)
	admin.GET("/reports/:id", s.handleGetReport)
	admin.POST("/reports/:id/assign", s.handleAssignReport)
	admin.POST("/reports/:id/resolve", s.handleResolveReport)
	admin.POST("/reports/:id/dismiss", s.handleDismissReport)
	admin.POST("/log/:id/reverse", s.handleReverse)
	admin.POST("/log/:id/appeal", s.handleAppeal)
	admin.GET("/users/:id/history", s.handleHistory)
	admin.POST("/users/:id/ban", s.handleBan)
	admin.POST("/users/:id/unban", s.handleUnban)
	admin.POST("/chat/unmute", s.handleChatUnmute)
	admin.POST("/chat/shadowban", s.handleChatShadowban)
	admin.POST("/chat/unshadowban", s.handleChatUnshadowban)
}

func (s *Server) adminAuth() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1 {
				return true, nil
			}
			s.logger.Warn("admin auth failed", zap.String("username", username), zap.String("path", c.Path()))
			return false, nil
		},
		Realm: "SafetyAdmin",
	})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

// Start listens on cfg.Addr until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))
	err := s.echo.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	var ve *safety.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, safety.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported_type"
	case errors.Is(err, safety.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, safety.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, safety.ErrMuted):
		return http.StatusForbidden, "muted"
	case errors.Is(err, safety.ErrShadowbanned):
		return http.StatusForbidden, "shadowbanned"
	case errors.Is(err, safety.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, safety.ErrDuplicateActive):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, safety.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, safety.ErrAppealExpired):
		return http.StatusConflict, "appeal_expired"
	case errors.Is(err, safety.ErrStoreNotConfigured):
		return http.StatusNotImplemented, "not_configured"
	case errors.Is(err, safety.ErrPersistence), errors.Is(err, safety.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		code = http.StatusInternalServerError
		body errorBody
	)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(code)
		}
	} else {
		var kind string
		code, kind = statusFor(err)
		body = errorBody{Error: err.Error(), Code: kind}
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("HTTP request error", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
		if code == http.StatusInternalServerError {
			body.Error = http.StatusText(code)
		}
	} else {
		s.logger.Debug("HTTP request rejected", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if err := c.JSON(code, body); err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.svc.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Ping(ctx); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable").SetInternal(err)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// required takes name, value pairs and rejects the first blank value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return safety.NewValidationError(pairs[i], "required")
		}
	}
	return nil
}

func retryAfter(reset time.Time) int {
	secs := int(time.Until(reset).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}
