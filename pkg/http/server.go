package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FinLearn/pkg/http/middleware"
	applogger "FinLearn/pkg/logger"
)

type ServerOption func(*serverOptions)

type serverOptions struct {
	host          string
	port          int
	read, write   time.Duration
	shutdown      time.Duration
	cors          bool
	metricsPath   string
	slowThreshold time.Duration
	log           *applogger.Logger
}

// Server is the echo instance behind the engine API.
type Server struct {
	echo *echo.Echo
	opts serverOptions
	log  *applogger.Logger
}

// NewServer mounts handler plus /healthz and, unless disabled, the Prometheus endpoint.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	o := serverOptions{
		host:          "0.0.0.0",
		port:          8080,
		read:          10 * time.Second,
		write:         10 * time.Second,
		shutdown:      10 * time.Second,
		cors:          true,
		metricsPath:   "/metrics",
		slowThreshold: time.Second,
		log:           applogger.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = o.read
	e.Server.WriteTimeout = o.write

	e.Use(
		middleware.Recover(o.log),
		middleware.RouteLabel(),
		echo.WrapMiddleware(middleware.Metrics(o.log, o.slowThreshold)),
		middleware.RequestLogging(o.log),
	)
	if o.cors {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return SuccessResponse(c, map[string]string{"status": "ok"})
	})
	if o.metricsPath != "" {
		e.GET(o.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	if handler != nil {
		handler.RegisterRoutes(e)
	}

	return &Server{echo: e, opts: o, log: o.log.With(applogger.String("component", "http"))}
}

// Start listens in the background. A bind failure is only logged.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.host, strconv.Itoa(s.opts.port))
	go func() {
		s.log.Info("listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped unexpectedly", applogger.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests, bounded by ctx and the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.shutdown)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func WithHost(host string) ServerOption {
	return func(o *serverOptions) {
		if host != "" {
			o.host = host
		}
	}
}

func WithPort(port int) ServerOption {
	return func(o *serverOptions) { o.port = port }
}

func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.read, o.write, o.shutdown = read, write, shutdown
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(o *serverOptions) { o.cors = enabled }
}

// WithMetricsPath mounts promhttp at path; "" disables it.
func WithMetricsPath(path string) ServerOption {
	return func(o *serverOptions) { o.metricsPath = path }
}

// WithSlowThreshold sets when a request is logged as slow; 0 disables.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.slowThreshold = d }
}

func WithLogger(l *applogger.Logger) ServerOption {
	return func(o *serverOptions) {
		if l != nil {
			o.log = l
		}
	}
}
