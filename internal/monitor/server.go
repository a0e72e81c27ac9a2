// Package monitor exposes a running stress test to humans and tools.
//
// Server serves the status and the statistic snapshots over HTTP, pushes snapshots over a
// websocket and exposes the prometheus statistics on /metrics. Dashboard renders the same
// snapshots in the terminal. Both only read sink snapshots; the control routes and keys go
// through the scope lifecycle methods.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
)

const (
	// DefaultStreamInterval is the snapshot push period of the websocket stream
	DefaultStreamInterval = time.Second

	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 15 * time.Second

	controlTimeout = 30 * time.Second
)

// Scope is the part of a stress test scope the monitor drives
type Scope interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	IsRunning() bool
	Status() []stresstest.Status
	Run() *stresstest.Run
	Generation() int64
	BuildError() *stresstest.BuildError
	Statistics() *statistics.Set
}

// RunView is the JSON form of a run
type RunView struct {
	GUID        string     `json:"guid"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Issued      int64      `json:"issued"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
}

// ComponentErrorView is the JSON form of a component build failure
type ComponentErrorView struct {
	Component string `json:"component"`
	Error     string `json:"error"`
	Fatal     bool   `json:"fatal"`
}

// StatusResponse is returned by GET /api/status and the control routes
type StatusResponse struct {
	Running     bool                 `json:"running"`
	Generation  int64                `json:"generation"`
	Run         *RunView             `json:"run,omitempty"`
	Executors   []stresstest.Status  `json:"executors"`
	BuildErrors []ComponentErrorView `json:"build_errors,omitempty"`
}

// StatisticsResponse is returned by GET /api/statistics and pushed on the stream
type StatisticsResponse struct {
	Generation int64                 `json:"generation"`
	Running    bool                  `json:"running"`
	Statistics []statistics.Snapshot `json:"statistics"`
}

type errorResponse struct {
	Error       string               `json:"error"`
	BuildErrors []ComponentErrorView `json:"build_errors,omitempty"`
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the server logger
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreamInterval sets the websocket push period
func WithStreamInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithControlRate limits the control routes to r requests per second per client
func WithControlRate(r float64) ServerOption {
	return func(s *Server) {
		s.controlRate = r
	}
}

// WithReadOnly disables the control routes
func WithReadOnly() ServerOption {
	return func(s *Server) {
		s.readOnly = true
	}
}

// Server is the HTTP monitor of a scope
type Server struct {
	scope       Scope
	echo        *echo.Echo
	logger      *zap.Logger
	interval    time.Duration
	controlRate float64
	readOnly    bool
	upgrader    websocket.Upgrader
}

// NewServer creates the monitor and registers its routes
func NewServer(scope Scope, opts ...ServerOption) *Server {
	s := &Server{
		scope:    scope,
		logger:   zap.NewNop(),
		interval: DefaultStreamInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/statistics", s.handleStatistics)
	api.GET("/statistics/stream", s.handleStream)
	e.GET("/metrics", s.handleMetrics)

	if !s.readOnly {
		control := api.Group("")
		if s.controlRate > 0 {
			control.Use(controlRateLimiter(s.controlRate))
		}
		control.POST("/start", s.handleStart)
		control.POST("/stop", s.handleStop)
		control.POST("/restart", s.handleRestart)
	}

	s.echo = e
	return s
}

// Handler returns the HTTP handler of the monitor
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Monitor listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Monitor stopped")
	return nil
}

func controlRateLimiter(r float64) echo.MiddlewareFunc {
	burst := int(r)
	if burst < 1 {
		burst = 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(r),
				Burst:     burst,
				ExpiresIn: time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
		},
	})
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Running:     s.scope.IsRunning(),
		Generation:  s.scope.Generation(),
		Executors:   s.scope.Status(),
		BuildErrors: buildErrorViews(s.scope.BuildError()),
	}
	if resp.Executors == nil {
		resp.Executors = []stresstest.Status{}
	}
	if run := s.scope.Run(); run != nil {
		resp.Run = &RunView{
			GUID:        run.GUID,
			Name:        run.Name,
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Issued:      run.TotalIssued,
			Succeeded:   run.TotalSucceeded,
			Failed:      run.TotalFailed,
		}
	}
	return resp
}

func (s *Server) statistics() StatisticsResponse {
	snaps := s.scope.Statistics().Snapshots()
	if snaps == nil {
		snaps = []statistics.Snapshot{}
	}
	return StatisticsResponse{
		Generation: s.scope.Generation(),
		Running:    s.scope.IsRunning(),
		Statistics: snaps,
	}
}

func buildErrorViews(be *stresstest.BuildError) []ComponentErrorView {
	if be == nil {
		return nil
	}
	out := make([]ComponentErrorView, len(be.Errors))
	for i, ce := range be.Errors {
		out[i] = ComponentErrorView{Component: ce.Component, Error: ce.Err.Error(), Fatal: ce.Fatal}
	}
	return out
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

// handleStatistics handles GET /api/statistics
func (s *Server) handleStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.statistics())
}

// handleMetrics handles GET /metrics. The gatherers are looked up per request since a restart
// replaces every sink.
func (s *Server) handleMetrics(c echo.Context) error {
	handler := promhttp.HandlerFor(s.scope.Statistics().Gatherers(), promhttp.HandlerOpts{})
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}

// handleStart handles POST /api/start
func (s *Server) handleStart(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), controlTimeout)
	defer cancel()
	if err := s.scope.Start(ctx); err != nil {
		return s.controlError(c, "start", err)
	}
	return c.JSON(http.StatusOK, s.status())
}

// handleStop handles POST /api/stop
func (s *Server) handleStop(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), controlTimeout)
	defer cancel()
	if err := s.scope.Stop(ctx); err != nil {
		return s.controlError(c, "stop", err)
	}
	return c.JSON(http.StatusOK, s.status())
}

// handleRestart handles POST /api/restart. Non-fatal build errors are reported in the status.
func (s *Server) handleRestart(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), controlTimeout)
	defer cancel()
	if err := s.scope.Restart(ctx); err != nil {
		var be *stresstest.BuildError
		if !errors.As(err, &be) || be.Fatal() {
			return s.controlError(c, "restart", err)
		}
	}
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) controlError(c echo.Context, action string, err error) error {
	s.logger.Warn("Control request failed", zap.String("action", action), zap.Error(err))

	resp := errorResponse{Error: err.Error()}
	var be *stresstest.BuildError
	if errors.As(err, &be) {
		resp.BuildErrors = buildErrorViews(be)
	}

	code := http.StatusInternalServerError
	switch {
	case be != nil && be.Fatal():
		code = http.StatusUnprocessableEntity
	case errors.Is(err, stresstest.ErrInvalidState):
		code = http.StatusConflict
	}
	return c.JSON(code, resp)
}

// handleStream handles GET /api/statistics/stream. A snapshot is pushed every interval until
// the client goes away.
func (s *Server) handleStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("Error in upgrading websocket", zap.Error(err))
		return nil
	}
	defer conn.Close()

	// the read side only exists to notice the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(s.interval)
	defer push.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if err := s.writeSnapshot(conn); err != nil {
		return nil
	}
	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-push.C:
			if err := s.writeSnapshot(conn); err != nil {
				s.logger.Debug("Error writing to websocket", zap.Error(err))
				return nil
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(s.statistics())
}
