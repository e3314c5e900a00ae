// Package diagnostics serves the controller's state over HTTP: Prometheus
// metrics, a JSON diagnostics export, the adaptation journal, a WebSocket
// event stream and a small set of control endpoints.
package diagnostics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/errors"
	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/metrics"
	"codeberg.org/mutker/framectl/internal/policy"
	"codeberg.org/mutker/framectl/internal/profile"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
	readHeaderTimeout   = 5 * time.Second
)

// Controller is the part of the controller the server exposes.
type Controller interface {
	ExportDiagnostics() ([]byte, error)
	CurrentMetrics() policy.FrameRateMetrics
	AdaptationHistory() []adaptation.Event
	SetMode(m policy.Mode) error
	SetContentComplexity(c policy.Complexity) error
	EnableAdaptation(enabled bool)
	ForcePreset(mode profile.Mode) error
	ClearOverride()
}

// Journal reads persisted adaptations.
type Journal interface {
	Adaptations(ctx context.Context, limit int) ([]metrics.AdaptationRecord, error)
}

type Server struct {
	listen  string
	ctrl    Controller
	metrics http.Handler
	journal Journal
	events  *Broadcaster
	router  *gin.Engine
	log     logger.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// New builds the router. metricsHandler and journal may be nil, in which
// case their routes answer 404.
func New(listen string, ctrl Controller, metricsHandler http.Handler, journal Journal) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		listen:  listen,
		ctrl:    ctrl,
		metrics: metricsHandler,
		journal: journal,
		events:  NewBroadcaster(),
		log:     logger.Component("diagnostics"),
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	r.GET("/diagnostics", s.handleDiagnostics)
	r.GET("/adaptations", s.handleAdaptations)
	if s.journal != nil {
		r.GET("/journal", s.handleJournal)
	}
	r.GET("/events", s.handleEvents)

	r.PUT("/mode", s.handleMode)
	r.PUT("/complexity", s.handleComplexity)
	r.PUT("/adaptation", s.handleAdaptation)
	r.PUT("/override", s.handleOverride)
	r.DELETE("/override", s.handleClearOverride)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Events returns the broadcaster fed by the controller's subscriptions.
func (s *Server) Events() *Broadcaster {
	return s.events
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New().New(ErrAlreadyStarted)
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New().Wrap(ErrListenFailed, err).WithData(s.listen)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.ErrorWithCode(errors.New().Wrap(errors.ErrServerFail, err)).Msg("Diagnostics server stopped")
		}
	}(s.srv)

	s.log.Info().Str("address", ln.Addr().String()).Msg("Diagnostics server listening")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the event broadcaster and then the HTTP server, waiting
// for in-flight requests. WebSocket clients are cut off when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.events.Close()

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	data, err := s.ctrl.ExportDiagnostics()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) handleAdaptations(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.AdaptationHistory())
}

func (s *Server) handleJournal(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(c, http.StatusBadRequest, errors.New().WithData(ErrBadRequest, "limit="+raw))
			return
		}
		limit = min(n, maxJournalLimit)
	}

	records, err := s.journal.Adaptations(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []metrics.AdaptationRecord{}
	}

	c.JSON(http.StatusOK, records)
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	id := uuid.NewString()
	ctx := conn.CloseRead(c.Request.Context())

	s.events.Subscribe(ctx, id, conn)
	defer s.events.Unsubscribe(id)

	if !s.events.send(&subscriber{conn: conn, ctx: ctx}, Event{Type: EventMetrics, Data: s.ctrl.CurrentMetrics()}) {
		return
	}

	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "")
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(ErrBadRequest, err))
		return
	}
	if err := s.ctrl.SetMode(policy.Mode(req.Mode)); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type complexityRequest struct {
	Complexity string `json:"complexity" binding:"required"`
}

func (s *Server) handleComplexity(c *gin.Context) {
	var req complexityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(ErrBadRequest, err))
		return
	}

	cx, err := policy.ParseComplexity(req.Complexity)
	if err == nil {
		err = s.ctrl.SetContentComplexity(cx)
	}
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type adaptationRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleAdaptation(c *gin.Context) {
	var req adaptationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(ErrBadRequest, err))
		return
	}

	s.ctrl.EnableAdaptation(*req.Enabled)
	c.Status(http.StatusNoContent)
}

type overrideRequest struct {
	Preset string `json:"preset" binding:"required"`
}

func (s *Server) handleOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errors.New().Wrap(ErrBadRequest, err))
		return
	}
	if err := s.ctrl.ForcePreset(profile.Mode(req.Preset)); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleClearOverride(c *gin.Context) {
	s.ctrl.ClearOverride()
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
