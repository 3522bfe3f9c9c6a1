// Package api exposes the quarter engine over HTTP and provides a client for it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qtrack/internal/group"
	"qtrack/internal/quarter"
	"qtrack/internal/store"
	"qtrack/internal/tracker"
	"qtrack/internal/types"
)

// Engine is the set of operations served over HTTP. *tracker.Service and
// *Client both implement it.
type Engine interface {
	AddEntry(ctx context.Context, req tracker.AddRequest) (*types.Entry, error)
	AllocateSequence(ctx context.Context, kind types.Kind, quarterLabel, groupKey string) (int, error)
	Groups(ctx context.Context, kind types.Kind, quarterLabel string) ([]group.Group, error)
	CarryForward(ctx context.Context, req tracker.CarryRequest) (*tracker.CarryResult, error)
	ApplyStatus(ctx context.Context, ids []string, status types.Status, actor string) (*tracker.BatchResult, error)
}

var (
	_ Engine = (*tracker.Service)(nil)
	_ Engine = (*Client)(nil)
)

// Response is the JSON envelope of every endpoint except /metrics.
type Response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Error codes. Each 400/404 code names one sentinel so clients can map it
// back with errors.Is.
const (
	CodeInvalidInput   = "invalid_input"
	CodeInvalidQuarter = "invalid_quarter_label"
	CodeInvalidStatus  = "invalid_status"
	CodeInvalidKind    = "invalid_kind"
	CodeInvalidEntry   = "invalid_entry"
	CodeSameQuarter    = "same_quarter"
	CodeNotFound       = "not_found"
	CodeStorage        = "storage_error"
	CodeInternal       = "internal"
)

// codeSentinels is checked in order; the first match wins.
var codeSentinels = []struct {
	code   string
	status int
	err    error
}{
	{CodeInvalidQuarter, http.StatusBadRequest, quarter.ErrInvalidLabel},
	{CodeInvalidStatus, http.StatusBadRequest, types.ErrInvalidStatus},
	{CodeInvalidKind, http.StatusBadRequest, types.ErrInvalidKind},
	{CodeInvalidEntry, http.StatusBadRequest, types.ErrInvalidEntry},
	{CodeSameQuarter, http.StatusBadRequest, tracker.ErrSameQuarter},
	{CodeNotFound, http.StatusNotFound, store.ErrNotFound},
}

type (
	SequenceResponse struct {
		Kind           types.Kind `json:"kind"`
		QuarterLabel   string     `json:"quarter_label"`
		GroupKey       string     `json:"group_key"`
		SequenceNumber int        `json:"sequence_number"`
	}

	QuarterResponse struct {
		Label  string `json:"label"`
		Number int    `json:"quarter"`
		Year   int    `json:"year"`
	}

	StatusRequest struct {
		IDs    []string `json:"ids"`
		Status string   `json:"status"`
		Actor  string   `json:"actor,omitempty"`
	}
)

// Server serves an Engine over HTTP.
type Server struct {
	engine Engine
	logger *slog.Logger
	now    func() time.Time
	router *gin.Engine
}

// NewServer builds the router for engine. A nil logger means slog.Default().
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger, now: time.Now}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, Response{Success: true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/quarters/current", s.handleCurrentQuarter)
	api.GET("/entries", s.handleGroups)
	api.POST("/entries", s.handleAddEntry)
	api.POST("/entries/status", s.handleApplyStatus)
	api.GET("/sequence", s.handleAllocate)
	api.POST("/carry-forward", s.handleCarryForward)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleCurrentQuarter(c *gin.Context) {
	q := quarter.Current(s.now())
	ok(c, http.StatusOK, "", QuarterResponse{Label: q.Label(), Number: q.Number, Year: q.Year})
}

func (s *Server) handleGroups(c *gin.Context) {
	kind, err := types.ParseKind(c.DefaultQuery("kind", string(types.KindProject)))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	label := s.quarterParam(c)

	groups, err := s.engine.Groups(c.Request.Context(), kind, label)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", groups)
}

// quarterParam reads ?quarter=, defaulting to the current quarter.
func (s *Server) quarterParam(c *gin.Context) string {
	if label := c.Query("quarter"); label != "" {
		return label
	}
	return quarter.Current(s.now()).Label()
}

func (s *Server) handleAddEntry(c *gin.Context) {
	var req tracker.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, invalidInput(err), nil)
		return
	}

	e, err := s.engine.AddEntry(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	ok(c, http.StatusCreated, "", e)
}

func (s *Server) handleAllocate(c *gin.Context) {
	kind, err := types.ParseKind(c.DefaultQuery("kind", string(types.KindProject)))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	key := c.Query("group")
	if key == "" {
		s.fail(c, invalidInput(errors.New("group is required")), nil)
		return
	}
	label := s.quarterParam(c)

	n, err := s.engine.AllocateSequence(c.Request.Context(), kind, label, key)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", SequenceResponse{Kind: kind, QuarterLabel: label, GroupKey: key, SequenceNumber: n})
}

func (s *Server) handleCarryForward(c *gin.Context) {
	var req tracker.CarryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, invalidInput(err), nil)
		return
	}

	res, err := s.engine.CarryForward(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, res)
		return
	}
	ok(c, http.StatusOK, res.Message(), res)
}

func (s *Server) handleApplyStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, invalidInput(err), nil)
		return
	}
	status, err := types.ParseStatus(req.Status)
	if err != nil {
		s.fail(c, err, nil)
		return
	}

	res, err := s.engine.ApplyStatus(c.Request.Context(), req.IDs, status, req.Actor)
	if err != nil {
		s.fail(c, err, res)
		return
	}
	ok(c, http.StatusOK, res.Message(), res)
}

func ok(c *gin.Context, code int, msg string, data any) {
	c.JSON(code, Response{Success: true, Message: msg, Data: data})
}

var errInvalidInput = errors.New("invalid request body")

func invalidInput(err error) error {
	return errors.Join(errInvalidInput, err)
}

// fail maps an engine error to a status code. partial is sent along so
// clients can report partial carry-forward or batch results.
func (s *Server) fail(c *gin.Context, err error, partial any) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	resp := Response{Success: false, Code: code, Message: err.Error()}
	if partial != nil && !isNilPointer(partial) {
		resp.Data = partial
	}
	c.JSON(status, resp)
}

func classify(err error) (int, string) {
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.status, cs.code
		}
	}
	switch {
	case errors.Is(err, errInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case store.IsStorageError(err):
		return http.StatusInternalServerError, CodeStorage
	}
	return http.StatusInternalServerError, CodeInternal
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *tracker.CarryResult:
		return p == nil
	case *tracker.BatchResult:
		return p == nil
	}
	return false
}
