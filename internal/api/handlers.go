package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/condition"
	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/screen"
	"regime-backtest-lab/internal/simulation"
	"regime-backtest-lab/internal/storage"
)

const dateLayout = "2006-01-02"

// Request errors
var (
	ErrBadDate  = errors.New("dates must be YYYY-MM-DD")
	ErrBadRange = errors.New("start must not be after end")
)

type window struct {
	Start   string  `json:"start" binding:"required"`
	End     string  `json:"end" binding:"required"`
	Capital float64 `json:"capital"` // defaults to engine.initial_capital
}

func (w window) parse() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", ErrBadDate)
	}
	end, err := time.Parse(dateLayout, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", ErrBadDate)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrBadRange
	}
	return start, end, nil
}

type runRequest struct {
	window
	Instrument string `json:"instrument" binding:"required"`
}

type batchRequest struct {
	window
	Instruments []string `json:"instruments" binding:"required,min=1"`
}

type screenRequest struct {
	Start       string          `json:"start" binding:"required"`
	End         string          `json:"end" binding:"required"`
	Instruments []string        `json:"instruments"`
	Conditions  json.RawMessage `json:"conditions" binding:"required"`
	Rank        screen.RankBy   `json:"rank"`
	TopN        int             `json:"top_n"`
}

// runResponse omits the per-bar signal audit trail.
type runResponse struct {
	Summary *domain.RunSummary   `json:"summary"`
	Regime  *domain.RegimeState  `json:"regime,omitempty"`
	Trades  []domain.TradeRecord `json:"trades"`
	Equity  []domain.EquityPoint `json:"equity"`
}

type batchResponse struct {
	Runs    []*domain.RunSummary `json:"runs"`
	Skipped []string             `json:"skipped"`
	Error   string               `json:"error,omitempty"`
}

type screenMatch struct {
	Instrument string    `json:"instrument"`
	Date       time.Time `json:"date"`
	Rank       *float64  `json:"rank"` // null when unranked
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"backend":        s.app.Config.Storage.Backend,
		"stream_clients": s.hub.Clients(),
		"uptime_seconds": int64(s.clock().Sub(s.started).Seconds()),
	})
}

func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, end, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.app.Runner.Run(c.Request.Context(), req.Instrument, start, end, s.capital(req.Capital))
	if err != nil {
		s.runFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse{
		Summary: res.Summary(),
		Regime:  res.Regime,
		Trades:  nonNil(res.Trades),
		Equity:  nonNil(res.Equity),
	})
}

func (s *Server) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, end, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	results, err := s.app.Runner.RunBatch(c.Request.Context(), req.Instruments, start, end, s.capital(req.Capital))
	resp := batchResponse{Runs: make([]*domain.RunSummary, 0, len(results))}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		resp.Runs = append(resp.Runs, r.Summary())
		done[r.Instrument] = true
	}
	resp.Skipped = []string{}
	if err == nil {
		for _, inst := range req.Instruments {
			if !done[inst] {
				resp.Skipped = append(resp.Skipped, inst)
			}
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	// Configuration failures abort the batch; partial results are still returned.
	s.logger.Error("batch aborted", zap.Error(err))
	resp.Error = err.Error()
	c.JSON(statusFor(err), resp)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.app.Stores.Runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetTrades(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.app.Stores.Runs.GetByID(ctx, id); err != nil {
		s.storeFailed(c, err)
		return
	}
	trades, err := s.app.Stores.Trades.GetByRunID(ctx, id)
	if err != nil {
		s.storeFailed(c, err)
		return
	}
	if trades == nil {
		trades = []*domain.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "trades": trades})
}

func (s *Server) handleScreen(c *gin.Context) {
	var req screenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, end, err := window{Start: req.Start, End: req.End}.parse()
	if err != nil {
		badRequest(c, err)
		return
	}
	doc, err := condition.Parse(req.Conditions)
	if err != nil {
		badRequest(c, err)
		return
	}

	matches, err := s.app.Screen(c.Request.Context(), req.Instruments, start, end, doc, req.Rank, req.TopN)
	if err != nil {
		s.logger.Error("screen failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]screenMatch, len(matches))
	for i, m := range matches {
		out[i] = screenMatch{Instrument: m.Instrument, Date: m.Date}
		if !math.IsNaN(m.Rank) {
			v := m.Rank
			out[i].Rank = &v
		}
	}
	c.JSON(http.StatusOK, gin.H{"matches": out})
}

func (s *Server) capital(requested float64) float64 {
	if requested != 0 {
		return requested
	}
	return s.app.Config.Engine.InitialCapital
}

func (s *Server) runFailed(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("run failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) storeFailed(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	s.logger.Error("store lookup failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// statusFor maps run failure kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simulation.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, simulation.ErrData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
