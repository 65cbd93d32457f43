package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/auth"
	"github.com/shorebase/shorebase/internal/metrics"
	"github.com/shorebase/shorebase/internal/store"
	"github.com/shorebase/shorebase/models"
)

// runRequest is the body for POST /api/v1/runs.
type runRequest struct {
	Mode string `json:"mode"`
}

// runSummary is the list representation of a run, without stage detail.
type runSummary struct {
	ID          string           `json:"id"`
	Target      string           `json:"target"`
	Mode        string           `json:"mode"`
	Status      models.RunStatus `json:"status"`
	Changed     bool             `json:"changed"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func summarize(report *models.RunReport) runSummary {
	return runSummary{
		ID:          report.ID,
		Target:      report.Target,
		Mode:        report.Mode,
		Status:      report.Status,
		Changed:     report.Changed(),
		Error:       report.Error,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
}

// listRuns returns recent run history, newest first.
func (s *Server) listRuns(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return BadRequestError("Invalid limit parameter", "limit must be an integer between 1 and 500")
		}
		limit = n
	}

	reports, err := s.store.ListRuns(limit)
	if err != nil {
		return InternalError("Failed to list runs", err.Error())
	}

	summaries := make([]runSummary, 0, len(reports))
	for _, report := range reports {
		summaries = append(summaries, summarize(report))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// getRun returns the full report for one run.
func (s *Server) getRun(c echo.Context) error {
	id := c.Param("id")

	report, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("run", id)
		}
		return InternalError("Failed to load run", err.Error())
	}

	return c.JSON(http.StatusOK, report)
}

// startRun triggers a provisioning run in the background. Only one run
// may be in flight at a time; a second request gets 409.
func (s *Server) startRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if req.Mode == "" {
		req.Mode = "apply"
	}
	if req.Mode != "apply" && req.Mode != "verify" {
		return BadRequestError("Invalid mode", "mode must be 'apply' or 'verify'")
	}

	if err := s.config.CheckTarget(); err != nil {
		return BadRequestError("Target not configured", err.Error())
	}

	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ConflictError("Run already in progress", "wait for the current run to finish")
	}
	s.running = true
	s.runMu.Unlock()

	triggeredBy := "anonymous"
	if claims, ok := auth.GetClaims(c); ok {
		triggeredBy = claims.Subject
	}
	s.log.Info("run triggered",
		zap.String("mode", req.Mode),
		zap.String("subject", triggeredBy))

	prov := s.newProv(s.wsHub.BroadcastEvent)

	go s.executeRun(prov, req.Mode)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"mode":   req.Mode,
		"status": "started",
	})
}

// executeRun drives one run to completion and records the outcome.
// It runs detached from the triggering request.
func (s *Server) executeRun(prov Provisioner, mode string) {
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	ctx := context.Background()

	var report *models.RunReport
	var err error
	if mode == "verify" {
		report, err = prov.Verify(ctx)
	} else {
		report, err = prov.Apply(ctx)
	}
	if err != nil {
		s.log.Error("run failed", zap.String("mode", mode), zap.Error(err))
	}

	if report == nil {
		return
	}

	metrics.ObserveRun(report)

	if saveErr := s.store.SaveRun(report); saveErr != nil {
		s.log.Error("failed to persist run report",
			zap.String("run_id", report.ID), zap.Error(saveErr))
	}
}
