// Package provision runs the ordered provisioning stages against the
// target host.
//
// A run is a fixed sequence of stages; each stage is a list of idempotent
// steps. Steps inspect the host first and only act when it has drifted from
// the desired state, reporting ok or changed. The first failed step aborts
// the run: remaining steps in the stage are recorded as skipped and no later
// stage executes. Hardening is always the first stage because it moves the
// SSH port every later stage connects through.
package provision

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/sshx"
	"github.com/shorebase/shorebase/models"
)

// Runner executes commands on the target host. *sshx.Client implements it;
// tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, cmd string) (sshx.Result, error)
	Upload(ctx context.Context, path string, data []byte, mode os.FileMode) error
}

// Step is one idempotent unit of work inside a stage.
type Step struct {
	// Name identifies the step in reports and logs
	Name string

	// Apply converges the host and reports whether anything changed.
	// Returning an error marks the step failed and aborts the run.
	Apply func(ctx context.Context, r Runner) (models.StepStatus, string, error)
}

// Stage is an ordered group of steps.
type Stage struct {
	Name  string
	Steps []Step
}

// Engine executes stages and records their results on a run report.
type Engine struct {
	log *zap.Logger

	// OnEvent, when set, receives every run event as it happens. The
	// status API uses this to stream progress over websockets.
	OnEvent func(models.RunEvent)
}

// NewEngine creates an engine logging through the given logger.
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// ExecuteStage runs one stage against the host and appends its result to
// the report. The returned error is the first step failure, if any.
func (e *Engine) ExecuteStage(ctx context.Context, report *models.RunReport, r Runner, stage Stage) error {
	result := models.StageResult{
		Name:      stage.Name,
		Status:    models.StepOK,
		StartedAt: time.Now(),
	}

	e.event(report, "info", stage.Name, "", fmt.Sprintf("stage %s started", stage.Name))

	var failed error
	for _, step := range stage.Steps {
		if failed != nil {
			result.Steps = append(result.Steps, models.StepResult{
				Name:   step.Name,
				Status: models.StepSkipped,
			})
			continue
		}

		start := time.Now()
		status, message, err := step.Apply(ctx, r)
		elapsed := time.Since(start)

		if err != nil {
			failed = fmt.Errorf("stage %s: step %s: %w", stage.Name, step.Name, err)
			result.Steps = append(result.Steps, models.StepResult{
				Name:     step.Name,
				Status:   models.StepFailed,
				Message:  err.Error(),
				Duration: elapsed,
			})
			result.Status = models.StepFailed
			e.event(report, "error", stage.Name, step.Name, err.Error())
			e.log.Error("step failed",
				zap.String("stage", stage.Name),
				zap.String("step", step.Name),
				zap.Error(err))
			continue
		}

		result.Steps = append(result.Steps, models.StepResult{
			Name:     step.Name,
			Status:   status,
			Message:  message,
			Duration: elapsed,
		})
		if status == models.StepChanged && result.Status == models.StepOK {
			result.Status = models.StepChanged
		}

		e.event(report, "info", stage.Name, step.Name, fmt.Sprintf("%s: %s", status, message))
		e.log.Info("step done",
			zap.String("stage", stage.Name),
			zap.String("step", step.Name),
			zap.String("status", string(status)),
			zap.Duration("took", elapsed))
	}

	now := time.Now()
	result.CompletedAt = &now
	report.Stages = append(report.Stages, result)

	if failed != nil {
		e.event(report, "error", stage.Name, "", fmt.Sprintf("stage %s failed", stage.Name))
		return failed
	}

	e.event(report, "info", stage.Name, "", fmt.Sprintf("stage %s completed", stage.Name))
	return nil
}

func (e *Engine) event(report *models.RunReport, typ, stage, step, message string) {
	ev := models.RunEvent{
		Timestamp: time.Now(),
		Type:      typ,
		Stage:     stage,
		Step:      step,
		Message:   message,
	}
	report.Events = append(report.Events, ev)
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}
