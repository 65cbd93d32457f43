package models

import "time"

// StepStatus is the outcome of a single provisioning step.
type StepStatus string

const (
	// StepOK means the step found the host already in the desired state.
	StepOK StepStatus = "ok"

	// StepChanged means the step had to modify the host to converge it.
	StepChanged StepStatus = "changed"

	// StepFailed means the step could not converge the host. A failed step
	// aborts the run; no later step or stage executes.
	StepFailed StepStatus = "failed"

	// StepSkipped means the step did not run because an earlier step failed
	// or a precondition was not met.
	StepSkipped StepStatus = "skipped"
)

// RunStatus is the overall state of a provisioning run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StepResult records the outcome of one idempotent step inside a stage.
type StepResult struct {
	// Name is the step identifier (e.g. "sshd-config", "ufw-rules")
	Name string `json:"name"`

	// Status is the step outcome (ok, changed, failed, skipped)
	Status StepStatus `json:"status"`

	// Message is a short human-readable summary of what happened
	Message string `json:"message,omitempty"`

	// Duration is how long the step took
	Duration time.Duration `json:"duration"`
}

// StageResult records the outcome of one provisioning stage.
type StageResult struct {
	// Name is the stage identifier (e.g. "hardening", "runtime")
	Name string `json:"name"`

	// Status is the aggregate stage outcome
	Status StepStatus `json:"status"`

	// Steps are the individual step results in execution order
	Steps []StepResult `json:"steps"`

	// StartedAt is when the stage began
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the stage finished (nil while running)
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunEvent is a timestamped log entry attached to a run report.
type RunEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // info, warning, error
	Stage     string    `json:"stage,omitempty"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
}

// RunReport is the persistent record of a provisioning or verification run.
type RunReport struct {
	// ID is the unique run identifier
	ID string `json:"id"`

	// Target is the name of the provisioned host
	Target string `json:"target"`

	// Mode is the run mode (apply, verify)
	Mode string `json:"mode"`

	// Status is the overall run state
	Status RunStatus `json:"status"`

	// Stages are the stage results in execution order
	Stages []StageResult `json:"stages"`

	// Events is the chronological event log for the run
	Events []RunEvent `json:"events,omitempty"`

	// Error is the first fatal error, when Status is failed
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Changed reports whether any step in the run modified the host.
func (r *RunReport) Changed() bool {
	for _, stage := range r.Stages {
		for _, step := range stage.Steps {
			if step.Status == StepChanged {
				return true
			}
		}
	}
	return false
}

// FailedStep returns the first failed step, or nil if the run succeeded.
func (r *RunReport) FailedStep() *StepResult {
	for i := range r.Stages {
		for j := range r.Stages[i].Steps {
			if r.Stages[i].Steps[j].Status == StepFailed {
				return &r.Stages[i].Steps[j]
			}
		}
	}
	return nil
}
