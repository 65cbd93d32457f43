package provision

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/sshx"
	"github.com/shorebase/shorebase/models"
)

func testLogger() *zap.Logger { return zap.NewNop() }

// scriptedRunner matches commands by substring and returns canned results.
// Commands with no matching script entry succeed with empty output.
type scriptedRunner struct {
	script   []scriptEntry
	commands []string
	uploads  map[string][]byte
}

type scriptEntry struct {
	match  string
	result sshx.Result
	err    error
}

func newScriptedRunner(script ...scriptEntry) *scriptedRunner {
	return &scriptedRunner{script: script, uploads: make(map[string][]byte)}
}

func (f *scriptedRunner) Run(ctx context.Context, cmd string) (sshx.Result, error) {
	f.commands = append(f.commands, cmd)
	for _, entry := range f.script {
		if strings.Contains(cmd, entry.match) {
			return entry.result, entry.err
		}
	}
	return sshx.Result{ExitCode: 0}, nil
}

func (f *scriptedRunner) Upload(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	f.uploads[path] = data
	return nil
}

func (f *scriptedRunner) ran(substr string) bool {
	for _, cmd := range f.commands {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func okStep(name string) Step {
	return Step{Name: name, Apply: func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		return models.StepOK, "fine", nil
	}}
}

func changedStep(name string) Step {
	return Step{Name: name, Apply: func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		return models.StepChanged, "converged", nil
	}}
}

func failingStep(name string) Step {
	return Step{Name: name, Apply: func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		return models.StepFailed, "", errors.New("boom")
	}}
}

func TestExecuteStageAllOK(t *testing.T) {
	engine := NewEngine(testLogger())
	report := &models.RunReport{}

	stage := Stage{Name: "demo", Steps: []Step{okStep("one"), okStep("two")}}
	if err := engine.ExecuteStage(context.Background(), report, newScriptedRunner(), stage); err != nil {
		t.Fatalf("ExecuteStage returned error: %v", err)
	}

	if len(report.Stages) != 1 {
		t.Fatalf("got %d stage results, want 1", len(report.Stages))
	}
	result := report.Stages[0]
	if result.Status != models.StepOK {
		t.Errorf("stage status = %s, want ok", result.Status)
	}
	if result.CompletedAt == nil {
		t.Error("stage has no completion time")
	}
}

func TestExecuteStageChangedPropagates(t *testing.T) {
	engine := NewEngine(testLogger())
	report := &models.RunReport{}

	stage := Stage{Name: "demo", Steps: []Step{okStep("one"), changedStep("two")}}
	if err := engine.ExecuteStage(context.Background(), report, newScriptedRunner(), stage); err != nil {
		t.Fatalf("ExecuteStage returned error: %v", err)
	}

	if got := report.Stages[0].Status; got != models.StepChanged {
		t.Errorf("stage status = %s, want changed", got)
	}
}

func TestExecuteStageFailureSkipsRemaining(t *testing.T) {
	engine := NewEngine(testLogger())
	report := &models.RunReport{}

	stage := Stage{Name: "demo", Steps: []Step{okStep("one"), failingStep("two"), okStep("three")}}
	err := engine.ExecuteStage(context.Background(), report, newScriptedRunner(), stage)
	if err == nil {
		t.Fatal("expected error from failing stage")
	}
	if !strings.Contains(err.Error(), "step two") {
		t.Errorf("error %q does not name the failed step", err)
	}

	steps := report.Stages[0].Steps
	if steps[1].Status != models.StepFailed {
		t.Errorf("step two status = %s, want failed", steps[1].Status)
	}
	if steps[2].Status != models.StepSkipped {
		t.Errorf("step three status = %s, want skipped", steps[2].Status)
	}
	if report.Stages[0].Status != models.StepFailed {
		t.Errorf("stage status = %s, want failed", report.Stages[0].Status)
	}
}

func TestExecuteStageEmitsEvents(t *testing.T) {
	engine := NewEngine(testLogger())

	var seen []models.RunEvent
	engine.OnEvent = func(ev models.RunEvent) { seen = append(seen, ev) }

	report := &models.RunReport{}
	stage := Stage{Name: "demo", Steps: []Step{okStep("one")}}
	if err := engine.ExecuteStage(context.Background(), report, newScriptedRunner(), stage); err != nil {
		t.Fatalf("ExecuteStage returned error: %v", err)
	}

	// started, step, completed
	if len(seen) != 3 {
		t.Fatalf("got %d events, want 3", len(seen))
	}
	if len(report.Events) != len(seen) {
		t.Errorf("report has %d events, callback saw %d", len(report.Events), len(seen))
	}
	if seen[0].Stage != "demo" {
		t.Errorf("event stage = %q", seen[0].Stage)
	}
}
