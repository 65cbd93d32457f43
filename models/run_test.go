package models

import (
	"strings"
	"testing"
)

func TestChanged(t *testing.T) {
	report := &RunReport{
		Stages: []StageResult{
			{Name: "hardening", Steps: []StepResult{
				{Name: "apt-update", Status: StepOK},
				{Name: "firewall", Status: StepOK},
			}},
		},
	}
	if report.Changed() {
		t.Error("Changed() = true for an all-ok run")
	}

	report.Stages[0].Steps[1].Status = StepChanged
	if !report.Changed() {
		t.Error("Changed() = false with a changed step")
	}
}

func TestFailedStep(t *testing.T) {
	report := &RunReport{
		Stages: []StageResult{
			{Name: "hardening", Steps: []StepResult{
				{Name: "apt-update", Status: StepOK},
			}},
			{Name: "runtime", Steps: []StepResult{
				{Name: "docker-repo", Status: StepFailed},
				{Name: "docker-packages", Status: StepSkipped},
			}},
		},
	}

	step := report.FailedStep()
	if step == nil {
		t.Fatal("FailedStep() = nil for a failed run")
	}
	if step.Name != "docker-repo" {
		t.Errorf("FailedStep().Name = %s, want docker-repo", step.Name)
	}

	report.Stages[1].Steps[0].Status = StepChanged
	if got := report.FailedStep(); got != nil {
		t.Errorf("FailedStep() = %v for a run without failures", got)
	}
}

func TestNewRunIDCarriesMode(t *testing.T) {
	id := NewRunID("apply")
	if !strings.HasPrefix(id, "apply:") {
		t.Errorf("run id %q does not carry the mode prefix", id)
	}
	if id == NewRunID("apply") {
		t.Error("run ids are not unique")
	}
}
