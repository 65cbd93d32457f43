package provision

import (
	"context"
	"testing"

	"github.com/shorebase/shorebase/internal/sshx"
	"github.com/shorebase/shorebase/models"
)

func TestRuntimeStageSteps(t *testing.T) {
	stage := Runtime()

	if stage.Name != "runtime" {
		t.Errorf("stage name = %q", stage.Name)
	}
	want := []string{"docker-repo", "docker-packages", "docker-daemon"}
	if len(stage.Steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(stage.Steps), len(want))
	}
	for i, name := range want {
		if stage.Steps[i].Name != name {
			t.Errorf("steps[%d] = %q, want %q", i, stage.Steps[i].Name, name)
		}
	}
}

func TestDockerRepoRegistersWhenMissing(t *testing.T) {
	r := newScriptedRunner(
		scriptEntry{match: "test -s", result: sshx.Result{ExitCode: 1}},
	)

	status, _, err := dockerRepo(context.Background(), r)
	if err != nil {
		t.Fatalf("dockerRepo returned error: %v", err)
	}
	if status != models.StepChanged {
		t.Errorf("status = %s, want changed", status)
	}
	if !r.ran("curl -fsSL https://download.docker.com/linux/debian/gpg") {
		t.Error("keyring never fetched")
	}
	if !r.ran("VERSION_CODENAME") {
		t.Error("repo line never written")
	}
}

func TestDockerRepoNoopWhenPresent(t *testing.T) {
	r := newScriptedRunner(
		scriptEntry{match: "test -s", result: sshx.Result{ExitCode: 0}},
	)

	status, _, err := dockerRepo(context.Background(), r)
	if err != nil {
		t.Fatalf("dockerRepo returned error: %v", err)
	}
	if status != models.StepOK {
		t.Errorf("status = %s, want ok", status)
	}
	if r.ran("curl") {
		t.Error("keyring re-fetched although present")
	}
}

func TestDockerInstallNoopWhenPresent(t *testing.T) {
	r := newScriptedRunner(
		scriptEntry{match: "dpkg-query", result: sshx.Result{ExitCode: 0, Stdout: "install ok installed"}},
	)

	status, _, err := dockerInstall(context.Background(), r)
	if err != nil {
		t.Fatalf("dockerInstall returned error: %v", err)
	}
	if status != models.StepOK {
		t.Errorf("status = %s, want ok", status)
	}
}

func TestDockerDaemonStartsWhenInactive(t *testing.T) {
	r := newScriptedRunner(
		scriptEntry{match: "systemctl is-active docker", result: sshx.Result{ExitCode: 3, Stdout: "inactive"}},
	)

	status, _, err := dockerDaemon(context.Background(), r)
	if err != nil {
		t.Fatalf("dockerDaemon returned error: %v", err)
	}
	if status != models.StepChanged {
		t.Errorf("status = %s, want changed", status)
	}
	if !r.ran("systemctl enable --now docker") {
		t.Error("daemon never started")
	}
}

func TestDockerDaemonRunningReportsOK(t *testing.T) {
	r := newScriptedRunner(
		scriptEntry{match: "systemctl is-active docker", result: sshx.Result{ExitCode: 0, Stdout: "active\n"}},
	)

	status, _, err := dockerDaemon(context.Background(), r)
	if err != nil {
		t.Fatalf("dockerDaemon returned error: %v", err)
	}
	if status != models.StepOK {
		t.Errorf("status = %s, want ok", status)
	}
	if r.ran("enable --now") {
		t.Error("daemon restarted although active")
	}
}
