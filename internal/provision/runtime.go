package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/shorebase/shorebase/models"
)

const (
	dockerKeyringPath = "/etc/apt/keyrings/docker.asc"
	dockerListPath    = "/etc/apt/sources.list.d/docker.list"
	dockerKeyURL      = "https://download.docker.com/linux/debian/gpg"
)

// dockerPackages is the upstream engine plus the compose orchestration CLI.
var dockerPackages = []string{
	"docker-ce",
	"docker-ce-cli",
	"containerd.io",
	"docker-buildx-plugin",
	"docker-compose-plugin",
}

// Runtime builds the container runtime stage: register the upstream Docker
// apt repository, install the engine and compose plugin, and make sure the
// daemon is running. It requires the hardening stage to have completed
// (curl and ca-certificates come from there).
func Runtime() Stage {
	return Stage{
		Name: "runtime",
		Steps: []Step{
			{Name: "docker-repo", Apply: dockerRepo},
			{Name: "docker-packages", Apply: dockerInstall},
			{Name: "docker-daemon", Apply: dockerDaemon},
		},
	}
}

func dockerRepo(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	changed := false

	res, err := r.Run(ctx, fmt.Sprintf("test -s %s", dockerKeyringPath))
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		fetch := fmt.Sprintf("install -m 0755 -d /etc/apt/keyrings && curl -fsSL %s -o %s && chmod a+r %s",
			dockerKeyURL, dockerKeyringPath, dockerKeyringPath)
		if res, err = r.Run(ctx, fetch); err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			return models.StepFailed, "", fmt.Errorf("keyring fetch exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		changed = true
	}

	res, err = r.Run(ctx, fmt.Sprintf("test -s %s", dockerListPath))
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		// VERSION_CODENAME comes from the host, not from config: the repo
		// line must match whatever release is actually installed.
		addRepo := fmt.Sprintf(
			`. /etc/os-release && echo "deb [arch=$(dpkg --print-architecture) signed-by=%s] https://download.docker.com/linux/$ID $VERSION_CODENAME stable" > %s && apt-get update -q`,
			dockerKeyringPath, dockerListPath)
		if res, err = r.Run(ctx, addRepo); err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			return models.StepFailed, "", fmt.Errorf("repo registration exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		changed = true
	}

	if changed {
		return models.StepChanged, "docker apt repository registered", nil
	}
	return models.StepOK, "docker apt repository present", nil
}

func dockerInstall(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	missing, err := missingPackages(ctx, r, dockerPackages)
	if err != nil {
		return models.StepFailed, "", err
	}
	if len(missing) == 0 {
		return models.StepOK, "docker packages present", nil
	}

	cmd := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + strings.Join(missing, " ")
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		return models.StepFailed, "", fmt.Errorf("docker install exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return models.StepChanged, "installed " + strings.Join(missing, ", "), nil
}

func dockerDaemon(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	res, err := r.Run(ctx, "systemctl is-active docker")
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "active" {
		return models.StepOK, "docker daemon running", nil
	}

	res, err = r.Run(ctx, "systemctl enable --now docker")
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		return models.StepFailed, "", fmt.Errorf("docker start exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return models.StepChanged, "docker daemon started", nil
}
