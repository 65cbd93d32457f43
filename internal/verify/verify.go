// Package verify implements the post-provisioning operational checks:
// the hardened SSH port accepts key-based logins, the default port no
// longer answers, the Docker daemon responds, and every enabled service
// container is running. Checks observe and report; they never modify the
// host and never roll anything back.
package verify

import (
	"context"
	"fmt"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/provision"
	"github.com/shorebase/shorebase/internal/services"
	"github.com/shorebase/shorebase/internal/sshx"
	"github.com/shorebase/shorebase/models"
)

const probeTimeout = 5 * time.Second

// Stage builds the verification stage. The SSH connection is expected to
// already be established on the hardened port; docker rides its tunnel.
func Stage(cfg *config.Config, docker services.DockerAPI) (provision.Stage, error) {
	specs, err := services.Specs(cfg)
	if err != nil {
		return provision.Stage{}, err
	}

	steps := []provision.Step{
		{Name: "ssh-hardened-port", Apply: hardenedPortOpen(cfg)},
		{Name: "ssh-default-port-closed", Apply: defaultPortClosed(cfg)},
		{Name: "docker-daemon", Apply: dockerResponds(docker)},
	}

	for _, spec := range specs {
		spec := spec
		steps = append(steps, provision.Step{
			Name:  spec.Name + "-running",
			Apply: containerRunning(docker, spec),
		})
	}

	return provision.Stage{Name: "verify", Steps: steps}, nil
}

func hardenedPortOpen(cfg *config.Config) func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, _ provision.Runner) (models.StepStatus, string, error) {
		port := cfg.Hardening.SSHPort
		if !sshx.Probe(cfg.Target.Address, port, probeTimeout) {
			return models.StepFailed, "", fmt.Errorf("port %d does not accept connections", port)
		}

		client, err := sshx.Dial(sshx.Options{
			Address: cfg.Target.Address,
			Port:    port,
			User:    cfg.Hardening.AdminUser,
			KeyPath: cfg.Target.KeyPath,
			Timeout: probeTimeout,
		})
		if err != nil {
			return models.StepFailed, "", fmt.Errorf("key-based login on port %d failed: %w", port, err)
		}
		_ = client.Close()

		return models.StepOK, fmt.Sprintf("port %d accepts key-based SSH", port), nil
	}
}

func defaultPortClosed(cfg *config.Config) func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, _ provision.Runner) (models.StepStatus, string, error) {
		if cfg.Target.Port == cfg.Hardening.SSHPort {
			return models.StepSkipped, "initial port is the hardened port", nil
		}
		if sshx.Probe(cfg.Target.Address, cfg.Target.Port, probeTimeout) {
			return models.StepFailed, "", fmt.Errorf("port %d still accepts connections", cfg.Target.Port)
		}
		return models.StepOK, fmt.Sprintf("port %d closed", cfg.Target.Port), nil
	}
}

func dockerResponds(docker services.DockerAPI) func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, _ provision.Runner) (models.StepStatus, string, error) {
		if _, err := docker.Ping(ctx); err != nil {
			return models.StepFailed, "", fmt.Errorf("docker daemon unreachable: %w", err)
		}
		return models.StepOK, "docker daemon responding", nil
	}
}

func containerRunning(docker services.DockerAPI, spec services.Spec) func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, _ provision.Runner) (models.StepStatus, string, error) {
		info, err := docker.ContainerInspect(ctx, spec.Name)
		if err != nil {
			if dockerclient.IsErrNotFound(err) {
				return models.StepFailed, "", fmt.Errorf("container %s not found", spec.Name)
			}
			return models.StepFailed, "", fmt.Errorf("failed to inspect %s: %w", spec.Name, err)
		}
		if info.State == nil || !info.State.Running {
			status := "unknown"
			if info.State != nil {
				status = info.State.Status
			}
			return models.StepFailed, "", fmt.Errorf("container %s is %s", spec.Name, status)
		}
		return models.StepOK, fmt.Sprintf("%s running", spec.Name), nil
	}
}

// States collects the observed state of every enabled service for the
// status API.
func States(ctx context.Context, cfg *config.Config, docker services.DockerAPI) ([]models.ServiceState, error) {
	specs, err := services.Specs(cfg)
	if err != nil {
		return nil, err
	}

	states := make([]models.ServiceState, 0, len(specs))
	for _, spec := range specs {
		state := models.ServiceState{Name: spec.Name, Image: spec.Image, Status: "missing"}

		info, err := docker.ContainerInspect(ctx, spec.Name)
		if err == nil {
			state.ContainerID = info.ID
			if info.State != nil {
				state.Status = info.State.Status
			}
		} else if !dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("failed to inspect %s: %w", spec.Name, err)
		}

		states = append(states, state)
	}

	return states, nil
}
