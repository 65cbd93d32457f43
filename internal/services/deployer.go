package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/provision"
	"github.com/shorebase/shorebase/models"
)

// Deployer converges service containers on the target host.
type Deployer struct {
	docker DockerAPI
	log    *zap.Logger

	// network is the bridge network every service joins
	network string
}

// NewDeployer creates a deployer for the given Docker API.
func NewDeployer(docker DockerAPI, networkName string, log *zap.Logger) *Deployer {
	return &Deployer{
		docker:  docker,
		network: networkName,
		log:     log,
	}
}

// Stages builds one provisioning stage per enabled service, preceded by a
// shared setup stage for the bridge network. Per-service stages keep the
// stop-on-first-failure contract at service granularity: a broken proxy
// deployment prevents the monitoring stage from running, matching the
// original ordering of the deployment sequence.
func Stages(cfg *config.Config, d *Deployer) ([]provision.Stage, error) {
	specs, err := Specs(cfg)
	if err != nil {
		return nil, err
	}

	stages := []provision.Stage{
		{
			Name: "service-network",
			Steps: []provision.Step{
				{Name: "bridge-network", Apply: d.ensureNetworkStep()},
			},
		},
	}

	for _, spec := range specs {
		spec := spec
		stages = append(stages, provision.Stage{
			Name: spec.Name,
			Steps: []provision.Step{
				{Name: spec.Name + "-container", Apply: d.serviceStep(spec)},
			},
		})
	}

	return stages, nil
}

func (d *Deployer) ensureNetworkStep() func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, _ provision.Runner) (models.StepStatus, string, error) {
		_, err := d.docker.NetworkInspect(ctx, d.network, network.InspectOptions{})
		if err == nil {
			return models.StepOK, fmt.Sprintf("network %s present", d.network), nil
		}
		if !dockerclient.IsErrNotFound(err) {
			return models.StepFailed, "", fmt.Errorf("failed to inspect network: %w", err)
		}

		_, err = d.docker.NetworkCreate(ctx, d.network, network.CreateOptions{Driver: "bridge"})
		if err != nil {
			return models.StepFailed, "", fmt.Errorf("failed to create network: %w", err)
		}
		return models.StepChanged, fmt.Sprintf("network %s created", d.network), nil
	}
}

// serviceStep converges one service container. Drift is detected on image
// reference and run state; a drifted container is removed and recreated
// rather than patched, since every setting lives in the spec.
func (d *Deployer) serviceStep(spec Spec) func(context.Context, provision.Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, r provision.Runner) (models.StepStatus, string, error) {
		for _, f := range spec.Files {
			dir := f.Path[:strings.LastIndex(f.Path, "/")]
			res, err := r.Run(ctx, fmt.Sprintf("mkdir -p %s", dir))
			if err != nil {
				return models.StepFailed, "", err
			}
			if res.ExitCode != 0 {
				return models.StepFailed, "", fmt.Errorf("mkdir %s exited %d", dir, res.ExitCode)
			}
			if err := r.Upload(ctx, f.Path, f.Content, f.Mode); err != nil {
				return models.StepFailed, "", err
			}
		}

		info, err := d.docker.ContainerInspect(ctx, spec.Name)
		switch {
		case err == nil:
			if info.Config != nil && info.Config.Image == spec.Image && info.State != nil && info.State.Running {
				return models.StepOK, fmt.Sprintf("%s running with %s", spec.Name, spec.Image), nil
			}

			have := ""
			if info.Config != nil {
				have = info.Config.Image
			}
			d.log.Info("removing drifted container",
				zap.String("service", spec.Name),
				zap.String("have", have),
				zap.String("want", spec.Image))
			if err := d.docker.ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true}); err != nil {
				return models.StepFailed, "", fmt.Errorf("failed to remove drifted container: %w", err)
			}

		case dockerclient.IsErrNotFound(err):
			// fresh deploy

		default:
			return models.StepFailed, "", fmt.Errorf("failed to inspect container: %w", err)
		}

		if err := d.pullImage(ctx, spec.Image); err != nil {
			return models.StepFailed, "", err
		}

		resp, err := d.docker.ContainerCreate(ctx,
			d.buildContainerConfig(spec),
			d.buildHostConfig(spec),
			d.buildNetworkConfig(),
			nil,
			spec.Name,
		)
		if err != nil {
			return models.StepFailed, "", fmt.Errorf("failed to create container: %w", err)
		}

		if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return models.StepFailed, "", fmt.Errorf("failed to start container: %w", err)
		}

		return models.StepChanged, fmt.Sprintf("%s deployed from %s", spec.Name, spec.Image), nil
	}
}

func (d *Deployer) pullImage(ctx context.Context, ref string) error {
	rc, err := d.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull stream must be drained for the pull to complete.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull of %s interrupted: %w", ref, err)
	}
	return nil
}

func (d *Deployer) buildContainerConfig(spec Spec) *container.Config {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    []string{},
		Labels: map[string]string{"managed-by": "shorebase"},
	}

	for k, v := range spec.Env {
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if len(spec.Ports) > 0 {
		cfg.ExposedPorts = make(nat.PortSet)
		for _, p := range spec.Ports {
			port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, p.Proto))
			cfg.ExposedPorts[port] = struct{}{}
		}
	}

	return cfg
}

func (d *Deployer) buildHostConfig(spec Spec) *container.HostConfig {
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		},
		PortBindings: make(nat.PortMap),
		Mounts:       []mount.Mount{},
	}

	for _, p := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, p.Proto))
		hostConfig.PortBindings[port] = []nat.PortBinding{
			{HostPort: fmt.Sprintf("%d", p.HostPort)},
		}
	}

	for _, m := range spec.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	return hostConfig
}

func (d *Deployer) buildNetworkConfig() *network.NetworkingConfig {
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			d.network: {},
		},
	}
}
