package verify

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/models"
)

// stubDocker answers container inspections from a fixed map and fails
// everything the verify checks never call.
type stubDocker struct {
	pingErr    error
	containers map[string]container.InspectResponse
}

func (s *stubDocker) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, s.pingErr
}

func (s *stubDocker) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	if c, ok := s.containers[id]; ok {
		return c, nil
	}
	return container.InspectResponse{}, errdefs.NotFound(errors.New("no such container: " + id))
}

func (s *stubDocker) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDocker) NetworkInspect(ctx context.Context, id string, opts network.InspectOptions) (network.Inspect, error) {
	return network.Inspect{}, errors.New("not implemented")
}

func (s *stubDocker) NetworkCreate(ctx context.Context, name string, opts network.CreateOptions) (network.CreateResponse, error) {
	return network.CreateResponse{}, errors.New("not implemented")
}

func (s *stubDocker) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, net *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	return container.CreateResponse{}, errors.New("not implemented")
}

func (s *stubDocker) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	return errors.New("not implemented")
}

func (s *stubDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	return errors.New("not implemented")
}

func running(id, img string) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			State: &container.State{Running: true, Status: "running"},
		},
		Config: &container.Config{Image: img},
	}
}

func exited(id, img string) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			State: &container.State{Running: false, Status: "exited"},
		},
		Config: &container.Config{Image: img},
	}
}

func verifyConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Target.Address = "192.168.10.20"
	cfg.Target.Port = 22
	cfg.Target.Subnet = "192.168.10.0/24"
	cfg.Hardening.SSHPort = 2312
	cfg.Services.Proxy.Enabled = true
	cfg.Services.Proxy.AdminPort = 81
	cfg.Services.Monitoring.Enabled = true
	cfg.Services.Monitoring.GrafanaPort = 3000
	cfg.Services.Monitoring.UptimePort = 3001
	return cfg
}

func TestStageChecks(t *testing.T) {
	stage, err := Stage(verifyConfig(), &stubDocker{})
	require.NoError(t, err)

	assert.Equal(t, "verify", stage.Name)

	var names []string
	for _, s := range stage.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"ssh-hardened-port",
		"ssh-default-port-closed",
		"docker-daemon",
		"proxy-running",
		"grafana-running",
		"uptime-kuma-running",
	}, names)
}

func TestDefaultPortClosedSkipsWhenUnchanged(t *testing.T) {
	cfg := verifyConfig()
	cfg.Target.Port = cfg.Hardening.SSHPort

	status, _, err := defaultPortClosed(cfg)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StepSkipped, status)
}

func TestDockerRespondsOK(t *testing.T) {
	status, msg, err := dockerResponds(&stubDocker{})(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StepOK, status)
	assert.Contains(t, msg, "responding")
}

func TestDockerRespondsFailure(t *testing.T) {
	docker := &stubDocker{pingErr: errors.New("connection refused")}
	status, _, err := dockerResponds(docker)(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, models.StepFailed, status)
}

func TestContainerRunningStates(t *testing.T) {
	docker := &stubDocker{containers: map[string]container.InspectResponse{
		"proxy":   running("id-proxy", "jc21/nginx-proxy-manager:latest"),
		"grafana": exited("id-grafana", "grafana/grafana-oss:latest"),
	}}

	stage, err := Stage(verifyConfig(), docker)
	require.NoError(t, err)

	ctx := context.Background()
	for _, step := range stage.Steps {
		switch step.Name {
		case "proxy-running":
			status, msg, err := step.Apply(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, models.StepOK, status)
			assert.Contains(t, msg, "proxy")
		case "grafana-running":
			status, _, err := step.Apply(ctx, nil)
			require.Error(t, err)
			assert.Equal(t, models.StepFailed, status)
			assert.Contains(t, err.Error(), "exited")
		case "uptime-kuma-running":
			status, _, err := step.Apply(ctx, nil)
			require.Error(t, err)
			assert.Equal(t, models.StepFailed, status)
			assert.Contains(t, err.Error(), "not found")
		}
	}
}

func TestStates(t *testing.T) {
	docker := &stubDocker{containers: map[string]container.InspectResponse{
		"proxy": running("id-proxy", "jc21/nginx-proxy-manager:latest"),
	}}

	states, err := States(context.Background(), verifyConfig(), docker)
	require.NoError(t, err)
	require.Len(t, states, 3)

	byName := map[string]models.ServiceState{}
	for _, s := range states {
		byName[s.Name] = s
	}

	assert.Equal(t, "running", byName["proxy"].Status)
	assert.Equal(t, "id-proxy", byName["proxy"].ContainerID)
	assert.Equal(t, "missing", byName["grafana"].Status)
	assert.Equal(t, "missing", byName["uptime-kuma"].Status)
}
