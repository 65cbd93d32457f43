// Package orchestration sequences the provisioning stages against the
// target host.
//
// The sequence is fixed: hardening, container runtime, then the service
// stages, with verification available as a separate run mode. Hardening
// moves the SSH port, so the orchestrator owns the connection lifecycle:
// it probes the hardened port first (re-runs on an already-hardened host),
// falls back to the initial port for a fresh host, and reconnects after
// the hardening stage completes.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/firewall"
	"github.com/shorebase/shorebase/internal/provision"
	"github.com/shorebase/shorebase/internal/services"
	"github.com/shorebase/shorebase/internal/sshx"
	"github.com/shorebase/shorebase/internal/verify"
	"github.com/shorebase/shorebase/models"
)

const probeTimeout = 3 * time.Second

// Orchestrator runs provisioning and verification against one host.
type Orchestrator struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *provision.Engine
}

// New creates an orchestrator. onEvent, when non-nil, receives run events
// as they happen (the status API streams them to websocket clients).
func New(cfg *config.Config, log *zap.Logger, onEvent func(models.RunEvent)) *Orchestrator {
	engine := provision.NewEngine(log)
	engine.OnEvent = onEvent
	return &Orchestrator{cfg: cfg, log: log, engine: engine}
}

// BuildTable assembles the complete firewall rule table: the hardened SSH
// port plus every enabled service's rules.
func BuildTable(cfg *config.Config) (*firewall.Table, error) {
	table := firewall.NewTable(cfg.Target.Subnet)

	err := table.Add(firewall.Rule{
		Service: "ssh",
		Port:    cfg.Hardening.SSHPort,
		Proto:   firewall.TCP,
		Scope:   firewall.ScopeAnywhere,
		Comment: "hardened ssh",
	})
	if err != nil {
		return nil, err
	}

	if err := table.Add(services.Rules(cfg)...); err != nil {
		return nil, err
	}

	return table, nil
}

// Plan builds the ordered stages an apply run would execute, without
// touching the host. Used by the plan command and the status API.
func Plan(cfg *config.Config) ([]provision.Stage, error) {
	table, err := BuildTable(cfg)
	if err != nil {
		return nil, err
	}

	stages := []provision.Stage{
		provision.Hardening(cfg, table),
		provision.Runtime(),
	}

	// The deployer is never invoked; its steps only name what would run.
	serviceStages, err := services.Stages(cfg, services.NewDeployer(nil, cfg.Services.Network, zap.NewNop()))
	if err != nil {
		return nil, err
	}

	return append(stages, serviceStages...), nil
}

// Apply runs the full provisioning sequence. The returned report is always
// usable, including on failure; the error mirrors report.Error.
func (o *Orchestrator) Apply(ctx context.Context) (*models.RunReport, error) {
	report := o.newReport("apply")

	table, err := BuildTable(o.cfg)
	if err != nil {
		return o.fail(report, fmt.Errorf("invalid firewall table: %w", err))
	}

	client, hardened, err := o.connect()
	if err != nil {
		return o.fail(report, err)
	}
	defer func() { _ = client.Close() }()

	o.log.Info("connected",
		zap.String("addr", client.Addr()),
		zap.Bool("already_hardened", hardened))

	if err := o.engine.ExecuteStage(ctx, report, client, provision.Hardening(o.cfg, table)); err != nil {
		return o.fail(report, err)
	}

	// Hardening may have moved sshd to the new port; every later stage
	// talks to the host through the hardened connection.
	if !hardened {
		_ = client.Close()
		client, err = o.dialHardened()
		if err != nil {
			return o.fail(report, fmt.Errorf("reconnect on hardened port failed: %w", err))
		}
	}

	if err := o.engine.ExecuteStage(ctx, report, client, provision.Runtime()); err != nil {
		return o.fail(report, err)
	}

	docker, err := services.NewDockerClient(client)
	if err != nil {
		return o.fail(report, fmt.Errorf("failed to create docker client: %w", err))
	}
	defer func() { _ = docker.Close() }()

	if _, err := docker.Ping(ctx); err != nil {
		return o.fail(report, fmt.Errorf("docker daemon unreachable over tunnel: %w", err))
	}

	deployer := services.NewDeployer(docker, o.cfg.Services.Network, o.log)
	stages, err := services.Stages(o.cfg, deployer)
	if err != nil {
		return o.fail(report, err)
	}
	for _, stage := range stages {
		if err := o.engine.ExecuteStage(ctx, report, client, stage); err != nil {
			return o.fail(report, err)
		}
	}

	return o.finish(report), nil
}

// Verify runs the operational checks without changing the host.
func (o *Orchestrator) Verify(ctx context.Context) (*models.RunReport, error) {
	report := o.newReport("verify")

	client, err := o.dialHardened()
	if err != nil {
		return o.fail(report, fmt.Errorf("hardened port connection failed: %w", err))
	}
	defer func() { _ = client.Close() }()

	docker, err := services.NewDockerClient(client)
	if err != nil {
		return o.fail(report, fmt.Errorf("failed to create docker client: %w", err))
	}
	defer func() { _ = docker.Close() }()

	stage, err := verify.Stage(o.cfg, docker)
	if err != nil {
		return o.fail(report, err)
	}

	if err := o.engine.ExecuteStage(ctx, report, client, stage); err != nil {
		return o.fail(report, err)
	}

	return o.finish(report), nil
}

// ServiceStates reports the observed state of the service containers.
func (o *Orchestrator) ServiceStates(ctx context.Context) ([]models.ServiceState, error) {
	client, err := o.dialHardened()
	if err != nil {
		return nil, fmt.Errorf("hardened port connection failed: %w", err)
	}
	defer func() { _ = client.Close() }()

	docker, err := services.NewDockerClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	defer func() { _ = docker.Close() }()

	return verify.States(ctx, o.cfg, docker)
}

// connect reaches the host on whichever SSH port answers. A hardened host
// answers on the hardened port as the admin user; a fresh one on the
// initial port as the configured login user.
func (o *Orchestrator) connect() (*sshx.Client, bool, error) {
	if sshx.Probe(o.cfg.Target.Address, o.cfg.Hardening.SSHPort, probeTimeout) {
		client, err := o.dialHardened()
		if err == nil {
			return client, true, nil
		}
		o.log.Warn("hardened port open but login failed, falling back to initial port",
			zap.Int("port", o.cfg.Hardening.SSHPort),
			zap.Error(err))
	}

	client, err := sshx.Dial(sshx.Options{
		Address: o.cfg.Target.Address,
		Port:    o.cfg.Target.Port,
		User:    o.cfg.Target.User,
		KeyPath: o.cfg.Target.KeyPath,
		Timeout: o.cfg.Target.ConnectTimeout,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to reach %s on port %d or %d: %w",
			o.cfg.Target.Address, o.cfg.Hardening.SSHPort, o.cfg.Target.Port, err)
	}
	return client, false, nil
}

func (o *Orchestrator) dialHardened() (*sshx.Client, error) {
	return sshx.Dial(sshx.Options{
		Address: o.cfg.Target.Address,
		Port:    o.cfg.Hardening.SSHPort,
		User:    o.cfg.Hardening.AdminUser,
		KeyPath: o.cfg.Target.KeyPath,
		Timeout: o.cfg.Target.ConnectTimeout,
	})
}

func (o *Orchestrator) newReport(mode string) *models.RunReport {
	return &models.RunReport{
		ID:        models.NewRunID(mode),
		Target:    o.cfg.Target.Name,
		Mode:      mode,
		Status:    models.RunRunning,
		StartedAt: time.Now(),
	}
}

func (o *Orchestrator) finish(report *models.RunReport) *models.RunReport {
	now := time.Now()
	report.Status = models.RunSucceeded
	report.CompletedAt = &now
	return report
}

func (o *Orchestrator) fail(report *models.RunReport, err error) (*models.RunReport, error) {
	now := time.Now()
	report.Status = models.RunFailed
	report.Error = err.Error()
	report.CompletedAt = &now
	return report, err
}
