package orchestration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/firewall"
)

func planConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Target.Name = "media-box"
	cfg.Target.Address = "192.168.10.20"
	cfg.Target.Subnet = "192.168.10.0/24"
	cfg.Hardening.SSHPort = 2312
	cfg.Hardening.AdminUser = "deploy"
	cfg.Hardening.AuthorizedKey = "ssh-ed25519 AAAA test"
	cfg.Services.DataRoot = "/opt/services"
	cfg.Services.Network = "services"
	cfg.Services.Proxy.Enabled = true
	cfg.Services.Proxy.AdminPort = 81
	cfg.Services.Monitoring.Enabled = true
	cfg.Services.Monitoring.GrafanaPort = 3000
	cfg.Services.Monitoring.UptimePort = 3001
	return cfg
}

func TestBuildTableIncludesHardenedSSH(t *testing.T) {
	table, err := BuildTable(planConfig())
	require.NoError(t, err)

	var ssh *firewall.Rule
	for _, r := range table.Rules() {
		if r.Service == "ssh" {
			ssh = &r
			break
		}
	}
	require.NotNil(t, ssh, "ssh rule missing from table")
	assert.Equal(t, 2312, ssh.Port)
	assert.Equal(t, firewall.TCP, ssh.Proto)
	assert.Equal(t, firewall.ScopeAnywhere, ssh.Scope)
}

func TestBuildTableCoversEnabledServices(t *testing.T) {
	table, err := BuildTable(planConfig())
	require.NoError(t, err)

	byService := map[string]int{}
	for _, r := range table.Rules() {
		byService[r.Service]++
	}

	assert.GreaterOrEqual(t, byService["proxy"], 3, "proxy needs 80, 443 and the admin port")
	assert.Equal(t, 1, byService["grafana"])
	assert.Equal(t, 1, byService["uptime-kuma"])
	assert.Zero(t, byService["samba"], "disabled service must not open ports")
}

func TestBuildTableRejectsPortCollision(t *testing.T) {
	cfg := planConfig()
	cfg.Services.Monitoring.GrafanaPort = 2312

	_, err := BuildTable(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2312")
}

func TestPlanStageOrder(t *testing.T) {
	stages, err := Plan(planConfig())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(stages), 4)

	assert.Equal(t, "hardening", stages[0].Name)
	assert.Equal(t, "runtime", stages[1].Name)
	assert.Equal(t, "service-network", stages[2].Name)

	var names []string
	for _, s := range stages[3:] {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"proxy", "grafana", "uptime-kuma"}, names)
}

func TestPlanStepsAreNamed(t *testing.T) {
	stages, err := Plan(planConfig())
	require.NoError(t, err)

	for _, stage := range stages {
		require.NotEmpty(t, stage.Steps, "stage %s has no steps", stage.Name)
		for _, step := range stage.Steps {
			assert.NotEmpty(t, step.Name, "unnamed step in stage %s", stage.Name)
			assert.False(t, strings.ContainsRune(step.Name, ' '),
				"step names are slugs, got %q", step.Name)
		}
	}
}
