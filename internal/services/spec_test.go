package services

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/firewall"
)

func fullConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Target.Address = "192.168.10.20"
	cfg.Target.Subnet = "192.168.10.0/24"
	cfg.Services.DataRoot = "/opt/services"
	cfg.Services.Network = "services"
	cfg.Services.Proxy.Enabled = true
	cfg.Services.Proxy.AdminPort = 81
	cfg.Services.Monitoring.Enabled = true
	cfg.Services.Monitoring.GrafanaPort = 3000
	cfg.Services.Monitoring.UptimePort = 3001
	cfg.Services.Share.Enabled = true
	cfg.Services.Share.ShareName = "media"
	cfg.Services.Share.ShareUser = "media"
	cfg.Services.Share.SharePassword = "secret"
	cfg.Services.Photos.Enabled = true
	cfg.Services.Photos.Port = 2342
	cfg.Services.Photos.AdminPassword = "photos-secret"
	return cfg
}

func TestSpecsAllServicesEnabled(t *testing.T) {
	specs, err := Specs(fullConfig())
	require.NoError(t, err)

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"proxy", "grafana", "uptime-kuma", "samba", "photoprism"}, names)

	for _, spec := range specs {
		assert.Equal(t, "unless-stopped", spec.RestartPolicy, "service %s", spec.Name)
		assert.NotEmpty(t, spec.Image, "service %s", spec.Name)
	}
}

func TestSpecsDisabledServicesOmitted(t *testing.T) {
	cfg := fullConfig()
	cfg.Services.Share.Enabled = false
	cfg.Services.Photos.Enabled = false

	specs, err := Specs(cfg)
	require.NoError(t, err)

	for _, spec := range specs {
		assert.NotEqual(t, "samba", spec.Name)
		assert.NotEqual(t, "photoprism", spec.Name)
	}
}

func TestSpecsShareRequiresPassword(t *testing.T) {
	cfg := fullConfig()
	cfg.Services.Share.SharePassword = ""

	_, err := Specs(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share_password")
}

func TestSpecsPhotosRequiresPassword(t *testing.T) {
	cfg := fullConfig()
	cfg.Services.Photos.AdminPassword = ""

	_, err := Specs(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_password")
}

func TestSambaSpecIncludesSMBConf(t *testing.T) {
	specs, err := Specs(fullConfig())
	require.NoError(t, err)

	var samba *Spec
	for i := range specs {
		if specs[i].Name == "samba" {
			samba = &specs[i]
		}
	}
	require.NotNil(t, samba)

	require.Len(t, samba.Files, 1)
	conf := string(samba.Files[0].Content)
	assert.Contains(t, conf, "hosts allow = 192.168.10.0/24")
	assert.Contains(t, conf, "[media]")
	assert.Equal(t, "secret", samba.Env["PASS"])
}

func TestSpecsBundleOverridesImage(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(bundle, []byte(`
services:
  grafana:
    image: grafana/grafana-oss:11.2.0
    env:
      GF_SECURITY_ADMIN_PASSWORD: pinned
`), 0o644))

	cfg := fullConfig()
	cfg.Services.BundlePath = bundle

	specs, err := Specs(cfg)
	require.NoError(t, err)

	for _, spec := range specs {
		if spec.Name == "grafana" {
			assert.Equal(t, "grafana/grafana-oss:11.2.0", spec.Image)
			assert.Equal(t, "pinned", spec.Env["GF_SECURITY_ADMIN_PASSWORD"])
			return
		}
	}
	t.Fatal("grafana spec missing")
}

func TestSpecsBundleRejectsUnknownService(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(bundle, []byte(`
services:
  jellyfin:
    image: jellyfin/jellyfin:latest
`), 0o644))

	cfg := fullConfig()
	cfg.Services.BundlePath = bundle

	_, err := Specs(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jellyfin")
}

func TestRulesOnlyProxyFacesInternet(t *testing.T) {
	rules := Rules(fullConfig())
	require.NotEmpty(t, rules)

	for _, rule := range rules {
		if rule.Scope == firewall.ScopeAnywhere {
			assert.Equal(t, "proxy", rule.Service, "port %d/%s is world-open", rule.Port, rule.Proto)
			assert.Contains(t, []int{80, 443}, rule.Port)
		}
	}
}

func TestRulesCoverEveryServicePort(t *testing.T) {
	cfg := fullConfig()
	specs, err := Specs(cfg)
	require.NoError(t, err)

	allowed := make(map[string]bool)
	for _, rule := range Rules(cfg) {
		allowed[fmt.Sprintf("%d/%s", rule.Port, rule.Proto)] = true
	}

	for _, spec := range specs {
		for _, port := range spec.Ports {
			key := fmt.Sprintf("%d/%s", port.HostPort, port.Proto)
			assert.True(t, allowed[key],
				"service %s port %s has no firewall rule", spec.Name, key)
		}
	}
}
