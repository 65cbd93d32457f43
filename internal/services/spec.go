// Package services holds the fixed set of third-party service containers
// this tool stands up, and deploys them through the Docker API.
//
// Every container runs an unmodified upstream image. The only thing this
// package authors is parameters: port bindings, bind-mount layout under the
// data root, environment, and templated configuration files. Routing, TLS,
// alerting and library setup all happen later through each service's own
// web UI, outside this tool's control flow.
package services

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/firewall"
)

// PortBinding maps a host port to a container port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Proto         string
}

// Mount binds a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// File is a templated configuration file uploaded to the host before the
// container starts.
type File struct {
	Path    string
	Content []byte
	Mode    os.FileMode
}

// Spec describes one service container.
type Spec struct {
	// Name is the logical service name; it doubles as the container name
	Name string `yaml:"name"`

	// Image is the upstream image reference
	Image string `yaml:"image"`

	// Env is the container environment
	Env map[string]string `yaml:"env"`

	Ports  []PortBinding `yaml:"-"`
	Mounts []Mount       `yaml:"-"`
	Files  []File        `yaml:"-"`

	// RestartPolicy defaults to unless-stopped
	RestartPolicy string `yaml:"restart_policy"`
}

// Default upstream images. A bundle file can pin different tags.
const (
	proxyImage   = "jc21/nginx-proxy-manager:latest"
	grafanaImage = "grafana/grafana-oss:latest"
	uptimeImage  = "louislam/uptime-kuma:1"
	sambaImage   = "dockurr/samba:latest"
	photosImage  = "photoprism/photoprism:latest"
)

// Specs builds the container specs for every enabled service.
func Specs(cfg *config.Config) ([]Spec, error) {
	root := cfg.Services.DataRoot
	var specs []Spec

	if cfg.Services.Proxy.Enabled {
		specs = append(specs, Spec{
			Name:  "proxy",
			Image: proxyImage,
			Ports: []PortBinding{
				{HostPort: 80, ContainerPort: 80, Proto: "tcp"},
				{HostPort: 443, ContainerPort: 443, Proto: "tcp"},
				{HostPort: cfg.Services.Proxy.AdminPort, ContainerPort: 81, Proto: "tcp"},
			},
			Mounts: []Mount{
				{Source: path.Join(root, "proxy", "data"), Target: "/data"},
				{Source: path.Join(root, "proxy", "letsencrypt"), Target: "/etc/letsencrypt"},
			},
		})
	}

	if cfg.Services.Monitoring.Enabled {
		specs = append(specs,
			Spec{
				Name:  "grafana",
				Image: grafanaImage,
				Ports: []PortBinding{
					{HostPort: cfg.Services.Monitoring.GrafanaPort, ContainerPort: 3000, Proto: "tcp"},
				},
				Mounts: []Mount{
					{Source: path.Join(root, "grafana"), Target: "/var/lib/grafana"},
				},
			},
			Spec{
				Name:  "uptime-kuma",
				Image: uptimeImage,
				Ports: []PortBinding{
					{HostPort: cfg.Services.Monitoring.UptimePort, ContainerPort: 3001, Proto: "tcp"},
				},
				Mounts: []Mount{
					{Source: path.Join(root, "uptime-kuma"), Target: "/app/data"},
				},
			},
		)
	}

	if cfg.Services.Share.Enabled {
		if cfg.Services.Share.SharePassword == "" {
			return nil, fmt.Errorf("services.share.share_password is required when the share is enabled")
		}

		smbConf, err := renderSMBConf(cfg)
		if err != nil {
			return nil, err
		}

		specs = append(specs, Spec{
			Name:  "samba",
			Image: sambaImage,
			Env: map[string]string{
				"USER": cfg.Services.Share.ShareUser,
				"PASS": cfg.Services.Share.SharePassword,
			},
			Ports: []PortBinding{
				{HostPort: 139, ContainerPort: 139, Proto: "tcp"},
				{HostPort: 445, ContainerPort: 445, Proto: "tcp"},
				{HostPort: 137, ContainerPort: 137, Proto: "udp"},
				{HostPort: 138, ContainerPort: 138, Proto: "udp"},
			},
			Mounts: []Mount{
				{Source: path.Join(root, "samba", "smb.conf"), Target: "/etc/samba/smb.conf", ReadOnly: true},
				{Source: path.Join(root, "samba", "share"), Target: "/storage"},
			},
			Files: []File{
				{Path: path.Join(root, "samba", "smb.conf"), Content: smbConf, Mode: 0o644},
			},
		})
	}

	if cfg.Services.Photos.Enabled {
		if cfg.Services.Photos.AdminPassword == "" {
			return nil, fmt.Errorf("services.photos.admin_password is required when photos is enabled")
		}

		specs = append(specs, Spec{
			Name:  "photoprism",
			Image: photosImage,
			Env: map[string]string{
				"PHOTOPRISM_ADMIN_USER":      "admin",
				"PHOTOPRISM_ADMIN_PASSWORD":  cfg.Services.Photos.AdminPassword,
				"PHOTOPRISM_SITE_URL":        fmt.Sprintf("http://%s:%d/", cfg.Target.Address, cfg.Services.Photos.Port),
				"PHOTOPRISM_DATABASE_DRIVER": "sqlite",
			},
			Ports: []PortBinding{
				{HostPort: cfg.Services.Photos.Port, ContainerPort: 2342, Proto: "tcp"},
			},
			Mounts: []Mount{
				{Source: path.Join(root, "photoprism", "originals"), Target: "/photoprism/originals"},
				{Source: path.Join(root, "photoprism", "storage"), Target: "/photoprism/storage"},
			},
		})
	}

	if cfg.Services.BundlePath != "" {
		if err := applyBundle(cfg.Services.BundlePath, specs); err != nil {
			return nil, err
		}
	}

	for i := range specs {
		if specs[i].RestartPolicy == "" {
			specs[i].RestartPolicy = "unless-stopped"
		}
	}

	return specs, nil
}

// Rules returns the firewall rules for every enabled service. Only the
// reverse proxy faces the internet; every admin or LAN protocol stays
// scoped to the trusted subnet.
func Rules(cfg *config.Config) []firewall.Rule {
	var rules []firewall.Rule

	if cfg.Services.Proxy.Enabled {
		rules = append(rules,
			firewall.Rule{Service: "proxy", Port: 80, Proto: firewall.TCP, Scope: firewall.ScopeAnywhere, Comment: "http"},
			firewall.Rule{Service: "proxy", Port: 443, Proto: firewall.TCP, Scope: firewall.ScopeAnywhere, Comment: "https"},
			firewall.Rule{Service: "proxy", Port: cfg.Services.Proxy.AdminPort, Proto: firewall.TCP, Scope: firewall.ScopeSubnet, Comment: "proxy admin"},
		)
	}

	if cfg.Services.Monitoring.Enabled {
		rules = append(rules,
			firewall.Rule{Service: "grafana", Port: cfg.Services.Monitoring.GrafanaPort, Proto: firewall.TCP, Scope: firewall.ScopeSubnet},
			firewall.Rule{Service: "uptime-kuma", Port: cfg.Services.Monitoring.UptimePort, Proto: firewall.TCP, Scope: firewall.ScopeSubnet},
		)
	}

	if cfg.Services.Share.Enabled {
		rules = append(rules,
			firewall.Rule{Service: "samba", Port: 139, Proto: firewall.TCP, Scope: firewall.ScopeSubnet},
			firewall.Rule{Service: "samba", Port: 445, Proto: firewall.TCP, Scope: firewall.ScopeSubnet},
			firewall.Rule{Service: "samba", Port: 137, Proto: firewall.UDP, Scope: firewall.ScopeSubnet},
			firewall.Rule{Service: "samba", Port: 138, Proto: firewall.UDP, Scope: firewall.ScopeSubnet},
		)
	}

	if cfg.Services.Photos.Enabled {
		rules = append(rules, firewall.Rule{
			Service: "photoprism", Port: cfg.Services.Photos.Port, Proto: firewall.TCP, Scope: firewall.ScopeSubnet,
		})
	}

	return rules
}

// bundleOverride is one entry in the optional bundle file.
type bundleOverride struct {
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env"`
}

// applyBundle merges image pins and extra environment from a YAML bundle
// file over the built-in specs. Unknown service names are rejected so a
// typo cannot silently deploy nothing.
func applyBundle(bundlePath string, specs []Spec) error {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("failed to read bundle %s: %w", bundlePath, err)
	}

	var bundle struct {
		Services map[string]bundleOverride `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("failed to parse bundle %s: %w", bundlePath, err)
	}

	byName := make(map[string]*Spec, len(specs))
	for i := range specs {
		byName[specs[i].Name] = &specs[i]
	}

	for name, override := range bundle.Services {
		spec, ok := byName[name]
		if !ok {
			return fmt.Errorf("bundle %s: unknown service %q", bundlePath, name)
		}
		if override.Image != "" {
			spec.Image = override.Image
		}
		for k, v := range override.Env {
			if spec.Env == nil {
				spec.Env = map[string]string{}
			}
			spec.Env[k] = v
		}
	}

	return nil
}
