package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/firewall"
	"github.com/shorebase/shorebase/models"
)

const (
	sshdDropInPath = "/etc/ssh/sshd_config.d/99-shorebase.conf"
	jailLocalPath  = "/etc/fail2ban/jail.local"
)

// basePackages are installed before anything else. ufw and fail2ban are the
// hardening tools themselves; sudo is required for the admin account.
var basePackages = []string{"sudo", "ufw", "fail2ban", "ca-certificates", "curl"}

// Hardening builds the OS hardening stage. It always runs first: it moves
// sshd to the hardened port, which invalidates the connection parameters of
// every later stage.
//
// Step order matters in one place: the firewall step opens the hardened
// port before the sshd step restarts the daemon on it, so a run can never
// lock itself out between the two.
func Hardening(cfg *config.Config, table *firewall.Table) Stage {
	steps := []Step{
		{Name: "apt-update", Apply: aptUpdate},
	}

	if cfg.Hardening.Upgrade {
		steps = append(steps, Step{Name: "apt-upgrade", Apply: aptUpgrade})
	}

	steps = append(steps,
		Step{Name: "base-packages", Apply: installBasePackages},
		Step{Name: "admin-user", Apply: adminUserStep(cfg)},
		Step{Name: "firewall", Apply: firewallStep(table)},
		Step{Name: "sshd-config", Apply: sshdConfigStep(cfg)},
		Step{Name: "fail2ban", Apply: fail2banStep(cfg)},
	)

	return Stage{Name: "hardening", Steps: steps}
}

func aptUpdate(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	res, err := r.Run(ctx, "apt-get update -q")
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		return models.StepFailed, "", fmt.Errorf("apt-get update exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return models.StepOK, "package index refreshed", nil
}

func aptUpgrade(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	// Dry-run first so an up-to-date host reports ok instead of changed.
	sim, err := r.Run(ctx, "apt-get -s upgrade")
	if err != nil {
		return models.StepFailed, "", err
	}
	if sim.ExitCode == 0 && strings.Contains(sim.Stdout, "0 upgraded") {
		return models.StepOK, "all packages up to date", nil
	}

	res, err := r.Run(ctx, "DEBIAN_FRONTEND=noninteractive apt-get -y upgrade")
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		return models.StepFailed, "", fmt.Errorf("apt-get upgrade exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return models.StepChanged, "packages upgraded", nil
}

func installBasePackages(ctx context.Context, r Runner) (models.StepStatus, string, error) {
	missing, err := missingPackages(ctx, r, basePackages)
	if err != nil {
		return models.StepFailed, "", err
	}
	if len(missing) == 0 {
		return models.StepOK, "base packages present", nil
	}

	cmd := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + strings.Join(missing, " ")
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return models.StepFailed, "", err
	}
	if res.ExitCode != 0 {
		return models.StepFailed, "", fmt.Errorf("package install exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return models.StepChanged, "installed " + strings.Join(missing, ", "), nil
}

// adminUserStep ensures the non-root admin account exists with the
// authorized key and passwordless sudo.
func adminUserStep(cfg *config.Config) func(context.Context, Runner) (models.StepStatus, string, error) {
	user := cfg.Hardening.AdminUser
	key := strings.TrimSpace(cfg.Hardening.AuthorizedKey)

	return func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		if key == "" {
			return models.StepFailed, "", fmt.Errorf("hardening.authorized_key is required to create admin user %s", user)
		}

		changed := false

		res, err := r.Run(ctx, fmt.Sprintf("id -u %s", user))
		if err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			create := fmt.Sprintf("useradd -m -s /bin/bash %s", user)
			if res, err = r.Run(ctx, create); err != nil {
				return models.StepFailed, "", err
			}
			if res.ExitCode != 0 {
				return models.StepFailed, "", fmt.Errorf("useradd exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
			}
			changed = true
		}

		authKeys := fmt.Sprintf("/home/%s/.ssh/authorized_keys", user)
		res, err = r.Run(ctx, fmt.Sprintf("grep -qF %s %s", quoteArg(key), authKeys))
		if err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			install := fmt.Sprintf(
				"mkdir -p /home/%[1]s/.ssh && echo %[2]s >> %[3]s && chmod 700 /home/%[1]s/.ssh && chmod 600 %[3]s && chown -R %[1]s:%[1]s /home/%[1]s/.ssh",
				user, quoteArg(key), authKeys)
			if res, err = r.Run(ctx, install); err != nil {
				return models.StepFailed, "", err
			}
			if res.ExitCode != 0 {
				return models.StepFailed, "", fmt.Errorf("authorized_keys install exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
			}
			changed = true
		}

		sudoers := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", user)
		sudoersPath := fmt.Sprintf("/etc/sudoers.d/99-%s", user)
		wrote, err := ensureFile(ctx, r, sudoersPath, []byte(sudoers), 0o440)
		if err != nil {
			return models.StepFailed, "", err
		}
		changed = changed || wrote

		if changed {
			return models.StepChanged, fmt.Sprintf("admin user %s converged", user), nil
		}
		return models.StepOK, fmt.Sprintf("admin user %s already configured", user), nil
	}
}

// firewallStep applies the rule table and enables ufw. It runs before the
// sshd step on purpose.
func firewallStep(table *firewall.Table) func(context.Context, Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		changed := false

		status, err := r.Run(ctx, "ufw status verbose")
		if err != nil {
			return models.StepFailed, "", err
		}

		// Setting a default policy prints its change banner whether or not
		// the policy moved, so drift is read from the status output instead.
		// An inactive firewall has no policy banner and gets both set.
		if !strings.Contains(status.Stdout, "deny (incoming)") ||
			!strings.Contains(status.Stdout, "allow (outgoing)") {
			for _, cmd := range table.PolicyCommands() {
				res, err := r.Run(ctx, cmd)
				if err != nil {
					return models.StepFailed, "", err
				}
				if res.ExitCode != 0 {
					return models.StepFailed, "", fmt.Errorf("%q exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
				}
			}
			changed = true
		}

		for _, cmd := range table.AllowCommands() {
			res, err := r.Run(ctx, cmd)
			if err != nil {
				return models.StepFailed, "", err
			}
			if res.ExitCode != 0 {
				return models.StepFailed, "", fmt.Errorf("%q exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
			}
			// ufw reports existing rules with "Skipping"; anything else
			// means the rule set moved.
			if !strings.Contains(res.Stdout, "Skipping") {
				changed = true
			}
		}

		if !strings.Contains(status.Stdout, "Status: active") {
			res, err := r.Run(ctx, "ufw --force enable")
			if err != nil {
				return models.StepFailed, "", err
			}
			if res.ExitCode != 0 {
				return models.StepFailed, "", fmt.Errorf("ufw enable exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
			}
			changed = true
		}

		if changed {
			return models.StepChanged, fmt.Sprintf("%d rules applied, ufw active", len(table.Rules())), nil
		}
		return models.StepOK, "firewall already converged", nil
	}
}

// sshdConfigStep writes the hardening drop-in and restarts sshd. The rendered
// config is validated remotely with `sshd -t` before the restart; a broken
// config fails the step with the daemon still running on the old port.
func sshdConfigStep(cfg *config.Config) func(context.Context, Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		content, err := renderTemplate("sshd_hardening.conf.tmpl", map[string]any{
			"Port":      cfg.Hardening.SSHPort,
			"AdminUser": cfg.Hardening.AdminUser,
		})
		if err != nil {
			return models.StepFailed, "", err
		}

		same, err := fileMatches(ctx, r, sshdDropInPath, content)
		if err != nil {
			return models.StepFailed, "", err
		}
		if same {
			return models.StepOK, "sshd already hardened", nil
		}

		if err := r.Upload(ctx, sshdDropInPath, content, 0o644); err != nil {
			return models.StepFailed, "", err
		}

		res, err := r.Run(ctx, "sshd -t")
		if err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			return models.StepFailed, "", fmt.Errorf("sshd config validation failed: %s", strings.TrimSpace(res.Stderr))
		}

		res, err = r.Run(ctx, "systemctl restart ssh 2>/dev/null || systemctl restart sshd")
		if err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			return models.StepFailed, "", fmt.Errorf("sshd restart exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}

		return models.StepChanged, fmt.Sprintf("sshd moved to port %d", cfg.Hardening.SSHPort), nil
	}
}

func fail2banStep(cfg *config.Config) func(context.Context, Runner) (models.StepStatus, string, error) {
	return func(ctx context.Context, r Runner) (models.StepStatus, string, error) {
		content, err := renderTemplate("jail.local.tmpl", map[string]any{
			"BanTimeSeconds": int(cfg.Hardening.Fail2banBanTime.Seconds()),
			"MaxRetry":       cfg.Hardening.Fail2banMaxRetry,
			"Port":           cfg.Hardening.SSHPort,
		})
		if err != nil {
			return models.StepFailed, "", err
		}

		wrote, err := ensureFile(ctx, r, jailLocalPath, content, 0o644)
		if err != nil {
			return models.StepFailed, "", err
		}

		cmd := "systemctl enable --now fail2ban"
		if wrote {
			cmd = "systemctl enable --now fail2ban && systemctl restart fail2ban"
		}
		res, err := r.Run(ctx, cmd)
		if err != nil {
			return models.StepFailed, "", err
		}
		if res.ExitCode != 0 {
			return models.StepFailed, "", fmt.Errorf("fail2ban setup exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}

		if wrote {
			return models.StepChanged, "fail2ban jail updated", nil
		}
		return models.StepOK, "fail2ban already configured", nil
	}
}

// missingPackages returns the subset of packages not installed on the host.
func missingPackages(ctx context.Context, r Runner, packages []string) ([]string, error) {
	var missing []string
	for _, pkg := range packages {
		res, err := r.Run(ctx, fmt.Sprintf("dpkg-query -W -f '${Status}' %s 2>/dev/null", pkg))
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 || !strings.Contains(res.Stdout, "install ok installed") {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}

// fileMatches reports whether the remote file exists with exactly content.
func fileMatches(ctx context.Context, r Runner, path string, content []byte) (bool, error) {
	res, err := r.Run(ctx, fmt.Sprintf("cat %s", path))
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.TrimRight(res.Stdout, "\n") == strings.TrimRight(string(content), "\n"), nil
}

// ensureFile uploads content to path unless it already matches.
func ensureFile(ctx context.Context, r Runner, path string, content []byte, mode os.FileMode) (bool, error) {
	same, err := fileMatches(ctx, r, path, content)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}
	if err := r.Upload(ctx, path, content, mode); err != nil {
		return false, err
	}
	return true, nil
}

func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
