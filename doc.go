// Package shorebase turns one Debian host into a hardened single-box
// server running a curated set of Docker services behind a host firewall.
//
// # Overview
//
// Shorebase is declarative: the config file names the target host, the
// hardening settings, and the services to run. An apply run converges
// the host to that state and reports per-step outcomes (ok, changed,
// failed, skipped). Re-running apply against a converged host changes
// nothing.
//
// The run sequence is fixed:
//   - Hardening: unattended upgrades, admin user, ufw firewall,
//     sshd on a non-default port, fail2ban
//   - Runtime: Docker Engine from the upstream apt repository
//   - Services: reverse proxy, monitoring, file share, and photo
//     containers on a shared bridge network
//
// Hardening always runs first because it moves the SSH port; the
// orchestrator probes the hardened port before falling back to the
// initial one, so re-runs and first runs use the same command.
//
// # Components
//
//   - CLI: apply, verify, plan, runs, server, and token commands
//   - Provision engine: stage/step execution over SSH with
//     stop-on-first-failure semantics
//   - Service deployer: Docker API over an SSH tunnel, no agent on
//     the target
//   - Status API: run history, Prometheus metrics, and a WebSocket
//     stream of run events
//   - Run store: SQLite-backed history of every run report
//
// # Usage
//
// Converge the host:
//
//	shorebase apply --config config.yaml
//
// Check it afterwards:
//
//	shorebase verify
//
// Serve status and metrics:
//
//	shorebase server
package shorebase
