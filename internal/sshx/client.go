// Package sshx is the SSH control channel to the target host.
//
// Every stage talks to the host through this package: shell commands for
// package and file management, uploads for templated configuration files,
// and a tunnel that carries the Docker API over the same connection.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Options describes how to reach the target host.
type Options struct {
	// Address is the host IP address or DNS name
	Address string

	// Port is the SSH port to dial
	Port int

	// User is the SSH login user
	User string

	// KeyPath is the path to the private key file
	KeyPath string

	// Timeout is the dial timeout (default: 15s)
	Timeout time.Duration

	// HostKeyCallback overrides host key verification. Defaults to
	// accepting any key; single-host provisioning of a fresh machine has
	// no prior known_hosts entry to pin.
	HostKeyCallback ssh.HostKeyCallback
}

// Result holds the output of a remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client is an established SSH connection to the target host.
type Client struct {
	conn *ssh.Client
	addr string
	user string

	// useSudo wraps commands in `sudo -n` when the login user is not root
	useSudo bool
}

// Dial opens an SSH connection to the target host using key authentication.
func Dial(opts Options) (*Client, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key %s: %w", opts.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	hostKeyCallback := opts.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}

	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(opts.Address, fmt.Sprintf("%d", opts.Port))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		addr:    addr,
		user:    opts.User,
		useSudo: opts.User != "root",
	}, nil
}

// Addr returns the dialed host:port.
func (c *Client) Addr() string {
	return c.addr
}

// Run executes a command on the host as root and returns its output.
// A non-zero exit status is reported in Result.ExitCode, not as an error;
// idempotency checks rely on exit codes (grep, test, dpkg-query).
// An error means the transport itself failed.
func (c *Client) Run(ctx context.Context, cmd string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(c.wrap(cmd))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			return res, fmt.Errorf("command failed: %w", err)
		}
		return res, nil
	}
}

// Upload writes data to a root-owned file on the host with the given mode.
// The content is streamed over stdin into tee, so no intermediate temp file
// is left behind on failure.
func (c *Client) Upload(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)

	cmd := fmt.Sprintf("tee %s > /dev/null && chmod %o %s",
		ShellQuote(path), mode.Perm(), ShellQuote(path))

	done := make(chan error, 1)
	go func() {
		done <- session.Run(c.wrap(cmd))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		return nil
	}
}

// DialRemote opens a connection from the host to addr, tunneled over SSH.
// Used to reach the Docker socket without exposing it on the network.
func (c *Client) DialRemote(network, addr string) (net.Conn, error) {
	return c.conn.Dial(network, addr)
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// wrap runs cmd through a root shell. Non-root logins go through
// passwordless sudo; the hardening stage grants that to the admin user.
func (c *Client) wrap(cmd string) string {
	if !c.useSudo {
		return fmt.Sprintf("sh -c %s", ShellQuote(cmd))
	}
	return fmt.Sprintf("sudo -n sh -c %s", ShellQuote(cmd))
}

// ShellQuote single-quotes s for safe inclusion in a shell command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Probe reports whether a TCP connection to address:port succeeds within
// timeout. Used to pick the SSH port on an already-hardened host and by the
// post-run verification checks.
func Probe(address string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
