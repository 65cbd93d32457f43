// Package firewall maps logical services to UFW port rules.
//
// The rule table is the contract between the service stages and the
// hardening stage: every exposed service port appears here, scoped either
// to the world or to the trusted LAN subnet. The hardening stage renders
// the table into ufw commands and applies them before sshd moves to the
// hardened port, so the new port is always open before the old one closes.
package firewall

import (
	"fmt"
	"sort"
	"strings"
)

// Proto is the transport protocol of a rule.
type Proto string

const (
	TCP Proto = "tcp"
	UDP Proto = "udp"
)

// Scope restricts who may reach a port.
type Scope string

const (
	// ScopeAnywhere allows the whole internet.
	ScopeAnywhere Scope = "anywhere"

	// ScopeSubnet allows only the trusted LAN subnet.
	ScopeSubnet Scope = "subnet"
)

// Rule is one allowed inbound port.
type Rule struct {
	// Service is the logical service the rule belongs to
	Service string

	// Port is the inbound port number
	Port int

	// Proto is tcp or udp
	Proto Proto

	// Scope is who may connect
	Scope Scope

	// Comment appears in `ufw status` output
	Comment string
}

// Table is an ordered set of firewall rules for one host.
type Table struct {
	// Subnet is the trusted LAN CIDR substituted into subnet-scoped rules
	Subnet string

	rules []Rule
}

// NewTable creates an empty rule table for the given trusted subnet.
func NewTable(subnet string) *Table {
	return &Table{Subnet: subnet}
}

// Add appends rules to the table, rejecting duplicate port/proto pairs.
func (t *Table) Add(rules ...Rule) error {
	for _, r := range rules {
		if r.Port < 1 || r.Port > 65535 {
			return fmt.Errorf("service %s: invalid port %d", r.Service, r.Port)
		}
		if r.Proto != TCP && r.Proto != UDP {
			return fmt.Errorf("service %s: invalid protocol %q", r.Service, r.Proto)
		}
		if r.Scope == ScopeSubnet && t.Subnet == "" {
			return fmt.Errorf("service %s: subnet-scoped rule but table has no subnet", r.Service)
		}
		for _, existing := range t.rules {
			if existing.Port == r.Port && existing.Proto == r.Proto {
				return fmt.Errorf("port %d/%s claimed by both %s and %s",
					r.Port, r.Proto, existing.Service, r.Service)
			}
		}
		t.rules = append(t.rules, r)
	}
	return nil
}

// Rules returns the rules sorted by port then protocol.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Proto < out[j].Proto
	})
	return out
}

// PolicyCommands renders the default policy commands. They are kept apart
// from the allow rules because ufw prints no "Skipping" marker for a policy
// already in place; callers detect policy drift from `ufw status verbose`.
func (t *Table) PolicyCommands() []string {
	return []string{
		"ufw default deny incoming",
		"ufw default allow outgoing",
	}
}

// AllowCommands renders one allow rule per entry. Each command is
// idempotent; ufw reports "Skipping adding existing rule" rather than
// duplicating.
func (t *Table) AllowCommands() []string {
	cmds := make([]string, 0, len(t.rules))
	for _, r := range t.Rules() {
		cmds = append(cmds, t.allowCommand(r))
	}
	return cmds
}

// Commands renders the full converging sequence: default policies first,
// then one allow rule per entry.
func (t *Table) Commands() []string {
	return append(t.PolicyCommands(), t.AllowCommands()...)
}

func (t *Table) allowCommand(r Rule) string {
	comment := r.Comment
	if comment == "" {
		comment = r.Service
	}

	if r.Scope == ScopeSubnet {
		return fmt.Sprintf("ufw allow from %s to any port %d proto %s comment '%s'",
			t.Subnet, r.Port, r.Proto, comment)
	}
	return fmt.Sprintf("ufw allow %d/%s comment '%s'", r.Port, r.Proto, comment)
}

// String renders the table for plan output.
func (t *Table) String() string {
	var b strings.Builder
	for _, r := range t.Rules() {
		scope := "anywhere"
		if r.Scope == ScopeSubnet {
			scope = t.Subnet
		}
		fmt.Fprintf(&b, "%-12s %5d/%-3s from %s\n", r.Service, r.Port, r.Proto, scope)
	}
	return b.String()
}
