package firewall

import (
	"strings"
	"testing"
)

func TestAddRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"zero port", Rule{Service: "x", Port: 0, Proto: TCP, Scope: ScopeAnywhere}},
		{"port too high", Rule{Service: "x", Port: 70000, Proto: TCP, Scope: ScopeAnywhere}},
		{"bad proto", Rule{Service: "x", Port: 80, Proto: "icmp", Scope: ScopeAnywhere}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable("192.168.1.0/24")
			if err := table.Add(tt.rule); err == nil {
				t.Errorf("Add(%+v) succeeded, want error", tt.rule)
			}
		})
	}
}

func TestAddRejectsDuplicatePortProto(t *testing.T) {
	table := NewTable("192.168.1.0/24")

	err := table.Add(
		Rule{Service: "proxy", Port: 443, Proto: TCP, Scope: ScopeAnywhere},
		Rule{Service: "other", Port: 443, Proto: TCP, Scope: ScopeAnywhere},
	)
	if err == nil {
		t.Fatal("expected duplicate port error")
	}
	if !strings.Contains(err.Error(), "443/tcp") {
		t.Errorf("error %q does not name the conflicting port", err)
	}
}

func TestAddAllowsSamePortDifferentProto(t *testing.T) {
	table := NewTable("192.168.1.0/24")

	err := table.Add(
		Rule{Service: "samba", Port: 137, Proto: TCP, Scope: ScopeSubnet},
		Rule{Service: "samba", Port: 137, Proto: UDP, Scope: ScopeSubnet},
	)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if got := len(table.Rules()); got != 2 {
		t.Errorf("got %d rules, want 2", got)
	}
}

func TestSubnetScopedRuleNeedsSubnet(t *testing.T) {
	table := NewTable("")

	err := table.Add(Rule{Service: "grafana", Port: 3000, Proto: TCP, Scope: ScopeSubnet})
	if err == nil {
		t.Fatal("expected error for subnet-scoped rule without subnet")
	}
}

func TestRulesSortedByPort(t *testing.T) {
	table := NewTable("192.168.1.0/24")
	err := table.Add(
		Rule{Service: "grafana", Port: 3000, Proto: TCP, Scope: ScopeSubnet},
		Rule{Service: "ssh", Port: 2312, Proto: TCP, Scope: ScopeAnywhere},
		Rule{Service: "proxy", Port: 80, Proto: TCP, Scope: ScopeAnywhere},
	)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	rules := table.Rules()
	want := []int{80, 2312, 3000}
	for i, port := range want {
		if rules[i].Port != port {
			t.Errorf("rules[%d].Port = %d, want %d", i, rules[i].Port, port)
		}
	}
}

func TestCommandsStartWithDefaultPolicies(t *testing.T) {
	table := NewTable("192.168.1.0/24")
	if err := table.Add(Rule{Service: "ssh", Port: 2312, Proto: TCP, Scope: ScopeAnywhere, Comment: "hardened ssh"}); err != nil {
		t.Fatal(err)
	}

	cmds := table.Commands()
	if cmds[0] != "ufw default deny incoming" {
		t.Errorf("first command = %q", cmds[0])
	}
	if cmds[1] != "ufw default allow outgoing" {
		t.Errorf("second command = %q", cmds[1])
	}
	if want := "ufw allow 2312/tcp comment 'hardened ssh'"; cmds[2] != want {
		t.Errorf("allow command = %q, want %q", cmds[2], want)
	}
}

func TestPolicyAndAllowCommandsPartitionCommands(t *testing.T) {
	table := NewTable("192.168.1.0/24")
	if err := table.Add(
		Rule{Service: "ssh", Port: 2312, Proto: TCP, Scope: ScopeAnywhere},
		Rule{Service: "grafana", Port: 3000, Proto: TCP, Scope: ScopeSubnet},
	); err != nil {
		t.Fatal(err)
	}

	policies := table.PolicyCommands()
	allows := table.AllowCommands()
	if len(policies) != 2 {
		t.Fatalf("policy commands = %d, want 2", len(policies))
	}
	if len(allows) != 2 {
		t.Fatalf("allow commands = %d, want 2", len(allows))
	}
	for _, cmd := range allows {
		if !strings.HasPrefix(cmd, "ufw allow") {
			t.Errorf("allow command %q carries a policy", cmd)
		}
	}

	all := table.Commands()
	if len(all) != len(policies)+len(allows) {
		t.Errorf("Commands() = %d entries, want %d", len(all), len(policies)+len(allows))
	}
}

func TestSubnetScopedCommand(t *testing.T) {
	table := NewTable("10.0.0.0/24")
	if err := table.Add(Rule{Service: "grafana", Port: 3000, Proto: TCP, Scope: ScopeSubnet}); err != nil {
		t.Fatal(err)
	}

	cmds := table.Commands()
	want := "ufw allow from 10.0.0.0/24 to any port 3000 proto tcp comment 'grafana'"
	if cmds[2] != want {
		t.Errorf("allow command = %q, want %q", cmds[2], want)
	}
}

func TestStringShowsScope(t *testing.T) {
	table := NewTable("10.0.0.0/24")
	if err := table.Add(
		Rule{Service: "ssh", Port: 2312, Proto: TCP, Scope: ScopeAnywhere},
		Rule{Service: "grafana", Port: 3000, Proto: TCP, Scope: ScopeSubnet},
	); err != nil {
		t.Fatal(err)
	}

	out := table.String()
	if !strings.Contains(out, "anywhere") {
		t.Errorf("output missing anywhere scope:\n%s", out)
	}
	if !strings.Contains(out, "10.0.0.0/24") {
		t.Errorf("output missing subnet scope:\n%s", out)
	}
}
