package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/stores"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testDevice() *stores.Device {
	return &stores.Device{ID: 7, MAC: "aa:bb:cc:dd:ee:ff", Hostname: "sw1", IP: "10.0.0.5"}
}

func violationsFor(result *Result, policy string) []Violation {
	var out []Violation
	for _, v := range result.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"hostname-present",
		"no-unrendered-placeholders",
		"non-empty-config",
		"plaintext-secrets",
	}

	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %s at %d, got %s", name, i, policies[i].Name)
		}
		if !policies[i].Builtin {
			t.Errorf("Expected %s to be marked built-in", name)
		}
	}
}

func TestEvaluateConfig_Clean(t *testing.T) {
	eng := newTestEngine(t)

	config := "hostname sw1\ninterface ge-0/0/0\n  description uplink\n"
	result, err := eng.EvaluateConfig(context.Background(), testDevice(), config)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected clean config to be allowed, got %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("Expected 4 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestEvaluateConfig_BuiltinViolations(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		config        string
		policy        string
		expectAllowed bool
		severity      Severity
	}{
		{
			name:          "empty config",
			config:        "  \n\t\n",
			policy:        "non-empty-config",
			expectAllowed: false,
			severity:      SeverityError,
		},
		{
			name:          "unrendered placeholder",
			config:        "hostname sw1\nntp server <no value>\n",
			policy:        "no-unrendered-placeholders",
			expectAllowed: false,
			severity:      SeverityError,
		},
		{
			name:          "hostname missing",
			config:        "interface ge-0/0/0\n",
			policy:        "hostname-present",
			expectAllowed: true,
			severity:      SeverityWarning,
		},
		{
			name:          "plaintext password",
			config:        "hostname sw1\nusername admin password 0 cisco123\n",
			policy:        "plaintext-secrets",
			expectAllowed: true,
			severity:      SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateConfig(context.Background(), testDevice(), tt.config)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (%+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}

			found := violationsFor(result, tt.policy)
			if len(found) == 0 {
				t.Fatalf("Expected a %s violation, got %+v", tt.policy, result.Violations)
			}
			if found[0].Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, found[0].Severity)
			}
			if found[0].Resource != "device/7" {
				t.Errorf("Expected resource device/7, got %s", found[0].Resource)
			}
		})
	}
}

func TestEvaluateConfig_PlaceholderLineNumbers(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateConfig(context.Background(), testDevice(), "hostname sw1\nok\nsnmp <no value>\r\nlog <no value>")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	found := violationsFor(result, "no-unrendered-placeholders")
	if len(found) != 2 {
		t.Fatalf("Expected two placeholder violations, got %+v", found)
	}
	if !strings.HasPrefix(found[0].Message, "line 3") || !strings.HasPrefix(found[1].Message, "line 4") {
		t.Errorf("Unexpected messages: %q, %q", found[0].Message, found[1].Message)
	}

	if !strings.Contains(result.Summary(), "no-unrendered-placeholders: line 3") {
		t.Errorf("Unexpected summary %q", result.Summary())
	}
}

func TestEvaluateConfig_HashedSecrets(t *testing.T) {
	eng := newTestEngine(t)

	config := strings.Join([]string{
		"hostname sw1",
		"enable secret 9 $9$abcdef",
		"username admin secret 5 $1$xyz",
		`set system root-authentication encrypted-password "$6$salt$hash"`,
		"password 7 0822455D0A16",
	}, "\n")

	result, err := eng.EvaluateConfig(context.Background(), testDevice(), config)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if found := violationsFor(result, "plaintext-secrets"); len(found) != 0 {
		t.Errorf("Expected hashed secrets to pass, got %+v", found)
	}
}

func TestEvaluateConfig_NoDevice(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateConfig(context.Background(), nil, "hostname sw1\n")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed || len(result.Violations) != 0 {
		t.Errorf("Expected no violations without a device, got %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("non-empty-config"); err != nil {
		t.Fatalf("Failed to disable: %v", err)
	}

	result, err := eng.EvaluateConfig(context.Background(), testDevice(), "")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(violationsFor(result, "non-empty-config")) != 0 {
		t.Error("Disabled policy should not be evaluated")
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "non-empty-config" {
			t.Error("Disabled policy listed as evaluated")
		}
	}

	if err := eng.EnablePolicy("non-empty-config"); err != nil {
		t.Fatalf("Failed to enable: %v", err)
	}
	p, err := eng.GetPolicy("non-empty-config")
	if err != nil || !p.Enabled {
		t.Errorf("Expected policy to be enabled again, got %+v, %v", p, err)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

const ntpPolicy = `# Require an NTP server
# severity: error
package site.ntp

import rego.v1

deny contains msg if {
	not contains(input.config, "ntp server")
	msg := "no ntp server configured"
}`

func TestLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "ntp.rego"), []byte(ntpPolicy), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	result, err := eng.EvaluateConfig(context.Background(), testDevice(), "hostname sw1\n")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	found := violationsFor(result, "ntp")
	if len(found) != 1 {
		t.Fatalf("Expected one ntp violation, got %+v", result.Violations)
	}
	if found[0].Severity != SeverityError || result.Allowed {
		t.Errorf("Expected the file's severity header to block, got %+v", found[0])
	}

	// Reloading an empty set drops the loaded policy and keeps the built-ins.
	if err := eng.replaceLoaded(context.Background(), nil); err != nil {
		t.Fatalf("Failed to replace: %v", err)
	}
	if _, err := eng.GetPolicy("ntp"); err == nil {
		t.Error("Expected loaded policy to be removed")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected built-ins to remain, got %d policies", len(eng.ListPolicies()))
	}
}

func TestLoadPolicies_CompileErrorKeepsPreviousSet(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "ntp.rego"), []byte(ntpPolicy), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	broken := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(broken, []byte("package broken\n\ndeny contains if {"), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("ntp"); err != nil {
		t.Errorf("Expected previous policy set to survive a failed load: %v", err)
	}
}

func TestLoadPolicies_BuiltinNotShadowed(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.replaceLoaded(context.Background(), []Policy{{
		Name:     "non-empty-config",
		Rego:     "package shadow\n\nimport rego.v1\n\ndeny contains \"always\" if { true }",
		Severity: SeverityError,
		Enabled:  true,
	}})
	if err != nil {
		t.Fatalf("Failed to replace: %v", err)
	}

	p, err := eng.GetPolicy("non-empty-config")
	if err != nil || !p.Builtin {
		t.Errorf("Expected built-in to win, got %+v", p)
	}
}

func TestWatchReloadsPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}
	defer eng.StopWatching()

	if err := os.WriteFile(filepath.Join(dir, "ntp.rego"), []byte(ntpPolicy), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("ntp"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected watched policy to be loaded")
}
