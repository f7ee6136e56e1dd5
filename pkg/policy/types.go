package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/ztpkit/ztpkit/pkg/stores"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block a deploy.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the deploy.
	SeverityError Severity = "error"

	// SeverityCritical blocks the deploy.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the deploy.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set in its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that carry none.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies compiled into the binary.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Input is the document policies see as `input`.
type Input struct {
	Device *stores.Device `json:"device"`
	Config string         `json:"config"`
	Lines  []string       `json:"lines"`
}

// NewInput builds the input for a rendered configuration.
func NewInput(device *stores.Device, config string) *Input {
	return &Input{
		Device: device,
		Config: config,
		Lines:  strings.Split(strings.ReplaceAll(config, "\r\n", "\n"), "\n"),
	}
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource identifies the device, e.g. "device/12".
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any error or critical violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists every violation, blocking or not, ordered by policy name.
	Violations []Violation `json:"violations,omitempty"`

	// Failures lists policies that could not be evaluated.
	Failures []string `json:"failures,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the deploy.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the violations that do not deny the deploy.
func (r *Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if !v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Summary joins the blocking violations into one line for job error messages.
func (r *Result) Summary() string {
	blocking := r.Blocking()
	parts := make([]string, 0, len(blocking))
	for _, v := range blocking {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return strings.Join(parts, "; ")
}
