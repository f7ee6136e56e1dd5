package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		nonEmptyConfigPolicy(),
		unrenderedPlaceholdersPolicy(),
		hostnamePresentPolicy(),
		plaintextSecretsPolicy(),
	}
}

// nonEmptyConfigPolicy rejects a render that produced nothing but whitespace.
func nonEmptyConfigPolicy() Policy {
	return Policy{
		Name:        "non-empty-config",
		Description: "Rendered configuration must not be empty",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"render"},
		Rego: `package ztp.policies.nonempty

import rego.v1

deny contains violation if {
	trim_space(input.config) == ""
	violation := {
		"message": "rendered configuration is empty",
		"severity": "error",
	}
}`,
	}
}

// unrenderedPlaceholdersPolicy catches template keys that were missing from the
// render context. text/template prints them as "<no value>".
func unrenderedPlaceholdersPolicy() Policy {
	return Policy{
		Name:        "no-unrendered-placeholders",
		Description: "Rendered configuration must not contain unresolved template keys",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"render"},
		Rego: `package ztp.policies.placeholders

import rego.v1

deny contains violation if {
	some i, line in input.lines
	contains(line, "<no value>")
	violation := {
		"message": sprintf("line %d has an unrendered placeholder: %s", [i + 1, trim_space(line)]),
		"severity": "error",
	}
}`,
	}
}

func hostnamePresentPolicy() Policy {
	return Policy{
		Name:        "hostname-present",
		Description: "Rendered configuration should set the device hostname",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"identity"},
		Rego: `package ztp.policies.hostname

import rego.v1

deny contains violation if {
	hostname := input.device.hostname
	hostname != ""
	not contains(input.config, hostname)
	violation := {
		"message": sprintf("rendered configuration does not mention hostname %s", [hostname]),
		"severity": "warning",
	}
}`,
	}
}

// plaintextSecretsPolicy flags password and secret lines that are not hashed. Type
// 5/7/8/9 secrets, crypt-style hashes and "encrypted" keywords are accepted.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "plaintext-secrets",
		Description: "Passwords and secrets should not be deployed in clear text",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security"},
		Rego: `package ztp.policies.secrets

import rego.v1

deny contains violation if {
	some i, line in input.lines
	regex.match("(?i)\\b(password|secret)\\s+(0\\s+)?[^\\s$\"]", line)
	not hashed(line)
	violation := {
		"message": sprintf("line %d appears to carry a plaintext secret", [i + 1]),
		"severity": "warning",
	}
}

hashed(line) if {
	regex.match("(?i)encrypted", line)
}

hashed(line) if {
	regex.match("\\$[0-9a-zA-Z]+\\$", line)
}

hashed(line) if {
	regex.match("(?i)\\b(password|secret)\\s+[5789]\\s", line)
}`,
	}
}
