// Package policy provides the Open Policy Agent (OPA) guard that runs between
// rendering a device configuration and deploying it.
//
// Every policy sees the same input document:
//
//	{
//	  "device": { ...the device row... },
//	  "config": "hostname sw1\n...",
//	  "lines":  ["hostname sw1", "..."]
//	}
//
// and contributes to a deny set in its own package:
//
//	package site.ntp
//
//	import rego.v1
//
//	deny contains violation if {
//	    not contains(input.config, "ntp server")
//	    violation := {"message": "no ntp server configured", "severity": "error"}
//	}
//
// A violation is a string or an object with message and severity. A deploy is denied
// when any violation has severity error or critical.
//
// # Built-in Policies
//
//   - non-empty-config (error)
//   - no-unrendered-placeholders (error): the output contains "<no value>"
//   - hostname-present (warning)
//   - plaintext-secrets (warning)
//
// # Loading Policies
//
// Engine.LoadPolicies reads .rego and .json files from files or directories. A .rego
// file is named after its base name and may carry a "# severity: error" header that
// sets the default for violations without one. Engine.Watch reloads the set after
// changes, debounced by ReloadDebounce.
package policy
