// Package credentials resolves SSH logins through an ordered fallback chain.
package credentials

import (
	"strings"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

// Credentials is an SSH username/password pair tagged with where it came from.
type Credentials struct {
	User     string
	Password string
	Source   string
}

// Usable reports whether both user and password are set.
func (c Credentials) Usable() bool {
	return strings.TrimSpace(c.User) != "" && c.Password != ""
}

// First returns the first usable candidate. When none is usable it returns a
// credential-unavailable error naming every source that was tried.
func First(candidates ...Credentials) (Credentials, error) {
	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Usable() {
			return c, nil
		}
		tried = append(tried, c.Source)
	}
	return Credentials{}, engine.NewCredentialError(
		"no SSH credentials resolved (tried: "+strings.Join(tried, ", ")+")", nil)
}

// FromDevice returns the device's own credentials.
func FromDevice(d *stores.Device) Credentials {
	if d == nil {
		return Credentials{Source: "device"}
	}
	return Credentials{User: deref(d.SSHUser), Password: deref(d.SSHPass), Source: "device"}
}

// FromVendor returns the vendor's default credentials.
func FromVendor(v *stores.Vendor) Credentials {
	if v == nil {
		return Credentials{Source: "vendor"}
	}
	return Credentials{User: deref(v.SSHUser), Password: deref(v.SSHPass), Source: "vendor"}
}

// FromSettings returns the global default credentials.
func FromSettings(s *stores.Settings) Credentials {
	if s == nil {
		return Credentials{Source: "global"}
	}
	return Credentials{User: s.DefaultSSHUser, Password: s.DefaultSSHPass, Source: "global"}
}

// FromStored returns a named stored credential.
func FromStored(c *stores.Credential) Credentials {
	if c == nil {
		return Credentials{Source: "credential"}
	}
	return Credentials{User: c.Username, Password: c.Password, Source: "credential:" + c.Name}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
