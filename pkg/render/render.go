// Package render turns a device configuration template into the text deployed to the
// device.
package render

import (
	"fmt"
	"reflect"
	"strings"
	"text/template"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

// RoleTemplateName is the sub-template every render has defined. It holds the
// role-specific override and is empty when the device has none.
const RoleTemplateName = "role"

// Context keys available to templates.
const (
	KeyHostname     = "Hostname"
	KeyMAC          = "MAC"
	KeyIP           = "IP"
	KeyVendor       = "Vendor"
	KeyModel        = "Model"
	KeySerialNumber = "SerialNumber"
	KeyTopologyID   = "TopologyId"
	KeyTopologyRole = "TopologyRole"
	KeySubnet       = "Subnet"
	KeyGateway      = "Gateway"
	KeyVars         = "vars"
)

// NewContext builds the fixed template context for a device. vendor is the vendor's
// display name, or its id when the name is unknown.
func NewContext(device *stores.Device, vendor string, vars map[string]string) map[string]interface{} {
	if vars == nil {
		vars = map[string]string{}
	}
	return map[string]interface{}{
		KeyHostname:     device.Hostname,
		KeyMAC:          device.MAC,
		KeyIP:           device.IP,
		KeyVendor:       vendor,
		KeyModel:        device.Model,
		KeySerialNumber: device.SerialNumber,
		KeyTopologyID:   deref(device.TopologyID),
		KeyTopologyRole: deref(device.TopologyRole),
		KeySubnet:       deref(device.Subnet),
		KeyGateway:      deref(device.Gateway),
		KeyVars:         vars,
	}
}

// Renderer executes configuration templates with a fixed helper set.
type Renderer struct {
	funcs template.FuncMap
}

// New creates a renderer.
func New() *Renderer {
	return &Renderer{
		funcs: template.FuncMap{
			"default": defaultValue,
			"upper":   strings.ToUpper,
			"lower":   strings.ToLower,
			"indent":  indent,
			"trim":    strings.TrimSpace,
		},
	}
}

// Render executes content with data. role is parsed as the "role" sub-template after
// content, so a non-empty role replaces any {{define "role"}} block in content.
// Missing map keys render as their zero value.
func (r *Renderer) Render(name, content, role string, data map[string]interface{}) (string, error) {
	t := template.New(name).Option("missingkey=zero")

	funcs := template.FuncMap{}
	for k, v := range r.funcs {
		funcs[k] = v
	}
	funcs["include"] = func(tmpl string, data interface{}) (string, error) {
		var b strings.Builder
		if err := t.ExecuteTemplate(&b, tmpl, data); err != nil {
			return "", err
		}
		return b.String(), nil
	}
	t.Funcs(funcs)

	if _, err := t.Parse(content); err != nil {
		return "", engine.NewRenderError("failed to parse template", err).WithResource("template/" + name)
	}
	if _, err := t.New(RoleTemplateName).Parse(role); err != nil {
		return "", engine.NewRenderError("failed to parse role template", err).WithResource("template/" + name)
	}

	var out strings.Builder
	if err := t.ExecuteTemplate(&out, name, data); err != nil {
		return "", engine.NewRenderError("failed to render template", err).WithResource("template/" + name)
	}

	return out.String(), nil
}

// defaultValue returns given unless it is empty, in which case def is returned.
// It is written for pipelines: {{ .vars.ntp | default "pool.ntp.org" }}.
func defaultValue(def interface{}, given ...interface{}) interface{} {
	if len(given) == 0 || isEmpty(given[0]) {
		return def
	}
	return given[0]
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}

// indent prefixes every non-empty line of s with n spaces.
func indent(n int, s string) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RoleTemplateID returns the id of the role override for a base template.
func RoleTemplateID(templateID, role string) string {
	return fmt.Sprintf("%s-%s", templateID, role)
}
