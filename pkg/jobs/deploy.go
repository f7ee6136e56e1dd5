package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/ztpkit/ztpkit/pkg/credentials"
	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/policy"
	"github.com/ztpkit/ztpkit/pkg/render"
	"github.com/ztpkit/ztpkit/pkg/resolver"
	"github.com/ztpkit/ztpkit/pkg/stores"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

// ConfigPlaceholder is replaced by the rendered configuration in a vendor's deploy
// wrapper.
const ConfigPlaceholder = "{{CONFIG}}"

// Plan is a rendered deploy: what would be sent to a device and how.
type Plan struct {
	Device         *stores.Device   `json:"device"`
	Vendor         *stores.Vendor   `json:"vendor,omitempty"`
	TemplateID     string           `json:"template_id"`
	RoleTemplateID string           `json:"role_template_id,omitempty"`
	Variables      *resolver.Result `json:"variables"`
	Config         string           `json:"config"`

	// Payload is Config, substituted into the vendor wrapper when Interactive.
	Payload     string `json:"payload"`
	Interactive bool   `json:"interactive"`

	// Policy is nil when no guard is attached or the guard could not run.
	Policy *policy.Result `json:"policy,omitempty"`
}

// Preview renders a device's configuration without deploying it. Render and lookup
// errors are returned as is; policy violations are reported in the plan.
func (e *Engine) Preview(ctx context.Context, deviceID int64) (*Plan, error) {
	device, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return e.prepare(ctx, device)
}

func (e *Engine) runDeploy(ctx context.Context, job *stores.Job) (string, error) {
	device, err := e.store.GetDevice(ctx, job.DeviceID)
	if err != nil {
		return "", err
	}

	plan, err := e.prepare(ctx, device)
	if err != nil {
		return "", err
	}

	if plan.Policy != nil && len(plan.Policy.Violations) > 0 {
		messages := make([]string, 0, len(plan.Policy.Violations))
		for _, v := range plan.Policy.Violations {
			messages = append(messages, v.Policy+": "+v.Message)
		}
		e.publish(telemetry.NewPolicyViolationEvent(job.ID, device.ID, !plan.Policy.Allowed, messages))

		if !plan.Policy.Allowed {
			return "", engine.NewValidationError("rendered configuration denied by policy: "+plan.Policy.Summary(), nil).
				WithCode(engine.ErrCodePolicyDenied).
				WithResource(fmt.Sprintf("device/%d", device.ID))
		}
	}

	target, err := e.target(ctx, job, device, plan.Vendor)
	if err != nil {
		return "", err
	}

	var output string
	if plan.Interactive {
		output, err = e.runner.RunInteractive(ctx, target, plan.Payload)
	} else {
		output, err = e.runner.RunCommand(ctx, target, plan.Payload)
	}
	if err != nil {
		return output, err
	}

	if err := e.store.UpdateDeviceStatus(ctx, device.ID, stores.DeviceStatusOnline, nil); err != nil {
		return output, err
	}
	e.publish(telemetry.NewDeviceStatusEvent("jobs", device.ID, device.MAC, string(stores.DeviceStatusOnline)))

	return output, nil
}

// prepare picks the template, resolves variables, renders and runs the guard.
func (e *Engine) prepare(ctx context.Context, device *stores.Device) (*Plan, error) {
	vendor, err := e.vendorOf(ctx, device)
	if err != nil {
		return nil, err
	}

	templateID := deref(device.ConfigTemplateID)
	if templateID == "" && vendor != nil {
		templateID = deref(vendor.DefaultTemplateID)
	}
	if templateID == "" {
		return nil, engine.NewNotFoundError("no config template assigned to device or vendor", nil).
			WithResource(fmt.Sprintf("device/%d", device.ID))
	}

	tmpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Device: device, Vendor: vendor, TemplateID: tmpl.ID}

	var roleContent string
	if role := deref(device.TopologyRole); role != "" {
		roleTmpl, err := e.store.GetTemplate(ctx, render.RoleTemplateID(tmpl.ID, role))
		switch {
		case err == nil:
			roleContent = roleTmpl.Content
			plan.RoleTemplateID = roleTmpl.ID
		case !engine.IsNotFound(err):
			return nil, err
		}
	}

	vars, err := e.resolver.Resolve(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	plan.Variables = vars

	vendorName := ""
	if vendor != nil {
		vendorName = vendor.Name
		if vendorName == "" {
			vendorName = vendor.ID
		}
	}

	plan.Config, err = e.renderer.Render(tmpl.ID, tmpl.Content, roleContent, render.NewContext(device, vendorName, vars.Variables))
	if err != nil {
		return nil, err
	}

	plan.Payload = plan.Config
	if vendor != nil && strings.TrimSpace(deref(vendor.DeployCommand)) != "" {
		plan.Payload = wrap(*vendor.DeployCommand, plan.Config)
		plan.Interactive = true
	}

	if e.guard != nil {
		result, err := e.guard.EvaluateConfig(ctx, device, plan.Config)
		if err != nil {
			e.logger.Warn().Err(err).Int64("device_id", device.ID).Msg("Policy guard unavailable, deploying unchecked")
		} else {
			plan.Policy = result
		}
	}

	return plan, nil
}

// target resolves the SSH endpoint and login for a job. A job credential comes first,
// then the device, vendor and global defaults.
func (e *Engine) target(ctx context.Context, job *stores.Job, device *stores.Device, vendor *stores.Vendor) (engine.Target, error) {
	if strings.TrimSpace(device.IP) == "" {
		return engine.Target{}, engine.NewValidationError("device has no IP address", nil).
			WithResource(fmt.Sprintf("device/%d", device.ID))
	}

	candidates := make([]credentials.Credentials, 0, 4)
	if job != nil && job.CredentialID != nil {
		stored, err := e.store.GetCredential(ctx, *job.CredentialID)
		switch {
		case err == nil:
			candidates = append(candidates, credentials.FromStored(stored))
		case engine.IsNotFound(err):
			e.logger.Warn().Int64("credential_id", *job.CredentialID).Str("job_id", job.ID).
				Msg("Job credential not found, falling back")
		default:
			return engine.Target{}, err
		}
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return engine.Target{}, err
	}

	candidates = append(candidates,
		credentials.FromDevice(device),
		credentials.FromVendor(vendor),
		credentials.FromSettings(settings),
	)

	creds, err := credentials.First(candidates...)
	if err != nil {
		if ce, ok := err.(*engine.Error); ok {
			return engine.Target{}, ce.WithResource(fmt.Sprintf("device/%d", device.ID))
		}
		return engine.Target{}, err
	}

	return engine.Target{
		Host:     device.IP,
		Port:     e.cfg.SSHPort,
		User:     creds.User,
		Password: creds.Password,
	}, nil
}

// vendorOf loads the device's vendor. A device without one, or whose vendor row is
// gone, has a nil vendor.
func (e *Engine) vendorOf(ctx context.Context, device *stores.Device) (*stores.Vendor, error) {
	id := deref(device.VendorID)
	if id == "" {
		return nil, nil
	}
	vendor, err := e.store.GetVendor(ctx, id)
	if engine.IsNotFound(err) {
		return nil, nil
	}
	return vendor, err
}

// wrap substitutes config into a vendor deploy wrapper. A wrapper without the
// placeholder gets the config appended on its own lines.
func wrap(wrapper, config string) string {
	if strings.Contains(wrapper, ConfigPlaceholder) {
		return strings.ReplaceAll(wrapper, ConfigPlaceholder, config)
	}
	return strings.TrimRight(wrapper, "\n") + "\n" + config
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
