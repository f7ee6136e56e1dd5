package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/jobs"
)

func newPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview DEVICE_ID",
		Short: "Render a device's configuration without deploying it",
		Long: `Render the configuration a deploy job would send, including the vendor
wrapper, and run the policy guard over it. Nothing is sent to the device.`,
		Example: `  ztp preview 12
  ztp preview 12 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "device")
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			guard, err := newGuard(cmd.Context(), s.cfg, s.logger)
			if err != nil {
				return err
			}
			eng := newJobEngine(s.cfg, s.store, newRunner(s.cfg, s.logger), guard, s.logger)

			plan, err := eng.Preview(cmd.Context(), id)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), plan, func(w io.Writer) error {
				return printPlan(w, plan)
			})
		},
	}
}

func printPlan(w io.Writer, plan *jobs.Plan) error {
	fmt.Fprintf(w, "# template: %s", plan.TemplateID)
	if plan.RoleTemplateID != "" {
		fmt.Fprintf(w, " (role: %s)", plan.RoleTemplateID)
	}
	fmt.Fprintln(w)

	mode := "exec"
	if plan.Interactive {
		mode = "interactive"
	}
	fmt.Fprintf(w, "# mode: %s\n", mode)
	fmt.Fprintln(w, plan.Payload)

	if plan.Policy == nil {
		return nil
	}
	for _, v := range plan.Policy.Violations {
		fmt.Fprintf(w, "# %s [%s]: %s\n", v.Severity, v.Policy, v.Message)
	}
	if !plan.Policy.Allowed {
		fmt.Fprintln(w, "# deploy would be denied by policy")
	}
	return nil
}
