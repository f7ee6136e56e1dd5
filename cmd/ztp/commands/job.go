package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/jobs"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

func newJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect jobs",
		Long: `Jobs run a command on a device or deploy its rendered configuration.

Jobs created by other processes are executed by "ztp serve". These commands run a
job in the foreground or inspect stored jobs.`,
	}

	cmd.AddCommand(newJobRunCommand())
	cmd.AddCommand(newJobShowCommand())
	cmd.AddCommand(newJobListCommand())

	return cmd
}

func newJobRunCommand() *cobra.Command {
	var (
		deviceID     int64
		kind         string
		command      string
		credentialID int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a job and execute it in the foreground",
		Example: `  # Run a command
  ztp job run --device 12 --kind command --command "show version"

  # Deploy the rendered configuration with a stored credential
  ztp job run --device 12 --kind deploy --credential 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			guard, err := newGuard(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			eng := newJobEngine(s.cfg, s.store, newRunner(s.cfg, s.logger), guard, s.logger)

			req := jobs.JobRequest{
				Kind:        stores.JobKind(strings.ToLower(kind)),
				DeviceID:    deviceID,
				Command:     command,
				TriggeredBy: "cli",
			}
			if credentialID > 0 {
				req.CredentialID = &credentialID
			}

			job, err := eng.CreateJob(ctx, req)
			if err != nil {
				return err
			}

			job, err = eng.Run(ctx, job.ID)
			if err != nil {
				return err
			}

			if err := render(cmd.OutOrStdout(), job, func(w io.Writer) error {
				return printJob(w, job)
			}); err != nil {
				return err
			}
			if job.Status == stores.JobStatusFailed {
				return fmt.Errorf("job %s failed", job.ID)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&deviceID, "device", 0, "device id")
	cmd.Flags().StringVar(&kind, "kind", string(stores.JobKindCommand), "job kind (command, deploy)")
	cmd.Flags().StringVar(&command, "command", "", "command to run for command jobs")
	cmd.Flags().Int64Var(&credentialID, "credential", 0, "stored credential id to use first")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func newJobShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a job and its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			job, err := s.store.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), job, func(w io.Writer) error {
				return printJob(w, job)
			})
		},
	}
}

func newJobListCommand() *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by status",
		Example: `  # Jobs that have not finished
  ztp job list

  # Failed jobs
  ztp job list --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			filter := make([]stores.JobStatus, 0, len(statuses))
			for _, st := range statuses {
				filter = append(filter, stores.JobStatus(strings.ToLower(st)))
			}

			list, err := s.store.ListJobsByStatus(cmd.Context(), filter...)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), list, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tDEVICE\tSTATUS\tCREATED")
				for _, j := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", j.ID, j.Kind, j.DeviceID, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(stores.JobStatusQueued), string(stores.JobStatusRunning)}, "statuses to list")

	return cmd
}

func printJob(w io.Writer, job *stores.Job) error {
	fmt.Fprintf(w, "job %s (%s) on device %d: %s\n", job.ID, job.Kind, job.DeviceID, job.Status)
	if job.Error != nil {
		fmt.Fprintf(w, "error: %s\n", *job.Error)
	}
	if job.Output != nil && *job.Output != "" {
		fmt.Fprintln(w, strings.TrimRight(*job.Output, "\n"))
	}
	return nil
}
