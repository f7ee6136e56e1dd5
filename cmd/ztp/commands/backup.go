package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Device configuration backups",
	}

	cmd.AddCommand(newBackupRunCommand())
	cmd.AddCommand(newBackupListCommand())

	return cmd
}

func newBackupRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run DEVICE_ID",
		Short: "Back up a device now, skipping the lease delay",
		Long: `Fetch a device's running configuration and write it to the backup directory.

Failed attempts are retried with a growing pause. When every attempt fails the device
is marked offline with the last error.`,
		Example: `  ztp backup run 12`,
		Args:    cobra.ExactArgs(1),
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

			eng := newBackupEngine(s.cfg, s.store, newRunner(s.cfg, s.logger), s.logger)
			result, err := eng.Run(cmd.Context(), id)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s (%d bytes, %d attempt(s))\n", result.Path, result.Size, result.Attempts)
				return err
			})
		},
	}
}

func newBackupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list DEVICE_ID",
		Short: "List a device's backups, newest first",
		Args:  cobra.ExactArgs(1),
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

			list, err := s.store.ListBackupsByDevice(cmd.Context(), id)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), list, func(w io.Writer) error {
				for _, b := range list {
					fmt.Fprintf(w, "%s\t%d\t%s\n", b.Filename, b.Size, b.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}
