package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/transports/ssh"
)

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ping DEVICE_ID",
		Short:   "Check that a device accepts connections on the SSH port",
		Example: `  ztp ping 12`,
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

			device, err := s.store.GetDevice(cmd.Context(), id)
			if err != nil {
				return err
			}
			if device.IP == "" {
				return engine.NewValidationError("device has no IP address", nil).WithResource(fmt.Sprintf("device/%d", id))
			}

			if err := ssh.Ping(cmd.Context(), device.IP, s.cfg.SSH.Port); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is reachable\n", device.Hostname, device.IP)
			return nil
		},
	}
}
