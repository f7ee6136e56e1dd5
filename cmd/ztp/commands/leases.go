package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/leases"
)

func newLeasesCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Print the leases in the dnsmasq lease file",
		Example: `  ztp leases
  ztp leases --file /tmp/dnsmasq.leases --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Leases.Path
			}

			list, err := leases.NewWatcher(leases.Config{Path: path}, log.Logger).Read()
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), list, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MAC\tIP\tHOSTNAME\tEXPIRES\tVENDOR")
				for _, l := range list {
					expires := "never"
					if l.ExpiryTime > 0 {
						expires = time.Unix(l.ExpiryTime, 0).UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.MAC, l.IP, l.Hostname, expires, l.Vendor)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "lease file (defaults to leases.path)")

	return cmd
}
