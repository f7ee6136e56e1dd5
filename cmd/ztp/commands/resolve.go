package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/resolver"
)

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve DEVICE_ID",
		Short: "Show a device's resolved variables and where each came from",
		Long: `Resolve a device's variables through its group hierarchy.

Layers are applied from "all", through each group ordered by depth, precedence and
name, to the device's own variables. The SOURCE column names the last layer that set
each key.`,
		Example: `  ztp resolve 12
  ztp resolve 12 --json`,
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

			result, err := resolver.New(s.store).Resolve(cmd.Context(), id)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), result, func(w io.Writer) error {
				return printResolved(w, result)
			})
		},
	}
}

func printResolved(w io.Writer, result *resolver.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")

	resolved := append([]resolver.ResolvedVariable(nil), result.Resolved...)
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Key < resolved[j].Key })
	for _, v := range resolved {
		fmt.Fprintf(tw, "%s\t%s\t%s:%s\n", v.Key, v.Value, v.SourceType, v.SourceName)
	}
	return tw.Flush()
}
