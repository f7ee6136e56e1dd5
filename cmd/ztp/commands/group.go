package commands

import (
	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/resolver"
)

func newGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group hierarchy management",
	}

	cmd.AddCommand(newGroupReparentCommand())

	return cmd
}

func newGroupReparentCommand() *cobra.Command {
	var parent int64

	cmd := &cobra.Command{
		Use:   "reparent GROUP_ID",
		Short: "Move a group under a new parent",
		Long: `Move a group under a new parent group. Without --parent the group is attached
directly to "all". Moves that would create a cycle are rejected.`,
		Example: `  ztp group reparent 7 --parent 3
  ztp group reparent 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "group")
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var parentID *int64
			if parent > 0 {
				parentID = &parent
			}
			if err := resolver.New(s.store).Reparent(cmd.Context(), id, parentID); err != nil {
				return err
			}

			s.logger.Info().Int64("group_id", id).Int64("parent_id", parent).Msg("Group reparented")
			return nil
		},
	}

	cmd.Flags().Int64Var(&parent, "parent", 0, "new parent group id (defaults to all)")

	return cmd
}
