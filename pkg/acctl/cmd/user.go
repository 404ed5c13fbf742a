package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/acctl/pkg/acctl/output"
	"github.com/telekom/acctl/pkg/platform"
)

func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage organization members",
	}
	cmd.PersistentFlags().String("account", "", "Account name")
	cmd.PersistentFlags().String("org", "", "Organization id, guid or name (defaults to the current org)")
	cmd.AddCommand(
		newUserListCommand(),
		newUserAddCommand(),
		newUserUpdateCommand(),
		newUserRemoveCommand(),
	)
	return cmd
}

func orgFlag(cmd *cobra.Command) string {
	org, _ := cmd.Flags().GetString("org")
	return org
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the members of an organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			users, err := s.User.List(cmd.Context(), acct, orgFlag(cmd))
			if err != nil {
				return err
			}
			return render(rt, users, func(w io.Writer) { output.WriteUserTable(w, users) })
		},
	}
}

func writeUser(rt *runtimeState, user *platform.OrgUser, verb string) error {
	return render(rt, user, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "%s %s (%s)\n", verb, user.Email, user.GUID)
	})
}

func newUserAddCommand() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Invite a user to an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			user, err := s.User.Add(cmd.Context(), acct, orgFlag(cmd), args[0], roles)
			if err != nil {
				return err
			}
			return writeUser(rt, user, "Added")
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to assign (repeatable)")
	return cmd
}

func newUserUpdateCommand() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "update <user>",
		Short: "Replace the roles of an organization member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			user, err := s.User.Update(cmd.Context(), acct, orgFlag(cmd), args[0], roles)
			if err != nil {
				return err
			}
			return writeUser(rt, user, "Updated")
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to assign (repeatable)")
	return cmd
}

func newUserRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user>",
		Short: "Remove a member from an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			user, err := s.User.Remove(cmd.Context(), acct, orgFlag(cmd), args[0])
			if err != nil {
				return err
			}
			return writeUser(rt, user, "Removed")
		},
	}
}

func NewRoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect platform roles",
	}
	cmd.PersistentFlags().String("account", "", "Account name")
	var filter platform.RoleFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List the roles that can be assigned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			roles, err := s.Role.List(cmd.Context(), acct, filter)
			if err != nil {
				return err
			}
			return render(rt, roles, func(w io.Writer) { output.WriteRoleTable(w, roles) })
		},
	}
	list.Flags().BoolVar(&filter.Team, "team", false, "Only roles assignable within a team")
	cmd.AddCommand(list)
	return cmd
}
