package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/acctl/output"
	"github.com/telekom/acctl/pkg/platform"
	"github.com/telekom/acctl/pkg/sdk"
)

// platformCall resolves the runtime, the SDK and the account selected by
// --account for commands that talk to the platform.
func platformCall(cmd *cobra.Command) (*runtimeState, *sdk.SDK, *account.Account, error) {
	rt, err := getRuntime(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := rt.SDK()
	if err != nil {
		return nil, nil, nil, err
	}
	if s.Platform == nil {
		return nil, nil, nil, fmt.Errorf("profile has no platformUrl configured")
	}
	name, _ := cmd.Flags().GetString("account")
	acct, err := selectAccount(cmd.Context(), s, name)
	if err != nil {
		return nil, nil, nil, err
	}
	return rt, s, acct, nil
}

func render(rt *runtimeState, obj any, table func(io.Writer)) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	return output.Write(rt.Writer(), format, obj, table)
}

func NewOrgCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Inspect and manage organizations",
	}
	cmd.PersistentFlags().String("account", "", "Account name")
	cmd.AddCommand(
		newOrgListCommand(),
		newOrgViewCommand(),
		newOrgReportCommand("activity", "Show the activity of an organization", func(ctx context.Context, s *sdk.SDK, acct *account.Account, org string, r platform.DateRange) (any, func(io.Writer), error) {
			a, err := s.Org.Activity(ctx, acct, org, r)
			if err != nil {
				return nil, nil, err
			}
			return a, func(w io.Writer) { output.WriteActivityTable(w, a) }, nil
		}),
		newOrgReportCommand("usage", "Show the usage of an organization", func(ctx context.Context, s *sdk.SDK, acct *account.Account, org string, r platform.DateRange) (any, func(io.Writer), error) {
			u, err := s.Org.Usage(ctx, acct, org, r)
			if err != nil {
				return nil, nil, err
			}
			return u, func(w io.Writer) { output.WriteUsageTable(w, u) }, nil
		}),
		newOrgRenameCommand(),
		newOrgEnvironmentsCommand(),
	)
	return cmd
}

func newOrgListCommand() *cobra.Command {
	var defaultOrg string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the organizations of the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			orgs, err := s.Org.List(cmd.Context(), acct, defaultOrg)
			if err != nil {
				return err
			}
			return render(rt, orgs, func(w io.Writer) { output.WriteOrgTable(w, orgs) })
		},
	}
	cmd.Flags().StringVar(&defaultOrg, "default-org", "", "Organization to flag as default")
	return cmd
}

func newOrgViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view [org]",
		Short: "Show an organization and its children",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			org, err := s.Org.Family(cmd.Context(), acct, firstArg(args))
			if err != nil {
				return err
			}
			return render(rt, org, func(w io.Writer) { output.WriteOrgDetails(w, org) })
		},
	}
}

type reportFunc func(ctx context.Context, s *sdk.SDK, acct *account.Account, org string, r platform.DateRange) (any, func(io.Writer), error)

func newOrgReportCommand(use, short string, run reportFunc) *cobra.Command {
	var r platform.DateRange
	cmd := &cobra.Command{
		Use:   use + " [org]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			obj, table, err := run(cmd.Context(), s, acct, firstArg(args), r)
			if err != nil {
				return err
			}
			return render(rt, obj, table)
		},
	}
	cmd.Flags().StringVar(&r.From, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&r.To, "to", "", "End date (YYYY-MM-DD)")
	return cmd
}

func newOrgRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <org> <name>",
		Short: "Rename an organization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			org, err := s.Org.Rename(cmd.Context(), acct, args[0], args[1])
			if err != nil {
				return err
			}
			return render(rt, org, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "Renamed organization %s to %q\n", org.GUID, org.Name)
			})
		},
	}
}

func newOrgEnvironmentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "environments",
		Aliases: []string{"envs"},
		Short:   "List the environments of the current organization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, s, acct, err := platformCall(cmd)
			if err != nil {
				return err
			}
			envs, err := s.Org.Environments(cmd.Context(), acct)
			if err != nil {
				return err
			}
			return render(rt, envs, func(w io.Writer) { output.WriteEnvironmentTable(w, envs) })
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
