package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/acctl/output"
	"github.com/telekom/acctl/pkg/auth"
	"github.com/telekom/acctl/pkg/sdk"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in, log out and inspect accounts",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthLogoutCommand(),
		newAuthListCommand(),
		newAuthWhoamiCommand(),
		newAuthSwitchCommand(),
		newAuthServerInfoCommand(),
	)
	return cmd
}

// selectAccount returns the named account, or the most recently stored
// account of the profile's client when name is empty.
func selectAccount(ctx context.Context, s *sdk.SDK, name string) (*account.Account, error) {
	if name != "" {
		acct, err := s.Auth.Find(ctx, name)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, fmt.Errorf("account %q not found", name)
		}
		return acct, nil
	}
	acct, err := s.Auth.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}
	accounts, err := s.Auth.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(accounts) - 1; i >= 0; i-- {
		if accounts[i].Auth.ClientID == s.Auth.ClientID() {
			return accounts[i], nil
		}
	}
	return nil, errors.New(`no authenticated account found, run "acctl auth login"`)
}

func describe(acct *account.Account) string {
	who := acct.Name
	if acct.User != nil && acct.User.Email != "" {
		who = acct.User.Email
	}
	if acct.Org != nil {
		return fmt.Sprintf("%s in organization %s (%d)", who, acct.Org.Name, acct.Org.ID)
	}
	return who
}

func writeAccount(rt *runtimeState, acct *account.Account, message string) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	view := output.NewAccountView(acct, time.Now())
	return output.Write(rt.Writer(), format, view, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, message)
	})
}

func newAuthLoginCommand() *cobra.Command {
	var (
		force   bool
		timeout time.Duration
		port    int
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser or with service account credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			acct, err := s.Auth.Login(ctx, auth.LoginOptions{Force: force, Timeout: timeout, Port: port})
			if auth.IsAlreadyAuthenticated(err) {
				existing, ferr := s.Auth.Authenticated(ctx)
				if ferr != nil || existing == nil {
					return err
				}
				return writeAccount(rt, existing, fmt.Sprintf("Already logged in as %s. Use --force to log in again.", describe(existing)))
			}
			if err != nil {
				return err
			}
			return writeAccount(rt, acct, fmt.Sprintf("You are logged in as %s.", describe(acct)))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace an account that is already logged in")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the browser login")
	cmd.Flags().IntVar(&port, "port", 0, "Local callback port (0 picks a free port)")
	return cmd
}

func newAuthLogoutCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout [account...]",
		Short: "Revoke and remove accounts",
		Long:  "Revoke and remove the named accounts. Without arguments every stored account is removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			opts := auth.LogoutOptions{Accounts: args, All: all || len(args) == 0}
			removed, err := s.Auth.Logout(cmd.Context(), opts)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			views := output.NewAccountViews(removed, time.Now())
			return output.Write(rt.Writer(), format, views, func(w io.Writer) {
				if len(removed) == 0 {
					_, _ = fmt.Fprintln(w, "No accounts to log out")
					return
				}
				for _, a := range removed {
					_, _ = fmt.Fprintf(w, "Logged out %s\n", a.Name)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Log out every stored account")
	return cmd
}

func newAuthListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			accounts, err := s.Auth.List(cmd.Context())
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			views := output.NewAccountViews(accounts, time.Now())
			return output.Write(rt.Writer(), format, views, func(w io.Writer) {
				if len(views) == 0 {
					_, _ = fmt.Fprintln(w, "No authenticated accounts")
					return
				}
				output.WriteAccountTable(w, views)
			})
		},
	}
}

func newAuthWhoamiCommand() *cobra.Command {
	var accountName string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the active account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			acct, err := selectAccount(cmd.Context(), s, accountName)
			if err != nil {
				return err
			}
			acct, err = s.Auth.EnsureValid(cmd.Context(), acct)
			if err != nil {
				return err
			}
			return writeAccount(rt, acct, fmt.Sprintf("You are logged in as %s.", describe(acct)))
		},
	}
	cmd.Flags().StringVar(&accountName, "account", "", "Account name")
	return cmd
}

func newAuthSwitchCommand() *cobra.Command {
	var accountName string
	cmd := &cobra.Command{
		Use:   "switch <org>",
		Short: "Switch the current organization of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			var acct *account.Account
			if accountName != "" {
				if acct, err = selectAccount(cmd.Context(), s, accountName); err != nil {
					return err
				}
			} else if acct, err = s.Auth.Authenticated(cmd.Context()); err != nil {
				return err
			}
			switched, err := s.Auth.SwitchOrg(cmd.Context(), acct, args[0])
			if err != nil {
				return err
			}
			return writeAccount(rt, switched, fmt.Sprintf("Switched to %s.", describe(switched)))
		},
	}
	cmd.Flags().StringVar(&accountName, "account", "", "Account name")
	return cmd
}

func newAuthServerInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server-info",
		Short: "Show the identity provider endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			s, err := rt.SDK()
			if err != nil {
				return err
			}
			info, err := s.Auth.ServerInfo(cmd.Context())
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			return output.Write(rt.Writer(), format, info, func(w io.Writer) {
				output.WriteServerInfo(w, info)
			})
		},
	}
}
