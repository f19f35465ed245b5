package cmd

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vejapro/portalauth"
)

func newLoginCommand(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with email and password",
		Long: `Sign in to the active portal through the identity provider.

The password is taken from --password, then PORTALCTL_PASSWORD, then the
first line of stdin.

Examples:
  echo "$PASS" | portalctl login ops@vejapro.lt
  portalctl --portal expert login expert@vejapro.lt --password ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("PORTALCTL_PASSWORD")
			}
			if password == "" {
				line, err := bufio.NewReader(a.stdin).ReadString('\n')
				if err != nil && line == "" {
					return usageError("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			return a.withClient(func(c *portalauth.Client) error {
				role, err := c.Sessions().SignIn(cmd.Context(), args[0], password)
				if err != nil {
					return err
				}
				a.printer.Success("signed in to %s as %s", c.Sessions().Portal(), role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove every stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *portalauth.Client) error {
				if err := c.Sessions().Logout(cmd.Context()); err != nil {
					return err
				}
				a.printer.Success("signed out")
				return nil
			})
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active credential, refreshing it when due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *portalauth.Client) error {
				store := c.Sessions()
				if err := store.RefreshIfNeeded(cmd.Context()); err != nil {
					return err
				}
				if !store.IsSet() {
					return portalauth.ErrNoSession
				}
				return a.describe(store)
			})
		},
	}
}
