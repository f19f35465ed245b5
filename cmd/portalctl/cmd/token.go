package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/internal/output"
)

func newTokenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the static bearer token",
	}
	cmd.AddCommand(
		newTokenSetCommand(a),
		newTokenIssueCommand(a),
		newTokenShowCommand(a),
	)
	return cmd
}

func newTokenSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <token>",
		Short: "Store a static token for the active portal",
		Long: `Store a static token for the active portal. A leading "Bearer " in any
casing is stripped. An empty token removes the stored one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *portalauth.Client) error {
				store := c.Sessions()
				if err := store.SetStatic(cmd.Context(), args[0]); err != nil {
					return err
				}
				if portalauth.NormalizeToken(args[0]) == "" {
					a.printer.Success("static token removed")
					return nil
				}
				a.printer.Success("static token stored for %s", store.Portal())
				if role := store.Role(); role.Known() {
					a.printer.Info("role: %s", role)
				}
				return nil
			})
		},
	}
}

func newTokenIssueCommand(a *app) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Ask the backend for a static admin token",
		Long: `Ask the backend for a static admin token and store it. The issuance
secret comes from --secret or PORTALCTL_ADMIN_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("PORTALCTL_ADMIN_SECRET")
			}
			if secret == "" {
				return usageError("no issuance secret given")
			}
			return a.withClient(func(c *portalauth.Client) error {
				if err := c.Sessions().IssueStaticToken(cmd.Context(), secret); err != nil {
					return err
				}
				a.printer.Success("static token issued for %s", c.Sessions().Portal())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "issuance secret")
	return cmd
}

func newTokenShowCommand(a *app) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored credential without refreshing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *portalauth.Client) error {
				store := c.Sessions()
				if !store.IsSet() {
					return portalauth.ErrNoSession
				}
				if reveal {
					a.printer.Print("%s", store.Token())
					return nil
				}
				return a.describe(store)
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print only the raw access token")
	return cmd
}

// describe prints the active credential as a key/value table.
func (a *app) describe(store *portalauth.SessionStore) error {
	snap := store.Snapshot()
	role := store.Role().String()
	if role == "" {
		role = "unknown"
	}

	t := output.NewTable(a.printer.Out(), []string{"KEY", "VALUE"})
	t.AddRow("portal", string(store.Portal()))
	t.AddRow("kind", store.Kind().String())
	t.AddRow("role", role)
	t.AddRow("token", maskToken(snap.AccessToken))
	if snap.ExpiresAt > 0 {
		t.AddRow("expires", time.Unix(snap.ExpiresAt, 0).Format(time.RFC3339))
		t.AddRow("state", a.printer.StateBadge(credentialState(&snap, a.cfg.Session.RefreshMargin, time.Now())))
	}
	return t.Render()
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "…" + token[len(token)-4:]
}
