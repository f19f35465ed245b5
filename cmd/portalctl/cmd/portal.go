package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/internal/output"
	"github.com/vejapro/portalauth/jwt"
	"github.com/vejapro/portalauth/session"
)

func newPortalCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Select the active portal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "switch <portal>",
		Short: "Make a portal active and drop the others' credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := portalauth.Portal(args[0])
			return a.withClient(func(c *portalauth.Client) error {
				if err := c.Sessions().SwitchPortal(cmd.Context(), target); err != nil {
					return err
				}
				if err := a.rememberPortal(target); err != nil {
					return err
				}
				a.printer.Success("active portal: %s", target)
				if !c.Sessions().IsSet() {
					a.printer.Info("no stored credential for %s; run 'portalctl login' or 'portalctl token set'", target)
				}
				return nil
			})
		},
	})
	return cmd
}

func newSessionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := a.backend.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				a.printer.Info("no stored credentials")
				return nil
			}

			now := time.Now()
			t := output.NewTable(a.printer.Out(), []string{"PORTAL", "KIND", "ROLE", "EXPIRES", "STATE"})
			for _, s := range stored {
				role, ok := jwt.RoleOf(s.AccessToken)
				if !ok {
					role = "unknown"
				}
				expires := "-"
				if s.ExpiresAt > 0 {
					expires = time.Unix(s.ExpiresAt, 0).Format(time.RFC3339)
				}
				t.AddRow(s.Portal, s.Kind.String(), role, expires,
					a.printer.StateBadge(credentialState(s, a.cfg.Session.RefreshMargin, now)))
			}
			return t.Render()
		},
	}
}

// credentialState is "static", "valid", "expiring" (inside the refresh
// margin) or "expired".
func credentialState(s *session.Session, margin time.Duration, now time.Time) string {
	if s.Kind == session.KindStatic || s.ExpiresAt == 0 {
		return "static"
	}
	left := s.ExpiresIn(now)
	switch {
	case left <= 0:
		return "expired"
	case left <= margin:
		return "expiring"
	default:
		return "valid"
	}
}
