package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/metrics/export/prometheus"
)

func newMetricsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [path]",
		Short: "Probe the session and print client metrics",
		Long: `Refresh the session when due, optionally GET path, then print this
invocation's client metrics in the Prometheus text format.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *portalauth.Client) error {
				if err := c.Sessions().RefreshIfNeeded(cmd.Context()); err != nil {
					a.printer.Warning("refresh: %v", err)
				}
				if len(args) == 1 {
					resp, err := c.Gateway().Request(cmd.Context(), args[0], portalauth.RequestOptions{})
					if err != nil {
						a.printer.Warning("request: %v", err)
					} else {
						_, _ = io.Copy(io.Discard, resp.Body)
						resp.Body.Close()
					}
				}
				_, err := io.WriteString(a.stdout, prometheus.NewPrometheusExporter(c).Render())
				return err
			})
		},
	}
}
