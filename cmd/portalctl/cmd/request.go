package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vejapro/portalauth"
)

func newRequestCommand(a *app) *cobra.Command {
	var (
		method  string
		data    string
		headers []string
		role    string
		include bool
	)

	cmd := &cobra.Command{
		Use:   "request <path|url>",
		Short: "Send an authenticated request",
		Long: `Send one request through the gateway and print the response body.

--data takes a literal body, @file to read a file, or @- for stdin.

Examples:
  portalctl request /api/v1/admin/projects --role ADMIN
  portalctl request -X POST -d '{"name":"lawn"}' /api/v1/echo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.readBody(data)
			if err != nil {
				return err
			}
			opts := portalauth.RequestOptions{
				Method:       strings.ToUpper(method),
				Header:       http.Header{},
				RequiredRole: portalauth.NewRole(role),
			}
			if body != nil {
				opts.Body = body
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return usageError("invalid header %q: want Name: value", h)
				}
				opts.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			return a.withClient(func(c *portalauth.Client) error {
				resp, err := c.Gateway().Request(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				defer resp.Body.Close()

				if include {
					fmt.Fprintf(a.stdout, "%s %s\n", resp.Proto, resp.Status)
					for k, vs := range resp.Header {
						for _, v := range vs {
							fmt.Fprintf(a.stdout, "%s: %s\n", k, v)
						}
					}
					fmt.Fprintln(a.stdout)
				}
				if _, err := io.Copy(a.stdout, resp.Body); err != nil {
					return fmt.Errorf("read response: %w", err)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&method, "request", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&data, "data", "d", "", "request body, @file or @-")
	f.StringArrayVarP(&headers, "header", "H", nil, "extra header, repeatable")
	f.StringVar(&role, "role", "", "role the namespace requires (e.g. ADMIN)")
	f.BoolVarP(&include, "include", "i", false, "print status line and headers")
	return cmd
}

func (a *app) readBody(data string) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		b, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, usageError("cannot read body file: %v", err)
		}
		return b, nil
	default:
		return []byte(data), nil
	}
}
