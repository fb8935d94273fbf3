package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAttemptsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Inspect the access attempt log",
	}

	var address string
	var limit int
	list := &cobra.Command{
		Use:     "list",
		Short:   "Show the most recent gate checks",
		Example: "  gatectl attempts list --address 203.0.113.7 --limit 20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return app.withStores(cmd, func(ctx context.Context, s *Stores) error {
				attempts, err := s.Attempts.ListRecent(ctx, address, limit)
				if err != nil {
					return err
				}
				if len(attempts) == 0 {
					app.printf("No access attempts\n")
					return nil
				}
				w := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tADDRESS\tRESULT\tUSER AGENT")
				for _, a := range attempts {
					result := "granted"
					if !a.Granted && a.Reason != nil {
						result = "denied " + string(*a.Reason)
					}
					ua := ""
					if a.UserAgent != nil {
						ua = *a.UserAgent
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.AttemptedAt.UTC().Format(time.RFC3339), a.Address, result, ua)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&address, "address", "", "Only show attempts for this address")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of attempts")

	cmd.AddCommand(list)
	return cmd
}
