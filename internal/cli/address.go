package cli

import (
	"context"
	"fmt"
	"net/netip"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltmoto/site/backend/internal/repository"
)

func newAddressCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Manage authorized addresses",
		Long: `Manage the directory of addresses allowed to reach the admin login.

Addresses are matched exactly as stored: no CIDR ranges and no normalization.`,
	}

	var name string
	var inactive bool
	add := &cobra.Command{
		Use:   "add <ip>",
		Short: "Authorize an address",
		Example: `  gatectl address add 203.0.113.7 --name "Office router"
  gatectl address add 192.168.1.20 --name "Workshop laptop" --inactive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			if _, err := netip.ParseAddr(address); err != nil {
				return fmt.Errorf("invalid IP address %q", address)
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return app.withStores(cmd, func(ctx context.Context, s *Stores) error {
				entry := &repository.AuthorizedAddress{Address: address, Name: name, IsActive: !inactive}
				if err := s.Addresses.Create(ctx, entry); err != nil {
					return err
				}
				app.printf("Authorized %s (%s)\n", entry.Address, entry.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "Device name shown to the administrator")
	add.Flags().BoolVar(&inactive, "inactive", false, "Create the entry deactivated")

	list := &cobra.Command{
		Use:   "list",
		Short: "List authorized addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStores(cmd, func(ctx context.Context, s *Stores) error {
				entries, err := s.Addresses.List(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					app.printf("No authorized addresses\n")
					return nil
				}
				w := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ADDRESS\tNAME\tACTIVE\tLAST ACCESS")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", e.Address, e.Name, e.IsActive, formatTime(e.LastAccessAt))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list, setActiveCmd(app, "activate", "Re-enable an address", true), setActiveCmd(app, "deactivate", "Deny an address without deleting it", false))
	return cmd
}

func setActiveCmd(app *App, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ip>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStores(cmd, func(ctx context.Context, s *Stores) error {
				if err := s.Addresses.SetActive(ctx, args[0], active); err != nil {
					return err
				}
				app.printf("%s: active=%t\n", args[0], active)
				return nil
			})
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

