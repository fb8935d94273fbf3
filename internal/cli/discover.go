package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voltmoto/site/backend/internal/discovery"
)

type discoveryResult struct {
	kind    string
	address string
	err     error
}

func newDiscoverCmd(app *App) *cobra.Command {
	var public, private bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Show the addresses this machine would present to the gate",
		Long: `Discover the public egress address (via an IP-echo service) and the private LAN
address (from ICE candidates). Without flags both run concurrently.

The private address is the first private candidate gathered; on hosts with several
interfaces the result can differ between runs. No private address is a normal outcome.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !public && !private {
				public, private = true, true
			}

			ctx, cancel := app.context(cmd)
			defer cancel()

			var kinds []string
			finders := map[string]discovery.Discoverer{}
			if public {
				kinds = append(kinds, "public")
				finders["public"] = app.publicDiscoverer()
			}
			if private {
				kinds = append(kinds, "private")
				finders["private"] = app.privateDiscoverer()
			}

			results := make([]discoveryResult, len(kinds))
			var g errgroup.Group
			for i, kind := range kinds {
				g.Go(func() error {
					addr, err := finders[kind].Discover(ctx)
					results[i] = discoveryResult{kind: kind, address: addr, err: err}
					return nil
				})
			}
			_ = g.Wait()

			failed := 0
			for _, r := range results {
				switch {
				case errors.Is(r.err, discovery.ErrNoPrivateAddress):
					app.printf("%-8s none\n", r.kind+":")
				case r.err != nil:
					failed++
					app.printf("%-8s error: %v\n", r.kind+":", r.err)
				default:
					app.printf("%-8s %s\n", r.kind+":", r.address)
				}
			}
			if failed == len(results) {
				return fmt.Errorf("address discovery failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "Only discover the public address")
	cmd.Flags().BoolVar(&private, "private", false, "Only discover the private address")
	return cmd
}

func (a *App) publicDiscoverer() discovery.Discoverer {
	return discovery.NewPublicDiscoverer(a.Config.Discovery.PublicEchoURL, a.HTTPClient)
}

func (a *App) privateDiscoverer() discovery.Discoverer {
	return discovery.NewPrivateDiscoverer(
		a.PrivateSource(a.Config.Discovery.STUNServers),
		a.Config.Discovery.PrivateTimeout,
		a.Logger,
	)
}
