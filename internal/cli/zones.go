package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/askwhyharsh/safezone/internal/config"
	"github.com/askwhyharsh/safezone/internal/safezone"
	"github.com/askwhyharsh/safezone/internal/storage"
)

// openStore is swapped in tests.
var openStore = func() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return storage.Open(cfg.Database)
}

// ZonesCmd returns the zones command
func ZonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Inspect stored safe zones",
	}
	cmd.AddCommand(zonesListCmd())
	return cmd
}

func zonesListCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's safe zones",
		RunE: func(cmd *cobra.Command, args []string) error {
			zones, err := loadZones(cmd.Context(), userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(zones) == 0 {
				fmt.Fprintln(out, "No safe zones found.")
				return nil
			}

			w := newTable(out)
			fmt.Fprintln(w, "ID\tNAME\tCENTER\tRADIUS\tCREATED")
			fmt.Fprintln(w, "--\t----\t------\t------\t-------")
			for _, z := range zones {
				center := "-"
				if z.Center != nil {
					center = z.Center.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f km\t%s\n",
					z.ID,
					z.Name,
					center,
					z.RadiusKm(),
					z.CreatedAt.Format("2006-01-02"),
				)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func loadZones(ctx context.Context, userID string) ([]safezone.Zone, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	zones, err := store.ListZones(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	return zones, nil
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}
