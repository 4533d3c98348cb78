package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

func newOrdersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and track orders placed from this device",
	}
	cmd.AddCommand(
		newOrdersListCmd(opts),
		newOrdersTrackCmd(opts),
		newOrdersCancelCmd(opts),
	)
	return cmd
}

func newOrdersListCmd(opts *rootOptions) *cobra.Command {
	var (
		active bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, _, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			orders := sess.Orders.List()
			if active {
				orders = sess.Orders.ListByStatus(enums.ActiveOrderStatuses...)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), orders)
			}
			return writeOrdersTable(cmd, orders)
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only orders that are still in progress")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeOrdersTable(cmd *cobra.Command, orders []types.OrderRecord) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tITEMS\tTOTAL\tMETHOD\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.ID, o.Status, o.ItemCount(), o.Totals.Total.StringFixed(2), o.DeliveryMethod,
			o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func newOrdersTrackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "track <order-id>",
		Short: "Fetch an order's status from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, _, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			status, err := sess.Tracking.Track(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newOrdersCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Ask the backend to cancel an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, _, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			record, err := sess.Tracking.Cancel(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}
