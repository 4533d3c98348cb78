package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/angelmondragon/storefront-engine/pkg/types"
)

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	var (
		method  string
		branch  string
		address string
		phone   string
		items   []string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price items without touching the saved cart",
		Example: `  storefront quote --method pickup --branch maadi --item p1=2 --item p7=1
  storefront quote --method delivery --address "12 Road 9, Maadi"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, _, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			in := sess.Input()
			if len(items) > 0 {
				lines, err := parseItems(items)
				if err != nil {
					return err
				}
				in.Lines = lines
			}
			in.Delivery = types.DeliveryContext{
				Method:      enums.DeliveryMethod(strings.ToLower(method)),
				BranchID:    branch,
				AddressText: address,
			}
			if phone != "" {
				in.Phone = phone
			}

			quote, err := sess.Pricing.Recompute(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}
	cmd.Flags().StringVar(&method, "method", string(enums.DeliveryMethodPickup), "pickup or delivery")
	cmd.Flags().StringVar(&branch, "branch", "", "pickup branch id")
	cmd.Flags().StringVar(&address, "address", "", "delivery address")
	cmd.Flags().StringVar(&phone, "phone", "", "customer phone")
	cmd.Flags().StringArrayVar(&items, "item", nil, "productId=quantity, repeatable; defaults to the saved cart")
	return cmd
}

func parseItems(raw []string) ([]types.CartLine, error) {
	lines := make([]types.CartLine, 0, len(raw))
	for _, item := range raw {
		id, qty, found := strings.Cut(item, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid item %q", item)
		}
		n := 1
		if found {
			parsed, err := strconv.Atoi(strings.TrimSpace(qty))
			if err != nil || parsed < 1 {
				return nil, fmt.Errorf("invalid quantity in %q", item)
			}
			n = parsed
		}
		lines = append(lines, types.CartLine{ProductID: id, Quantity: n})
	}
	return lines, nil
}
