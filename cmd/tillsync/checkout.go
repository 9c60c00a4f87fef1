package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/internal/services"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

func newCheckoutCmd(a *app) *cobra.Command {
	var (
		items   []string
		tax     float64
		payment string
		cashier string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Record a sale and decrement stock",
		Long: `Checkout decrements the stock of every product in the cart and then
records the sale as a transaction. Items are given as <product-id>[:<quantity>].`,
		Example: `  tillsync checkout --item srv_12:2 --item srv_40 --tax 0.45 --payment cash`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseCartLines(items)
			if err != nil {
				return err
			}
			sale := services.Sale{Lines: lines, Tax: tax, PaymentMethod: payment, CashierID: cashier}
			return a.withEngine(func(e *engine) error {
				tx, err := e.services.Checkout(sale)
				if err != nil {
					return err
				}
				return printJSON(a.out, tx)
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "cart line as <product-id>[:<quantity>] (repeatable)")
	cmd.Flags().Float64Var(&tax, "tax", 0, "tax added to the subtotal")
	cmd.Flags().StringVar(&payment, "payment", "cash", "payment method")
	cmd.Flags().StringVar(&cashier, "cashier", "", "user id of the cashier")
	return cmd
}

// parseCartLines parses <product-id>[:<quantity>] items. The quantity
// defaults to 1; its sign is checked by Checkout.
func parseCartLines(items []string) ([]services.CartLine, error) {
	lines := make([]services.CartLine, 0, len(items))
	for _, item := range items {
		id, qty, found := strings.Cut(item, ":")
		if id == "" {
			return nil, fmt.Errorf("%w: empty product id in %q", types.ErrInvalidID, item)
		}
		line := services.CartLine{ProductID: id, Quantity: 1}
		if found {
			n, err := strconv.Atoi(qty)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", services.ErrInvalidQuantity, item)
			}
			line.Quantity = n
		}
		lines = append(lines, line)
	}
	return lines, nil
}
