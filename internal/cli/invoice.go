package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-invoice-ledger/internal/ledger"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		to, amount, description string
		dueDate                 uint64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an invoice to a recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(true)
			if err != nil {
				return err
			}
			amt, err := ledger.ParseUint128(amount)
			if err != nil {
				return err
			}
			resp, err := c.Execute(cmd.Context(), ledger.CreateInvoice{
				Recipient:   to,
				Amount:      amt,
				Description: description,
				DueDate:     dueDate,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount owed")
	cmd.Flags().StringVar(&description, "description", "", "free-form description")
	cmd.Flags().Uint64Var(&dueDate, "due-date", 0, "due date (unix seconds)")
	cmd.MarkFlagRequired("to")     //nolint:errcheck
	cmd.MarkFlagRequired("amount") //nolint:errcheck
	return cmd
}

func newPayCmd(a *app) *cobra.Command {
	var amount, denom string
	cmd := &cobra.Command{
		Use:   "pay <invoice-id>",
		Short: "Pay an invoice addressed to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client(true)
			if err != nil {
				return err
			}
			amt, err := ledger.ParseUint128(amount)
			if err != nil {
				return err
			}
			resp, err := c.PayInvoice(cmd.Context(), id, ledger.Coin{Denom: denom, Amount: amt})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to attach")
	cmd.Flags().StringVar(&denom, "denom", "neuron", "denomination of the attached funds")
	cmd.MarkFlagRequired("amount") //nolint:errcheck
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <invoice-id>",
		Short: "Show one invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client(false)
			if err != nil {
				return err
			}
			inv, err := c.GetInvoice(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [issuer-address]",
		Short: "List invoices issued by an address (default: your own)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(len(args) == 0)
			if err != nil {
				return err
			}
			user := ""
			if len(args) == 1 {
				user = args[0]
			} else {
				addr, _ := c.Address()
				user = addr.Hex()
			}
			list, err := c.GetUserInvoices(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid invoice id %q", s)
	}
	return id, nil
}
