package commands

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vedant-gala/Credora/internal/models"
)

func newRecommendCommand(opts *rootOptions) *cobra.Command {
	var (
		req       models.OptimizeRequest
		amount    string
		category  string
		timestamp string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Print the best card for a purchase as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Amount, err = decimal.NewFromString(amount); err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			req.Category = models.Category(category)
			if timestamp != "" {
				at, err := time.Parse(time.RFC3339, timestamp)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", timestamp, err)
				}
				req.Timestamp = &at
			}

			a, err := setupFromFlags(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.Recommend(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&amount, "amount", "", "purchase amount (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&req.MerchantID, "merchant-id", "", "merchant ID")
	cmd.Flags().StringVar(&req.MerchantName, "merchant", "", "merchant name")
	cmd.Flags().StringVar(&category, "category", "", "spend category")
	cmd.Flags().StringVar(&timestamp, "at", "", "purchase time (RFC3339, default now)")

	return cmd
}

func newProgressCommand(opts *rootOptions) *cobra.Command {
	var (
		asOf    string
		history bool
	)

	cmd := &cobra.Command{
		Use:   "progress <card-id> <rule-id>",
		Short: "Print a rule's window progress (or its window history) as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setupFromFlags(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if history {
				states, err := a.svc.History(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), states)
			}

			progress, err := a.svc.GoalsProgress(cmd.Context(), args[0], args[1], asOf)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), progress)
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "report the window containing this time (RFC3339, default now)")
	cmd.Flags().BoolVar(&history, "history", false, "list every stored window instead")

	return cmd
}
