package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <product-id>",
	Short: "Show a product with its enrichment attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		report, err := a.Orchestrator.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var reviewNote string

var manualReviewCmd = &cobra.Command{
	Use:   "manual-review <product-id>",
	Short: "Park a product for manual review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		note := strings.TrimSpace(reviewNote)
		if note == "" {
			note = "flagged for manual review"
		}
		if err := a.DB.MarkManualReview(cmd.Context(), args[0], note); err != nil {
			return err
		}
		report, err := a.Orchestrator.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <product-id>",
	Short: "Clear the conflict notes of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		if err := a.DB.ResolveConflicts(cmd.Context(), args[0]); err != nil {
			return err
		}
		report, err := a.Orchestrator.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var invoicesLimit int

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List recent invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		invoices, err := a.DB.ListInvoices(cmd.Context(), invoicesLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), invoices)
	},
}

func init() {
	manualReviewCmd.Flags().StringVar(&reviewNote, "note", "", "review note")
	invoicesCmd.Flags().IntVar(&invoicesLimit, "limit", 20, "max invoices")
	rootCmd.AddCommand(statusCmd, manualReviewCmd, resolveCmd, invoicesCmd)
}
