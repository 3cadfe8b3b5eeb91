package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	enrichPending bool
	enrichLimit   int
	enrichForce   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [product-id]...",
	Short: "Enrich products from their supplier websites",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !enrichPending {
			return eris.New("pass product ids or --pending")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		ids := append([]string(nil), args...)
		if enrichPending {
			products, err := a.DB.ListEnrichable(ctx, enrichLimit)
			if err != nil {
				return err
			}
			for _, p := range products {
				ids = append(ids, p.ID)
			}
		}

		return printJSON(cmd.OutOrStdout(), a.Orchestrator.EnrichBatch(ctx, ids, enrichForce))
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichPending, "pending", false, "also enrich products that are draft, pending or failed")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 100, "max products picked by --pending")
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "re-run products already enriched or in manual review")
	rootCmd.AddCommand(enrichCmd)
}
