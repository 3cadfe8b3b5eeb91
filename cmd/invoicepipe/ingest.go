package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/supplier"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest invoice documents (xlsx, pdf, html, eml, txt)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		results := make([]pipeline.IngestResult, 0, len(args))
		var firstErr error
		for _, path := range args {
			res, err := a.Ingestion.IngestFile(ctx, path)
			if err != nil {
				var unknown *supplier.UnknownSupplierError
				if errors.As(err, &unknown) {
					zap.L().Warn("skipped document", zap.String("path", path), zap.Strings("supported", unknown.Supported))
				} else {
					zap.L().Error("ingest failed", zap.String("path", path), zap.Error(err))
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			results = append(results, res)
		}
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		return firstErr
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
