package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoicepipe/internal/app"
	"invoicepipe/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "invoicepipe",
	Short: "Supplier invoice ingestion and product enrichment",
	Long:  "Identifies the supplier of uploaded invoices, parses line items into a deduplicated product catalogue and enriches products from supplier websites.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if _, err := config.InitLogger(cfg); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp builds the shared services; the returned func drains queued
// enrichment and closes storage.
func openApp(ctx context.Context) (*app.App, func(), error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			zap.L().Warn("close app", zap.Error(err))
		}
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
