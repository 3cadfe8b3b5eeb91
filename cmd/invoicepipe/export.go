package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"invoicepipe/internal/pipeline"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <invoice-id>",
	Short: "Export the lines of an invoice to xlsx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		out := strings.TrimSpace(exportOut)
		if out == "" {
			out = filepath.Join(cfg.OutputDir, args[0]+".xlsx")
		}
		if err := pipeline.ExportInvoice(cmd.Context(), a.DB, args[0], out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported invoice %s to %s\n", args[0], out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output xlsx path (default OUTPUT_DIR/<invoice-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
