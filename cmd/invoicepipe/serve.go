package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoicepipe/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		addr := serveAddr
		if addr == "" {
			addr = cfg.HTTPAddr
		}
		srv := server.New(a.DB, a.Blobs, a.Ingestion, a.Orchestrator, cfg)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
