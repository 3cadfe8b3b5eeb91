package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"invoicepipe/internal/listener"
)

var (
	mailProvider string
	mailLabel    string
	mailMax      int
)

var mailFetchCmd = &cobra.Command{
	Use:   "mail:fetch",
	Short: "Fetch invoice mail once and ingest the attachments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyMailFlags()
		a, closeApp, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		svc := listener.NewService(a.DB, a.Blobs, a.Ingestion, cfg)
		res, err := svc.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var mailListenCmd = &cobra.Command{
	Use:   "mail:listen",
	Short: "Poll the mailbox until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyMailFlags()
		a, closeApp, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		return listener.NewService(a.DB, a.Blobs, a.Ingestion, cfg).Run(ctx)
	},
}

// applyMailFlags lets flags override the MAIL_LISTENER_* settings.
func applyMailFlags() {
	if p := strings.TrimSpace(mailProvider); p != "" {
		cfg.MailListenerProvider = p
	}
	if l := strings.TrimSpace(mailLabel); l != "" {
		cfg.MailListenerLabel = l
	}
	if mailMax > 0 {
		cfg.MailListenerFetchMax = mailMax
	}
}

func init() {
	for _, c := range []*cobra.Command{mailFetchCmd, mailListenCmd} {
		c.Flags().StringVar(&mailProvider, "provider", "", "gmail|imap (default MAIL_LISTENER_PROVIDER)")
		c.Flags().StringVar(&mailLabel, "label", "", "mailbox or label (default MAIL_LISTENER_LABEL)")
		c.Flags().IntVar(&mailMax, "max", 0, "max messages per fetch (default MAIL_LISTENER_FETCH_MAX)")
	}
	rootCmd.AddCommand(mailFetchCmd, mailListenCmd)
}
