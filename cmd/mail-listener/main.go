package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoicepipe/internal/app"
	"invoicepipe/internal/config"
	"invoicepipe/internal/listener"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logger, err := config.InitLogger(cfg)
	must(err)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	must(err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		_ = a.Close(shutdownCtx)
	}()

	svc := listener.NewService(a.DB, a.Blobs, a.Ingestion, cfg)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
