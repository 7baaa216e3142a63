package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/pcclite/pkg/api"
	"github.com/Mindburn-Labs/pcclite/pkg/config"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
	"github.com/Mindburn-Labs/pcclite/pkg/verifier"
)

func runServeCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var addr, anchorsPath string
	cmd.StringVar(&addr, "addr", ":"+cfg.Port, "Listen address")
	cmd.StringVar(&anchorsPath, "anchors", "", "Anchors file (JSON or YAML); default from config")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := crypto.New(cfg.HashAlg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if err := os.MkdirAll(cfg.OutDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	l, err := openLedger(ctx, cfg.LedgerDriver, cfg.LedgerTarget())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = l.Close() }()

	tel, err := openTelemetry(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	metrics := observability.NewMetrics(true)
	v := verifier.New(anchorSource(cfg, anchorsPath), l,
		verifier.WithHasher(h),
		verifier.WithTelemetry(tel),
		verifier.WithMetrics(metrics),
	)

	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(v, metrics),
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	_, _ = fmt.Fprintf(stdout, "pcclite %s listening on %s (ledger=%s)\n", version, addr, cfg.LedgerDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}
