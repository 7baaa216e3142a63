package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/pcclite/pkg/config"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/harness"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
)

// runVectorsCmd implements `pcclite run-vectors`.
//
// Exit codes:
//
//	0 = every vector matched its expectation
//	1 = at least one mismatch
//	2 = runtime error
func runVectorsCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run-vectors", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		vectorsDir   string
		anchorsPath  string
		outDir       string
		ledgerDriver string
		ledgerDSN    string
		hashAlg      string
		textfile     string
		publish      bool
		jsonOutput   bool
	)
	cmd.StringVar(&vectorsDir, "vectors", cfg.VectorsDir, "Directory of *.json vectors")
	cmd.StringVar(&anchorsPath, "anchors", "", "Anchors file (JSON or YAML); default from config")
	cmd.StringVar(&outDir, "out", cfg.OutDir, "Output directory")
	cmd.StringVar(&ledgerDriver, "ledger-driver", cfg.LedgerDriver, "Ledger backend: memory, file, sqlite, postgres")
	cmd.StringVar(&ledgerDSN, "ledger", cfg.LedgerDSN, "Ledger DSN; empty uses OUT/ledger_seal.jsonl")
	cmd.StringVar(&hashAlg, "hash", cfg.HashAlg, "Witness hash: sha256 or blake2b-256")
	cmd.StringVar(&textfile, "metrics-textfile", cfg.MetricsTextfile, "Write Prometheus metrics to this file")
	cmd.BoolVar(&publish, "publish", cfg.ArtifactStore != "", "Publish outputs to the configured artifact store")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the summary as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}

	ctx := context.Background()
	h, err := crypto.New(hashAlg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	rc := harness.Config{
		VectorsDir:      vectorsDir,
		OutDir:          outDir,
		Anchors:         anchorSource(cfg, anchorsPath),
		Hasher:          h,
		MetricsTextfile: textfile,
	}
	// The default file ledger is owned and reset by the runner.
	if ledgerDriver != ledger.BackendFile || ledgerDSN != "" {
		l, err := openLedger(ctx, ledgerDriver, ledgerDSN)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		defer func() { _ = l.Close() }()
		rc.Ledger = l
	}
	if publish {
		store, err := openArtifacts(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		rc.Store = store
	}
	tel, err := openTelemetry(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()
	rc.Telemetry = tel

	sum, err := harness.NewRunner(rc).Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(sum, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for _, d := range sum.Details {
			mark := "ok  "
			if !d.Matched {
				mark = "MISS"
			}
			_, _ = fmt.Fprintf(stdout, "%s %-40s %s %s\n", mark, d.File, d.Reason, d.Gate)
		}
		_, _ = fmt.Fprintf(stdout, "OK=%d FAIL=%d MISMATCH=%d\n", sum.OK, sum.Fail, sum.Mismatches)
		_, _ = fmt.Fprintf(stdout, "root_sha256=%s\n", sum.Seal.RootSHA256)
		if sum.ManifestDigest != "" {
			_, _ = fmt.Fprintf(stdout, "manifest=%s\n", sum.ManifestDigest)
		}
		_, _ = fmt.Fprintf(stdout, "Outputs: %s\n", outDir)
	}

	if sum.Mismatches > 0 {
		return exitMismatch
	}
	return exitOK
}
