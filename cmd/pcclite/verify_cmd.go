package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/pcclite/pkg/config"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/verifier"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// runVerifyCmd implements `pcclite verify`.
//
// Exit codes:
//
//	0 = receipt
//	1 = tombstone
//	2 = runtime error (no verdict)
func runVerifyCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		envPath      string
		anchorsPath  string
		ledgerDriver string
		ledgerDSN    string
		hashAlg      string
		jsonOutput   bool
	)
	cmd.StringVar(&envPath, "envelope", "", "Envelope JSON file, or - for stdin (REQUIRED)")
	cmd.StringVar(&anchorsPath, "anchors", "", "Anchors file (JSON or YAML); default from config")
	cmd.StringVar(&ledgerDriver, "ledger-driver", ledger.BackendMemory, "Ledger backend: memory, file, sqlite, postgres")
	cmd.StringVar(&ledgerDSN, "ledger", "", "Ledger DSN")
	cmd.StringVar(&hashAlg, "hash", cfg.HashAlg, "Witness hash: sha256 or blake2b-256")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the verdict as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}
	if envPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --envelope is required")
		return exitError
	}

	ctx := context.Background()
	raw, err := readInput(envPath, stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	h, err := crypto.New(hashAlg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	l, err := openLedger(ctx, ledgerDriver, ledgerDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = l.Close() }()

	v := verifier.New(anchorSource(cfg, anchorsPath), l, verifier.WithHasher(h))
	vd, err := v.VerifyJSON(ctx, raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(struct {
			Allowed bool `json:"allowed"`
			Verdict any  `json:"verdict"`
			Seal    any  `json:"seal"`
		}{vd.Allowed(), vd, vd.Seal}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if vd.Allowed() {
		_, _ = fmt.Fprintf(stdout, "RECEIPT %s proposal=%s seq=%d\n", vd.VerdictID, vd.ProposalDigest, vd.Seal.SequenceNo)
	} else {
		_, _ = fmt.Fprintf(stdout, "TOMBSTONE %s reason=%s gate=%s detail=%q\n", vd.VerdictID, vd.ReasonCode, vd.FailedGateID, vd.Detail)
	}

	if !vd.Allowed() {
		return exitMismatch
	}
	return exitOK
}

// runWitnessCmd implements `pcclite witness`: print the witness hash an
// envelope must carry.
func runWitnessCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("witness", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var envPath, hashAlg string
	cmd.StringVar(&envPath, "envelope", "", "Envelope JSON file, or - for stdin (REQUIRED)")
	cmd.StringVar(&hashAlg, "hash", cfg.HashAlg, "Witness hash: sha256 or blake2b-256")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}
	if envPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --envelope is required")
		return exitError
	}

	raw, err := readInput(envPath, stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	h, err := crypto.New(hashAlg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	env, err := envelope.Decode(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitMismatch
	}
	sum, err := envelope.ComputeWitness(env, h)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitMismatch
	}
	_, _ = fmt.Fprintln(stdout, sum)
	return exitOK
}
