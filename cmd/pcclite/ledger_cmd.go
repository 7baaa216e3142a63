package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/pcclite/pkg/config"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
)

func runLedgerCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "verify" {
		_, _ = fmt.Fprintln(stderr, "Usage: pcclite ledger verify [--file PATH | --driver NAME --dsn DSN]")
		return exitError
	}
	cmd := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var file, driver, dsn string
	cmd.StringVar(&file, "file", "", "JSONL ledger seal file")
	cmd.StringVar(&driver, "driver", cfg.LedgerDriver, "Ledger backend when --file is not given")
	cmd.StringVar(&dsn, "dsn", cfg.LedgerTarget(), "Ledger DSN when --file is not given")
	if err := cmd.Parse(args[1:]); err != nil {
		return exitError
	}

	var (
		entries []ledger.Entry
		err     error
	)
	if file == "" && (driver == ledger.BackendFile || driver == "") {
		file = dsn
	}
	if file != "" {
		// Read without opening a ledger: no open-time chain check, and a
		// missing file is not created.
		entries, err = ledger.ReadFile(file)
	} else {
		var l ledger.Ledger
		l, err = openLedger(context.Background(), driver, dsn)
		if err == nil {
			defer func() { _ = l.Close() }()
			entries, err = l.Entries(context.Background())
		}
	}
	if errors.Is(err, ledger.ErrChainBroken) {
		_, _ = fmt.Fprintf(stdout, "FAIL: %v\n", err)
		return exitMismatch
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if err := ledger.VerifyChain(entries); err != nil {
		_, _ = fmt.Fprintf(stdout, "FAIL: %v\n", err)
		return exitMismatch
	}
	head := ledger.Genesis
	if n := len(entries); n > 0 {
		head = entries[n-1].EntryHash
	}
	_, _ = fmt.Fprintf(stdout, "OK: %d entries, head=%s\n", len(entries), head)
	return exitOK
}
