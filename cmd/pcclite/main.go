// Command pcclite verifies proof-carrying envelopes.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/artifacts"
	"github.com/Mindburn-Labs/pcclite/pkg/config"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
)

const version = "0.3.0"

// Exit codes shared by every subcommand.
const (
	exitOK       = 0
	exitMismatch = 1
	exitError    = 2
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitError
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	slog.SetDefault(newLogger(cfg, stderr))

	switch args[1] {
	case "run-vectors":
		return runVectorsCmd(cfg, args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(cfg, args[2:], stdout, stderr)
	case "witness":
		return runWitnessCmd(cfg, args[2:], stdout, stderr)
	case "ledger":
		return runLedgerCmd(cfg, args[2:], stdout, stderr)
	case "serve", "server":
		return runServeCmd(cfg, args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "pcclite %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitError
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `pcclite %s: fail-closed proof-carrying verifier

USAGE:
  pcclite <command> [flags]

COMMANDS:
  run-vectors   Verify a directory of vectors (--vectors, --anchors, --out, --json)
  verify        Verify one envelope (--envelope, --anchors, --json)
  witness       Print the witness hash of an envelope (--envelope)
  ledger verify Re-walk the hash chain of a ledger (--file | --driver, --dsn)
  serve         Run the HTTP API (--addr)
  version       Print the version
  help          Show this help

EXIT CODES:
  0 ok, 1 verification failed or expectation mismatch, 2 runtime error
`, version)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// anchorSource prefers an explicit file, then Redis, then the configured
// anchors path.
func anchorSource(cfg *config.Config, path string) anchors.Source {
	if path != "" {
		return anchors.NewFileSource(path)
	}
	if cfg.RedisAddr != "" {
		return anchors.NewRedisSource(cfg.RedisAddr, os.Getenv("PCC_REDIS_PASSWORD"), 0, cfg.RedisKey)
	}
	return anchors.NewFileSource(cfg.AnchorsPath)
}

func openLedger(ctx context.Context, driver, dsn string) (ledger.Ledger, error) {
	if driver == ledger.BackendFile && dsn == "" {
		return nil, fmt.Errorf("file ledger needs --ledger PATH")
	}
	return ledger.Open(ctx, driver, dsn)
}

func openTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	if cfg.OTLPEndpoint != "" {
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTLPEndpoint
		oc.Insecure = cfg.OTLPInsecure
	}
	return observability.New(ctx, oc)
}

func openArtifacts(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	if cfg.ArtifactStore == "" {
		return nil, nil
	}
	return artifacts.Open(ctx, artifacts.Config{
		Type:     artifacts.StoreType(cfg.ArtifactStore),
		Dir:      cfg.OutDir,
		Bucket:   cfg.ArtifactBucket,
		Prefix:   cfg.ArtifactPrefix,
		Region:   cfg.ArtifactRegion,
		Endpoint: cfg.ArtifactEndpoint,
	})
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path) //nolint:gosec // operator-supplied path
}
