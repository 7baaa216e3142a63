// Package harness runs a directory of envelope vectors through the verifier
// and writes the batch outputs: verdict streams, ledger seal, summary and a
// batch seal binding the streams together.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/artifacts"
	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
	"github.com/Mindburn-Labs/pcclite/pkg/verdict"
	"github.com/Mindburn-Labs/pcclite/pkg/verifier"
)

// Output file names.
const (
	LedgerFile    = "ledger_seal.jsonl"
	SummaryFile   = "summary.json"
	BatchSealFile = "batch_seal.json"
)

// ExpectOK is the expectation for a vector that must yield a receipt.
const ExpectOK = "OK"

// Config configures a Runner.
type Config struct {
	VectorsDir string
	OutDir     string
	Anchors    anchors.Source

	// Ledger receives the seal entries. When nil the runner owns a fresh
	// file ledger at OutDir/ledger_seal.jsonl.
	Ledger ledger.Ledger
	Hasher crypto.Hasher

	// Store, when set, receives every output file after the run.
	Store           artifacts.Store
	MetricsTextfile string

	Logger    *slog.Logger
	Telemetry *observability.Provider
}

// Detail is one summary row.
type Detail struct {
	File      string `json:"file"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason"`
	Gate      string `json:"gate,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Matched   bool   `json:"matched"`
	VerdictID string `json:"verdict_id"`
}

// Summary is written to summary.json.
type Summary struct {
	RunID      string         `json:"run_id"`
	OK         int            `json:"ok"`
	Fail       int            `json:"fail"`
	Mismatches int            `json:"mismatches"`
	ByReason   map[string]int `json:"by_reason"`
	Details    []Detail       `json:"details"`

	// Set after the summary file is written.
	Seal           BatchSeal `json:"-"`
	ManifestDigest string    `json:"-"`
}

// BatchSeal binds the two verdict streams of a run.
type BatchSeal struct {
	Kind            string    `json:"kind"`
	RunID           string    `json:"run_id"`
	SealedAt        time.Time `json:"sealed_at"`
	ReceiptsSHA256  string    `json:"receipts_sha256"`
	TombstoneSHA256 string    `json:"tombstone_sha256"`
	RootSHA256      string    `json:"root_sha256"`
	LedgerHead      string    `json:"ledger_head,omitempty"`
}

// Runner executes one batch.
type Runner struct {
	cfg   Config
	clock func() time.Time
	newID func() string
}

// NewRunner returns a runner for cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.Hasher == nil {
		cfg.Hasher = crypto.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "harness")
	}
	return &Runner{cfg: cfg, clock: time.Now, newID: uuid.NewString}
}

// WithClock overrides the clock for deterministic testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run verifies every vector. The error is non-nil only for runtime
// failures; expectation mismatches are reported in the summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	log := r.cfg.Logger
	if r.cfg.Anchors == nil {
		return nil, errors.New("harness: no anchor source")
	}
	// One snapshot for the whole batch.
	snap, err := r.cfg.Anchors.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("harness: load anchors: %w", err)
	}
	src, err := anchors.NewStaticSource(snap)
	if err != nil {
		return nil, fmt.Errorf("harness: load anchors: %w", err)
	}

	files, err := r.vectors()
	if err != nil {
		return nil, err
	}
	if err := r.clean(); err != nil {
		return nil, err
	}

	l := r.cfg.Ledger
	if l == nil {
		fl, err := ledger.OpenFileLedger(filepath.Join(r.cfg.OutDir, LedgerFile))
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		defer func() { _ = fl.Close() }()
		l = fl
	}

	sink, err := verdict.CreateJSONLSink(r.cfg.OutDir)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	defer func() { _ = sink.Close() }()

	var metrics *observability.Metrics
	if r.cfg.MetricsTextfile != "" {
		metrics = observability.NewMetrics(false)
	}
	v := verifier.New(src, l,
		verifier.WithHasher(r.cfg.Hasher),
		verifier.WithSink(sink),
		verifier.WithLogger(log),
		verifier.WithMetrics(metrics),
		verifier.WithTelemetry(r.cfg.Telemetry),
	)

	sum := &Summary{RunID: r.newID(), ByReason: map[string]int{}, Details: []Detail{}}
	var head string
	for _, fn := range files {
		d, vd, err := r.runOne(ctx, v, fn)
		if err != nil {
			return nil, err
		}
		head = vd.Seal.EntryHash
		if d.OK {
			sum.OK++
		} else {
			sum.Fail++
			sum.ByReason[d.Reason]++
		}
		if !d.Matched {
			sum.Mismatches++
			log.WarnContext(ctx, "vector expectation mismatch", "file", fn, "expected", d.Expected, "got", d.Reason)
		}
		sum.Details = append(sum.Details, d)
	}

	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("harness: close streams: %w", err)
	}
	seal, err := r.batchSeal(sum.RunID, head)
	if err != nil {
		return nil, err
	}
	sum.Seal = seal
	if err := writeJSON(filepath.Join(r.cfg.OutDir, BatchSealFile), seal); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(r.cfg.OutDir, SummaryFile), sum); err != nil {
		return nil, err
	}

	if metrics != nil {
		if err := metrics.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
			return nil, fmt.Errorf("harness: write metrics: %w", err)
		}
	}
	if r.cfg.Store != nil {
		names := []string{verdict.ReceiptsFile, verdict.TombstonesFile, SummaryFile, BatchSealFile}
		if r.cfg.Ledger == nil {
			names = append(names, LedgerFile)
		}
		_, digest, err := artifacts.Publish(ctx, r.cfg.Store, sum.RunID, r.cfg.OutDir, names)
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		sum.ManifestDigest = digest
		log.InfoContext(ctx, "run published", "run_id", sum.RunID, "manifest", digest)
	}

	log.InfoContext(ctx, "run complete",
		"run_id", sum.RunID,
		"ok", sum.OK,
		"fail", sum.Fail,
		"mismatches", sum.Mismatches,
		"root_sha256", seal.RootSHA256,
	)
	return sum, nil
}

func (r *Runner) vectors() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.VectorsDir)
	if err != nil {
		return nil, fmt.Errorf("harness: read vectors: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// clean removes the outputs of a previous run. An injected ledger is not
// ours to reset.
func (r *Runner) clean() error {
	if err := os.MkdirAll(r.cfg.OutDir, 0o750); err != nil {
		return fmt.Errorf("harness: create out dir: %w", err)
	}
	names := []string{verdict.ReceiptsFile, verdict.TombstonesFile, SummaryFile, BatchSealFile}
	if r.cfg.Ledger == nil {
		names = append(names, LedgerFile)
	}
	for _, name := range names {
		err := os.Remove(filepath.Join(r.cfg.OutDir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("harness: clean %s: %w", name, err)
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, v *verifier.Verifier, fn string) (Detail, *verdict.Verdict, error) {
	raw, err := os.ReadFile(filepath.Join(r.cfg.VectorsDir, fn)) //nolint:gosec // listed from VectorsDir
	if err != nil {
		return Detail{}, nil, fmt.Errorf("harness: read %s: %w", fn, err)
	}
	vec := ParseVector(raw)

	var vd *verdict.Verdict
	env, derr := envelope.Decode(vec.Envelope)
	if derr != nil {
		vd, err = v.VerifyJSON(ctx, vec.Envelope)
	} else {
		if env.WitnessHash == envelope.AutoWitness {
			// Left unsealed, the placeholder fails the witness gate.
			if err := envelope.Seal(env, r.cfg.Hasher); err != nil {
				r.cfg.Logger.WarnContext(ctx, "cannot fill AUTO witness", "file", fn, "error", err)
			}
		}
		vd, err = v.Verify(ctx, env)
	}
	if err != nil {
		return Detail{}, nil, fmt.Errorf("harness: %s: %w", fn, err)
	}

	d := Detail{
		File:      fn,
		OK:        vd.Allowed(),
		Reason:    ExpectOK,
		Gate:      string(vd.FailedGateID),
		Detail:    vd.Detail,
		Expected:  vec.Expect,
		VerdictID: vd.VerdictID,
	}
	if !d.OK {
		d.Reason = string(vd.ReasonCode)
	}
	d.Matched = vec.Expect == "" || vec.Expect == d.Reason
	return d, vd, nil
}

func (r *Runner) batchSeal(runID, head string) (BatchSeal, error) {
	receipts, err := readOptional(filepath.Join(r.cfg.OutDir, verdict.ReceiptsFile))
	if err != nil {
		return BatchSeal{}, err
	}
	tombs, err := readOptional(filepath.Join(r.cfg.OutDir, verdict.TombstonesFile))
	if err != nil {
		return BatchSeal{}, err
	}
	root := make([]byte, 0, len(receipts)+1+len(tombs))
	root = append(append(append(root, receipts...), '\n'), tombs...)
	return BatchSeal{
		Kind:            "BATCH_SEAL",
		RunID:           runID,
		SealedAt:        r.clock().UTC(),
		ReceiptsSHA256:  canonicalize.HashBytes(receipts),
		TombstoneSHA256: canonicalize.HashBytes(tombs),
		RootSHA256:      canonicalize.HashBytes(root),
		LedgerHead:      head,
	}, nil
}

// Vector is one input file: an envelope with an optional expected result.
type Vector struct {
	Envelope json.RawMessage
	Expect   string
}

// ParseVector accepts either a bare envelope or {"envelope": ..., "expect":
// ...}. Anything else is passed through as a bare envelope so that it
// yields a tombstone rather than aborting the run.
func ParseVector(raw []byte) Vector {
	var wrapped struct {
		Envelope json.RawMessage `json:"envelope"`
		Expect   string          `json:"expect"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wrapped); err == nil && len(wrapped.Envelope) > 0 {
		return Vector{Envelope: wrapped.Envelope, Expect: wrapped.Expect}
	}
	return Vector{Envelope: raw}
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path) //nolint:gosec // fixed output file
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("harness: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("harness: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
