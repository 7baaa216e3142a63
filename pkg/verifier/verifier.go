// Package verifier is the fail-closed entry point: it admits an envelope,
// evaluates the gate pipeline against the current anchor snapshot, and
// emits exactly one sealed verdict.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/gates"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
	"github.com/Mindburn-Labs/pcclite/pkg/verdict"
)

// Verifier is safe for concurrent use. Only the ledger append serializes.
type Verifier struct {
	anchors   anchors.Source
	hasher    crypto.Hasher
	limits    tcc.Limits
	pipeline  *gates.Pipeline
	emitter   *verdict.Emitter
	sink      verdict.Sink
	logger    *slog.Logger
	telemetry *observability.Provider
	metrics   *observability.Metrics
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHasher sets the witness hash function. Defaults to SHA-256.
func WithHasher(h crypto.Hasher) Option {
	return func(v *Verifier) { v.hasher = h }
}

// WithLimits bounds the proof size accepted before traversal.
func WithLimits(lim tcc.Limits) Option {
	return func(v *Verifier) { v.limits = lim }
}

// WithEmitter replaces the default emitter, e.g. to pin clock and ids.
func WithEmitter(e *verdict.Emitter) Option {
	return func(v *Verifier) { v.emitter = e }
}

// WithSink streams every sealed verdict to s.
func WithSink(s verdict.Sink) Option {
	return func(v *Verifier) { v.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

func WithTelemetry(p *observability.Provider) Option {
	return func(v *Verifier) { v.telemetry = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New returns a verifier reading anchors from src and sealing into l.
func New(src anchors.Source, l ledger.Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		anchors:  src,
		hasher:   crypto.Default(),
		limits:   tcc.DefaultLimits,
		pipeline: gates.NewPipeline(),
		emitter:  verdict.NewEmitter(l),
		logger:   slog.Default().With("component", "verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Hasher returns the configured witness hash function.
func (v *Verifier) Hasher() crypto.Hasher { return v.hasher }

// VerifyJSON admits raw envelope JSON and verifies it. Malformed input is
// not an error: it yields a tombstone. The error is non-nil only when the
// verdict could not be sealed, in which case the caller must deny.
func (v *Verifier) VerifyJSON(ctx context.Context, raw []byte) (*verdict.Verdict, error) {
	env, err := envelope.Decode(raw)
	if err != nil {
		return v.reject(ctx, envelope.Peek(raw), err)
	}
	return v.Verify(ctx, env)
}

// Verify evaluates an already-decoded envelope.
func (v *Verifier) Verify(ctx context.Context, env *envelope.Envelope) (*verdict.Verdict, error) {
	if env == nil {
		return v.reject(ctx, envelope.Subject{}, &envelope.ContractError{Code: envelope.CodeRequired, Message: "no envelope"})
	}
	if err := envelope.Admit(env); err != nil {
		return v.reject(ctx, env.Subject(), err)
	}
	return v.emit(ctx, env.Subject(), v.Evaluate(ctx, env))
}

// Evaluate runs the pipeline without sealing. Use it for dry runs; a
// permission decision must come from Verify.
func (v *Verifier) Evaluate(ctx context.Context, env *envelope.Envelope) gates.Outcome {
	if env != nil {
		if err := envelope.Admit(env); err != nil {
			return admissionOutcome(err)
		}
	}
	return v.pipeline.Evaluate(gates.NewInput(env, v.snapshot(ctx), v.hasher, v.limits))
}

// snapshot never fails: an unavailable anchor source degrades to an empty
// snapshot, on which both anchor gates fail.
func (v *Verifier) snapshot(ctx context.Context) *anchors.Snapshot {
	if v.anchors == nil {
		v.logger.WarnContext(ctx, "no anchor source configured")
		return anchors.Empty()
	}
	snap, err := v.anchors.Snapshot(ctx)
	if err != nil || snap == nil {
		v.metrics.ObserveAnchorError()
		v.logger.WarnContext(ctx, "anchor snapshot unavailable", "error", err)
		return anchors.Empty()
	}
	return snap
}

func (v *Verifier) reject(ctx context.Context, subj envelope.Subject, err error) (*verdict.Verdict, error) {
	return v.emit(ctx, subj, admissionOutcome(err))
}

// admissionOutcome maps a contract violation to its tombstone: proof
// defects are topology failures, anything else is a malformed envelope.
func admissionOutcome(err error) gates.Outcome {
	var ce *envelope.ContractError
	if errors.As(err, &ce) && ce.InTCC() {
		return gates.Rejected(gates.GateTopology, ce.Error())
	}
	return gates.Rejected(gates.StageAdmission, err.Error())
}

func (v *Verifier) emit(ctx context.Context, subj envelope.Subject, out gates.Outcome) (vd *verdict.Verdict, err error) {
	start := time.Now()
	ctx, done := v.telemetry.TrackOperation(ctx, "pcclite.verify",
		attribute.String("proposal_digest", subj.ProposalDigest),
		attribute.String("action_class", string(subj.ActionClass)),
	)
	defer func() { done(err) }()

	vd, err = v.emitter.Emit(ctx, subj, out)
	if err != nil {
		v.metrics.ObserveLedgerError()
		v.logger.ErrorContext(ctx, "verdict not sealed, denying",
			"proposal_digest", subj.ProposalDigest,
			"reason_code", out.Reason,
			"error", err,
		)
		return nil, fmt.Errorf("verifier: %w", err)
	}

	v.metrics.ObserveVerdict(string(vd.Kind), string(vd.ReasonCode), string(vd.FailedGateID), time.Since(start))
	v.telemetry.RecordVerdict(ctx, string(vd.Kind), string(vd.ReasonCode))
	v.logger.InfoContext(ctx, "verdict",
		"verdict_id", vd.VerdictID,
		"kind", vd.Kind,
		"reason_code", vd.ReasonCode,
		"failed_gate_id", vd.FailedGateID,
		"proposal_digest", subj.ProposalDigest,
		"seq", vd.Seal.SequenceNo,
	)

	if v.sink != nil {
		if err := v.sink.Write(ctx, vd); err != nil {
			// The seal exists, so the verdict stands; the stream is a copy.
			v.logger.ErrorContext(ctx, "verdict sink write failed", "verdict_id", vd.VerdictID, "error", err)
		}
	}
	return vd, nil
}
