// Package verdict turns a pipeline outcome into a Receipt or Tombstone and
// seals it in the ledger. A verdict exists only once its ledger entry does.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/gates"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
)

// ErrInvalidOutcome is returned for an outcome that names no valid reason.
var ErrInvalidOutcome = errors.New("verdict: invalid outcome")

// Verdict is a Receipt (Kind RECEIPT) or a Tombstone (Kind TOMBSTONE).
// It is built once per evaluation and never modified afterwards.
type Verdict struct {
	VerdictID string             `json:"verdict_id"`
	Kind      ledger.VerdictKind `json:"kind"`
	envelope.Subject
	VerifiedAt time.Time `json:"verified_at"`

	// Receipt only.
	GatesPassed []gates.GateID `json:"gates_passed,omitempty"`

	// Tombstone only.
	ReasonCode   gates.ReasonCode `json:"reason_code,omitempty"`
	FailedGateID gates.GateID     `json:"failed_gate_id,omitempty"`
	Detail       string           `json:"detail,omitempty"`

	// Seal is the ledger entry written for this verdict.
	Seal ledger.Entry `json:"-"`
}

// Allowed reports whether the verdict permits the externality.
func (v *Verdict) Allowed() bool { return v.Kind == ledger.KindReceipt }

// Emitter builds verdicts and appends their seal entries.
type Emitter struct {
	ledger ledger.Ledger
	clock  func() time.Time
	newID  func() string
}

// NewEmitter returns an emitter sealing into l.
func NewEmitter(l ledger.Ledger) *Emitter {
	return &Emitter{
		ledger: l,
		clock:  time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// WithIDGenerator overrides verdict id generation.
func (e *Emitter) WithIDGenerator(gen func() string) *Emitter {
	e.newID = gen
	return e
}

// Emit builds the verdict for out and appends its ledger entry. The
// verdict is returned only after the append succeeds; on error the caller
// must deny.
func (e *Emitter) Emit(ctx context.Context, subj envelope.Subject, out gates.Outcome) (*Verdict, error) {
	v := &Verdict{
		VerdictID:  e.newID(),
		Subject:    subj,
		VerifiedAt: e.clock().UTC(),
	}
	rec := ledger.Record{VerdictID: v.VerdictID, ProposalDigest: subj.ProposalDigest}

	if out.Passed {
		v.Kind = ledger.KindReceipt
		v.GatesPassed = gates.Order()
		rec.VerdictKind = ledger.KindReceipt
	} else {
		if !out.Reason.Valid() {
			return nil, fmt.Errorf("%w: reason %q", ErrInvalidOutcome, out.Reason)
		}
		v.Kind = ledger.KindTombstone
		v.ReasonCode = out.Reason
		v.FailedGateID = out.FailedGate
		v.Detail = out.Detail
		reason := string(out.Reason)
		rec.VerdictKind = ledger.KindTombstone
		rec.ReasonCode = &reason
	}

	entry, err := e.ledger.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("verdict: seal %s: %w", v.VerdictID, err)
	}
	v.Seal = entry
	return v, nil
}
