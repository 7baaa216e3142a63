// Package ledger is the append-only seal over verification history. Every
// verdict, passing or failing, produces exactly one entry; entries are
// hash-chained to their predecessor and never edited or removed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
)

// Genesis is the prev_hash of the first entry.
const Genesis = "genesis"

var (
	// ErrNotFound is returned when a ledger entry is not found.
	ErrNotFound = errors.New("ledger: not found")
	// ErrChainBroken is returned when the hash chain does not verify.
	ErrChainBroken = errors.New("ledger: chain broken")
	// ErrInvalidRecord is returned for a record that cannot be sealed.
	ErrInvalidRecord = errors.New("ledger: invalid record")
)

// VerdictKind is the kind of verdict an entry seals.
type VerdictKind string

const (
	KindReceipt   VerdictKind = "RECEIPT"
	KindTombstone VerdictKind = "TOMBSTONE"
)

// Record is what a caller asks the ledger to seal.
type Record struct {
	VerdictKind    VerdictKind
	VerdictID      string
	ProposalDigest string
	// ReasonCode is nil for receipts and set for tombstones.
	ReasonCode *string
}

// Validate checks the kind/reason pairing.
func (r Record) Validate() error {
	switch r.VerdictKind {
	case KindReceipt:
		if r.ReasonCode != nil {
			return fmt.Errorf("%w: receipt with reason code", ErrInvalidRecord)
		}
	case KindTombstone:
		if r.ReasonCode == nil || *r.ReasonCode == "" {
			return fmt.Errorf("%w: tombstone without reason code", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: verdict kind %q", ErrInvalidRecord, r.VerdictKind)
	}
	if r.VerdictID == "" {
		return fmt.Errorf("%w: empty verdict id", ErrInvalidRecord)
	}
	return nil
}

// Entry is one sealed ledger line.
type Entry struct {
	SequenceNo     uint64      `json:"sequence_no"`
	VerdictKind    VerdictKind `json:"verdict_kind"`
	ProposalDigest string      `json:"proposal_digest"`
	ReasonCode     *string     `json:"reason_code"`
	VerdictID      string      `json:"verdict_id"`
	PrevHash       string      `json:"prev_hash"`
	EntryHash      string      `json:"entry_hash"`
	SealedAt       time.Time   `json:"sealed_at"`
}

// ComputeHash returns the SHA-256 of the canonical entry without entry_hash.
func (e Entry) ComputeHash() (string, error) {
	input := struct {
		SequenceNo     uint64      `json:"sequence_no"`
		VerdictKind    VerdictKind `json:"verdict_kind"`
		ProposalDigest string      `json:"proposal_digest"`
		ReasonCode     *string     `json:"reason_code"`
		VerdictID      string      `json:"verdict_id"`
		PrevHash       string      `json:"prev_hash"`
		SealedAt       string      `json:"sealed_at"`
	}{e.SequenceNo, e.VerdictKind, e.ProposalDigest, e.ReasonCode, e.VerdictID, e.PrevHash, formatTime(e.SealedAt)}
	return canonicalize.CanonicalHash(input)
}

// seal builds the entry following prev (nil for the first entry).
func seal(prev *Entry, rec Record, at time.Time) (Entry, error) {
	if err := rec.Validate(); err != nil {
		return Entry{}, err
	}
	e := Entry{
		SequenceNo:     1,
		VerdictKind:    rec.VerdictKind,
		ProposalDigest: rec.ProposalDigest,
		ReasonCode:     rec.ReasonCode,
		VerdictID:      rec.VerdictID,
		PrevHash:       Genesis,
		SealedAt:       normalizeTime(at),
	}
	if prev != nil {
		e.SequenceNo = prev.SequenceNo + 1
		e.PrevHash = prev.EntryHash
	}
	h, err := e.ComputeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry %d: %w", e.SequenceNo, err)
	}
	e.EntryHash = h
	return e, nil
}

// Timestamps are kept at microsecond precision in UTC so they survive a
// round trip through every backend unchanged.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func formatTime(t time.Time) string {
	return normalizeTime(t).Format(time.RFC3339Nano)
}

// Ledger is an append-only, hash-chained verdict log. Append is the only
// write operation and is serialized by every implementation.
type Ledger interface {
	// Append seals rec as the next entry. On error nothing was written.
	Append(ctx context.Context, rec Record) (Entry, error)
	// Get returns the entry with the given sequence number.
	Get(ctx context.Context, seq uint64) (Entry, error)
	// Entries returns the whole chain in sequence order.
	Entries(ctx context.Context) ([]Entry, error)
	Close() error
}

// VerifyChain re-walks a full chain from genesis: sequence numbers must run
// 1..n, each prev_hash must equal the predecessor's entry_hash, and every
// entry_hash must recompute.
func VerifyChain(entries []Entry) error {
	prevHash := Genesis
	for i, e := range entries {
		want := uint64(i) + 1
		if e.SequenceNo != want {
			return fmt.Errorf("%w: entry %d has sequence_no %d", ErrChainBroken, want, e.SequenceNo)
		}
		if e.PrevHash != prevHash {
			return fmt.Errorf("%w: entry %d: expected prev %s, got %s", ErrChainBroken, want, prevHash, e.PrevHash)
		}
		computed, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrChainBroken, want, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", ErrChainBroken, want)
		}
		prevHash = e.EntryHash
	}
	return nil
}

// Verify loads every entry of l and checks the chain.
func Verify(ctx context.Context, l Ledger) (int, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), VerifyChain(entries)
}
