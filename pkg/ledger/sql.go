package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Dialect captures the SQL differences between supported databases.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// advisoryLockKey serializes appends across processes sharing a Postgres
// database.
const advisoryLockKey = 0x7063636c // "pccl"

const createTable = `
CREATE TABLE IF NOT EXISTS ledger_seal (
	sequence_no BIGINT PRIMARY KEY,
	verdict_kind TEXT NOT NULL,
	proposal_digest TEXT NOT NULL,
	reason_code TEXT,
	verdict_id TEXT NOT NULL UNIQUE,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	sealed_at TEXT NOT NULL
)`

const selectColumns = `SELECT sequence_no, verdict_kind, proposal_digest, reason_code, verdict_id, prev_hash, entry_hash, sealed_at FROM ledger_seal`

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
	clock   func() time.Time
}

// NewSQLLedger wraps db. Call Init before the first Append.
func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, clock: time.Now}
}

// WithClock overrides clock for testing.
func (s *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	s.clock = clock
	return s
}

// Init creates the ledger table if it does not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for the dialect.
func (s *SQLLedger) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append reads the tail and inserts the next entry in one transaction. The
// primary key on sequence_no rejects a concurrent writer that raced past
// the lock.
func (s *SQLLedger) Append(ctx context.Context, rec Record) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, s.rebind(`SELECT pg_advisory_xact_lock(?)`), advisoryLockKey); err != nil {
			return Entry{}, fmt.Errorf("ledger: lock: %w", err)
		}
	}

	var prev *Entry
	tail, err := scanEntry(tx.QueryRowContext(ctx, selectColumns+` ORDER BY sequence_no DESC LIMIT 1`))
	switch {
	case err == nil:
		prev = &tail
	case !errors.Is(err, ErrNotFound):
		return Entry{}, fmt.Errorf("ledger: read tail: %w", err)
	}

	e, err := seal(prev, rec, s.clock())
	if err != nil {
		return Entry{}, err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO ledger_seal (sequence_no, verdict_kind, proposal_digest, reason_code, verdict_id, prev_hash, entry_hash, sealed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		int64(e.SequenceNo), string(e.VerdictKind), e.ProposalDigest, nullString(e.ReasonCode),
		e.VerdictID, e.PrevHash, e.EntryHash, formatTime(e.SealedAt),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry %d: %w", e.SequenceNo, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return e, nil
}

func (s *SQLLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE sequence_no = ?`), int64(seq)))
}

func (s *SQLLedger) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY sequence_no ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLLedger) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		seq      int64
		kind     string
		reason   sql.NullString
		sealedAt string
	)
	err := row.Scan(&seq, &kind, &e.ProposalDigest, &reason, &e.VerdictID, &e.PrevHash, &e.EntryHash, &sealedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.SequenceNo = uint64(seq)
	e.VerdictKind = VerdictKind(kind)
	if reason.Valid {
		r := reason.String
		e.ReasonCode = &r
	}
	t, err := time.Parse(time.RFC3339Nano, sealedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: entry %d sealed_at: %w", seq, err)
	}
	e.SealedAt = t.UTC()
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
