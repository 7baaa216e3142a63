package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileLedger appends one JSON line per entry to a local file. Opening an
// existing file re-verifies the chain and resumes from its tail; a broken
// chain is refused rather than extended.
type FileLedger struct {
	path  string
	mu    sync.Mutex
	f     *os.File
	tail  *Entry
	clock func() time.Time
}

// OpenFileLedger opens or creates the JSONL ledger at path.
func OpenFileLedger(path string) (*FileLedger, error) {
	return OpenFileLedgerWithClock(path, time.Now)
}

// OpenFileLedgerWithClock is OpenFileLedger with an injectable clock.
func OpenFileLedgerWithClock(path string, clock func() time.Time) (*FileLedger, error) {
	entries, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := VerifyChain(entries); err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	fl := &FileLedger{path: path, f: f, clock: clock}
	if n := len(entries); n > 0 {
		fl.tail = &entries[n-1]
	}
	return fl, nil
}

func (l *FileLedger) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return Entry{}, fmt.Errorf("ledger: %s is closed", l.path)
	}
	e, err := seal(l.tail, rec, l.clock())
	if err != nil {
		return Entry{}, err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: marshal entry: %w", err)
	}
	line = append(line, '\n')
	st, err := l.f.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: stat %s: %w", l.path, err)
	}
	if _, err := l.f.Write(line); err != nil {
		_ = l.f.Truncate(st.Size())
		return Entry{}, fmt.Errorf("ledger: write %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		_ = l.f.Truncate(st.Size())
		return Entry{}, fmt.Errorf("ledger: sync %s: %w", l.path, err)
	}
	l.tail = &e
	return e, nil
}

func (l *FileLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Entry{}, err
	}
	if seq == 0 || seq > uint64(len(entries)) {
		return Entry{}, ErrNotFound
	}
	return entries[seq-1], nil
}

func (l *FileLedger) Entries(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReadFile(l.path)
}

// Path returns the backing file.
func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadFile parses a JSONL ledger file. Blank lines are skipped.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode parses JSONL ledger entries from r.
func Decode(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("ledger: line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read: %w", err)
	}
	return entries, nil
}
