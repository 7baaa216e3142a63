package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Output file names for the verdict streams.
const (
	ReceiptsFile   = "receipts.jsonl"
	TombstonesFile = "tombstone.jsonl"
)

// Sink receives emitted verdicts.
type Sink interface {
	Write(ctx context.Context, v *Verdict) error
}

// JSONLSink writes receipts and tombstones as JSON lines to two streams.
type JSONLSink struct {
	mu         sync.Mutex
	receipts   io.Writer
	tombstones io.Writer
	closers    []io.Closer
}

// NewJSONLSink writes to the given streams.
func NewJSONLSink(receipts, tombstones io.Writer) *JSONLSink {
	return &JSONLSink{receipts: receipts, tombstones: tombstones}
}

// CreateJSONLSink truncates and opens receipts.jsonl and tombstone.jsonl
// under dir.
func CreateJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("verdict: create %s: %w", dir, err)
	}
	r, err := os.Create(filepath.Join(dir, ReceiptsFile))
	if err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}
	t, err := os.Create(filepath.Join(dir, TombstonesFile))
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("verdict: %w", err)
	}
	s := NewJSONLSink(r, t)
	s.closers = []io.Closer{r, t}
	return s, nil
}

func (s *JSONLSink) Write(_ context.Context, v *Verdict) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("verdict: marshal %s: %w", v.VerdictID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.tombstones
	if v.Allowed() {
		w = s.receipts
	}
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("verdict: write %s: %w", v.VerdictID, err)
	}
	return nil
}

// Close closes any files opened by CreateJSONLSink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
