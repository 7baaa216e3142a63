package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open returns the ledger for backend. dsn is a file path for "file", a
// SQLite path (or ":memory:") for "sqlite", and a lib/pq connection string
// for "postgres"; it is ignored for "memory".
func Open(ctx context.Context, backend, dsn string) (Ledger, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryLedger(), nil
	case BackendFile, "":
		if dsn == "" {
			return nil, fmt.Errorf("ledger: file backend needs a path")
		}
		return OpenFileLedger(dsn)
	case BackendSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("ledger: open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps an
		// in-memory database alive across calls.
		db.SetMaxOpenConns(1)
		return initSQL(ctx, NewSQLLedger(db, DialectSQLite))
	case BackendPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: ping postgres: %w", err)
		}
		return initSQL(ctx, NewSQLLedger(db, DialectPostgres))
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", backend)
	}
}

func initSQL(ctx context.Context, l *SQLLedger) (Ledger, error) {
	if err := l.Init(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}
