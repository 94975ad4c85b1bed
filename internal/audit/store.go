package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the append-only call log. Schema triggers reject updates
// and deletes, so the trail cannot be rewritten through the store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Log(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	return s.insertEntry(ctx, rec)
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, querySelectAll)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertEntry(ctx context.Context, rec Record) error {
	const maxRetries = 3
	var err error

	cached := 0
	if rec.Cached {
		cached = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, queryInsertEntry,
			rec.CallID, rec.ServerName, rec.ToolName, string(rec.Input),
			string(rec.Decision), rec.Reason, cached, rec.DurationMS)
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			backoff := time.Duration(attempt+1) * 10 * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return fmt.Errorf("insert entry: %w", err)
	}

	return fmt.Errorf("insert entry after %d retries: %w", maxRetries, err)
}
