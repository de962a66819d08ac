// Package storage provides durable ledger.Store implementations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mattn/go-sqlite3"

	"github.com/votingplatform/election-ledger/internal/ledger"
)

var log = logging.Logger("ledger-sqlite")

const (
	// Database file
	LedgerDBFile = "ledger.db"

	// DefaultBusyTimeout is how long a writer waits on another process's lock.
	DefaultBusyTimeout = 5 * time.Second
)

// SQLiteStore keeps the chain in a SQLite database. Several processes may
// share the file; the head is guarded by an IMMEDIATE transaction.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the ledger database under basePath.
func NewSQLiteStore(basePath string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create ledger directory: %w", ledger.ErrStoreUnavailable, err)
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	dbPath := filepath.Join(basePath, LedgerDBFile)
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open ledger database: %w", ledger.ErrStoreUnavailable, err)
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize ledger database: %w", ledger.ErrStoreUnavailable, err)
	}

	log.Debugf("Opened ledger database %s", dbPath)
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// initDB creates the ledger table, its indexes and the append-only triggers.
func (s *SQLiteStore) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			previous_hash TEXT NOT NULL UNIQUE,
			hash TEXT NOT NULL UNIQUE
		)
	`)
	if err != nil {
		return err
	}

	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_ledger_entity ON ledger_entries(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_action ON ledger_entries(action)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_created_at ON ledger_entries(created_at)`,
		`CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update BEFORE UPDATE ON ledger_entries
			BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete BEFORE DELETE ON ledger_entries
			BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Head implements ledger.Store.
func (s *SQLiteStore) Head(ctx context.Context) (ledger.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ledger.Head{}, ledger.ErrStoreClosed
	}

	head, err := readHead(ctx, s.db)
	if err != nil {
		return ledger.Head{}, classify(err)
	}
	return head, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readHead(ctx context.Context, q queryRower) (ledger.Head, error) {
	var (
		head      ledger.Head
		createdAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, hash, created_at FROM ledger_entries ORDER BY id DESC LIMIT 1
	`).Scan(&head.ID, &head.Hash, &createdAt)
	if err == sql.ErrNoRows {
		return ledger.EmptyHead(), nil
	} else if err != nil {
		return ledger.Head{}, err
	}
	head.CreatedAt = time.UnixMilli(createdAt).UTC()
	return head, nil
}

// AppendIfHeadIs implements ledger.Store. The head is re-read inside the
// write transaction, so a concurrent writer in another process is detected.
func (s *SQLiteStore) AppendIfHeadIs(ctx context.Context, expectedID int64, expectedHash string, entry ledger.Entry) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ledger.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback()

	head, err := readHead(ctx, tx)
	if err != nil {
		return 0, classify(err)
	}
	if head.ID != expectedID || head.Hash != expectedHash {
		return 0, ledger.ErrHeadConflict
	}

	var metadata sql.NullString
	if entry.Metadata != "" {
		metadata = sql.NullString{String: entry.Metadata, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (entity_type, entity_id, action, metadata,
			created_at, previous_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(entry.EntityType), entry.EntityID, entry.Action, metadata,
		entry.CreatedAt.UnixMilli(), entry.PreviousHash, entry.Hash)
	if err != nil {
		return 0, classify(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// List implements ledger.Store.
func (s *SQLiteStore) List(ctx context.Context, opts ledger.ListOptions) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ledger.ErrStoreClosed
	}

	query := `
		SELECT id, entity_type, entity_id, action, metadata, created_at, previous_hash, hash
		FROM ledger_entries WHERE 1=1
	`
	var args []interface{}

	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, string(opts.EntityType))
	}
	if opts.EntityID > 0 {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.AfterID > 0 {
		query += " AND id > ?"
		args = append(args, opts.AfterID)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}
	if !opts.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, opts.Until.UnixMilli())
	}

	if opts.Order == ledger.Descending {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}

	switch {
	case opts.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	case opts.Offset > 0:
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		var (
			entry      ledger.Entry
			entityType string
			metadata   sql.NullString
			createdAt  int64
		)
		err := rows.Scan(&entry.ID, &entityType, &entry.EntityID, &entry.Action,
			&metadata, &createdAt, &entry.PreviousHash, &entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan entry: %w", ledger.ErrStoreUnavailable, err)
		}

		entry.EntityType = ledger.EntityType(entityType)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		if metadata.Valid {
			entry.Metadata = metadata.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return entries, nil
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ledger.ErrStoreClosed
	}
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&count)
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// classify maps driver errors onto the ledger's sentinels. Lock contention
// and a lost race on the unique hash columns mean another writer moved the
// head; everything else is a storage failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ledger.ErrHeadConflict, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ledger.ErrHeadConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
}
