// Package infra implements infrastructure concerns (trace store, sinks, probes).
package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

// SQLiteTraceStore implements domain.TraceBackend and domain.TraceReader
// over one SQLite backing file per capture session. The capture agent
// appends records; the monitor reads them back by creation time.
//
// With a key the file is SQLCipher encrypted; without one it is plain
// SQLite. Query operations on a missing file report absence instead of
// creating an empty database as a side effect; only Create makes the file.
type SQLiteTraceStore struct {
	filePath string
	key      []byte
	logger   *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteTraceStore returns a store bound to one backing file.
// A nil or empty key means an unencrypted store.
func NewSQLiteTraceStore(filePath string, key []byte, logger *zap.Logger) *SQLiteTraceStore {
	return &SQLiteTraceStore{
		filePath: filePath,
		key:      key,
		logger:   logger,
	}
}

// FilePath returns the backing file path the store is bound to.
func (s *SQLiteTraceStore) FilePath() string {
	return s.filePath
}

func (s *SQLiteTraceStore) fileExists() bool {
	_, err := os.Stat(s.filePath)
	return err == nil
}

// open lazily opens the backing database. With create false, a missing
// file is an error rather than an implicitly created empty database.
func (s *SQLiteTraceStore) open(create bool) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	if create {
		if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
	} else if !s.fileExists() {
		return nil, fmt.Errorf("backing file %s: %w", s.filePath, os.ErrNotExist)
	}

	// WAL lets the capture agent keep appending while the monitor reads;
	// the busy timeout rides out short write locks instead of failing the
	// poll outright.
	dsn := s.filePath + "?_journal_mode=WAL&_busy_timeout=5000"
	if len(s.key) > 0 {
		dsn += fmt.Sprintf("&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", hex.EncodeToString(s.key))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to trace store: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trace store schema: %w", err)
	}

	s.db = db
	return db, nil
}

// createTables creates the schema if it doesn't exist.
func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session (
		name TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		max_file_mb INTEGER NOT NULL,
		buffer_kb INTEGER NOT NULL,
		buffer_count INTEGER NOT NULL,
		running INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		stopped_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS providers (
		session TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (session, position)
	);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// --- domain.TraceBackend implementation ---

// Exists reports whether a session with the given name is stored here.
func (s *SQLiteTraceStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil && !s.fileExists() {
		return false, nil
	}

	db, err := s.open(false)
	if err != nil {
		return false, err
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query session %q: %w", name, err)
	}
	return n > 0, nil
}

// Running reports whether the named session is marked running.
// A missing session reports false without error.
func (s *SQLiteTraceStore) Running(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil && !s.fileExists() {
		return false, nil
	}

	db, err := s.open(false)
	if err != nil {
		return false, err
	}

	var running int
	err = db.QueryRowContext(ctx,
		`SELECT running FROM session WHERE name = ?`, name).Scan(&running)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query session %q state: %w", name, err)
	}
	return running == 1, nil
}

// Create creates the backing file and stores the session row.
func (s *SQLiteTraceStore) Create(ctx context.Context, spec domain.SessionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO session (name, source, max_file_mb, buffer_kb, buffer_count, running, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		spec.Name, spec.Source, spec.MaxFileSizeMB, spec.BufferSizeKB, spec.BufferCount,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session %q: %w", spec.Name, err)
	}

	s.logger.Debug("session row created",
		zap.String("session", spec.Name),
		zap.String("file", s.filePath))
	return nil
}

// AddProvider registers a provider against the named session, keeping
// registration order.
func (s *SQLiteTraceStore) AddProvider(ctx context.Context, name, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session WHERE name = ?`, name).Scan(&n); err != nil {
		return fmt.Errorf("failed to query session %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO providers (session, position, name)
		VALUES (?, (SELECT COUNT(*) FROM providers WHERE session = ?), ?)`,
		name, name, provider,
	)
	if err != nil {
		return fmt.Errorf("failed to register provider %q: %w", provider, err)
	}
	return nil
}

// Start marks the named session running.
func (s *SQLiteTraceStore) Start(ctx context.Context, name string) error {
	return s.setRunning(ctx, name, true)
}

// Stop marks the named session stopped.
func (s *SQLiteTraceStore) Stop(ctx context.Context, name string) error {
	return s.setRunning(ctx, name, false)
}

func (s *SQLiteTraceStore) setRunning(ctx context.Context, name string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}

	now := time.Now().UnixNano()
	var result sql.Result
	if running {
		result, err = db.ExecContext(ctx,
			`UPDATE session SET running = 1, started_at = ? WHERE name = ?`, now, name)
	} else {
		result, err = db.ExecContext(ctx,
			`UPDATE session SET running = 0, stopped_at = ? WHERE name = ?`, now, name)
	}
	if err != nil {
		return fmt.Errorf("failed to update session %q: %w", name, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}
	return nil
}

// Remove deletes the backing file and its WAL siblings.
func (s *SQLiteTraceStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
		s.db = nil
	}

	if !s.fileExists() {
		return nil
	}
	if err := os.Remove(s.filePath); err != nil {
		return fmt.Errorf("failed to remove backing file: %w", err)
	}
	os.Remove(s.filePath + "-wal")
	os.Remove(s.filePath + "-shm")

	s.logger.Debug("backing file removed",
		zap.String("session", name),
		zap.String("file", s.filePath))
	return nil
}

// --- domain.TraceReader implementation ---

// ReadSince returns records with creation time strictly greater than
// since, ascending. Insertion order breaks creation-time ties within a
// batch so tied records come back in a stable order.
func (s *SQLiteTraceStore) ReadSince(ctx context.Context, filePath string, since int64) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filePath != s.filePath {
		return nil, fmt.Errorf("store is bound to %s, asked to read %s", s.filePath, filePath)
	}

	db, err := s.open(false)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT created_at, message FROM records
		WHERE created_at > ?
		ORDER BY created_at ASC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []domain.RawRecord
	for rows.Next() {
		var rec domain.RawRecord
		if err := rows.Scan(&rec.CreatedAt, &rec.Message); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}

// --- capture agent / tooling side ---

// Append writes records to the backing file in one transaction.
// Used by the capture agent side and the inject developer command.
func (s *SQLiteTraceStore) Append(ctx context.Context, recs []domain.RawRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return fmt.Errorf("failed to open backing file: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (created_at, message) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare append: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.CreatedAt, rec.Message); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to append record: %w", err)
		}
	}
	return tx.Commit()
}

// Describe returns the stored session state (for status commands).
func (s *SQLiteTraceStore) Describe(ctx context.Context, name string) (*domain.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil && !s.fileExists() {
		return nil, fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}

	db, err := s.open(false)
	if err != nil {
		return nil, err
	}

	info := &domain.SessionInfo{Name: name, FilePath: s.filePath}
	var running int
	var createdAt int64
	err = db.QueryRowContext(ctx,
		`SELECT source, running, created_at FROM session WHERE name = ?`, name).
		Scan(&info.Source, &running, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", name, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %q: %w", name, err)
	}
	info.Running = running == 1
	info.CreatedAt = time.Unix(0, createdAt)

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM providers WHERE session = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		info.Providers = append(info.Providers, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read providers: %w", err)
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records`).Scan(&info.RecordCount); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	if fi, err := os.Stat(s.filePath); err == nil {
		info.FileBytes = fi.Size()
	}
	return info, nil
}

// Close releases the database connection.
func (s *SQLiteTraceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Ensure SQLiteTraceStore implements both trace interfaces.
var _ domain.TraceBackend = (*SQLiteTraceStore)(nil)
var _ domain.TraceReader = (*SQLiteTraceStore)(nil)
