package domain

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by backend operations that target a
// session which does not exist.
var ErrSessionNotFound = errors.New("session not found")

// TraceBackend manages named capture sessions.
// Implementation: SQLite-backed trace store in internal/infra.
type TraceBackend interface {
	// Exists reports whether a session with the given name exists,
	// running or not.
	Exists(ctx context.Context, name string) (bool, error)

	// Running reports whether the named session is currently started.
	// A missing session reports false without error.
	Running(ctx context.Context, name string) (bool, error)

	// Create creates the session described by spec.
	// Fails if a session with the same name already exists.
	Create(ctx context.Context, spec SessionSpec) error

	// AddProvider registers an event provider against the named session.
	// Providers keep their registration order.
	AddProvider(ctx context.Context, name, provider string) error

	// Start marks the named session running.
	Start(ctx context.Context, name string) error

	// Stop marks the named session stopped.
	Stop(ctx context.Context, name string) error

	// Remove deletes the named session and its backing file.
	Remove(ctx context.Context, name string) error
}

// TraceReader reads records from a session's backing file.
type TraceReader interface {
	// ReadSince returns records with creation time strictly greater than
	// since, in ascending creation-time order. Empty result means no new
	// data. File-access failures surface as recoverable errors; the
	// caller retries on its next cycle.
	ReadSince(ctx context.Context, filePath string, since int64) ([]RawRecord, error)
}

// RecordSink consumes display records.
// Implementations: console writer, NATS forwarder, recent-records buffer.
type RecordSink interface {
	// Emit outputs a single display record.
	Emit(rec DisplayRecord) error
}

// FilterPipeline turns raw records into display records.
type FilterPipeline interface {
	// Process filters a batch by the interest set and classifies the
	// survivors, preserving input order. Pure: no state is read or
	// mutated here.
	Process(batch []RawRecord) []DisplayRecord
}

// SessionController owns the monitor's capture session lifecycle.
type SessionController interface {
	// EnsureStarted creates the session if absent, registers all
	// configured providers, and starts it when not already running.
	// A stale session left by a crashed run counts as "already exists"
	// and is started as is.
	EnsureStarted(ctx context.Context) error

	// Stop stops the session if it exists and is running. No-op
	// otherwise; never fails on "already stopped".
	Stop(ctx context.Context) error

	// Remove deletes the session if it exists, running or not.
	// No-op otherwise. Never invoked automatically during teardown.
	Remove(ctx context.Context) error
}

// ProcessProbe checks whether the capture agent process is alive.
// Implementation: uses gopsutil for cross-platform support.
type ProcessProbe interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)
}

// KeyProvider abstracts the source of the trace store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
