// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// SessionSpec identifies an OS capture session and its sizing parameters.
// Built once at monitor construction; immutable afterwards.
type SessionSpec struct {
	Name          string   // OS session name, identifies the session
	Source        string   // capture source identifier (host)
	FilePath      string   // backing file the session writes to
	MaxFileSizeMB int      // 0 = unbounded
	BufferSizeKB  int      // per-buffer size handed to the capture subsystem
	BufferCount   int      // max buffer count
	Providers     []string // event providers, registered in order at creation
}

// RawRecord is a single trace record as read from the backing file.
// Ephemeral: produced by the trace reader, consumed within one poll cycle.
type RawRecord struct {
	CreatedAt int64 // creation time, unix nanoseconds
	Message   string
}

// Timestamp returns the record creation time as time.Time.
func (r RawRecord) Timestamp() time.Time {
	return time.Unix(0, r.CreatedAt)
}

// Category tags a record for display purposes (color), never for content.
type Category string

const (
	CategoryAllow Category = "allow"
	CategoryBlock Category = "block"
	CategoryOther Category = "other"
)

// DisplayRecord is a filtered, classified record ready for an output sink.
type DisplayRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
}

// InterestSet holds the operator-supplied addresses used to filter
// displayed records. The empty set matches everything. Immutable after
// construction.
type InterestSet struct {
	addrs []string
}

// NewInterestSet flattens raw address arguments into one set.
// Each argument may itself be comma-delimited; entries are trimmed and
// empty entries dropped.
func NewInterestSet(raw []string) InterestSet {
	var addrs []string
	for _, chunk := range raw {
		for _, addr := range strings.Split(chunk, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				addrs = append(addrs, addr)
			}
		}
	}
	return InterestSet{addrs: addrs}
}

// Empty reports whether the set matches every record.
func (s InterestSet) Empty() bool {
	return len(s.addrs) == 0
}

// Matches reports whether message contains any address in the set.
// An empty set matches any message.
func (s InterestSet) Matches(message string) bool {
	if len(s.addrs) == 0 {
		return true
	}
	for _, addr := range s.addrs {
		if strings.Contains(message, addr) {
			return true
		}
	}
	return false
}

// Addresses returns a copy of the set members (for status output).
func (s InterestSet) Addresses() []string {
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out
}

// MonitorState identifies where the monitor is in its lifecycle.
// Transitions only move forward; Stopped is terminal.
type MonitorState string

const (
	StateIdle     MonitorState = "idle"
	StateStarting MonitorState = "starting"
	StateRunning  MonitorState = "running"
	StateStopping MonitorState = "stopping"
	StateStopped  MonitorState = "stopped"
)

// SessionInfo describes a stored capture session (for status commands).
type SessionInfo struct {
	Name        string
	Source      string
	FilePath    string
	Running     bool
	Providers   []string
	RecordCount int64
	FileBytes   int64
	CreatedAt   time.Time
}
