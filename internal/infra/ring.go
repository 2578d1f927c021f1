package infra

import (
	"sync"

	"github.com/nettrail/fwmon/internal/domain"
)

// RecentBuffer is a fixed-size ring of the most recent display records,
// backing the web API's recent-records endpoint.
type RecentBuffer struct {
	mu    sync.Mutex
	recs  []domain.DisplayRecord
	head  int
	count int
}

// NewRecentBuffer returns a buffer holding at most capacity records.
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentBuffer{recs: make([]domain.DisplayRecord, capacity)}
}

// Emit stores the record, evicting the oldest when full.
func (b *RecentBuffer) Emit(rec domain.DisplayRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recs[(b.head+b.count)%len(b.recs)] = rec
	if b.count < len(b.recs) {
		b.count++
	} else {
		b.head = (b.head + 1) % len(b.recs)
	}
	return nil
}

// Records returns the buffered records, oldest first.
func (b *RecentBuffer) Records() []domain.DisplayRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.DisplayRecord, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.recs[(b.head+i)%len(b.recs)]
	}
	return out
}

var _ domain.RecordSink = (*RecentBuffer)(nil)
