package infra

import "github.com/nettrail/fwmon/internal/domain"

// MultiSink fans one record out to several sinks. Every sink sees the
// record even when an earlier one fails; the first error is returned.
type MultiSink struct {
	sinks []domain.RecordSink
}

// NewMultiSink returns a sink delivering to all given sinks in order.
func NewMultiSink(sinks ...domain.RecordSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers the record to every sink.
func (s *MultiSink) Emit(rec domain.DisplayRecord) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Emit(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ domain.RecordSink = (*MultiSink)(nil)
