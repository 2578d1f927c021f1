package infra

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/domain"
)

// recordPayload is the JSON shape published per record. Kept separate
// from domain.DisplayRecord so the wire format stays stable if the
// domain type grows fields.
type recordPayload struct {
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message"`
	Category  domain.Category `json:"category"`
}

// NATSSink publishes every display record as JSON on a single subject,
// feeding downstream consumers that want the filtered stream without
// tailing the console.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to the NATS server at url and returns a sink
// publishing on subject. A connection failure is returned to the
// caller, which treats it as fatal at startup.
func NewNATSSink(url, subject string, logger *zap.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("fwmon"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS",
		zap.String("url", url),
		zap.String("subject", subject))
	return &NATSSink{conn: conn, subject: subject, logger: logger}, nil
}

// encodeRecord renders the published payload for one record.
func encodeRecord(rec domain.DisplayRecord) ([]byte, error) {
	return json.Marshal(recordPayload{
		Timestamp: rec.Timestamp,
		Message:   rec.Message,
		Category:  rec.Category,
	})
}

// Emit publishes one record.
func (s *NATSSink) Emit(rec domain.DisplayRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Close drains buffered publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

var _ domain.RecordSink = (*NATSSink)(nil)
