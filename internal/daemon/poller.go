package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/domain"
)

// PollerConfig holds polling loop configuration.
type PollerConfig struct {
	Interval time.Duration // delay between the end of one poll and the next
	FilePath string        // session backing file queried each tick
	Start    time.Time     // initial watermark; records at or before it are skipped
}

// DefaultPollerConfig returns the default polling configuration.
// FilePath must still be set by the caller.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: 2 * time.Second,
		Start:    time.Now(),
	}
}

// Poller periodically reads newly written trace records and feeds them
// through the filter pipeline to the output sink. A single-shot timer is
// re-armed only after each tick completes, so at most one tick is ever in
// flight and the watermark needs no lock.
//
// Records are selected by creation time strictly greater than the
// watermark. Two records sharing a timestamp inside one batch are both
// delivered, but a record that shares the advanced watermark's exact
// timestamp and only lands in a later batch is skipped. Comparison is by
// timestamp alone; the record stream carries no sequence number to
// disambiguate with. Known limitation.
type Poller struct {
	config   PollerConfig
	reader   domain.TraceReader
	pipeline domain.FilterPipeline
	sink     domain.RecordSink
	stats    *Stats
	logger   *zap.Logger

	watermark int64 // touched only inside tick
}

// NewPoller creates a poller. The watermark starts at config.Start.
func NewPoller(
	config PollerConfig,
	reader domain.TraceReader,
	pipeline domain.FilterPipeline,
	sink domain.RecordSink,
	stats *Stats,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		config:    config,
		reader:    reader,
		pipeline:  pipeline,
		sink:      sink,
		stats:     stats,
		logger:    logger,
		watermark: config.Start.UnixNano(),
	}
}

// Run drives the polling loop until ctx is canceled.
// An auto-repeating ticker would allow a slow tick to overlap the next
// one; the timer here is re-armed by hand after each tick instead.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.Duration("interval", p.config.Interval),
		zap.String("file", p.config.FilePath),
		zap.Time("watermark", time.Unix(0, p.watermark)))

	timer := time.NewTimer(p.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return ctx.Err()

		case <-timer.C:
			p.tick(ctx)
			timer.Reset(p.config.Interval)
		}
	}
}

// tick runs one poll cycle: query, filter, emit, advance the watermark.
func (p *Poller) tick(ctx context.Context) {
	batch, err := p.reader.ReadSince(ctx, p.config.FilePath, p.watermark)
	if err != nil {
		// Recoverable: the backing file may be locked or mid-rotation.
		// Watermark stays put so the next tick retries the same range.
		p.logger.Warn("record query failed, retrying next tick", zap.Error(err))
		p.stats.TickFailed()
		return
	}

	if len(batch) == 0 {
		p.stats.TickCompleted(p.watermark, 0, 0)
		return
	}

	displayed := 0
	for _, rec := range p.pipeline.Process(batch) {
		if err := p.sink.Emit(rec); err != nil {
			p.logger.Warn("failed to emit record", zap.Error(err))
			p.stats.SinkError()
			continue
		}
		displayed++
	}

	// Advance to the last record of the raw batch even when every record
	// was filtered out, or a burst of uninteresting records would be
	// re-scanned on every subsequent tick.
	p.watermark = batch[len(batch)-1].CreatedAt
	p.stats.TickCompleted(p.watermark, len(batch), displayed)

	p.logger.Debug("poll cycle completed",
		zap.Int("scanned", len(batch)),
		zap.Int("displayed", displayed),
		zap.Time("watermark", time.Unix(0, p.watermark)))
}

// Ensure Poller satisfies the scheduler contract used by Monitor.
var _ Scheduler = (*Poller)(nil)
