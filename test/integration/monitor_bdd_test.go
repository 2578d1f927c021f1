//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/daemon"
	"github.com/nettrail/fwmon/internal/domain"
	"github.com/nettrail/fwmon/internal/infra"
	"github.com/nettrail/fwmon/internal/usecase"
)

// collectingSink gathers emitted records for assertions.
type collectingSink struct {
	mu   sync.Mutex
	recs []domain.DisplayRecord
}

func (s *collectingSink) Emit(rec domain.DisplayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *collectingSink) records() []domain.DisplayRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DisplayRecord(nil), s.recs...)
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// syncWriter is a goroutine-safe buffer for console sink output.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

var _ = Describe("Monitor", func() {
	var (
		tmpDir   string
		filePath string
		spec     domain.SessionSpec
		store    *infra.SQLiteTraceStore
		logger   *zap.Logger
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "fwmon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		filePath = filepath.Join(tmpDir, "fwmon.db")
		spec = domain.SessionSpec{
			Name:          "fwmon-it",
			Source:        "localhost",
			FilePath:      filePath,
			MaxFileSizeMB: 250,
			BufferSizeKB:  1,
			BufferCount:   1,
			Providers:     []string{"Microsoft-Windows-Hyper-V-VfpExt"},
		}

		logger = zap.NewNop()
		store = infra.NewSQLiteTraceStore(filePath, nil, logger)
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	// newMonitor builds a full monitor stack over the shared store.
	newMonitor := func(interval time.Duration, pipeline domain.FilterPipeline, sink domain.RecordSink, stats *daemon.Stats) *daemon.Monitor {
		controller := usecase.NewSessionController(store, spec, logger)
		cfg := daemon.DefaultPollerConfig()
		cfg.Interval = interval
		cfg.FilePath = filePath
		poller := daemon.NewPoller(cfg, store, pipeline, sink, stats, logger)
		return daemon.NewMonitor(controller, poller, stats, logger)
	}

	appendAt := func(ts time.Time, messages ...string) {
		recs := make([]domain.RawRecord, 0, len(messages))
		for i, msg := range messages {
			recs = append(recs, domain.RawRecord{
				CreatedAt: ts.Add(time.Duration(i) * time.Millisecond).UnixNano(),
				Message:   msg,
			})
		}
		Expect(store.Append(context.Background(), recs)).To(Succeed())
	}

	Describe("end to end", func() {
		Context("with records arriving in two bursts", func() {
			It("should emit each record exactly once in order and land the watermark on the last one", func() {
				sink := &collectingSink{}
				stats := daemon.NewStats()
				pipeline := usecase.NewFilterPipeline(domain.NewInterestSet(nil), "ALLOW", "BLOCK")
				monitor := newMonitor(100*time.Millisecond, pipeline, sink, stats)

				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				done := make(chan error, 1)
				go func() { done <- monitor.Run(ctx) }()

				Eventually(monitor.State, "2s", "10ms").Should(Equal(domain.StateRunning))

				appendAt(time.Now(), "ALLOW tcp 10.0.0.5:443 -> 1.2.3.4:443")
				Eventually(sink.count, "2s", "10ms").Should(Equal(1))

				second := time.Now()
				appendAt(second,
					"BLOCK udp 10.0.0.5:53 -> 8.8.8.8:53",
					"ALLOW tcp 10.0.0.9:80 -> 1.2.3.4:80")
				Eventually(sink.count, "2s", "10ms").Should(Equal(3))
				Consistently(sink.count, "300ms", "50ms").Should(Equal(3),
					"records must not be emitted twice")

				recs := sink.records()
				Expect(recs[0].Message).To(Equal("ALLOW tcp 10.0.0.5:443 -> 1.2.3.4:443"))
				Expect(recs[1].Message).To(Equal("BLOCK udp 10.0.0.5:53 -> 8.8.8.8:53"))
				Expect(recs[2].Message).To(Equal("ALLOW tcp 10.0.0.9:80 -> 1.2.3.4:80"))
				Expect(recs[0].Timestamp.After(recs[1].Timestamp)).To(BeFalse())
				Expect(recs[1].Timestamp.After(recs[2].Timestamp)).To(BeFalse())
				Expect(recs[0].Category).To(Equal(domain.CategoryAllow))
				Expect(recs[1].Category).To(Equal(domain.CategoryBlock))

				cancel()
				Eventually(done, "2s").Should(Receive(BeNil()))

				Expect(stats.Snapshot().LastWatermark).To(Equal(second.Add(time.Millisecond).UnixNano()))
				Expect(monitor.State()).To(Equal(domain.StateStopped))
			})
		})

		Context("with an interest set configured", func() {
			It("should display only matching records but advance past all of them", func() {
				sink := &collectingSink{}
				stats := daemon.NewStats()
				pipeline := usecase.NewFilterPipeline(
					domain.NewInterestSet([]string{"10.0.0.5"}), "ALLOW", "BLOCK")
				monitor := newMonitor(100*time.Millisecond, pipeline, sink, stats)

				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				done := make(chan error, 1)
				go func() { done <- monitor.Run(ctx) }()

				Eventually(monitor.State, "2s", "10ms").Should(Equal(domain.StateRunning))

				burst := time.Now()
				appendAt(burst,
					"ALLOW tcp 10.0.0.5:443 -> 1.2.3.4:443",
					"ALLOW tcp 192.168.1.20:80 -> 1.2.3.4:80",
					"BLOCK udp 10.0.0.5:53 -> 8.8.8.8:53")

				Eventually(sink.count, "2s", "10ms").Should(Equal(2))
				Consistently(sink.count, "300ms", "50ms").Should(Equal(2))

				for _, rec := range sink.records() {
					Expect(rec.Message).To(ContainSubstring("10.0.0.5"))
				}

				// The non-matching record still moved the watermark.
				snap := stats.Snapshot()
				Expect(snap.RecordsDisplayed).To(Equal(uint64(2)))
				Expect(snap.RecordsScanned).To(Equal(uint64(3)))
				Expect(snap.LastWatermark).To(Equal(burst.Add(2 * time.Millisecond).UnixNano()))

				cancel()
				Eventually(done, "2s").Should(Receive(BeNil()))
			})
		})

		Context("after an interrupt", func() {
			It("should stop the session but keep it and the backing file", func() {
				sink := &collectingSink{}
				stats := daemon.NewStats()
				pipeline := usecase.NewFilterPipeline(domain.NewInterestSet(nil), "ALLOW", "BLOCK")
				monitor := newMonitor(100*time.Millisecond, pipeline, sink, stats)

				ctx, cancel := context.WithCancel(context.Background())
				done := make(chan error, 1)
				go func() { done <- monitor.Run(ctx) }()

				Eventually(monitor.State, "2s", "10ms").Should(Equal(domain.StateRunning))

				running, err := store.Running(context.Background(), spec.Name)
				Expect(err).NotTo(HaveOccurred())
				Expect(running).To(BeTrue())

				cancel()
				Eventually(done, "2s").Should(Receive(BeNil()))

				running, err = store.Running(context.Background(), spec.Name)
				Expect(err).NotTo(HaveOccurred())
				Expect(running).To(BeFalse(), "interrupt must stop the session")

				exists, err := store.Exists(context.Background(), spec.Name)
				Expect(err).NotTo(HaveOccurred())
				Expect(exists).To(BeTrue(), "interrupt must not remove the session")

				_, err = os.Stat(filePath)
				Expect(err).NotTo(HaveOccurred(), "backing file must survive the interrupt")
			})
		})

		Context("when restarted against an existing session", func() {
			It("should reuse the session and show only records created after the restart", func() {
				pipeline := usecase.NewFilterPipeline(domain.NewInterestSet(nil), "ALLOW", "BLOCK")

				// First run creates and starts the session.
				first := newMonitor(100*time.Millisecond, pipeline, &collectingSink{}, daemon.NewStats())
				ctx1, cancel1 := context.WithCancel(context.Background())
				done1 := make(chan error, 1)
				go func() { done1 <- first.Run(ctx1) }()
				Eventually(first.State, "2s", "10ms").Should(Equal(domain.StateRunning))
				cancel1()
				Eventually(done1, "2s").Should(Receive(BeNil()))

				// A record lands while no monitor is running.
				appendAt(time.Now(), "ALLOW tcp 10.0.0.5:22 -> 1.2.3.4:22")

				// Second run reuses the stale session; a duplicate create
				// would fail against the real store.
				sink := &collectingSink{}
				second := newMonitor(100*time.Millisecond, pipeline, sink, daemon.NewStats())
				ctx2, cancel2 := context.WithCancel(context.Background())
				defer cancel2()
				done2 := make(chan error, 1)
				go func() { done2 <- second.Run(ctx2) }()
				Eventually(second.State, "2s", "10ms").Should(Equal(domain.StateRunning))

				appendAt(time.Now(), "BLOCK udp 10.0.0.5:53 -> 8.8.8.8:53")

				Eventually(sink.count, "2s", "10ms").Should(Equal(1))
				Consistently(sink.count, "300ms", "50ms").Should(Equal(1),
					"records predating the run must stay hidden")
				Expect(sink.records()[0].Message).To(Equal("BLOCK udp 10.0.0.5:53 -> 8.8.8.8:53"))

				cancel2()
				Eventually(done2, "2s").Should(Receive(BeNil()))
			})
		})

		Context("with the console sink attached", func() {
			It("should print one bracketed timestamp line per record", func() {
				out := &syncWriter{}
				console := infra.NewConsoleSink(out, true)
				collector := &collectingSink{}
				sink := infra.NewMultiSink(console, collector)

				stats := daemon.NewStats()
				pipeline := usecase.NewFilterPipeline(domain.NewInterestSet(nil), "ALLOW", "BLOCK")
				monitor := newMonitor(100*time.Millisecond, pipeline, sink, stats)

				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				done := make(chan error, 1)
				go func() { done <- monitor.Run(ctx) }()

				Eventually(monitor.State, "2s", "10ms").Should(Equal(domain.StateRunning))
				appendAt(time.Now(), "ALLOW tcp 10.0.0.5:443 -> 1.2.3.4:443")
				Eventually(collector.count, "2s", "10ms").Should(Equal(1))

				cancel()
				Eventually(done, "2s").Should(Receive(BeNil()))

				Expect(out.String()).To(MatchRegexp(
					`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}\] ALLOW tcp 10\.0\.0\.5:443 -> 1\.2\.3\.4:443\n$`))
			})
		})
	})
})
