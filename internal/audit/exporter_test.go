package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.LogEntry
	fail    bool
}

func (s *recordingSink) WriteBatch(_ context.Context, entries []domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	batch := make([]domain.LogEntry, len(entries))
	copy(batch, entries)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func mirrorEntry(i int) domain.LogEntry {
	return domain.LogEntry{
		Timestamp:  "2026-03-01T12:00:00Z",
		AgentID:    "agent-1",
		ActionType: "swap",
		Params:     map[string]any{"seq": fmt.Sprint(i)},
		Allowed:    true,
	}
}

func TestExporterFlushesOnStop(t *testing.T) {
	sink := &recordingSink{}
	exp := NewExporter(sink, 100, zap.NewNop())
	exp.Start()

	const n = 7
	for i := 0; i < n; i++ {
		exp.Export(mirrorEntry(i))
	}
	exp.Stop()

	// Drain pattern: все принятое до Stop должно доехать до sink.
	if got := sink.total(); got != n {
		t.Errorf("sink received %d entries, want %d", got, n)
	}
}

func TestExporterBatchesBySize(t *testing.T) {
	sink := &recordingSink{}
	exp := NewExporter(sink, 1000, zap.NewNop())
	exp.Start()

	// batchSize полных пачек уходит до всякого тикера.
	for i := 0; i < batchSize*2; i++ {
		exp.Export(mirrorEntry(i))
	}

	deadline := time.After(2 * time.Second)
	for sink.total() < batchSize*2 {
		select {
		case <-deadline:
			t.Fatalf("sink received %d entries before deadline, want %d", sink.total(), batchSize*2)
		case <-time.After(10 * time.Millisecond):
		}
	}
	exp.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, batch := range sink.batches {
		if len(batch) > batchSize {
			t.Errorf("batch %d has %d entries, cap is %d", i, len(batch), batchSize)
		}
	}
}

func TestExporterDropsWhenFull(t *testing.T) {
	sink := &recordingSink{}
	exp := NewExporter(sink, 2, zap.NewNop())
	// Воркер не запущен: канал заполняется и начинается load shedding.

	for i := 0; i < 10; i++ {
		exp.Export(mirrorEntry(i))
	}
	if got := exp.BufferFill(); got != 2 {
		t.Errorf("buffer fill = %d, want 2 (overflow must be dropped, not blocked)", got)
	}
}

func TestExporterRejectsAfterStop(t *testing.T) {
	sink := &recordingSink{}
	exp := NewExporter(sink, 10, zap.NewNop())
	exp.Start()
	exp.Stop()

	// Не должно паниковать записью в закрытый канал.
	exp.Export(mirrorEntry(0))

	if got := sink.total(); got != 0 {
		t.Errorf("sink received %d entries after stop, want 0", got)
	}
}

func TestExporterSurvivesSinkFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	exp := NewExporter(sink, 10, zap.NewNop())
	exp.Start()

	exp.Export(mirrorEntry(0))
	exp.Stop()

	// Ошибка sink логируется и не роняет воркер.
	if got := sink.total(); got != 0 {
		t.Errorf("failing sink recorded %d entries", got)
	}
}
