package audit

/*
Файл exporter.go реализует асинхронное зеркало журнала решений.

Авторитетный журнал пишется синхронно через Store внутри Authorize — иначе
аккумулятор трат не увидит только что записанную трату (replay обязан читать
свои же записи). Exporter — вторичный поток: он копирует те же записи в
аналитический sink (Postgres) пачками, не влияя на время ответа шлюза.

Архитектура:
  - Non-blocking: неблокирующий канал, при переполнении — load shedding
    (запись остается в авторитетном журнале, теряется только зеркальная копия).
  - Batching: накопление в памяти и пакетная запись по таймеру или при
    достижении лимита пачки.
  - Drain Pattern: при остановке канал закрывается, воркер вычитывает остатки
    и делает финальный flush — ничего из принятого не пропадает.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// Sink определяет, куда физически уезжают зеркальные копии записей.
type Sink interface {
	WriteBatch(ctx context.Context, entries []domain.LogEntry) error
}

const (
	defaultBufferSize = 10000
	batchSize         = 100
	flushInterval     = 500 * time.Millisecond
)

type Exporter struct {
	ch     chan domain.LogEntry
	sink   Sink
	logger *zap.Logger
	wg     sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Export после Stop.
	isClosed int32
}

func NewExporter(sink Sink, bufferSize int, logger *zap.Logger) *Exporter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Exporter{
		ch:     make(chan domain.LogEntry, bufferSize),
		sink:   sink,
		logger: logger.With(zap.String("mod", "audit-exporter")),
	}
}

func (e *Exporter) Start() {
	e.wg.Add(1)
	go e.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер все допишет.
func (e *Exporter) Stop() {
	atomic.StoreInt32(&e.isClosed, 1)

	// Крошечная пауза, чтобы текущие Export успели проскочить до close.
	time.Sleep(10 * time.Millisecond)

	e.logger.Info("stopping exporter: closing channel and flushing buffer...")
	close(e.ch)
	e.wg.Wait()
	e.logger.Info("exporter stopped gracefully")
}

// Export принимает запись без блокировки hot path.
func (e *Exporter) Export(entry domain.LogEntry) {
	if atomic.LoadInt32(&e.isClosed) == 1 {
		e.logger.Warn("mirror entry dropped: exporter is stopping",
			zap.String("agent_id", entry.AgentID))
		return
	}

	// Load Shedding: канал переполнен — жертвуем зеркальной копией,
	// авторитетная запись уже лежит в Store.
	select {
	case e.ch <- entry:
	default:
		e.logger.Error("audit_mirror_overflow",
			zap.String("agent_id", entry.AgentID),
			zap.String("action_type", entry.ActionType),
		)
	}
}

// BufferFill — текущая заполненность канала, уходит в метрику saturation.
func (e *Exporter) BufferFill() int {
	return len(e.ch)
}

func (e *Exporter) worker() {
	defer e.wg.Done()

	batch := make([]domain.LogEntry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт.
		if err := e.sink.WriteBatch(context.Background(), batch); err != nil {
			e.logger.Error("mirror flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-e.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс, выходим.
				flush()
				e.logger.Info("audit exporter worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
