package storage

import (
	"context"
	"errors"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// ErrNotFound возвращается Load-операциями, когда агента нет в хранилище.
// Отличается от инфраструктурной ошибки: not-found — это ответ, а не сбой.
var ErrNotFound = errors.New("storage: agent not found")

// Store — контракт хранилища политик и журнала решений. Движок авторизации
// зависит только от него: in-memory реализация подставляется в тестах,
// файловая и Postgres — в проде. Никаких синглтонов уровня пакета.
type Store interface {
	// SaveAgentPolicy — upsert по agent_id.
	SaveAgentPolicy(ctx context.Context, policy *domain.AgentPolicy) error

	// LoadAgentPolicy возвращает ErrNotFound для незарегистрированного агента.
	LoadAgentPolicy(ctx context.Context, agentID string) (*domain.AgentPolicy, error)

	// AppendLogEntry — долговечный append. Порядок записей одного агента
	// обязан сохраняться как порядок записи.
	AppendLogEntry(ctx context.Context, entry domain.LogEntry) error

	// QueryLogEntries возвращает журнал агента в хронологическом порядке.
	// limit > 0 — последние limit записей (порядок внутри среза хронологический).
	QueryLogEntries(ctx context.Context, agentID string, limit int) ([]domain.LogEntry, error)
}
