package postgres

/*
Файл store.go реализует Postgres-вариант хранилища политик и журнала решений.
Политика агента хранится целиком как JSONB-документ (схема конфигурации меняется
чаще, чем хочется гонять миграции), журнал — append-only таблица с bigserial,
которая и задает порядок записи.

Ожидаемая схема:

	CREATE TABLE guard_agents (
		agent_id   TEXT PRIMARY KEY,
		policy     JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE guard_decision_logs (
		seq      BIGSERIAL PRIMARY KEY,
		agent_id TEXT NOT NULL,
		entry    JSONB NOT NULL
	);
	CREATE INDEX guard_decision_logs_agent_idx ON guard_decision_logs (agent_id, seq);
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/agent-guardrails/internal/domain"
	"github.com/xela07ax/agent-guardrails/internal/storage"
)

type Store struct {
	db *sql.DB
}

func NewStore(connString string) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Ping проверяет соединение при старте сервиса (main делает это с таймаутом).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveAgentPolicy(ctx context.Context, policy *domain.AgentPolicy) error {
	doc, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("postgres: cannot marshal policy: %w", err)
	}

	query := `
		INSERT INTO guard_agents (agent_id, policy, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_id) DO UPDATE SET policy = EXCLUDED.policy, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, policy.AgentID, doc); err != nil {
		return fmt.Errorf("postgres: failed to save agent policy: %w", err)
	}
	return nil
}

func (s *Store) LoadAgentPolicy(ctx context.Context, agentID string) (*domain.AgentPolicy, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT policy FROM guard_agents WHERE agent_id = $1`, agentID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to load agent policy: %w", err)
	}

	var policy domain.AgentPolicy
	if err := json.Unmarshal(doc, &policy); err != nil {
		return nil, fmt.Errorf("postgres: corrupt policy document for %s: %w", agentID, err)
	}
	return &policy, nil
}

func (s *Store) AppendLogEntry(ctx context.Context, entry domain.LogEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("postgres: cannot marshal log entry: %w", err)
	}

	query := `INSERT INTO guard_decision_logs (agent_id, entry) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, entry.AgentID, doc); err != nil {
		return fmt.Errorf("postgres: failed to append log entry: %w", err)
	}
	return nil
}

func (s *Store) QueryLogEntries(ctx context.Context, agentID string, limit int) ([]domain.LogEntry, error) {
	// Последние limit записей выбираем по seq DESC, затем разворачиваем:
	// контракт Store — всегда хронологический порядок внутри среза.
	query := `SELECT entry FROM guard_decision_logs WHERE agent_id = $1 ORDER BY seq`
	args := []any{agentID}
	if limit > 0 {
		query = `
			SELECT entry FROM (
				SELECT seq, entry FROM guard_decision_logs
				WHERE agent_id = $1
				ORDER BY seq DESC
				LIMIT $2
			) tail ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query log entries: %w", err)
	}
	defer rows.Close()

	var result []domain.LogEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan failed: %w", err)
		}
		var entry domain.LogEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("postgres: corrupt log entry: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// WriteBatch сохраняет пачку записей за один INSERT. Метод нужен зеркалу аудита
// (audit.Exporter), когда основное хранилище — файл, а аналитика живет в Postgres.
func (s *Store) WriteBatch(ctx context.Context, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// Динамически строим multi-row INSERT: ($1,$2),($3,$4),...
	placeholders := ""
	vals := make([]any, 0, len(entries)*2)
	for i, entry := range entries {
		doc, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("postgres: cannot marshal log entry: %w", err)
		}
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2)
		vals = append(vals, entry.AgentID, doc)
	}

	query := "INSERT INTO guard_decision_logs (agent_id, entry) VALUES " + placeholders
	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: batch insert failed: %w", err)
	}
	return nil
}
