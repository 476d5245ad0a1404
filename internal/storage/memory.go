package storage

import (
	"context"
	"sync"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// MemoryStore — потокобезопасное хранилище в памяти. Используется в тестах
// и в demo-режиме, когда персистентность не нужна.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentPolicy
	logs   []domain.LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*domain.AgentPolicy),
	}
}

func (s *MemoryStore) SaveAgentPolicy(_ context.Context, policy *domain.AgentPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Храним копию: вызывающий код не должен мутировать наше состояние задним числом.
	s.agents[policy.AgentID] = policy.Clone()
	return nil
}

func (s *MemoryStore) LoadAgentPolicy(_ context.Context, agentID string) (*domain.AgentPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return policy.Clone(), nil
}

func (s *MemoryStore) AppendLogEntry(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStore) QueryLogEntries(_ context.Context, agentID string, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.LogEntry
	for _, entry := range s.logs {
		if entry.AgentID == agentID {
			result = append(result, entry)
		}
	}
	return tailEntries(result, limit), nil
}

// tailEntries оставляет последние limit записей, сохраняя хронологический
// порядок внутри среза. limit <= 0 — без ограничения.
func tailEntries(entries []domain.LogEntry, limit int) []domain.LogEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}
