package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// stateDocument — структура state-файла целиком: мапа политик и append-only журнал.
//
//	{
//	  "agents": { "<agent_id>": {...}, ... },
//	  "logs":   [ {...}, {...} ]
//	}
type stateDocument struct {
	Agents map[string]*domain.AgentPolicy `json:"agents"`
	Logs   []domain.LogEntry              `json:"logs"`
}

// FileStore — файловое хранилище: один JSON-документ, один мьютекс,
// read-modify-write на каждую операцию. Запись идет через временный файл и
// rename, чтобы упавший посреди записи процесс не оставил полубитый state.
//
// Конкурентных процессов-писателей файл не разруливает — это заявленное
// ограничение дизайна, сериализацию обеспечивает вызывающая сторона.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// DefaultStatePath — ~/.agent-guardrails/state.json.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("storage: cannot resolve home dir: %w", err)
	}
	return filepath.Join(home, ".agent-guardrails", "state.json"), nil
}

// NewFileStore создает файл с пустым документом, если его еще нет.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("storage: cannot create state dir: %w", err)
		}
		if err := s.write(&stateDocument{Agents: map[string]*domain.AgentPolicy{}, Logs: []domain.LogEntry{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("storage: cannot stat state file: %w", err)
	}

	return s, nil
}

func (s *FileStore) read() (*stateDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot read state file: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: corrupt state file %s: %w", s.path, err)
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*domain.AgentPolicy{}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *stateDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: cannot marshal state: %w", err)
	}

	// Атомарная замена: tmp-файл рядом + rename.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: cannot write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage: cannot replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) SaveAgentPolicy(_ context.Context, policy *domain.AgentPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Agents[policy.AgentID] = policy.Clone()
	return s.write(doc)
}

func (s *FileStore) LoadAgentPolicy(_ context.Context, agentID string) (*domain.AgentPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	policy, ok := doc.Agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return policy, nil
}

func (s *FileStore) AppendLogEntry(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Logs = append(doc.Logs, entry)
	return s.write(doc)
}

func (s *FileStore) QueryLogEntries(_ context.Context, agentID string, limit int) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	var result []domain.LogEntry
	for _, entry := range doc.Logs {
		if entry.AgentID == agentID {
			result = append(result, entry)
		}
	}
	return tailEntries(result, limit), nil
}
