package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// ResilientStore — декоратор надежности поверх удаленного Store (Postgres).
// Retries сглаживают кратковременные сбои сети, Circuit Breaker не дает
// долбить лежащую базу, Rate Limiter защищает ее от всплесков авторизаций.
// Для in-memory и файлового хранилищ декоратор не нужен.
//
// ErrNotFound не ретраится и не считается сбоем для предохранителя:
// это ответ хранилища, а не его отказ.
type ResilientStore struct {
	next    Store
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewResilientStore(next Store) *ResilientStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "guardrails-store",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// not-found — ответ хранилища, а не его отказ.
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &ResilientStore{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(200), 50),
	}
}

// do прогоняет одну операцию хранилища через limiter -> CB -> retry.
func (s *ResilientStore) do(ctx context.Context, op func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("storage: rate limit wait: %w", err)
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, ErrNotFound)
			}),
		)
		return nil, r.Do(op)
	})
	return err
}

func (s *ResilientStore) SaveAgentPolicy(ctx context.Context, policy *domain.AgentPolicy) error {
	return s.do(ctx, func() error { return s.next.SaveAgentPolicy(ctx, policy) })
}

func (s *ResilientStore) LoadAgentPolicy(ctx context.Context, agentID string) (*domain.AgentPolicy, error) {
	var policy *domain.AgentPolicy
	err := s.do(ctx, func() error {
		var opErr error
		policy, opErr = s.next.LoadAgentPolicy(ctx, agentID)
		return opErr
	})
	return policy, err
}

func (s *ResilientStore) AppendLogEntry(ctx context.Context, entry domain.LogEntry) error {
	return s.do(ctx, func() error { return s.next.AppendLogEntry(ctx, entry) })
}

func (s *ResilientStore) QueryLogEntries(ctx context.Context, agentID string, limit int) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	err := s.do(ctx, func() error {
		var opErr error
		entries, opErr = s.next.QueryLogEntries(ctx, agentID, limit)
		return opErr
	})
	return entries, err
}
