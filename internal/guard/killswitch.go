package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/infra"
)

// KillSwitch — мгновенная блокировка агента на hot path. Источник правды —
// Redis-set (чтобы несколько реплик шлюза сходились к одному состоянию),
// проверка на каждый запрос идет по локальному L1-кэшу под RWMutex.
type KillSwitch struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewKillSwitch(rdb *redis.Client, logger *zap.Logger) *KillSwitch {
	return &KillSwitch{
		blocked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("killswitch"),
	}
}

// Init загружает текущее множество заблокированных агентов при старте сервиса.
func (k *KillSwitch) Init(ctx context.Context) error {
	agents, err := k.rdb.SMembers(ctx, infra.RedisKeyBlockedAgents).Result()
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.blocked = make(map[string]struct{}, len(agents))
	for _, id := range agents {
		k.blocked[id] = struct{}{}
	}
	k.mu.Unlock()
	return nil
}

func (k *KillSwitch) IsBlocked(agentID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, blocked := k.blocked[agentID]
	return blocked
}

// Block публикует сигнал блокировки: Redis-set для новых реплик,
// Pub/Sub для уже работающих, локальный кэш — немедленно.
func (k *KillSwitch) Block(ctx context.Context, agentID string) error {
	if err := k.rdb.SAdd(ctx, infra.RedisKeyBlockedAgents, agentID).Err(); err != nil {
		return err
	}
	if err := k.rdb.Publish(ctx, infra.RedisChanKillSwitch, agentID+":true").Err(); err != nil {
		k.logger.Warn("block signal delivery failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	k.setLocal(agentID, true)
	return nil
}

func (k *KillSwitch) Unblock(ctx context.Context, agentID string) error {
	if err := k.rdb.SRem(ctx, infra.RedisKeyBlockedAgents, agentID).Err(); err != nil {
		return err
	}
	if err := k.rdb.Publish(ctx, infra.RedisChanKillSwitch, agentID+":false").Err(); err != nil {
		k.logger.Warn("unblock signal delivery failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	k.setLocal(agentID, false)
	return nil
}

func (k *KillSwitch) setLocal(agentID string, blocked bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if blocked {
		k.blocked[agentID] = struct{}{}
	} else {
		delete(k.blocked, agentID)
	}
}

// StartListener — «живучая» подписка на сигналы блокировки: переподключение
// с ресинхронизацией состояния при каждом успешном коннекте.
func (k *KillSwitch) StartListener(ctx context.Context) {
	for {
		pubsub := k.rdb.Subscribe(ctx, infra.RedisChanKillSwitch)

		if _, err := pubsub.Receive(ctx); err != nil {
			k.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanKillSwitch), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Ресинхронизация при каждом успешном коннекте: пока мы были в
		// оффлайне, set в Redis мог уехать.
		if err := k.Init(ctx); err != nil {
			k.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Формат сигнала: "agent_id:true|false"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					k.logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}

				blocked := parts[1] == "true" || parts[1] == "on"
				k.setLocal(parts[0], blocked)
				k.logger.Info("kill-switch signal applied",
					zap.String("agent_id", parts[0]),
					zap.Bool("blocked", blocked))
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
