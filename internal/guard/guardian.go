package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/audit"
	"github.com/xela07ax/agent-guardrails/internal/domain"
	"github.com/xela07ax/agent-guardrails/internal/policy"
	"github.com/xela07ax/agent-guardrails/internal/storage"
)

// Причины отказа. Тексты — часть контракта: по ним пишутся алерты
// и их проверяют интеграционные тесты вызывающих систем.
const (
	ReasonNotAllowlisted = "action not in allowlist"
	ReasonInternalError  = "internal error during authorization"
	ReasonKillSwitch     = "agent is blocked by kill-switch"
)

// Guardian — движок авторизации. Оркестрирует один вызов:
// allowlist-проверка -> проверка лимита -> запись решения в журнал.
//
// Детерминизм: одна и та же история + один и тот же запрос дают один и тот же
// вердикт. Никакого состояния между вызовами движок не держит — политика
// загружается из Store заново на каждый вызов.
//
// Fail-safe deny: любой внутренний сбой (нечитаемое хранилище, битые данные,
// нечисловая сумма запроса) конвертируется в отказ. Движок никогда не
// разрешает действие в результате собственной ошибки.
type Guardian struct {
	store    storage.Store
	ks       *KillSwitch     // nil, если kill-switch не подключен (нет Redis)
	exporter *audit.Exporter // nil, если зеркало аудита выключено
	metrics  *Metrics
	logger   *zap.Logger

	// Подменяется в тестах для управления окном времени.
	now func() time.Time
}

func NewGuardian(store storage.Store, ks *KillSwitch, exporter *audit.Exporter, metrics *Metrics, logger *zap.Logger) *Guardian {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Guardian{
		store:    store,
		ks:       ks,
		exporter: exporter,
		metrics:  metrics,
		logger:   logger.Named("guardian"),
		now:      time.Now,
	}
}

// Register создает нового агента: одноразовый неизменяемый UUID, кошелек как
// опаковая строка (никогда не валидируется и не разыменовывается), пустые
// лимиты и allowlist.
func (g *Guardian) Register(ctx context.Context, wallet, name string, metadata map[string]any) (*domain.AgentPolicy, error) {
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet is required", ErrInvalidArgument)
	}

	now := g.now().UTC()
	cfg := &domain.AgentPolicy{
		AgentID:    uuid.New().String(),
		Wallet:     wallet,
		Name:       name,
		Metadata:   metadata,
		Limits:     map[string]domain.LimitRule{},
		AllowRules: []domain.AllowRule{},
		Status:     domain.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := g.store.SaveAgentPolicy(ctx, cfg); err != nil {
		return nil, fmt.Errorf("guard: register failed: %w", err)
	}

	g.logger.Info("agent registered",
		zap.String("agent_id", cfg.AgentID),
		zap.String("name", name))
	return cfg, nil
}

// SetLimit задает потолок трат актива в скользящем окне. Идемпотентна по
// ключу: повторный вызов для того же актива полностью заменяет старый лимит.
// Ошибки конфигурации (кривое окно, нечисловая сумма) пробрасываются наружу.
func (g *Guardian) SetLimit(ctx context.Context, agentID, asset, amount, window string) error {
	cfg, err := g.loadPolicy(ctx, agentID)
	if err != nil {
		return err
	}

	windowSeconds, err := policy.ParseWindow(window)
	if err != nil {
		return err
	}

	max, err := decimal.NewFromString(amount)
	if err != nil || !max.IsPositive() {
		return fmt.Errorf("%w: %q (expected positive decimal)", policy.ErrInvalidAmount, amount)
	}

	cfg.Limits[asset] = domain.LimitRule{
		Asset:         asset,
		Amount:        max,
		WindowSeconds: windowSeconds,
	}
	cfg.UpdatedAt = g.now().UTC()

	if err := g.store.SaveAgentPolicy(ctx, cfg); err != nil {
		return fmt.Errorf("guard: set limit failed: %w", err)
	}

	g.logger.Info("limit set",
		zap.String("agent_id", agentID),
		zap.String("asset", asset),
		zap.String("amount", max.String()),
		zap.Int64("window_seconds", windowSeconds))
	return nil
}

// AllowAction добавляет правило в allowlist. Аддитивна: правила не
// заменяются, несколько правил на один action_type — это логическое ИЛИ.
func (g *Guardian) AllowAction(ctx context.Context, agentID, actionType string, constraints map[string]any) error {
	if actionType == "" {
		return fmt.Errorf("%w: action type is required", ErrInvalidArgument)
	}

	cfg, err := g.loadPolicy(ctx, agentID)
	if err != nil {
		return err
	}

	cfg.AllowRules = append(cfg.AllowRules, domain.AllowRule{
		ActionType:  actionType,
		Constraints: constraints,
	})
	cfg.UpdatedAt = g.now().UTC()

	if err := g.store.SaveAgentPolicy(ctx, cfg); err != nil {
		return fmt.Errorf("guard: allow action failed: %w", err)
	}

	g.logger.Info("allow rule added",
		zap.String("agent_id", agentID),
		zap.String("action_type", actionType),
		zap.Int("constraints", len(constraints)))
	return nil
}

// Authorize — ядро шлюза. Возвращает вердикт и ровно один раз пишет решение
// в журнал, каким бы оно ни было. Ошибка возвращается только для
// незарегистрированного агента; все внутренние сбои превращаются в отказ.
func (g *Guardian) Authorize(ctx context.Context, agentID, actionType string, params map[string]any) (bool, error) {
	start := g.now()
	verdict := "deny"
	defer func() {
		g.metrics.DecisionDuration.WithLabelValues(actionType, verdict).Observe(time.Since(start).Seconds())
		if g.exporter != nil {
			g.metrics.MirrorBufferFill.Set(float64(g.exporter.BufferFill()))
		}
	}()

	cfg, err := g.store.LoadAgentPolicy(ctx, agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Единственная ошибка, которая уходит наружу: вызов по
			// несуществующему агенту не порождает записи в журнале.
			return false, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		g.logger.Error("policy load failed", zap.String("agent_id", agentID), zap.Error(err))
		return g.deny(ctx, agentID, actionType, params, ReasonInternalError, "internal"), nil
	}

	// Kill-switch: проверка раньше всех остальных, перехват — самый дешевый.
	if cfg.Status == domain.StatusBlocked || (g.ks != nil && g.ks.IsBlocked(agentID)) {
		g.metrics.KillSwitchHits.WithLabelValues(agentID).Inc()
		return g.deny(ctx, agentID, actionType, params, ReasonKillSwitch, "killswitch"), nil
	}

	// Шаг 1: allowlist. Неизвестный тип действия всегда запрещен.
	if !policy.RulesAllow(actionType, params, cfg.AllowRules) {
		return g.deny(ctx, agentID, actionType, params, ReasonNotAllowlisted, "not_allowlisted"), nil
	}

	// Шаг 2: лимит трат — только если в запросе есть сумма, у нее есть актив
	// и на этот актив сконфигурирован лимит. Нет лимита — нет потолка.
	amount, hasAmount, err := policy.AmountFromParams(params)
	if err != nil {
		g.logger.Warn("unparsable amount in request",
			zap.String("agent_id", agentID),
			zap.String("action_type", actionType),
			zap.Error(err))
		return g.deny(ctx, agentID, actionType, params, ReasonInternalError, "internal"), nil
	}

	if hasAmount {
		asset := policy.AssetFromParams(params)
		if limit, ok := cfg.Limits[asset]; asset != "" && ok {
			history, err := g.store.QueryLogEntries(ctx, agentID, 0)
			if err != nil {
				g.logger.Error("history query failed", zap.String("agent_id", agentID), zap.Error(err))
				return g.deny(ctx, agentID, actionType, params, ReasonInternalError, "internal"), nil
			}

			if !policy.WithinLimit(asset, amount, limit, history, start.UTC()) {
				reason := fmt.Sprintf("exceeds %s limit of %s per %ds",
					asset, limit.Amount.String(), limit.WindowSeconds)
				return g.deny(ctx, agentID, actionType, params, reason, "limit_exceeded"), nil
			}
		}
	}

	// Все проверки пройдены. Если зафиксировать разрешенную трату не удалось,
	// разрешать нельзя: неучтенная трата сломала бы все последующие replay.
	entry := domain.NewLogEntry(start, agentID, actionType, params, true, "")
	if err := g.store.AppendLogEntry(ctx, entry); err != nil {
		g.logger.Error("decision log append failed, downgrading to denial",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return g.deny(ctx, agentID, actionType, params, ReasonInternalError, "internal"), nil
	}
	if g.exporter != nil {
		g.exporter.Export(entry)
	}

	verdict = "allow"
	g.metrics.DecisionsTotal.WithLabelValues(agentID, actionType, verdict).Inc()
	return true, nil
}

// deny пишет отказ в журнал (best-effort: сбой записи не роняет вызывающего
// и тем более не превращает отказ в разрешение) и возвращает false.
func (g *Guardian) deny(ctx context.Context, agentID, actionType string, params map[string]any, reason, cause string) bool {
	entry := domain.NewLogEntry(g.now(), agentID, actionType, params, false, reason)
	if err := g.store.AppendLogEntry(ctx, entry); err != nil {
		g.logger.Error("denial log append failed",
			zap.String("agent_id", agentID),
			zap.String("reason", reason),
			zap.Error(err))
	} else if g.exporter != nil {
		g.exporter.Export(entry)
	}

	g.metrics.DecisionsTotal.WithLabelValues(agentID, actionType, "deny").Inc()
	g.metrics.DenialsTotal.WithLabelValues(cause).Inc()
	return false
}

// GetLogs возвращает журнал агента в хронологическом порядке.
// limit > 0 — последние limit записей.
func (g *Guardian) GetLogs(ctx context.Context, agentID string, limit int) ([]domain.LogEntry, error) {
	if _, err := g.loadPolicy(ctx, agentID); err != nil {
		return nil, err
	}

	entries, err := g.store.QueryLogEntries(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("guard: log query failed: %w", err)
	}
	return entries, nil
}

// GetAgent — снапшот политики для консоли.
func (g *Guardian) GetAgent(ctx context.Context, agentID string) (*domain.AgentPolicy, error) {
	return g.loadPolicy(ctx, agentID)
}

// Block останавливает агента: статус в хранилище + сигнал kill-switch, чтобы
// остальные реплики шлюза узнали о блокировке немедленно.
func (g *Guardian) Block(ctx context.Context, agentID string) error {
	return g.setBlocked(ctx, agentID, true)
}

func (g *Guardian) Unblock(ctx context.Context, agentID string) error {
	return g.setBlocked(ctx, agentID, false)
}

func (g *Guardian) setBlocked(ctx context.Context, agentID string, blocked bool) error {
	cfg, err := g.loadPolicy(ctx, agentID)
	if err != nil {
		return err
	}

	if blocked {
		cfg.Status = domain.StatusBlocked
	} else {
		cfg.Status = domain.StatusActive
	}
	cfg.UpdatedAt = g.now().UTC()

	// Сначала Persistence, потом Real-time сигнал: новые реплики прочитают
	// статус из хранилища, работающие — получат Pub/Sub.
	if err := g.store.SaveAgentPolicy(ctx, cfg); err != nil {
		return fmt.Errorf("guard: status update failed: %w", err)
	}

	if g.ks != nil {
		if blocked {
			err = g.ks.Block(ctx, agentID)
		} else {
			err = g.ks.Unblock(ctx, agentID)
		}
		if err != nil {
			g.logger.Warn("kill-switch signal failed",
				zap.String("agent_id", agentID),
				zap.Bool("blocked", blocked),
				zap.Error(err))
		}
	}

	g.logger.Info("agent status updated",
		zap.String("agent_id", agentID),
		zap.Bool("blocked", blocked))
	return nil
}

func (g *Guardian) loadPolicy(ctx context.Context, agentID string) (*domain.AgentPolicy, error) {
	cfg, err := g.store.LoadAgentPolicy(ctx, agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, fmt.Errorf("guard: policy load failed: %w", err)
	}
	return cfg, nil
}
