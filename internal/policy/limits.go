package policy

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// WithinLimit проверяет, не пробьет ли запрошенная сумма потолок трат актива
// в скользящем окне. history — полный журнал решений агента (фильтрацию по
// агенту делает вызывающий код), replay идет линейно по всем записям.
//
// В сумму входят только записи, где:
//   - вердикт был Allowed (отклоненные попытки бюджет не расходуют),
//   - актив записи (asset или token) совпадает с целевым,
//   - таймстемп >= now - window.
//
// Битые записи (нечитаемый таймстемп, отсутствующая или нечисловая сумма)
// вносят ноль, а не ошибку: на краю испорченной истории система предпочитает
// недоблокировать, но сам вердикт остается детерминированным.
//
// Граница включительна: total + amount <= limit.Amount — разрешено.
func WithinLimit(asset string, amount decimal.Decimal, limit domain.LimitRule, history []domain.LogEntry, now time.Time) bool {
	// Лимит привязан к конкретному активу и никогда не распространяется на другой.
	if asset != limit.Asset {
		return false
	}

	windowStart := now.UTC().Add(-time.Duration(limit.WindowSeconds) * time.Second)

	total := decimal.Zero
	for _, entry := range history {
		if !entry.Allowed {
			continue
		}

		ts, err := entry.ParseTimestamp()
		if err != nil {
			continue
		}
		if ts.Before(windowStart) {
			continue
		}

		if AssetFromParams(entry.Params) != asset {
			continue
		}

		spent, ok, err := AmountFromParams(entry.Params)
		if !ok || err != nil {
			continue
		}
		total = total.Add(spent)
	}

	return total.Add(amount).Cmp(limit.Amount) <= 0
}
