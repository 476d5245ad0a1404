package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func allowedSpend(ts time.Time, asset, amount string) domain.LogEntry {
	return domain.LogEntry{
		Timestamp:  ts.UTC().Format(domain.TimestampLayout),
		AgentID:    "agent-1",
		ActionType: "swap",
		Params:     map[string]any{"token": asset, "amount": amount},
		Allowed:    true,
	}
}

func TestWithinLimitSlidingWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "25"), WindowSeconds: 86400}

	history := []domain.LogEntry{
		allowedSpend(t0, "USDC", "10"),
		allowedSpend(t0.Add(time.Hour), "USDC", "5"),
	}

	// 10 + 5 + 10 = 25: граница включительна, разрешено.
	if !WithinLimit("USDC", dec(t, "10"), limit, history, t0.Add(2*time.Hour)) {
		t.Error("boundary total 25 of 25 must be allowed")
	}

	// После фиксации третьей траты следующая десятка пробивает потолок.
	history = append(history, allowedSpend(t0.Add(2*time.Hour), "USDC", "10"))
	if WithinLimit("USDC", dec(t, "10"), limit, history, t0.Add(2*time.Hour+time.Second)) {
		t.Error("total 35 of 25 must be denied")
	}
}

func TestWithinLimitWindowExpiry(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "25"), WindowSeconds: 3600}

	history := []domain.LogEntry{allowedSpend(t0, "USDC", "20")}

	// Внутри окна старая трата еще считается.
	if WithinLimit("USDC", dec(t, "25"), limit, history, t0.Add(30*time.Minute)) {
		t.Error("20 + 25 inside window must be denied")
	}

	// Окно уехало — бюджет полностью свободен.
	if !WithinLimit("USDC", dec(t, "25"), limit, history, t0.Add(time.Hour+time.Second)) {
		t.Error("expired spend must not count, fresh 25 of 25 must be allowed")
	}
}

func TestWithinLimitIgnoresDeniedAndForeignEntries(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "25"), WindowSeconds: 86400}

	denied := allowedSpend(t0, "USDC", "100")
	denied.Allowed = false

	history := []domain.LogEntry{
		denied,                            // отклоненные попытки бюджет не расходуют
		allowedSpend(t0, "ETH", "100"),    // чужой актив
		allowedSpend(t0, "USDC", "10"),    // единственная реальная трата
		{Timestamp: "not-a-timestamp", AgentID: "agent-1", Params: map[string]any{"token": "USDC", "amount": "100"}, Allowed: true},
	}

	if !WithinLimit("USDC", dec(t, "15"), limit, history, t0.Add(time.Hour)) {
		t.Error("only the 10 USDC spend must count: 10 + 15 = 25 allowed")
	}
}

func TestWithinLimitSkipsCorruptAmounts(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "25"), WindowSeconds: 86400}

	history := []domain.LogEntry{
		allowedSpend(t0, "USDC", "garbage"), // нечисловая сумма — ноль, не ошибка
		{
			Timestamp: t0.UTC().Format(domain.TimestampLayout),
			AgentID:   "agent-1",
			Params:    map[string]any{"token": "USDC"}, // суммы нет вовсе
			Allowed:   true,
		},
		allowedSpend(t0, "USDC", "10"),
	}

	if !WithinLimit("USDC", dec(t, "15"), limit, history, t0.Add(time.Hour)) {
		t.Error("corrupt amounts must contribute zero, not abort the check")
	}
}

func TestWithinLimitAssetMismatch(t *testing.T) {
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "25"), WindowSeconds: 86400}

	// Лимит привязан к активу и никогда не применяется к другому.
	if WithinLimit("ETH", dec(t, "1"), limit, nil, time.Now()) {
		t.Error("limit for USDC must deny a check for ETH")
	}
}

func TestWithinLimitExactDecimalArithmetic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := domain.LimitRule{Asset: "USDC", Amount: dec(t, "0.3"), WindowSeconds: 86400}

	// 0.1 + 0.1 + 0.1 == 0.3 только в десятичной арифметике; float64 дал бы отказ.
	history := []domain.LogEntry{
		allowedSpend(t0, "USDC", "0.1"),
		allowedSpend(t0, "USDC", "0.1"),
	}

	if !WithinLimit("USDC", dec(t, "0.1"), limit, history, t0.Add(time.Minute)) {
		t.Error("0.1*3 must equal the 0.3 limit exactly")
	}
}
