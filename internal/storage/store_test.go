package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

func testPolicy(agentID string) *domain.AgentPolicy {
	max, _ := decimal.NewFromString("100.50")
	return &domain.AgentPolicy{
		AgentID: agentID,
		Wallet:  "0xabc",
		Name:    "payments-bot",
		Limits: map[string]domain.LimitRule{
			"USDC": {Asset: "USDC", Amount: max, WindowSeconds: 86400},
		},
		AllowRules: []domain.AllowRule{
			{ActionType: "swap", Constraints: map[string]any{"protocol": "UniswapV3"}},
		},
		Status:    domain.StatusActive,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testEntry(agentID string, allowed bool) domain.LogEntry {
	return domain.LogEntry{
		Timestamp:  "2026-03-01T12:00:00Z",
		AgentID:    agentID,
		ActionType: "swap",
		Params:     map[string]any{"token": "USDC", "amount": "10"},
		Allowed:    allowed,
	}
}

// Общий контрактный прогон для обеих реализаций Store.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("load missing agent", func(t *testing.T) {
		if _, err := store.LoadAgentPolicy(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		if err := store.SaveAgentPolicy(ctx, testPolicy("agent-1")); err != nil {
			t.Fatal(err)
		}

		got, err := store.LoadAgentPolicy(ctx, "agent-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Wallet != "0xabc" || got.Name != "payments-bot" {
			t.Errorf("roundtrip mismatch: %+v", got)
		}
		limit, ok := got.Limits["USDC"]
		if !ok {
			t.Fatal("USDC limit lost in roundtrip")
		}
		if limit.Amount.String() != "100.5" && limit.Amount.String() != "100.50" {
			t.Errorf("decimal amount drifted: %s", limit.Amount)
		}
	})

	t.Run("save is upsert", func(t *testing.T) {
		updated := testPolicy("agent-1")
		updated.Name = "renamed"
		if err := store.SaveAgentPolicy(ctx, updated); err != nil {
			t.Fatal(err)
		}
		got, err := store.LoadAgentPolicy(ctx, "agent-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "renamed" {
			t.Errorf("upsert did not replace: %q", got.Name)
		}
	})

	t.Run("append preserves order and filters by agent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			entry := testEntry("agent-1", i%2 == 0)
			entry.Params["amount"] = decimal.NewFromInt(int64(i)).String()
			if err := store.AppendLogEntry(ctx, entry); err != nil {
				t.Fatal(err)
			}
		}
		if err := store.AppendLogEntry(ctx, testEntry("agent-2", true)); err != nil {
			t.Fatal(err)
		}

		logs, err := store.QueryLogEntries(ctx, "agent-1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 3 {
			t.Fatalf("want 3 entries for agent-1, got %d", len(logs))
		}
		for i, entry := range logs {
			if got := entry.Params["amount"]; got != decimal.NewFromInt(int64(i)).String() {
				t.Errorf("entry %d out of order: amount %v", i, got)
			}
		}
	})

	t.Run("limit returns most recent in chronological order", func(t *testing.T) {
		logs, err := store.QueryLogEntries(ctx, "agent-1", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 2 {
			t.Fatalf("want 2 entries, got %d", len(logs))
		}
		if logs[0].Params["amount"] != "1" || logs[1].Params["amount"] != "2" {
			t.Errorf("tail slice wrong: %v, %v", logs[0].Params["amount"], logs[1].Params["amount"])
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	runStoreContract(t, store)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := testPolicy("agent-1")
	if err := store.SaveAgentPolicy(ctx, original); err != nil {
		t.Fatal(err)
	}

	// Мутация сохраненного указателя не должна менять состояние хранилища.
	original.Name = "mutated"
	original.Limits["ETH"] = domain.LimitRule{Asset: "ETH"}

	got, err := store.LoadAgentPolicy(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name == "mutated" {
		t.Error("store leaked a reference on save")
	}
	if _, ok := got.Limits["ETH"]; ok {
		t.Error("store leaked the limits map")
	}

	// И мутация загруженной копии тоже.
	got.Name = "mutated-again"
	reloaded, _ := store.LoadAgentPolicy(ctx, "agent-1")
	if reloaded.Name == "mutated-again" {
		t.Error("store leaked a reference on load")
	}
}

func TestFileStoreCreatesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	if _, err := NewFileStore(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	if _, ok := doc["agents"]; !ok {
		t.Error("fresh document missing agents key")
	}
	if _, ok := doc["logs"]; !ok {
		t.Error("fresh document missing logs key")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SaveAgentPolicy(ctx, testPolicy("agent-1")); err != nil {
		t.Fatal(err)
	}
	if err := first.AppendLogEntry(ctx, testEntry("agent-1", true)); err != nil {
		t.Fatal(err)
	}

	// Новый инстанс поверх того же файла видит все, что записал старый.
	second, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.LoadAgentPolicy(ctx, "agent-1"); err != nil {
		t.Fatalf("policy lost across reopen: %v", err)
	}
	logs, err := second.QueryLogEntries(ctx, "agent-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("log lost across reopen: %d entries", len(logs))
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Битый документ — инфраструктурная ошибка, не ErrNotFound.
	_, err = store.LoadAgentPolicy(context.Background(), "agent-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt state must surface as an error, got %v", err)
	}
}
