package domain

import "time"

type AgentStatus string

const (
	StatusActive  AgentStatus = "active"  // Полный доступ (решения принимает движок)
	StatusBlocked AgentStatus = "blocked" // Kill-switch: все запросы отклоняются до разблокировки
)

// AgentPolicy — полная конфигурация одного агента: кошелек, лимиты и allowlist.
// Единственный владелец структуры — хранилище (Store); движок авторизации держит
// только транзиентную копию в рамках одного вызова.
type AgentPolicy struct {
	AgentID string `json:"agent_id"` // UUID, выдается один раз при регистрации
	Wallet  string `json:"wallet"`   // Опаковая ссылка на кошелек. Никогда не валидируется и не разыменовывается
	Name    string `json:"name,omitempty"`

	// Лимиты трат по активам. Ключ — идентификатор актива ("USDC", "ETH").
	// Инвариант: не более одного LimitRule на актив, повторный set полностью заменяет старый.
	Limits map[string]LimitRule `json:"limits"`

	// Упорядоченный allowlist. Порядок — порядок добавления (insertion order).
	AllowRules []AllowRule `json:"allow_rules"`

	Status    AgentStatus    `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone возвращает глубокую копию, чтобы in-memory хранилище не отдавало
// наружу ссылки на свое внутреннее состояние.
func (p *AgentPolicy) Clone() *AgentPolicy {
	if p == nil {
		return nil
	}
	cp := *p

	cp.Limits = make(map[string]LimitRule, len(p.Limits))
	for asset, limit := range p.Limits {
		cp.Limits[asset] = limit
	}

	cp.AllowRules = make([]AllowRule, len(p.AllowRules))
	for i, rule := range p.AllowRules {
		cp.AllowRules[i] = rule.clone()
	}

	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
