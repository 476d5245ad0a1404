package domain

import "github.com/shopspring/decimal"

// LimitRule — потолок суммарных трат одного актива в скользящем окне времени.
// Сумма хранится как точный Decimal (сериализуется строкой), чтобы многократное
// сложение маленьких сумм не накапливало двоичную погрешность float64.
type LimitRule struct {
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`         // Максимум за окно
	WindowSeconds int64           `json:"window_seconds"` // Длина окна, всегда > 0
}

// AllowRule объявляет разрешенный тип действия с опциональными ограничениями
// на параметры. Пустой Constraints означает «любые параметры этого типа действия».
// Несколько правил на один action_type — это логическое ИЛИ; внутри одного
// правила все ограничения должны совпасть (логическое И).
type AllowRule struct {
	ActionType  string         `json:"action_type"`
	Constraints map[string]any `json:"constraints"`
}

func (r AllowRule) clone() AllowRule {
	cp := r
	if r.Constraints != nil {
		cp.Constraints = make(map[string]any, len(r.Constraints))
		for k, v := range r.Constraints {
			cp.Constraints[k] = v
		}
	}
	return cp
}
