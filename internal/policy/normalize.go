package policy

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// NormalizeValue — единственная каноническая функция приведения значения к строке
// для сравнения ограничений и разбора сумм. Все сравнения «значение параметра ==
// значение ограничения» идут только через нее, чтобы число 5, строка "5" и
// декодированный из JSON float64(5) считались равными одинаково во всем движке.
//
// Правила:
//   - string              -> как есть
//   - bool                -> "true" / "false"
//   - целые типы          -> десятичная запись
//   - float64/float32     -> strconv 'f' с минимальной записью: 5.0 -> "5", 0.1 -> "0.1"
//     (JSON-число 5 декодируется в float64 и нормализуется в "5")
//   - json.Number         -> исходная строка из документа
//   - decimal.Decimal     -> String()
//   - nil                 -> ""
//   - прочее              -> fmt.Sprintf("%v")
func NormalizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	case decimal.Decimal:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ParamString достает строковое представление параметра.
// Второй результат — присутствие ключа: отсутствующий ключ и пустая строка
// для матчинга ограничений — разные вещи.
func ParamString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	return NormalizeValue(v), true
}

// AssetFromParams возвращает актив запроса: поле "asset", с fallback на "token".
// Лимиты исторически задаются на токен, поэтому обе формы равноправны.
func AssetFromParams(params map[string]any) string {
	if asset, ok := ParamString(params, "asset"); ok && asset != "" {
		return asset
	}
	if token, ok := ParamString(params, "token"); ok && token != "" {
		return token
	}
	return ""
}

// AmountFromParams разбирает параметр "amount" как точный Decimal.
// Возвращает (zero, false, nil) если суммы нет, и ErrInvalidAmount если она
// есть, но числом не является.
func AmountFromParams(params map[string]any) (decimal.Decimal, bool, error) {
	raw, ok := ParamString(params, "amount")
	if !ok || raw == "" {
		return decimal.Zero, false, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return amount, true, nil
}
