package policy

import "github.com/xela07ax/agent-guardrails/internal/domain"

// RulesAllow решает, пропускает ли allowlist запрошенное действие.
//
// Алгоритм:
//  1. Берем только правила с совпадающим action_type. Нет ни одного — отказ:
//     неизвестный тип действия всегда запрещен (Default Deny, не Default Allow).
//  2. Запрос проходит, если его пропускает хотя бы одно правило (ИЛИ по правилам,
//     short-circuit на первом совпадении). Внутри правила все ограничения должны
//     совпасть (И по ограничениям).
//
// Порядок обхода — insertion order, но на булев результат он не влияет.
func RulesAllow(actionType string, params map[string]any, rules []domain.AllowRule) bool {
	for _, rule := range rules {
		if rule.ActionType != actionType {
			continue
		}
		if ruleMatches(rule, params) {
			return true
		}
	}
	return false
}

// ruleMatches проверяет одно правило: каждый ключ ограничения обязан
// присутствовать в параметрах, и значения обязаны совпасть после канонической
// нормализации (см. NormalizeValue). Правило без ограничений матчит всё.
func ruleMatches(rule domain.AllowRule, params map[string]any) bool {
	for key, expected := range rule.Constraints {
		actual, ok := ParamString(params, key)
		if !ok {
			return false
		}
		if actual != NormalizeValue(expected) {
			return false
		}
	}
	return true
}
