package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — клеймы сервисного токена, которым вызывающая сторона
// (оркестратор агентов, ops-тулинг) ходит в API шлюза.
type CustomClaims struct {
	CallerID string          `json:"caller_id"`
	Scopes   map[string]bool `json:"scopes"` // "guardrails.admin": true или "guardrails.authorize": true
	jwt.RegisteredClaims
}

// Скоупы API. Authorize-скоуп намеренно отделен от admin:
// вызывающий код агента не должен уметь менять себе лимиты.
const (
	ScopeAdmin     = "guardrails.admin"
	ScopeAuthorize = "guardrails.authorize"
)
