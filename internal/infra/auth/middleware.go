package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/domain"
)

// TokenValidator — интерфейс проверки токенов, который реализует BaseValidator.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const (
	ctxKeyScopes   ctxKey = "caller_scopes"
	ctxKeyCallerID ctxKey = "caller_id"
)

// NewMiddleware проверяет Bearer-токен и прокидывает клеймы в контекст.
// requiredScope пустой — достаточно любого валидного токена.
func NewMiddleware(v TokenValidator, requiredScope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// admin покрывает все скоупы.
			if requiredScope != "" && !claims.Scopes[requiredScope] && !claims.Scopes[domain.ScopeAdmin] {
				logger.Warn("scope denied",
					zap.String("caller_id", claims.CallerID),
					zap.String("required", requiredScope))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyCallerID, claims.CallerID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID достает идентификатор вызывающего из контекста (для логов).
func CallerID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyCallerID).(string); ok {
		return id
	}
	return ""
}
