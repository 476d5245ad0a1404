package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/domain"
	"github.com/xela07ax/agent-guardrails/internal/infra/auth"
)

// GuardServer — HTTP-обвязка движка авторизации.
type GuardServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка сервисных токенов (RS256). nil — dev-режим без аутентификации.
	authValidator auth.TokenValidator

	agentHandler *AgentHandler
	metricsReg   *prometheus.Registry
}

func NewGuardServer(logger *zap.Logger, agentH *AgentHandler, validator auth.TokenValidator, reg *prometheus.Registry) *GuardServer {
	s := &GuardServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("guard-api"),
		authValidator: validator,
		agentHandler:  agentH,
		metricsReg:    reg,
	}

	s.routes()
	return s
}

func (s *GuardServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metricsReg != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР ---
	// Authorize-скоуп отделен от admin: код агента не может менять себе лимиты.
	r.Group(func(r chi.Router) {
		r.Use(s.protect(domain.ScopeAuthorize))
		r.Post("/v1/agents/{id}/authorize", s.agentHandler.Authorize)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.protect(domain.ScopeAdmin))

		r.Route("/v1/agents", func(r chi.Router) {
			r.Post("/", s.agentHandler.Register)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Post("/limits", s.agentHandler.SetLimit)
				r.Post("/rules", s.agentHandler.AllowAction)
				r.Get("/logs", s.agentHandler.GetLogs)
				r.Post("/block", s.agentHandler.Block)     // Мгновенная блокировка (Kill-switch)
				r.Post("/unblock", s.agentHandler.Unblock) // Разблокировка
			})
		})
	})
}

// protect возвращает auth-middleware или no-op в dev-режиме без ключа.
func (s *GuardServer) protect(scope string) func(http.Handler) http.Handler {
	if s.authValidator == nil {
		s.logger.Warn("auth disabled: no public key configured", zap.String("scope", scope))
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.NewMiddleware(s.authValidator, scope, s.logger)
}

// ServeHTTP позволяет использовать GuardServer как стандартный http.Handler.
func (s *GuardServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
