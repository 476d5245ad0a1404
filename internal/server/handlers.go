package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/domain"
	"github.com/xela07ax/agent-guardrails/internal/guard"
	"github.com/xela07ax/agent-guardrails/internal/policy"
)

type AgentHandler struct {
	guardian *guard.Guardian
	logger   *zap.Logger
}

func NewAgentHandler(g *guard.Guardian, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{guardian: g, logger: logger.Named("agent-handler")}
}

type registerRequest struct {
	Wallet   string         `json:"wallet"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type setLimitRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"` // Точная десятичная строка, не число
	Window string `json:"window"` // "24h", "7d"
}

type allowActionRequest struct {
	ActionType  string         `json:"action_type"`
	Constraints map[string]any `json:"constraints"`
}

type authorizeRequest struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"`
}

type authorizeResponse struct {
	Allowed bool `json:"allowed"`
}

// Register создает агента.
// POST /v1/agents
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := h.guardian.Register(r.Context(), req.Wallet, req.Name, req.Metadata)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, cfg)
}

// Get возвращает снапшот политики агента.
// GET /v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.guardian.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// SetLimit задает лимит трат актива.
// POST /v1/agents/{id}/limits
func (h *AgentHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.guardian.SetLimit(r.Context(), chi.URLParam(r, "id"), req.Asset, req.Amount, req.Window)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AllowAction добавляет правило в allowlist.
// POST /v1/agents/{id}/rules
func (h *AgentHandler) AllowAction(w http.ResponseWriter, r *http.Request) {
	var req allowActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.guardian.AllowAction(r.Context(), chi.URLParam(r, "id"), req.ActionType, req.Constraints)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Authorize — главный эндпоинт: вердикт по одному действию.
// POST /v1/agents/{id}/authorize
func (h *AgentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ActionType == "" {
		http.Error(w, "action_type is required", http.StatusBadRequest)
		return
	}

	allowed, err := h.guardian.Authorize(r.Context(), chi.URLParam(r, "id"), req.ActionType, req.Params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, authorizeResponse{Allowed: allowed})
}

// GetLogs возвращает журнал решений агента.
// GET /v1/agents/{id}/logs?limit=N
func (h *AgentHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logs, err := h.guardian.GetLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Фронт должен получить [], а не null, если журнал пуст.
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	h.respondJSON(w, http.StatusOK, logs)
}

// Block включает kill-switch для агента.
// POST /v1/agents/{id}/block
func (h *AgentHandler) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.guardian.Block(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unblock выключает kill-switch.
// POST /v1/agents/{id}/unblock
func (h *AgentHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.guardian.Unblock(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encoding failed", zap.Error(err))
	}
}

// writeError маппит ошибки движка на HTTP-статусы: конфигурационные — 4xx,
// все остальное — 500 без деталей (внутренности не отдаем наружу).
func (h *AgentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrAgentNotFound):
		http.Error(w, "agent not found", http.StatusNotFound)
	case errors.Is(err, policy.ErrInvalidWindow),
		errors.Is(err, policy.ErrInvalidAmount),
		errors.Is(err, guard.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
