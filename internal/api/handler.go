package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/pipeline"
	"github.com/opensource-finance/sentinel/internal/rules"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 50
	defaultAlertLimit   = 100
	maxAlertLimit       = 1000
)

// Dependencies are the collaborators the handlers need. Repo and Pipeline
// are required; the rest may be nil.
type Dependencies struct {
	Pipeline *pipeline.Pipeline
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		pipeline: deps.Pipeline,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Engine,
		version:  deps.Version,
	}
}

// ScoreTransaction scores a transaction synchronously.
// POST /transactions
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.pipeline.Score(r.Context(), req.ToTransaction())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// IngestTransaction validates a transaction and hands it to the async
// worker through the event bus. A missing txn id is assigned here so the
// caller can poll GET /transactions/{id}.
// POST /transactions/async
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := req.ToTransaction().Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	req.TxnID = strings.TrimSpace(req.TxnID)
	if req.TxnID == "" {
		req.TxnID = uuid.New().String()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction",
			"txn_id", req.TxnID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"txnId":  req.TxnID,
		"status": "accepted",
	})
}

// GetTransaction retrieves a scored transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	st, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListUserTransactions returns the user's most recent scored transactions.
func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)

	txns, err := h.repo.ListTransactionsByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       userID,
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetProfile returns the user's profile. Unknown users get the default profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipeline.Profiles().Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetSummary returns balance and profile for a user.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.pipeline.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListUserAlerts returns the alerts raised for one user.
func (h *Handler) ListUserAlerts(w http.ResponseWriter, r *http.Request) {
	h.listAlerts(w, r, chi.URLParam(r, "id"))
}

// ListAlerts returns the alert queue, optionally filtered by status.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	h.listAlerts(w, r, "")
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request, userID string) {
	filter := domain.AlertFilter{
		UserID: userID,
		Limit:  queryLimit(r, defaultAlertLimit, maxAlertLimit),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseAlertStatus(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Status = status
	}

	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ResolveAlertRequest is the request body for PATCH /alerts/{id}.
type ResolveAlertRequest struct {
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
}

// ResolveAlert records a reviewer's decision on an alert.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	status, err := domain.ParseAlertStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	alertID := chi.URLParam(r, "id")
	updated, err := h.repo.UpdateAlertStatus(r.Context(), alertID, domain.AlertResolution{
		Status:     status,
		Note:       req.Note,
		ResolvedBy: req.ResolvedBy,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("alert resolved",
		"alert_id", alertID,
		"status", status,
		"resolved_by", req.ResolvedBy,
	)
	writeJSON(w, http.StatusOK, updated)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the service can score: the store must answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded rule, falling back to the stored (possibly disabled) config.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if rule, ok := h.engine.GetRule(ruleID); ok {
		writeJSON(w, http.StatusOK, rule)
		return
	}

	rule, err := h.repo.GetRuleConfig(r.Context(), ruleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates a CEL rule and saves it to the database.
// Call POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(r.Context(), ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeError(w, r, err)
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	dbRules, err := h.repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, r, err)
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// queryLimit reads ?limit=, clamped to [1,max].
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsRetryable(err):
		slog.Warn("request failed with retryable error",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
