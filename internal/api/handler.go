package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	store   *configstore.Store
	pipe    *pipeline.Pipeline
	batcher *batch.Processor
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *configstore.Store, pipe *pipeline.Pipeline, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		store:   store,
		pipe:    pipe,
		batcher: batch.NewProcessor(pipe, 0),
		version: version,
	}
}

// scoredCounterKey is the windowed counter bumped once per scored record.
const scoredCounterKey = "records-scored"

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	PartnerID string           `json:"partnerId,omitempty"`
	Record    domain.RawRecord `json:"record"`
}

// Score handles POST /score: synchronous scoring of one applicant record.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	companyID := GetCompanyID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Record) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record is required",
		})
		return
	}

	snap, err := h.store.Snapshot(ctx, companyID, req.PartnerID)
	if err != nil {
		slog.Error("failed to load scoring snapshot", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scoring configuration",
		})
		return
	}

	if err := h.pipe.ValidateSnapshot(snap); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	record, err := h.pipe.Evaluate(ctx, &pipeline.Input{
		CompanyID: companyID,
		PartnerID: req.PartnerID,
		TraceID:   traceID,
		Raw:       req.Record,
		Snapshot:  snap,
		StartTime: start,
	})
	if err != nil {
		slog.Error("scoring failed", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScoredRecord(ctx, companyID, record); err != nil {
			slog.Error("failed to save scored record", "record_id", record.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(record)
		if err := h.bus.Publish(ctx, companyID, domain.TopicRecordScored, payload); err != nil {
			slog.Error("failed to publish scored record", "record_id", record.ID, "error", err)
		}
	}

	h.countScored(r, companyID, 1)

	writeJSON(w, http.StatusOK, record)
}

// BatchScoreRequest is the request body for POST /score/batch.
type BatchScoreRequest struct {
	PartnerID string             `json:"partnerId,omitempty"`
	Records   []domain.RawRecord `json:"records"`
}

// BatchScoreResponse is the response for POST /score/batch.
type BatchScoreResponse struct {
	Count    int             `json:"count"`
	Failed   int             `json:"failed"`
	Outcomes []batch.Outcome `json:"outcomes"`
}

// ScoreBatch handles POST /score/batch: concurrent scoring of a record set.
// Configuration errors abort the whole batch; per-record value problems are
// reported in the matching outcome slot.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	var req BatchScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records is required",
		})
		return
	}

	snap, err := h.store.Snapshot(ctx, companyID, req.PartnerID)
	if err != nil {
		slog.Error("failed to load scoring snapshot", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scoring configuration",
		})
		return
	}

	outcomes, err := h.batcher.ScoreBatch(ctx, companyID, req.PartnerID, req.Records, snap)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
			continue
		}
		if h.repo != nil && o.Record != nil {
			if err := h.repo.SaveScoredRecord(ctx, companyID, o.Record); err != nil {
				slog.Error("failed to save scored record", "record_id", o.Record.ID, "error", err)
			}
		}
	}

	h.countScored(r, companyID, len(outcomes)-failed)

	writeJSON(w, http.StatusOK, BatchScoreResponse{
		Count:    len(outcomes),
		Failed:   failed,
		Outcomes: outcomes,
	})
}

// GetRecord retrieves a scored record by ID.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)
	recordID := chi.URLParam(r, "id")

	if recordID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	record, err := h.repo.GetScoredRecord(ctx, companyID, recordID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get scored record", "id", recordID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ListVariables returns the variable definitions currently loaded in the
// registry.
func (h *Handler) ListVariables(w http.ResponseWriter, r *http.Request) {
	defs := h.pipe.Registry().Definitions()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"variables": defs,
		"count":     len(defs),
	})
}

// GetVariable retrieves one variable definition by ID.
func (h *Handler) GetVariable(w http.ResponseWriter, r *http.Request) {
	variableID := chi.URLParam(r, "id")

	if variableID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "variable id is required",
		})
		return
	}

	def, err := h.pipe.Registry().Lookup(variableID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "variable not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// CreateVariable persists a variable definition to the shared catalog.
// Call POST /variables/reload to apply it to the running registry.
func (h *Handler) CreateVariable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var def domain.VariableDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if def.ID == "" || def.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}
	if len(def.Bands) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one score band is required",
		})
		return
	}
	for _, b := range def.Bands {
		if b.Score < 0 || b.Score > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "band scores must be between 0 and 1",
			})
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveVariableDefinition(ctx, &def); err != nil {
		slog.Error("failed to save variable definition", "id", def.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save variable",
		})
		return
	}

	slog.Info("variable created", "id", def.ID, "name", def.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"variable": &def,
		"message":  "Variable saved. Call POST /variables/reload to apply changes.",
	})
}

// ReloadVariables reloads the registry from the stored variable catalog.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadVariables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	defs, err := h.repo.ListVariableDefinitions(ctx)
	if err != nil {
		slog.Error("failed to list variable definitions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load variables from database",
		})
		return
	}

	h.pipe.Registry().Reload(defs)

	slog.Info("variables reloaded from database", "count", len(defs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "variables reloaded successfully",
		"count":   h.pipe.Registry().Count(),
	})
}

// GetWeights returns the company's active weight configuration.
func (h *Handler) GetWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	weights, err := h.store.GetWeights(ctx, companyID)
	if err != nil {
		slog.Error("failed to get weights", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load weight configuration",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights":     weights,
		"totalWeight": weights.Total(),
	})
}

// PutWeights replaces the company's weight configuration.
func (h *Handler) PutWeights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	var weights domain.WeightConfiguration
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(weights) == 0 || weights.Total() <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight set must be non-empty with positive total",
		})
		return
	}
	for id, weight := range weights {
		if weight < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "weights must be non-negative",
			})
			return
		}
		if _, err := h.pipe.Registry().Lookup(id); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown variable id: " + id,
			})
			return
		}
	}

	if err := h.store.PutWeights(ctx, companyID, weights); err != nil {
		slog.Error("failed to save weights", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save weight configuration",
		})
		return
	}

	slog.Info("weights updated", "company_id", companyID, "variable_count", len(weights))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights":     weights,
		"totalWeight": weights.Total(),
	})
}

// GetFallbacks returns the company's fallback-score table.
func (h *Handler) GetFallbacks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	fallbacks, err := h.store.GetFallbacks(ctx, companyID)
	if err != nil {
		slog.Error("failed to get fallbacks", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load fallback table",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fallbacks": fallbacks,
	})
}

// PutFallbacks replaces the company's fallback-score table.
func (h *Handler) PutFallbacks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	var fallbacks domain.FallbackTable
	if err := json.NewDecoder(r.Body).Decode(&fallbacks); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for id, score := range fallbacks {
		if score < 0 || score > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "fallback scores must be between 0 and 1",
			})
			return
		}
		if _, err := h.pipe.Registry().Lookup(id); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown variable id: " + id,
			})
			return
		}
	}

	if err := h.store.PutFallbacks(ctx, companyID, fallbacks); err != nil {
		slog.Error("failed to save fallbacks", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save fallback table",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fallbacks": fallbacks,
	})
}

// GetMapping returns a partner's field mapping.
func (h *Handler) GetMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)
	partnerID := chi.URLParam(r, "partnerID")

	mapping, err := h.store.GetMapping(ctx, companyID, partnerID)
	if err != nil {
		slog.Error("failed to get mapping", "company_id", companyID, "partner_id", partnerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load field mapping",
		})
		return
	}
	if mapping == nil {
		mapping = domain.FieldMapping{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partnerId": partnerID,
		"mapping":   mapping,
	})
}

// PutMapping replaces a partner's field mapping. Every target must be a
// registered canonical variable id.
func (h *Handler) PutMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)
	partnerID := chi.URLParam(r, "partnerID")

	var mapping domain.FieldMapping
	if err := json.NewDecoder(r.Body).Decode(&mapping); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for source, target := range mapping {
		if source == "" || target == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "mapping entries must have non-empty source and target",
			})
			return
		}
		if _, err := h.pipe.Registry().Lookup(target); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "mapping target is not a registered variable: " + target,
			})
			return
		}
	}

	if err := h.store.PutMapping(ctx, companyID, partnerID, mapping); err != nil {
		slog.Error("failed to save mapping", "company_id", companyID, "partner_id", partnerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save field mapping",
		})
		return
	}

	slog.Info("field mapping updated", "company_id", companyID, "partner_id", partnerID, "field_count", len(mapping))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partnerId": partnerID,
		"mapping":   mapping,
	})
}

// ListClearanceRules returns the rules in effect for the company: its
// stored rules, or the deployment defaults when it has stored none.
func (h *Handler) ListClearanceRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	rules, err := h.store.EffectiveClearanceRules(ctx, companyID)
	if err != nil {
		slog.Error("failed to list clearance rules", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateClearanceRule validates and stores a clearance rule. The write
// invalidates the company's cached snapshots, so the rule applies to the
// company's next scoring request.
func (h *Handler) CreateClearanceRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	var rule domain.ClearanceRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	// Validate the CEL expression before persisting
	if err := h.pipe.Clearance().ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	rule.CompanyID = companyID
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.store.PutClearanceRule(ctx, companyID, &rule); err != nil {
		slog.Error("failed to save clearance rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save clearance rule",
		})
		return
	}

	slog.Info("clearance rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    &rule,
		"message": "Rule saved and active for this company.",
	})
}

// DeleteClearanceRule soft-deletes a stored clearance rule.
func (h *Handler) DeleteClearanceRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.store.DeleteClearanceRule(ctx, companyID, ruleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete clearance rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	slog.Info("clearance rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted.",
	})
}

// ReloadClearanceRules drops the company's cached snapshots so stored
// rule changes made out of band (another node, a direct database edit)
// take effect here before the snapshot TTL expires. Only this company's
// snapshots are touched.
func (h *Handler) ReloadClearanceRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	rules, err := h.store.ListClearanceRules(ctx, companyID)
	if err != nil {
		slog.Error("failed to list clearance rules", "company_id", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	h.store.InvalidateSnapshots(ctx, companyID)

	slog.Info("clearance rules reloaded from database", "company_id", companyID, "count", len(rules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(rules),
	})
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	CompanyID       string `json:"companyId"`
	ScoredToday     int64  `json:"scoredToday"`
	VariablesLoaded int    `json:"variablesLoaded"`
	RulesLoaded     int    `json:"rulesLoaded"`
	Version         string `json:"version"`
}

// Stats returns per-company operational counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := GetCompanyID(ctx)

	var scoredToday int64
	if h.cache != nil {
		count, err := h.cache.GetCounter(ctx, companyID, scoredCounterKey)
		if err != nil {
			slog.Warn("failed to read scored counter", "company_id", companyID, "error", err)
		} else {
			scoredToday = count
		}
	}

	rulesLoaded := 0
	if rules, err := h.store.EffectiveClearanceRules(ctx, companyID); err != nil {
		slog.Warn("failed to count clearance rules", "company_id", companyID, "error", err)
	} else {
		rulesLoaded = len(rules)
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		CompanyID:       companyID,
		ScoredToday:     scoredToday,
		VariablesLoaded: h.pipe.Registry().Count(),
		RulesLoaded:     rulesLoaded,
		Version:         h.version,
	})
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

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// countScored bumps the daily scored-records counter. Best effort; counter
// failures never affect the scoring response.
func (h *Handler) countScored(r *http.Request, companyID string, n int) {
	if h.cache == nil || n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		if _, err := h.cache.IncrementCounter(r.Context(), companyID, scoredCounterKey, 24*time.Hour); err != nil {
			slog.Warn("failed to increment scored counter", "company_id", companyID, "error", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
