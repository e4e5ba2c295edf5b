package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"nevis-proxy/config"
	"nevis-proxy/observability"
	"nevis-proxy/providers"
	"nevis-proxy/quota"

	"github.com/go-chi/chi/v5"
)

// generator is the subset of *providers.Orchestrator the handler uses, kept
// as an interface so tests can substitute a stub.
type generator interface {
	Generate(ctx context.Context, req *providers.GenerationRequest) (*providers.GenerationResult, error)
	HealthSnapshot() []providers.ProviderHealth
	BreakerStatus() map[string]providers.BreakerStatus
}

// APIHandler handles HTTP API requests
type APIHandler struct {
	orch  generator
	quota *quota.Tracker
	cfg   *config.Config
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(orch generator, q *quota.Tracker, cfg *config.Config) *APIHandler {
	return &APIHandler{orch: orch, quota: q, cfg: cfg}
}

// generateRequest is the JSON body accepted by the generate endpoints.
type generateRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	UserID         string  `json:"user_id"`
	UserTier       string  `json:"user_tier,omitempty"`
	Feature        string  `json:"feature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReferenceImage []byte  `json:"reference_image,omitempty"`
	ReferenceMime  string  `json:"reference_mime,omitempty"`
}

// handleGenerateText serves POST /api/generate/text
func (h *APIHandler) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	h.handleGenerate(w, r, providers.CapabilityText)
}

// handleGenerateImage serves POST /api/generate/image
func (h *APIHandler) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	h.handleGenerate(w, r, providers.CapabilityImage)
}

func (h *APIHandler) handleGenerate(w http.ResponseWriter, r *http.Request, cap providers.Capability) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		h.jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if !h.quota.Allow(body.UserID) {
		observability.GetMetrics().RecordQuotaRejection(string(cap))
		usage := h.quota.Usage(body.UserID)
		h.jsonError(w, fmt.Sprintf("monthly quota exceeded (%d/%d)", usage.CurrentUsage, usage.MonthlyLimit), http.StatusTooManyRequests)
		return
	}

	req := &providers.GenerationRequest{
		Capability:     cap,
		Prompt:         body.Prompt,
		Model:          body.Model,
		MaxTokens:      body.MaxTokens,
		Temperature:    body.Temperature,
		ReferenceImage: body.ReferenceImage,
		ReferenceMime:  body.ReferenceMime,
		UserID:         body.UserID,
		UserTier:       body.UserTier,
		Feature:        body.Feature,
	}

	result, err := h.orch.Generate(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.quota.Record(body.UserID)
	usage := h.quota.Usage(body.UserID)

	h.jsonResponse(w, map[string]interface{}{
		"success":    true,
		"result":     result,
		"user_quota": usage.CurrentUsage,
	})
}

// writeFailure maps a typed generation failure to an HTTP status so callers
// can tell rate limiting apart from invalid requests and provider outages.
func (h *APIHandler) writeFailure(w http.ResponseWriter, err error) {
	gerr, ok := providers.AsGenerationError(err)
	if !ok {
		h.jsonError(w, "generation failed", http.StatusInternalServerError)
		return
	}

	status := gerr.Kind.HTTPStatus()
	if gerr.Kind == providers.FailureRateLimited || gerr.Kind == providers.FailureQuotaExhausted {
		retryAfter := gerr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = providers.DefaultHealthThresholds.DefaultCooldown
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  false,
		"error":    gerr.Error(),
		"kind":     string(gerr.Kind),
		"provider": gerr.Provider,
	})
}

// handleHealth returns the credential health snapshot and breaker states
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]interface{}{
		"status":           "ok",
		"providers":        h.orch.HealthSnapshot(),
		"circuit_breakers": h.orch.BreakerStatus(),
	})
}

// handleGetQuota returns a user's current quota usage
func (h *APIHandler) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.jsonError(w, "userID is required", http.StatusBadRequest)
		return
	}
	h.jsonResponse(w, h.quota.Usage(userID))
}

// jsonResponse writes a JSON response with 200 status
func (h *APIHandler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		observability.Error("failed to encode response", "error", err)
	}
}

// jsonError writes a JSON error response with the given status
func (h *APIHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
