package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/juanibianchi/coro/internal/auth"
	"github.com/juanibianchi/coro/internal/dispatch"
	"github.com/juanibianchi/coro/internal/orchestrator"
	"github.com/juanibianchi/coro/internal/provider"
	"github.com/juanibianchi/coro/internal/ratelimit"
	"github.com/juanibianchi/coro/internal/search"
)

// Generation parameter bounds and defaults, applied per request.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
	maxTemperature     = 2.0
	maxTokensCeiling   = 32000
)

type Handler struct {
	dispatcher *dispatch.Dispatcher
	registry   *provider.Registry
	limiter    *ratelimit.Limiter
	verifier   *auth.AppleVerifier
	search     *search.Service
	sessionTTL time.Duration
}

func NewHandler(
	dispatcher *dispatch.Dispatcher,
	registry *provider.Registry,
	limiter *ratelimit.Limiter,
	verifier *auth.AppleVerifier,
	searchSvc *search.Service,
	sessionTTL time.Duration,
) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		registry:   registry,
		limiter:    limiter,
		verifier:   verifier,
		search:     searchSvc,
		sessionTTL: sessionTTL,
	}
}

type chatRequest struct {
	Prompt              string                        `json:"prompt"`
	Models              []string                      `json:"models"`
	Temperature         *float64                      `json:"temperature"`
	MaxTokens           *int                          `json:"max_tokens"`
	TopP                *float64                      `json:"top_p"`
	ConversationHistory map[string][]provider.Message `json:"conversation_history"`
	APIKeys             map[string]string             `json:"api_keys"`
	Guidance            string                        `json:"guidance"`
	Search              *searchContext                `json:"search"`
}

type searchContext struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// options normalizes a chat request into dispatch options, applying
// defaults and range checks. The returned message is empty when valid.
func (req *chatRequest) options() (dispatch.Options, string) {
	opts := dispatch.Options{
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		TopP:        req.TopP,
		History:     req.ConversationHistory,
		APIKeys:     req.APIKeys,
		Guidance:    req.Guidance,
	}

	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > maxTemperature {
			return opts, "temperature must be between 0 and 2"
		}
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 || *req.MaxTokens > maxTokensCeiling {
			return opts, "max_tokens must be between 1 and 32000"
		}
		opts.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return opts, "top_p must be between 0 and 1"
	}

	for model, history := range req.ConversationHistory {
		for _, msg := range history {
			if msg.Role != "user" && msg.Role != "assistant" {
				return opts, "conversation_history roles must be user or assistant (model " + model + ")"
			}
		}
	}

	if req.Search != nil {
		for _, r := range req.Search.Results {
			opts.Findings = append(opts.Findings, dispatch.Finding{
				Title:   r.Title,
				Snippet: r.Snippet,
				URL:     r.URL,
			})
		}
	}
	return opts, ""
}

// HandleChat fans a prompt out to every requested model and returns the
// ordered aggregate.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "invalid_request")
		return
	}
	if len(req.Models) == 0 {
		writeError(w, http.StatusBadRequest, "at least one model is required", "invalid_request")
		return
	}

	opts, msg := req.options()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg, "invalid_request")
		return
	}

	agg, err := h.dispatcher.Dispatch(r.Context(), req.Models, req.Prompt, opts)
	if err != nil {
		var invalid *provider.InvalidModelsError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":          "unknown model IDs: " + strings.Join(invalid.IDs, ", "),
				"error_code":     "invalid_model",
				"invalid_models": invalid.IDs,
			})
			return
		}
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// HandleChatSingle is the single-model convenience endpoint. It reuses the
// fan-out path with a one-element model set and unwraps the result.
func (h *Handler) HandleChatSingle(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required", "invalid_request")
		return
	}

	opts, msg := req.options()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg, "invalid_request")
		return
	}

	agg, err := h.dispatcher.Dispatch(r.Context(), []string{modelID}, req.Prompt, opts)
	if err != nil {
		var invalid *provider.InvalidModelsError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusNotFound, "unknown model: "+modelID, "invalid_model")
			return
		}
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, agg.Responses[0])
}

// HandleModels lists the models this gateway can route to.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.registry.List()})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type appleAuthRequest struct {
	IdentityToken string `json:"identity_token"`
	Nonce         string `json:"nonce,omitempty"`
}

// HandleAppleAuth exchanges a verified Apple identity token for a premium
// session token.
func (h *Handler) HandleAppleAuth(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable", "service_unavailable")
		return
	}

	var req appleAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityToken == "" {
		writeError(w, http.StatusBadRequest, "identity_token is required", "invalid_request")
		return
	}

	claims, err := h.verifier.VerifyIdentityToken(r.Context(), req.IdentityToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "identity token verification failed", "authentication_failed")
		return
	}

	sessionToken := uuid.New().String()
	if err := h.limiter.RegisterPremiumSession(r.Context(), sessionToken, claims.Subject); err != nil {
		log.Error().Err(err).Msg("failed to persist premium session")
		writeError(w, http.StatusServiceUnavailable, "session store unavailable", "service_unavailable")
		return
	}

	log.Info().Str("subject", claims.Subject).Msg("premium session issued")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_token": sessionToken,
		"expires_in":    int(h.sessionTTL.Seconds()),
	})
}

// HandleSearch proxies a web search for prompt augmentation.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < 3 {
		writeError(w, http.StatusBadRequest, "q must be at least 3 characters", "invalid_request")
		return
	}

	results, err := h.search.Search(r.Context(), query, 3)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search failed")
		writeError(w, http.StatusBadGateway, "search provider error", "service_unavailable")
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

// HandleSearchRecommend reports whether a prompt would likely benefit from
// fresh web context.
func (h *Handler) HandleSearchRecommend(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required", "invalid_request")
		return
	}

	should := search.ShouldSearch(query)
	reason := "query appears answerable from model knowledge"
	if should {
		reason = "query references current or time-sensitive information"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"should_search": should,
		"reason":        reason,
	})
}

// HandleAnalyze classifies a query and suggests complementary models.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required", "invalid_request")
		return
	}

	var selected []string
	if raw := r.URL.Query().Get("selected"); raw != "" {
		selected = strings.Split(raw, ",")
	}

	queryType := orchestrator.Classify(query)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":            query,
		"query_type":       queryType,
		"suggested_models": orchestrator.Suggest(query, selected, 3),
		"reasoning":        orchestrator.Reasonings[queryType],
	})
}

// HandleOptimalModels returns a default model set for a query.
func (h *Handler) HandleOptimalModels(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required", "invalid_request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":  query,
		"models": orchestrator.OptimalModels(query),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{"error": message, "error_code": code})
}
