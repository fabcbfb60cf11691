// Package api is the HTTP surface of the gateway: the OpenAI-compatible
// completion endpoint plus models, health and metrics. The completion
// handler owns the request lifecycle end to end — route, call, relay, and
// exactly one log record per routed attempt.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgergate/ledgergate/internal/adapter"
	"github.com/ledgergate/ledgergate/internal/cache"
	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/logqueue"
	"github.com/ledgergate/ledgergate/internal/metrics"
	"github.com/ledgergate/ledgergate/internal/registry"
	"github.com/ledgergate/ledgergate/internal/router"
	"github.com/ledgergate/ledgergate/internal/telemetry"
	"github.com/ledgergate/ledgergate/internal/upstream"
)

type HandlerConfig struct {
	Router  *router.Router
	Callers *upstream.Set
	Queue   logqueue.Queue
	Cache   cache.Cache
	Logger  *slog.Logger
}

type Handler struct {
	router  *router.Router
	callers *upstream.Set
	queue   logqueue.Queue
	cache   cache.Cache
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		router:  cfg.Router,
		callers: cfg.Callers,
		queue:   cfg.Queue,
		cache:   cfg.Cache,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mount registers an extra route on the handler's mux, used for the
// dependency-aware health endpoint.
func (h *Handler) Mount(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	token := extractBearerToken(r)
	if token == "" {
		writeAPIError(w, http.StatusUnauthorized, "authentication_error", "missing API key")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if req.Model == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	route, err := h.router.Resolve(ctx, token, req.Model)
	if err != nil {
		h.writeRoutingError(w, requestID, err)
		return
	}

	if req.Stream && !route.SupportsStreaming {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", domain.ErrStreamNotSupported.Error())
		return
	}

	// One record per routed attempt. The deferred enqueue is the single
	// emission point, so every path below fills rec and just returns.
	rec := &domain.LogRecord{
		ID:                uuid.New().String(),
		RequestID:         requestID,
		ProjectID:         route.ProjectID,
		APIKeyID:          route.APIKeyID,
		ProviderKeyID:     route.ProviderKeyID,
		OrganizationID:    route.OrganizationID,
		RequestedModel:    route.RequestedModel,
		RequestedProvider: route.RequestedProvider,
		UsedModel:         route.UsedModel,
		UsedProvider:      route.UsedProvider,
		Streamed:          req.Stream,
	}
	defer func() {
		rec.DurationMs = time.Since(start).Milliseconds()
		h.emit(context.WithoutCancel(ctx), rec)
	}()

	if !req.Stream && h.cache != nil && route.CacheEnabled {
		key := cache.Key(route.ProjectID, req)
		if cached, ok := h.cache.Get(ctx, key); ok {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			rec.Cached = true
			rec.FinishReason = domain.FinishStop
			fillUsage(rec, &cached.Usage)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			json.NewEncoder(w).Encode(cached)
			return
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	provider, ok := registry.ProviderByID(route.UsedProvider)
	if !ok {
		rec.HasError = true
		rec.ErrorDetails = "provider not registered: " + route.UsedProvider
		writeAPIError(w, http.StatusInternalServerError, "api_error", "internal error")
		return
	}
	ad, ok := adapter.ForProvider(provider)
	if !ok {
		rec.HasError = true
		rec.ErrorDetails = "no adapter for family: " + provider.Family
		writeAPIError(w, http.StatusInternalServerError, "api_error", "internal error")
		return
	}

	upReq, err := ad.BuildRequest(route, &req)
	if err != nil {
		rec.HasError = true
		rec.ErrorDetails = err.Error()
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	caller, err := h.callers.For(provider)
	if err != nil {
		rec.HasError = true
		rec.ErrorDetails = err.Error()
		writeAPIError(w, http.StatusInternalServerError, "api_error", "internal error")
		return
	}

	// Providers that cannot abort an in-flight call run on a detached
	// context: the upstream finishes even if the client leaves, and the
	// result is billed.
	callCtx := ctx
	if !route.SupportsCancel {
		callCtx = context.WithoutCancel(ctx)
	}

	callCtx, span := telemetry.Tracer().Start(callCtx, "upstream.call",
		trace.WithAttributes(
			attribute.String("llm.provider", route.UsedProvider),
			attribute.String("llm.model", route.UsedModel),
			attribute.Bool("llm.streamed", req.Stream),
		))
	defer func() {
		if rec.HasError {
			span.SetStatus(codes.Error, rec.ErrorDetails)
		}
		span.End()
	}()

	if req.Stream {
		h.relayStream(w, r, callCtx, route, ad, caller, upReq, rec)
		return
	}

	body, err := caller.Do(callCtx, upReq)
	if err != nil {
		// A departed client on a cancellable provider is a cancellation, not
		// an upstream failure. There is nobody left to answer.
		if ctx.Err() != nil && route.SupportsCancel {
			rec.Canceled = true
			rec.FinishReason = domain.FinishCanceled
			return
		}
		rec.HasError = true
		rec.ErrorDetails = err.Error()
		rec.FinishReason = domain.FinishError
		h.writeUpstreamError(w, requestID, err)
		return
	}

	resp, err := ad.ParseResponse(route, body)
	if err != nil {
		rec.HasError = true
		rec.ErrorDetails = err.Error()
		rec.FinishReason = domain.FinishError
		h.logger.Error("parse upstream response",
			"request_id", requestID,
			"provider", route.UsedProvider,
			"error", err,
		)
		writeAPIError(w, http.StatusBadGateway, "upstream_error", "invalid upstream response")
		return
	}

	fillUsage(rec, &resp.Usage)
	if len(resp.Choices) > 0 {
		rec.FinishReason = resp.Choices[0].FinishReason
	}
	h.price(rec, route)

	if h.cache != nil && route.CacheEnabled {
		key := cache.Key(route.ProjectID, req)
		if err := h.cache.Set(ctx, key, resp, route.CacheTTL); err != nil {
			h.logger.Warn("cache response", "request_id", requestID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	json.NewEncoder(w).Encode(resp)
}

// relayStream forwards upstream events to the client as OpenAI-style SSE
// chunks. The decoder guarantees a finish event; the relay guarantees a
// usage chunk and a [DONE] sentinel for every stream that ends cleanly.
func (h *Handler) relayStream(w http.ResponseWriter, r *http.Request, callCtx context.Context, route *domain.ResolvedRoute, ad adapter.Adapter, caller upstream.Caller, upReq *adapter.UpstreamRequest, rec *domain.LogRecord) {
	ctx := r.Context()
	requestID := rec.RequestID

	flusher, ok := w.(http.Flusher)
	if !ok {
		rec.HasError = true
		rec.ErrorDetails = "response writer does not support streaming"
		writeAPIError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	es, err := caller.Stream(callCtx, upReq)
	if err != nil {
		if ctx.Err() != nil && route.SupportsCancel {
			rec.Canceled = true
			rec.FinishReason = domain.FinishCanceled
			return
		}
		rec.HasError = true
		rec.ErrorDetails = err.Error()
		rec.FinishReason = domain.FinishError
		h.writeUpstreamError(w, requestID, err)
		return
	}
	defer es.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	dec := ad.NewStreamDecoder(route)
	chunkID := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()
	clientGone := false
	finished := false

	writeChunk := func(delta *domain.Delta, finishReason string, usage *domain.Usage) {
		if clientGone {
			return
		}
		chunk := domain.ChatResponse{
			ID:      chunkID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   route.UsedModel,
		}
		if delta != nil || finishReason != "" {
			chunk.Choices = []domain.Choice{{Delta: delta, FinishReason: finishReason}}
		}
		if usage != nil {
			chunk.Usage = *usage
		}
		data, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			clientGone = true
			return
		}
		flusher.Flush()
	}

	for {
		raw, err := es.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil && route.SupportsCancel {
				rec.Canceled = true
				rec.FinishReason = domain.FinishCanceled
				break
			}
			rec.HasError = true
			rec.ErrorDetails = err.Error()
			rec.FinishReason = domain.FinishError
			h.logger.Error("upstream stream failed",
				"request_id", requestID,
				"provider", route.UsedProvider,
				"error", err,
			)
			break
		}

		for _, ev := range dec.Decode(raw) {
			switch ev.Type {
			case domain.StreamContentDelta:
				writeChunk(&domain.Delta{Content: ev.Delta}, "", nil)
			case domain.StreamFinish:
				finished = true
				rec.FinishReason = ev.FinishReason
				writeChunk(nil, ev.FinishReason, nil)
			}
		}

		// A departed client cancels cancellable providers outright; for the
		// rest the relay drains silently so the full result can be billed.
		if !clientGone && ctx.Err() != nil {
			clientGone = true
		}
		if clientGone && route.SupportsCancel {
			rec.Canceled = true
			rec.FinishReason = domain.FinishCanceled
			break
		}
	}

	if !finished && !rec.Canceled && !rec.HasError {
		for _, ev := range dec.Finalize() {
			if ev.Type == domain.StreamFinish {
				rec.FinishReason = ev.FinishReason
				writeChunk(nil, ev.FinishReason, nil)
			}
		}
	}

	// A canceled attempt carries no usage and no cost, even when the decoder
	// saw token counts before the abort.
	if rec.Canceled {
		return
	}

	usage := dec.Usage()
	fillUsage(rec, usage)
	h.price(rec, route)

	if !rec.HasError {
		if usage != nil {
			writeChunk(nil, "", usage)
		}
		if !clientGone {
			if _, err := io.WriteString(w, "data: [DONE]\n\n"); err == nil {
				flusher.Flush()
			}
		}
	}
}

// emit queues the record and records request metrics. Enqueue is
// best-effort: the record is lost only if the queue itself is down, and the
// response has already been served either way.
func (h *Handler) emit(ctx context.Context, rec *domain.LogRecord) {
	outcome := "success"
	switch {
	case rec.Canceled:
		outcome = "canceled"
	case rec.HasError:
		outcome = "error"
	}

	metrics.RequestsTotal.WithLabelValues(rec.UsedProvider, rec.UsedModel, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(rec.UsedProvider, strconv.FormatBool(rec.Streamed)).
		Observe(float64(rec.DurationMs) / 1000)
	if rec.PromptTokens > 0 {
		metrics.TokensTotal.WithLabelValues(rec.UsedProvider, rec.UsedModel, "input").Add(float64(rec.PromptTokens))
	}
	if rec.CompletionTokens > 0 {
		metrics.TokensTotal.WithLabelValues(rec.UsedProvider, rec.UsedModel, "output").Add(float64(rec.CompletionTokens))
	}

	if err := h.queue.Enqueue(ctx, *rec); err != nil {
		metrics.QueueEnqueueFailures.Inc()
		h.logger.Error("enqueue log record",
			"request_id", rec.RequestID,
			"log_id", rec.ID,
			"error", err,
		)
	}
}

// price fills the cost split from the registry. Cached hits and custom
// endpoints carry no price and stay at zero cost.
func (h *Handler) price(rec *domain.LogRecord, route *domain.ResolvedRoute) {
	if rec.Cached || rec.TotalTokens == 0 {
		return
	}
	model, ok := registry.ModelByID(route.UsedModel, route.UsedProvider)
	if !ok {
		return
	}
	rec.InputCost, rec.OutputCost, rec.Cost = registry.Price(model, rec.PromptTokens, rec.CompletionTokens)
}

func fillUsage(rec *domain.LogRecord, usage *domain.Usage) {
	if usage == nil {
		return
	}
	rec.PromptTokens = usage.PromptTokens
	rec.CompletionTokens = usage.CompletionTokens
	rec.TotalTokens = usage.TotalTokens
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	all := registry.Models()
	data := make([]modelEntry, 0, len(all))
	for _, m := range all {
		data = append(data, modelEntry{ID: m.ID, Object: "model", OwnedBy: m.Provider})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) writeRoutingError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAPIKey):
		writeAPIError(w, http.StatusUnauthorized, "authentication_error", domain.ErrInvalidAPIKey.Error())
	case errors.Is(err, domain.ErrModelNotSupported):
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, domain.ErrProviderNotFound):
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, domain.ErrNoProviderKey):
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", domain.ErrNoProviderKey.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	default:
		h.logger.Error("resolve route", "request_id", requestID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

// writeUpstreamError relays provider 4xx statuses (the caller can act on
// those) and folds everything else into a 502.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, requestID string, err error) {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		status := http.StatusBadGateway
		if ue.Status >= 400 && ue.Status < 500 {
			status = ue.Status
		}
		h.logger.Warn("upstream error",
			"request_id", requestID,
			"provider", ue.Provider,
			"status", ue.Status,
		)
		writeAPIError(w, status, "upstream_error", fmt.Sprintf("%s upstream error: %s", ue.Provider, truncate(ue.Body, 512)))
		return
	}

	h.logger.Error("upstream call failed", "request_id", requestID, "error", err)
	writeAPIError(w, http.StatusBadGateway, "upstream_error", "upstream call failed")
}

func writeAPIError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error: domain.APIError{
			Message: message,
			Type:    errType,
			Code:    status,
		},
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
