// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/bomcat/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Request headers carrying caller identity.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
)

// Options tunes handler behavior. Zero values select defaults.
type Options struct {
	Logger         *log.Logger
	RequestTimeout time.Duration
}

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service common.ProcessService
	logger  *log.Logger
	timeout time.Duration
	mux     *http.ServeMux
	root    http.Handler
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over service.
func NewHandler(service common.ProcessService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	h := &Handler{
		service: service,
		logger:  logger,
		timeout: opts.RequestTimeout,
		mux:     http.NewServeMux(),
	}
	h.routes()
	h.root = h.observe(h.mux)
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// routes registers every API route.
func (h *Handler) routes() {
	h.mux.HandleFunc("GET /processes", h.tenant(h.handleListProcesses))
	h.mux.HandleFunc("POST /processes", h.tenant(h.handleInsertProcess))
	h.mux.HandleFunc("POST /processes/regenerate-codes", h.tenant(h.handleRegenerateCodes))
	h.mux.HandleFunc("POST /processes/recompute-rag", h.tenant(h.handleRecomputeRAG))
	h.mux.HandleFunc("GET /processes/{id}", h.tenant(h.handleGetProcess))
	h.mux.HandleFunc("PATCH /processes/{id}", h.tenant(h.handleUpdateProcess))
	h.mux.HandleFunc("POST /processes/{id}/move", h.tenant(h.handleMoveProcess))
	h.mux.HandleFunc("POST /processes/{id}/archive", h.tenant(h.handleArchiveProcess))
	h.mux.HandleFunc("POST /processes/{id}/rag", h.tenant(h.handleSetRAG))

	h.mux.HandleFunc("GET /issues", h.tenant(h.handleListIssues))
	h.mux.HandleFunc("POST /issues", h.tenant(h.handleCreateIssue))
	h.mux.HandleFunc("GET /issues/{id}", h.tenant(h.handleGetIssue))
	h.mux.HandleFunc("PATCH /issues/{id}", h.tenant(h.handleUpdateIssue))
	h.mux.HandleFunc("DELETE /issues/{id}", h.tenant(h.handleDeleteIssue))
	h.mux.HandleFunc("POST /issues/{id}/transition", h.tenant(h.handleTransitionIssue))
	h.mux.HandleFunc("GET /issues/{id}/history", h.tenant(h.handleIssueHistory))

	h.mux.HandleFunc("GET /heatmap", h.tenant(h.handleHeatmap))

	h.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	})
}

// tenantHandler serves one request already bound to a tenant.
type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

// tenant resolves tenant and actor headers before calling next.
func (h *Handler) tenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.service == nil {
			writeJSONError(w, http.StatusServiceUnavailable, APIError{
				Code:    "service_unavailable",
				Message: "process service is not configured",
			})
			return
		}
		tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if tenantID == "" {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "missing_tenant",
				Message: HeaderTenantID + " header is required",
			})
			return
		}
		ctx := common.WithActor(r.Context(), r.Header.Get(HeaderActorID))
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}
		next(w, r.WithContext(ctx), tenantID)
	}
}

// handleListProcesses serves GET `/processes`.
func (h *Handler) handleListProcesses(w http.ResponseWriter, r *http.Request, tenantID string) {
	includeArchived, err := parseBoolQuery(r, "include_archived")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	nodes, err := h.service.ListNodes(r.Context(), tenantID, includeArchived)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": nodes})
}

// handleInsertProcess serves POST `/processes`.
func (h *Handler) handleInsertProcess(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.InsertNodeRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	node, err := h.service.InsertNode(r.Context(), tenantID, req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleGetProcess serves GET `/processes/{id}`.
func (h *Handler) handleGetProcess(w http.ResponseWriter, r *http.Request, tenantID string) {
	node, err := h.service.GetNode(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleUpdateProcess serves PATCH `/processes/{id}`.
func (h *Handler) handleUpdateProcess(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.UpdateNodeRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	node, err := h.service.UpdateNode(r.Context(), tenantID, r.PathValue("id"), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleMoveProcess serves POST `/processes/{id}/move`.
func (h *Handler) handleMoveProcess(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.MoveNodeRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	node, err := h.service.MoveNode(r.Context(), tenantID, r.PathValue("id"), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleArchiveProcess serves POST `/processes/{id}/archive`.
func (h *Handler) handleArchiveProcess(w http.ResponseWriter, r *http.Request, tenantID string) {
	result, err := h.service.ArchiveNode(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSetRAG serves POST `/processes/{id}/rag`.
func (h *Handler) handleSetRAG(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.SetRAGRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	node, err := h.service.SetExplicitRAG(r.Context(), tenantID, r.PathValue("id"), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleRegenerateCodes serves POST `/processes/regenerate-codes`.
func (h *Handler) handleRegenerateCodes(w http.ResponseWriter, r *http.Request, tenantID string) {
	result, err := h.service.RegenerateCodes(r.Context(), tenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRecomputeRAG serves POST `/processes/recompute-rag`.
func (h *Handler) handleRecomputeRAG(w http.ResponseWriter, r *http.Request, tenantID string) {
	result, err := h.service.RecomputeRAG(r.Context(), tenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListIssues serves GET `/issues`.
func (h *Handler) handleListIssues(w http.ResponseWriter, r *http.Request, tenantID string) {
	query := r.URL.Query()
	req := common.ListIssuesRequest{
		ProcessID: strings.TrimSpace(query.Get("process_id")),
		Dimension: strings.TrimSpace(query.Get("dimension")),
	}
	for _, raw := range query["status"] {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				req.Statuses = append(req.Statuses, status)
			}
		}
	}
	issues, err := h.service.ListIssues(r.Context(), tenantID, req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

// handleCreateIssue serves POST `/issues`.
func (h *Handler) handleCreateIssue(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.CreateIssueRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	issue, err := h.service.CreateIssue(r.Context(), tenantID, req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// handleGetIssue serves GET `/issues/{id}`.
func (h *Handler) handleGetIssue(w http.ResponseWriter, r *http.Request, tenantID string) {
	issue, err := h.service.GetIssue(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleUpdateIssue serves PATCH `/issues/{id}`.
func (h *Handler) handleUpdateIssue(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.UpdateIssueRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	issue, err := h.service.UpdateIssue(r.Context(), tenantID, r.PathValue("id"), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleDeleteIssue serves DELETE `/issues/{id}`.
func (h *Handler) handleDeleteIssue(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := h.service.DeleteIssue(r.Context(), tenantID, r.PathValue("id")); err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransitionIssue serves POST `/issues/{id}/transition`.
func (h *Handler) handleTransitionIssue(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req common.TransitionIssueRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	issue, err := h.service.TransitionIssue(r.Context(), tenantID, r.PathValue("id"), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleIssueHistory serves GET `/issues/{id}/history`.
func (h *Handler) handleIssueHistory(w http.ResponseWriter, r *http.Request, tenantID string) {
	entries, err := h.service.ListIssueHistory(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// handleHeatmap serves GET `/heatmap`.
func (h *Handler) handleHeatmap(w http.ResponseWriter, r *http.Request, tenantID string) {
	heatmap, err := h.service.GetHeatmap(r.Context(), tenantID, r.URL.Query().Get("view"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heatmap)
}

// parseBoolQuery reads an optional boolean query parameter.
func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, errors.Join(common.ErrInvalidRequest, err))
	}
	return value, nil
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	detail := common.DescribeError(err)
	apiErr := APIError{
		Code:    detail.Code,
		Message: "unknown error",
		Hint:    detail.Hint,
		Context: detail.Context,
	}
	if err != nil {
		apiErr.Message = err.Error()
	}
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, apiErr)
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, apiErr)
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, apiErr)
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, apiErr)
	case errors.Is(err, common.ErrUnprocessable):
		writeJSONError(w, http.StatusUnprocessableEntity, apiErr)
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, apiErr)
	case errors.Is(err, context.DeadlineExceeded):
		apiErr.Code = "timeout"
		writeJSONError(w, http.StatusGatewayTimeout, apiErr)
	default:
		writeJSONError(w, http.StatusInternalServerError, apiErr)
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
