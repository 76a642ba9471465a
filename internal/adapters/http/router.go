package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

const (
	serviceName       = "api"
	multipartOverhead = 1 << 20
	maxJSONBodyBytes  = 1 << 20
)

// HealthFunc reports failing components by name.
type HealthFunc func(ctx context.Context) map[string]error

type Dependencies struct {
	Ingestor  ports.DocumentIngestor
	Reader    ports.DocumentReader
	Query     ports.DocumentQueryService
	Evaluator ports.Evaluator
	Health    HealthFunc
	Metrics   *metrics.HTTPServerMetrics
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	MaxUploadBytes int64
}

type Router struct {
	deps Dependencies
	opts Options
}

func NewRouter(deps Dependencies, opts Options) *Router {
	if opts.QueueWait <= 0 {
		opts.QueueWait = 250 * time.Millisecond
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	return &Router{deps: deps, opts: opts}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocumentByID)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("DELETE /v1/sessions/{id}", rt.clearSession)
	mux.HandleFunc("POST /v1/evaluate", rt.evaluate)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}

	onReject := func(reason string) {
		if rt.deps.Metrics != nil {
			rt.deps.Metrics.RecordRejected(serviceName, reason)
		}
	}

	var handler http.Handler = mux
	handler = backpressureWithReject(handler, rt.opts.MaxInFlight, rt.opts.QueueWait, onReject)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, onReject)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := http.StatusOK
	if rt.deps.Health != nil {
		for name, err := range rt.deps.Health(r.Context()) {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body = map[string]any{"status": "degraded", "components": components}
	}
	writeJSON(w, status, body)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes+multipartOverhead)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		event, err := rt.deps.Ingestor.Upload(r.Context(), fileHeader.Filename, mimeType, file)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, event)
		return
	}

	doc, err := rt.deps.Ingestor.Ingest(r.Context(), fileHeader.Filename, mimeType, file)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	names, err := rt.deps.Reader.ListDocuments(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": names})
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Reader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := rt.deps.Query.Answer(r.Context(), req.Question, req.SessionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) clearSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Query.ClearSession(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) evaluate(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Evaluator == nil {
		writeError(w, r, http.StatusNotImplemented, "evaluation is not enabled")
		return
	}
	var req struct {
		Cases []domain.EvalCase `json:"cases"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Cases) == 0 {
		writeError(w, r, http.StatusBadRequest, "at least one case is required")
		return
	}

	report, err := rt.deps.Evaluator.Evaluate(r.Context(), req.Cases)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, r, status, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
