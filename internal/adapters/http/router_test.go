package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/observability/metrics"
)

type ingestorFake struct {
	err      error
	ingested []string
	uploaded []string
}

func (f *ingestorFake) Ingest(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, _ := io.ReadAll(body)
	f.ingested = append(f.ingested, filename)
	return &domain.Document{
		ID:         "doc-1",
		Filename:   filename,
		MimeType:   mimeType,
		Version:    1,
		ChunkCount: len(raw) / 10,
		Status:     domain.StatusActive,
	}, nil
}

func (f *ingestorFake) Upload(_ context.Context, filename, mimeType string, _ io.Reader) (*domain.UploadEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded = append(f.uploaded, filename)
	return &domain.UploadEvent{Key: "k_" + filename, Filename: filename, MimeType: mimeType, UploadedAt: time.Now().UTC()}, nil
}

type readerFake struct {
	names []string
	err   error
}

func (f *readerFake) ListDocuments(context.Context) ([]string, error) {
	return f.names, f.err
}

func (f *readerFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id != "doc-1" {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id="+id))
	}
	return &domain.Document{ID: "doc-1", Filename: "policy.pdf", Status: domain.StatusActive}, nil
}

type queryFake struct {
	err      error
	question string
	session  string
	cleared  []string
}

func (f *queryFake) Answer(_ context.Context, question, sessionID string) (*domain.GroundedAnswer, error) {
	f.question, f.session = question, sessionID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.GroundedAnswer{
		Text:       "Employees may work remotely 3 days per week.",
		Citations:  []domain.Citation{{Label: "Source: policy.pdf | Page 1"}},
		Confidence: domain.ConfidenceHigh,
		SessionID:  sessionID,
	}, nil
}

func (f *queryFake) ClearSession(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

type evaluatorFake struct {
	cases []domain.EvalCase
}

func (f *evaluatorFake) Evaluate(_ context.Context, cases []domain.EvalCase) (*domain.EvalReport, error) {
	f.cases = cases
	return &domain.EvalReport{Cases: len(cases), MeanFaithfulness: 1}, nil
}

type routerFakes struct {
	ingestor  *ingestorFake
	reader    *readerFake
	query     *queryFake
	evaluator *evaluatorFake
	health    map[string]error
}

func newRouterFakes() *routerFakes {
	return &routerFakes{
		ingestor:  &ingestorFake{},
		reader:    &readerFake{names: []string{"policy.pdf"}},
		query:     &queryFake{},
		evaluator: &evaluatorFake{},
	}
}

func (f *routerFakes) deps() Dependencies {
	return Dependencies{
		Ingestor:  f.ingestor,
		Reader:    f.reader,
		Query:     f.query,
		Evaluator: f.evaluator,
		Health: func(context.Context) map[string]error {
			return f.health
		},
	}
}

func (f *routerFakes) handler() http.Handler {
	return NewRouter(f.deps(), Options{}).Handler()
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func serve(handler http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthzReportsFailingComponents(t *testing.T) {
	fakes := newRouterFakes()
	res := serve(fakes.handler(), http.MethodGet, "/healthz", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	fakes.health = map[string]error{"postgres": errors.New("connection refused")}
	res = serve(fakes.handler(), http.MethodGet, "/healthz", nil, "")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "connection refused") {
		t.Fatalf("expected component error in body: %s", res.Body.String())
	}
}

func TestUploadDocumentIngestsSynchronously(t *testing.T) {
	fakes := newRouterFakes()
	body, contentType := multipartBody(t, "policy.md", "Employees may work remotely.")

	res := serve(fakes.handler(), http.MethodPost, "/v1/documents", body, contentType)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var doc map[string]any
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["id"] != "doc-1" || doc["status"] != "active" {
		t.Fatalf("unexpected response: %+v", doc)
	}
	if len(fakes.ingestor.ingested) != 1 || len(fakes.ingestor.uploaded) != 0 {
		t.Fatalf("expected a synchronous ingest")
	}
}

func TestUploadDocumentAsyncQueues(t *testing.T) {
	fakes := newRouterFakes()
	body, contentType := multipartBody(t, "policy.md", "text")

	res := serve(fakes.handler(), http.MethodPost, "/v1/documents?async=true", body, contentType)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(fakes.ingestor.uploaded) != 1 {
		t.Fatalf("expected upload to be queued")
	}
}

func TestUploadDocumentErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported", domain.WrapError(domain.ErrUnsupportedFormat, "ingest", errors.New(".pptx")), http.StatusUnsupportedMediaType},
		{"corrupt", domain.WrapError(domain.ErrCorruptFile, "extract", errors.New("bad xref")), http.StatusUnprocessableEntity},
		{"empty", domain.WrapError(domain.ErrEmptyDocument, "extract", errors.New("no text")), http.StatusBadRequest},
		{"embedding", domain.WrapError(domain.ErrEmbeddingService, "embed", errors.New("down")), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		fakes := newRouterFakes()
		fakes.ingestor.err = tc.err
		body, contentType := multipartBody(t, "file.txt", "x")
		res := serve(fakes.handler(), http.MethodPost, "/v1/documents", body, contentType)
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, res.Code)
		}
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	res := serve(newRouterFakes().handler(), http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"), "text/plain")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestListAndGetDocuments(t *testing.T) {
	handler := newRouterFakes().handler()

	res := serve(handler, http.MethodGet, "/v1/documents", nil, "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "policy.pdf") {
		t.Fatalf("list: %d %s", res.Code, res.Body.String())
	}

	res = serve(handler, http.MethodGet, "/v1/documents/doc-1", nil, "")
	if res.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", res.Code)
	}

	res = serve(handler, http.MethodGet, "/v1/documents/missing", nil, "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", res.Code)
	}
}

func TestListDocumentsEmptyIsArray(t *testing.T) {
	fakes := newRouterFakes()
	fakes.reader.names = nil
	res := serve(fakes.handler(), http.MethodGet, "/v1/documents", nil, "")
	if strings.TrimSpace(res.Body.String()) != `{"documents":[]}` {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestAnswer(t *testing.T) {
	fakes := newRouterFakes()
	payload := `{"question":"How many remote days?","session_id":"s-1"}`

	res := serve(fakes.handler(), http.MethodPost, "/v1/answer", strings.NewReader(payload), "application/json")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var answer domain.GroundedAnswer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Confidence != domain.ConfidenceHigh || answer.SessionID != "s-1" || len(answer.Citations) != 1 {
		t.Fatalf("unexpected answer %+v", answer)
	}
	if fakes.query.question != "How many remote days?" {
		t.Fatalf("question not forwarded: %q", fakes.query.question)
	}
}

func TestAnswerValidationAndErrors(t *testing.T) {
	fakes := newRouterFakes()
	handler := fakes.handler()

	for _, payload := range []string{`{"question":"  "}`, `not json`, `{"question":"q","limit":3}`} {
		res := serve(handler, http.MethodPost, "/v1/answer", strings.NewReader(payload), "application/json")
		if res.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, res.Code)
		}
	}

	fakes.query.err = domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.New("both paths failed"))
	res := serve(handler, http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`), "application/json")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}

	fakes.query.err = domain.WrapError(domain.ErrGeneration, "generate", errors.New("model crashed"))
	res = serve(handler, http.MethodPost, "/v1/answer", strings.NewReader(`{"question":"q"}`), "application/json")
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
}

func TestClearSession(t *testing.T) {
	fakes := newRouterFakes()
	res := serve(fakes.handler(), http.MethodDelete, "/v1/sessions/s-1", nil, "")
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(fakes.query.cleared) != 1 || fakes.query.cleared[0] != "s-1" {
		t.Fatalf("unexpected cleared sessions %v", fakes.query.cleared)
	}
}

func TestEvaluate(t *testing.T) {
	fakes := newRouterFakes()
	payload := `{"cases":[{"question":"q1","ground_truth":"a1"},{"question":"q2","ground_truth":"a2"}]}`
	res := serve(fakes.handler(), http.MethodPost, "/v1/evaluate", strings.NewReader(payload), "application/json")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(fakes.evaluator.cases) != 2 || fakes.evaluator.cases[1].GroundTruth != "a2" {
		t.Fatalf("cases not forwarded: %+v", fakes.evaluator.cases)
	}

	res = serve(fakes.handler(), http.MethodPost, "/v1/evaluate", strings.NewReader(`{"cases":[]}`), "application/json")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cases, got %d", res.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fakes := newRouterFakes()
	deps := fakes.deps()
	deps.Metrics = metrics.NewHTTPServerMetrics("api")
	handler := NewRouter(deps, Options{}).Handler()

	serve(handler, http.MethodGet, "/v1/documents", nil, "")
	res := serve(handler, http.MethodGet, "/metrics", nil, "")
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "gqa_http_requests_total") {
		t.Fatalf("metrics endpoint: %d", res.Code)
	}
}
