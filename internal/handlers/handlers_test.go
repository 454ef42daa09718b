package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/config"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/session"
	"github.com/lehigh-university-libraries/platecheck/internal/storage"
	"golang.org/x/text/language"
)

type fakeAnalyzer struct {
	result *models.AnalysisResult
	err    error
	text   string
	// block, when set, holds every call until it is closed
	block chan struct{}
}

func (f *fakeAnalyzer) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (*models.AnalysisResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.result.Clone(), f.err
}

func (f *fakeAnalyzer) AnalyzeText(ctx context.Context, description string) (*models.AnalysisResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.result.Clone(), f.err
}

func (f *fakeAnalyzer) Recalculate(ctx context.Context, previous *models.AnalysisResult, correction string) (*models.AnalysisResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.result.Clone(), f.err
}

func (f *fakeAnalyzer) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.text, f.err
}

func sampleResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		Items: []models.FoodItem{{
			Name:        "toast",
			WeightGrams: 40,
			Macros:      models.MacroProfile{Calories: 110, Protein: 4, Fat: 1, Carbs: 20},
			Confidence:  0.9,
		}},
		Total:     models.MacroProfile{Calories: 110, Protein: 4, Fat: 1, Carbs: 20},
		Summary:   "A slice of toast",
		ModelTier: "fast",
	}
}

func newTestServer(analyzer session.Analyzer, limits config.Limits) (http.Handler, *storage.SessionStore) {
	store := storage.New()
	h := New(analyzer, store, limits, language.English)
	return h.Routes(), store
}

func defaultLimits() config.Limits {
	return config.Limits{MaxImageBytes: 1 << 20, MaxAudioBytes: 1 << 20, RequestsPerMinute: 0, Burst: 1}
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Response is not an error envelope: %v (%s)", err, rec.Body.String())
	}
	return env.Error
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealthcheckAndRequestID(t *testing.T) {
	srv, _ := newTestServer(&fakeAnalyzer{}, defaultLimits())

	rec := do(t, srv, http.MethodGet, "/healthcheck", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected X-Request-ID abc-123, got %s", got)
	}
}

func TestAnalyzeText(t *testing.T) {
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, defaultLimits())

	rec := do(t, srv, http.MethodPost, "/api/analyze/text", `{"description":"a slice of toast"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid result JSON: %v", err)
	}
	if result.Total.Calories != 110 || result.ModelTier != "fast" {
		t.Errorf("Unexpected result: %+v", result)
	}

	rec = do(t, srv, http.MethodPost, "/api/analyze/text", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", rec.Code)
	}
	if code := decodeEnvelope(t, rec).Code; code != codeInvalidRequest {
		t.Errorf("Expected %s, got %s", codeInvalidRequest, code)
	}
}

func TestFailureEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		language string
	}{
		{"rate limited", &analysis.Failure{Kind: models.KindRateLimited, Tier: "fast", StatusCode: 429}, http.StatusTooManyRequests, "RATE_LIMITED", ""},
		{"overloaded", &analysis.Failure{Kind: models.KindOverloaded, Tier: "fast", StatusCode: 503}, http.StatusServiceUnavailable, "OVERLOADED", ""},
		{"access denied", &analysis.Failure{Kind: models.KindAccessDenied, Tier: "backup", StatusCode: 403}, http.StatusBadGateway, "ACCESS_DENIED", "de"},
		{"malformed", &analysis.Failure{Kind: models.KindMalformedOutput, Tier: "fast"}, http.StatusBadGateway, "MALFORMED_OUTPUT", ""},
		{"unknown", &analysis.Failure{Kind: models.KindUnknown, Message: "boom"}, http.StatusInternalServerError, "UNKNOWN", ""},
		{"empty input", analysis.ErrEmptyInput, http.StatusBadRequest, codeInvalidRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(&fakeAnalyzer{err: tt.err}, defaultLimits())
			req := httptest.NewRequest(http.MethodPost, "/api/analyze/text", strings.NewReader(`{"description":"soup"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.language != "" {
				req.Header.Set("Accept-Language", tt.language)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
			body := decodeEnvelope(t, rec)
			if body.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, body.Code)
			}
			if body.Message == "" {
				t.Error("Expected a user-facing message")
			}
		})
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind     models.ErrorKind
		expected int
	}{
		{models.KindRateLimited, http.StatusTooManyRequests},
		{models.KindOverloaded, http.StatusServiceUnavailable},
		{models.KindAccessDenied, http.StatusBadGateway},
		{models.KindNotFound, http.StatusBadGateway},
		{models.KindMalformedOutput, http.StatusBadGateway},
		{models.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.expected {
			t.Errorf("statusForKind(%s): expected %d, got %d", tt.kind, tt.expected, got)
		}
	}
}

func TestAnalyzeImagePayloads(t *testing.T) {
	fake := &fakeAnalyzer{result: sampleResult()}

	srv, _ := newTestServer(fake, defaultLimits())
	rec := do(t, srv, http.MethodPost, "/api/analyze/image", `{"image":"`+pngBase64(t)+`"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for png, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/analyze/image", `{"image":"`+base64.StdEncoding.EncodeToString([]byte("plain text, not a picture"))+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-image, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/analyze/image", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing image, got %d", rec.Code)
	}

	small := defaultLimits()
	small.MaxImageBytes = 16
	srv, _ = newTestServer(fake, small)
	rec = do(t, srv, http.MethodPost, "/api/analyze/image", `{"image":"`+pngBase64(t)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
	if code := decodeEnvelope(t, rec).Code; code != codePayloadTooLarge {
		t.Errorf("Expected %s, got %s", codePayloadTooLarge, code)
	}
}

func TestRecalculateValidation(t *testing.T) {
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, defaultLimits())

	prev, _ := json.Marshal(sampleResult())
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing previous", `{"correction":"two slices"}`, http.StatusBadRequest},
		{"missing correction", `{"previousResult":` + string(prev) + `,"correction":"  "}`, http.StatusBadRequest},
		{"valid", `{"previousResult":` + string(prev) + `,"correction":"two slices"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/recalculate", tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	srv, _ := newTestServer(&fakeAnalyzer{text: "two slices not one"}, defaultLimits())

	audio := base64.StdEncoding.EncodeToString([]byte("fake-webm-bytes"))
	rec := do(t, srv, http.MethodPost, "/api/transcribe", `{"audio":"`+audio+`","mimeType":"audio/webm"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["text"] != "two slices not one" {
		t.Errorf("Expected transcript, got %q", body["text"])
	}
}

type sessionBody struct {
	ID    string        `json:"id"`
	State session.State `json:"state"`
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionBody {
	t.Helper()
	var s sessionBody
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("Invalid session JSON: %v (%s)", err, rec.Body.String())
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	srv, store := newTestServer(&fakeAnalyzer{result: sampleResult()}, defaultLimits())

	rec := do(t, srv, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	created := decodeSession(t, rec)
	if created.State.Lifecycle != session.Idle {
		t.Errorf("Expected IDLE, got %s", created.State.Lifecycle)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/dismiss", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for dismiss in IDLE, got %d", rec.Code)
	} else if code := decodeEnvelope(t, rec).Code; code != codeInvalidTransition {
		t.Errorf("Expected %s, got %s", codeInvalidTransition, code)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/description", `{"description":"toast"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	s := decodeSession(t, rec)
	if s.State.Lifecycle != session.ResultView {
		t.Errorf("Expected RESULT_VIEW, got %s", s.State.Lifecycle)
	}
	if s.State.CurrentResult == nil || s.State.CurrentResult.Total.Calories != 110 {
		t.Errorf("Unexpected current result: %+v", s.State.CurrentResult)
	}

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+created.ID, "")
	if rec.Code != http.StatusOK || decodeSession(t, rec).State.Lifecycle != session.ResultView {
		t.Errorf("Expected stored RESULT_VIEW, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/dismiss", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected dismiss in RESULT_VIEW to succeed, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/correction", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty correction, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/teleport", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown intent, got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/api/sessions", "")
	var list []sessionBody
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Errorf("Expected one listed session, got %s", rec.Body.String())
	}

	rec = do(t, srv, http.MethodDelete, "/api/sessions/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if _, ok := store.Get(created.ID); ok {
		t.Error("Expected session to be deleted")
	}

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
	if code := decodeEnvelope(t, rec).Code; code != codeSessionNotFound {
		t.Errorf("Expected %s, got %s", codeSessionNotFound, code)
	}
}

func TestSessionFailureLandsInState(t *testing.T) {
	fail := &analysis.Failure{Kind: models.KindOverloaded, Tier: "fast", StatusCode: 503}
	srv, _ := newTestServer(&fakeAnalyzer{err: fail}, defaultLimits())

	created := decodeSession(t, do(t, srv, http.MethodPost, "/api/sessions", ""))
	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/description", `{"description":"stew"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with ERROR state, got %d: %s", rec.Code, rec.Body.String())
	}
	s := decodeSession(t, rec)
	if s.State.Lifecycle != session.Error {
		t.Errorf("Expected ERROR, got %s", s.State.Lifecycle)
	}
	if s.State.LastError == nil || s.State.LastError.Kind != models.KindOverloaded {
		t.Errorf("Expected OVERLOADED error, got %+v", s.State.LastError)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/reset", "")
	if rec.Code != http.StatusOK || decodeSession(t, rec).State.Lifecycle != session.Idle {
		t.Errorf("Expected reset to return to IDLE, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionBusyRejectsIntents(t *testing.T) {
	fake := &fakeAnalyzer{result: sampleResult(), block: make(chan struct{})}
	srv, store := newTestServer(fake, defaultLimits())

	created := decodeSession(t, do(t, srv, http.MethodPost, "/api/sessions", ""))
	entry, _ := store.Get(created.ID)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+created.ID+"/description", strings.NewReader(`{"description":"toast"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		done <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Machine.Snapshot().Lifecycle != session.AnalyzingText {
		if time.Now().After(deadline) {
			t.Fatal("Session never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/description", `{"description":"more toast"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 while busy, got %d", rec.Code)
	} else if code := decodeEnvelope(t, rec).Code; code != codeSessionBusy {
		t.Errorf("Expected %s, got %s", codeSessionBusy, code)
	}

	close(fake.block)
	first := <-done
	if first.Code != http.StatusOK {
		t.Errorf("Expected first request to succeed, got %d", first.Code)
	}
}

func TestSessionResetDiscardsInFlight(t *testing.T) {
	fake := &fakeAnalyzer{result: sampleResult(), block: make(chan struct{})}
	srv, store := newTestServer(fake, defaultLimits())

	created := decodeSession(t, do(t, srv, http.MethodPost, "/api/sessions", ""))
	entry, _ := store.Get(created.ID)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+created.ID+"/description", strings.NewReader(`{"description":"toast"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		done <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !entry.Machine.Snapshot().Lifecycle.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("Session never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/reset", "")
	if rec.Code != http.StatusOK || decodeSession(t, rec).State.Lifecycle != session.Idle {
		t.Errorf("Expected reset to IDLE, got %d %s", rec.Code, rec.Body.String())
	}

	close(fake.block)
	first := <-done
	if first.Code != http.StatusConflict {
		t.Errorf("Expected 409 for discarded result, got %d", first.Code)
	} else if code := decodeEnvelope(t, first).Code; code != codeSessionReset {
		t.Errorf("Expected %s, got %s", codeSessionReset, code)
	}
	if entry.Machine.Snapshot().CurrentResult != nil {
		t.Error("Expected stale result to be discarded")
	}
}

func TestRateLimiter(t *testing.T) {
	limits := defaultLimits()
	limits.RequestsPerMinute = 1
	limits.Burst = 2
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, limits)

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodPost, "/api/analyze/text", `{"description":"toast"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, srv, http.MethodPost, "/api/analyze/text", `{"description":"toast"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// reads are never limited
	if rec := do(t, srv, http.MethodGet, "/api/sessions", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected GET to bypass limiter, got %d", rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, 1, false)
	for i := 0; i < 100; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("Expected unlimited limiter to allow request %d", i)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	rl := newRateLimiter(60, 1, false)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(20 * time.Minute)
	rl.allow("b")

	if _, ok := rl.visitors["a"]; ok {
		t.Error("Expected idle visitor to be swept")
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("Expected active visitor to remain")
	}
}

func TestCallerKey(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		trustProxy bool
		expected   string
	}{
		{"remote address", "", false, "192.0.2.1"},
		{"forwarded header ignored by default", "203.0.113.7", false, "192.0.2.1"},
		{"trusted proxy uses last hop", "198.51.100.9, 203.0.113.7", true, "203.0.113.7"},
		{"trusted proxy without header", "", true, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:5555"
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := callerKey(req, tt.trustProxy); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	limits := defaultLimits()
	limits.RequestsPerMinute = 1
	limits.Burst = 1
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, limits)

	accepted := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze/text", strings.NewReader(`{"description":"toast"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected 1 accepted request with rotated X-Forwarded-For, got %d", accepted)
	}
}

func TestAnalyzeImageFromURL(t *testing.T) {
	pngData, _ := base64.StdEncoding.DecodeString(pngBase64(t))
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngData)
	}))
	defer upstream.Close()

	limits := defaultLimits()
	limits.AllowPrivateImageHosts = true
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, limits)
	rec := do(t, srv, http.MethodPost, "/api/analyze/image", `{"imageUrl":"`+upstream.URL+`/meal.png","width":640,"source":{"app":"web"}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/analyze/image", `{"imageUrl":"file:///etc/passwd"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-http url, got %d", rec.Code)
	}
}

func TestSessionOutcomeSurvivesClientDisconnect(t *testing.T) {
	fake := &fakeAnalyzer{result: sampleResult(), block: make(chan struct{})}
	srv, store := newTestServer(fake, defaultLimits())

	created := decodeSession(t, do(t, srv, http.MethodPost, "/api/sessions", ""))
	entry, _ := store.Get(created.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+created.ID+"/description", strings.NewReader(`{"description":"toast"}`))
		req = req.WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		srv.ServeHTTP(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !entry.Machine.Snapshot().Lifecycle.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("Session never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	if got := entry.Machine.Snapshot().Lifecycle; got != session.AnalyzingText {
		t.Errorf("Expected the call to keep running after disconnect, got %s", got)
	}

	close(fake.block)
	<-done

	state := entry.Machine.Snapshot()
	if state.Lifecycle != session.ResultView {
		t.Errorf("Expected RESULT_VIEW after the call completed, got %s (error %+v)", state.Lifecycle, state.LastError)
	}
	if state.CurrentResult == nil || state.CurrentResult.Total.Calories != 110 {
		t.Errorf("Expected the completed result to be kept, got %+v", state.CurrentResult)
	}
}

func TestAnalyzeImageRefusesPrivateURL(t *testing.T) {
	var hits int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	}))
	defer internal.Close()

	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, defaultLimits())
	for _, target := range []string{internal.URL + "/metadata", "http://169.254.169.254/latest/meta-data/"} {
		rec := do(t, srv, http.MethodPost, "/api/analyze/image", `{"imageUrl":"`+target+`"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
			continue
		}
		if code := decodeEnvelope(t, rec).Code; code != codeInvalidRequest {
			t.Errorf("%s: expected %s, got %s", target, codeInvalidRequest, code)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("Expected no request to reach the internal server, got %d", n)
	}
}

func TestAnalyzeImageIgnoresExtraJSONFields(t *testing.T) {
	srv, _ := newTestServer(&fakeAnalyzer{result: sampleResult()}, defaultLimits())

	body := `{"image":"` + pngBase64(t) + `","mimeType":"image/png","width":640,"capturedAt":1718000000,"hints":{"meal":"lunch"}}`
	rec := do(t, srv, http.MethodPost, "/api/analyze/image", body)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with non-string fields, got %d: %s", rec.Code, rec.Body.String())
	}
}
