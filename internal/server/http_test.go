package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knoguchi/logclass/internal/auth"
	"github.com/knoguchi/logclass/internal/decision"
	"github.com/knoguchi/logclass/internal/pipeline"
	"github.com/knoguchi/logclass/internal/recorder"
	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/repository/memory"
	"github.com/knoguchi/logclass/internal/reranker"
	"github.com/knoguchi/logclass/internal/retriever"
)

const testAPIKey = "test-api-key"

type stubRetriever struct {
	candidates []retriever.Candidate
	err        error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ *repository.NormalizedRecord) ([]retriever.Candidate, error) {
	return s.candidates, s.err
}

type passthroughReranker struct{}

func (passthroughReranker) Rerank(_ context.Context, _ *repository.NormalizedRecord, candidates []retriever.Candidate) ([]repository.RankedCandidate, error) {
	return reranker.FromRetrievalOrder(candidates), nil
}

func newTestServer(t *testing.T, ret retriever.Retriever) (*HTTPServer, *auth.JWTManager) {
	t.Helper()

	repo := memory.NewDecisionRepo()
	p := pipeline.New(
		ret,
		passthroughReranker{},
		decision.NewEngine(decision.DefaultThresholds()),
		recorder.New(repo, nil),
		pipeline.Config{},
		nil,
	)
	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))

	return NewHTTPServer(HTTPServerConfig{
		Port:       0,
		APIKey:     testAPIKey,
		JWTManager: jwtManager,
	}, p), jwtManager
}

func classifyBody(sourceID string) *bytes.Buffer {
	body, _ := json.Marshal(map[string]any{
		"text":            "Failed password for admin from 192.0.2.10",
		"sourceType":      "syslog",
		"sourceId":        sourceID,
		"ingestTimestamp": "2026-08-30T15:00:00Z",
		"attributes":      map[string]string{},
	})
	return bytes.NewBuffer(body)
}

func TestClassifyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{candidates: []retriever.Candidate{
		{ClassID: "auth.login_failure", Label: "Login Failure", Score: 0.8},
	}})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", classifyBody("host-1"))
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp decisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ClassID != "auth.login_failure" {
		t.Errorf("class_id = %q, want auth.login_failure", resp.ClassID)
	}
	if resp.Status != repository.StatusAuto {
		t.Errorf("status = %q, want auto", resp.Status)
	}
	if resp.DecisionID == "" {
		t.Error("decision_id is empty")
	}
}

func TestClassifyRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", classifyBody("host-1"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestClassifyValidation(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing text", map[string]any{"sourceId": "h", "ingestTimestamp": "2026-08-30T15:00:00Z"}},
		{"missing source id", map[string]any{"text": "x", "ingestTimestamp": "2026-08-30T15:00:00Z"}},
		{"missing timestamp", map[string]any{"text": "x", "sourceId": "h"}},
		{"bad timestamp", map[string]any{"text": "x", "sourceId": "h", "ingestTimestamp": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBuffer(body))
			req.Header.Set("X-API-Key", testAPIKey)
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestClassifyRetrievalDown(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{
		err: fmt.Errorf("%w: connection refused", retriever.ErrUnavailable),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", classifyBody("host-1"))
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestOverrideFlow(t *testing.T) {
	s, jwtManager := newTestServer(t, &stubRetriever{candidates: []retriever.Candidate{
		{ClassID: "auth.login_failure", Label: "Login Failure", Score: 0.8},
	}})

	// Classify first to get a decision id.
	req := httptest.NewRequest(http.MethodPost, "/v1/classify", classifyBody("host-2"))
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("classify status = %d", w.Code)
	}
	var classifyResp decisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &classifyResp); err != nil {
		t.Fatalf("failed to decode classify response: %v", err)
	}

	token, err := jwtManager.GenerateToken("dana")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	overrideBody, _ := json.Marshal(map[string]string{
		"new_class": "auth.brute_force",
		"reason":    "part of a larger pattern",
	})
	req = httptest.NewRequest(http.MethodPost,
		"/v1/decisions/"+classifyResp.DecisionID+"/override",
		bytes.NewBuffer(overrideBody))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("override status = %d, body = %s", w.Code, w.Body.String())
	}

	// The decision now reports the override as authoritative.
	req = httptest.NewRequest(http.MethodGet, "/v1/decisions/"+classifyResp.DecisionID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	var getResp struct {
		Decision       decisionResponse `json:"decision"`
		AutoClass      string           `json:"auto_class"`
		OverrideEvents []map[string]any `json:"override_events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &getResp); err != nil {
		t.Fatalf("failed to decode get response: %v", err)
	}
	if getResp.Decision.ClassID != "auth.brute_force" {
		t.Errorf("authoritative class = %q, want auth.brute_force", getResp.Decision.ClassID)
	}
	if getResp.AutoClass != "auth.login_failure" {
		t.Errorf("auto_class = %q, original pick was lost", getResp.AutoClass)
	}
	if len(getResp.OverrideEvents) != 1 {
		t.Errorf("got %d override events, want 1", len(getResp.OverrideEvents))
	}
	if getResp.OverrideEvents[0]["author"] != "dana" {
		t.Errorf("override author = %v, want dana", getResp.OverrideEvents[0]["author"])
	}
}

func TestOverrideRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{})

	body, _ := json.Marshal(map[string]string{"new_class": "auth.brute_force"})
	req := httptest.NewRequest(http.MethodPost,
		"/v1/decisions/8f9e4a21-1234-4abc-9def-1234567890ab/override",
		bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestOverrideUnknownDecision(t *testing.T) {
	s, jwtManager := newTestServer(t, &stubRetriever{})

	token, err := jwtManager.GenerateToken("dana")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"new_class": "auth.brute_force"})
	req := httptest.NewRequest(http.MethodPost,
		"/v1/decisions/8f9e4a21-1234-4abc-9def-1234567890ab/override",
		bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestClassifyBatch(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{candidates: []retriever.Candidate{
		{ClassID: "auth.login_failure", Label: "Login Failure", Score: 0.8},
	}})

	body, _ := json.Marshal(map[string]any{
		"records": []map[string]any{
			{"text": "record one", "sourceId": "h-1", "ingestTimestamp": "2026-08-30T15:00:00Z", "sourceType": "syslog"},
			{"sourceId": "h-2", "ingestTimestamp": "2026-08-30T15:00:01Z"}, // missing text
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/classify/batch", bytes.NewBuffer(body))
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []batchResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].Decision == nil || resp.Results[0].Decision.ClassID != "auth.login_failure" {
		t.Errorf("first result = %+v, want a decision", resp.Results[0])
	}
	if resp.Results[1].Error == "" {
		t.Error("second result should carry a validation error")
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &stubRetriever{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}
