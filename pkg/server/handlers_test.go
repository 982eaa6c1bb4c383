/*
Copyright © 2025 ALESSIO TONIOLO

handlers_test.go exercises the HTTP API against a mock model server.
*/
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/mockvllm"
	"github.com/atoniolo76/xcodeagent/pkg/monitor"
	"github.com/atoniolo76/xcodeagent/pkg/pool"
	"github.com/atoniolo76/xcodeagent/pkg/session"
	"github.com/atoniolo76/xcodeagent/pkg/vllm"
)

type harness struct {
	server *Server
	store  *session.Store
	http   *httptest.Server
}

// newHarness wires a full gateway against the given upstream URL.
func newHarness(t *testing.T, upstreamURL string) *harness {
	t.Helper()

	cfg := &config.Config{
		VLLMServerURLs: []string{upstreamURL},
		BackendHost:    "127.0.0.1",
		BackendPort:    config.DefaultBackendPort,
		ProductionMode: true,
		Model:          config.DefaultModel,
	}

	store, err := session.OpenPath(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metrics := monitor.NewMetrics()
	collector := monitor.NewCollector(metrics, store)
	p := pool.New(pool.DefaultConfig(), cfg.Model, cfg.VLLMServerURLs)

	srv := New(cfg, p, store, metrics, collector)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{server: srv, store: store, http: ts}
}

// newMockUpstream starts an in-process mock model server without latency
// simulation.
func newMockUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mock := mockvllm.New(&mockvllm.Config{Model: config.DefaultModel})
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// deadUpstreamURL returns a URL nothing listens on.
func deadUpstreamURL(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	return url
}

func postJSON(t *testing.T, url string, body any) map[string]any {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d, want 200", url, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	resp, err := http.Get(h.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["version"] != config.Version {
		t.Errorf("version = %v, want %s", body["version"], config.Version)
	}
}

func TestChatProduction(t *testing.T) {
	upstream := newMockUpstream(t)
	h := newHarness(t, upstream.URL)

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message": "Write a python function to sort a list",
	})

	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}
	if body["execution_mode"] != ModeProduction {
		t.Errorf("execution_mode = %v, want production", body["execution_mode"])
	}

	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("missing session_id")
	}

	data := body["data"].(map[string]any)
	reply, _ := data["response"].(string)
	if !strings.Contains(reply, "Generated by "+config.DefaultModel) {
		t.Errorf("reply missing attribution footer: %q", reply)
	}
	if got := data["message_count"].(float64); got != 2 {
		t.Errorf("message_count = %v, want 2", got)
	}

	metadata := body["metadata"].(map[string]any)
	if metadata["model"] != config.DefaultModel {
		t.Errorf("metadata model = %v, want %s", metadata["model"], config.DefaultModel)
	}

	stored, err := h.store.Get(sessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(stored.Messages))
	}
	if stored.Messages[0].Role != "user" || stored.Messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", stored.Messages[0].Role, stored.Messages[1].Role)
	}
}

func TestChatTrimsCompletionWhitespace(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/completions":
			json.NewEncoder(w).Encode(vllm.CompletionResponse{
				ID:      "cmpl-test",
				Model:   config.DefaultModel,
				Choices: []vllm.CompletionChoice{{Text: "\n\n  padded answer  \n\n", FinishReason: "stop"}},
				Usage:   vllm.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()
	h := newHarness(t, upstream.URL)

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{"message": "hi"})
	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}

	data := body["data"].(map[string]any)
	reply, _ := data["response"].(string)
	if !strings.HasPrefix(reply, "padded answer\n\n---\n") {
		t.Errorf("completion whitespace not trimmed before footer: %q", reply)
	}
}

func TestChatDemoSkipsModelServer(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message":        "hello there",
		"execution_mode": "demo",
	})

	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}

	data := body["data"].(map[string]any)
	reply, _ := data["response"].(string)
	if !strings.Contains(reply, "Demo Response to") {
		t.Errorf("unexpected demo reply: %q", reply)
	}

	metadata := body["metadata"].(map[string]any)
	if metadata["model"] != "demo" {
		t.Errorf("metadata model = %v, want demo", metadata["model"])
	}
}

func TestChatProductionUnavailable(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message":        "hello",
		"execution_mode": "production",
	})

	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
	errMsg, _ := body["error"].(string)
	if !strings.HasPrefix(errMsg, "Production model unavailable:") {
		t.Errorf("error = %q, want production-unavailable prefix", errMsg)
	}
	if sessionID, _ := body["session_id"].(string); sessionID == "" {
		t.Error("failure response should still carry the session id")
	}
}

func TestChatHybridFallsBack(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message":        "explain goroutines",
		"execution_mode": "hybrid",
	})

	if body["success"] != true {
		t.Fatalf("hybrid must not fail the request, got: %v", body)
	}

	data := body["data"].(map[string]any)
	reply, _ := data["response"].(string)
	if !strings.Contains(reply, "Hybrid Mode Fallback Response") {
		t.Errorf("unexpected hybrid fallback reply: %q", reply)
	}
}

func TestChatUnknownMode(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	body := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message":        "hi",
		"execution_mode": "turbo",
	})

	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}
	data := body["data"].(map[string]any)
	reply, _ := data["response"].(string)
	if !strings.Contains(reply, "Unknown execution mode: turbo") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestGenerateCodeDefaults(t *testing.T) {
	upstream := newMockUpstream(t)
	h := newHarness(t, upstream.URL)

	body := postJSON(t, h.http.URL+"/api/v3/generate-code", map[string]any{
		"prompt": "binary search over a sorted slice",
	})

	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}

	data := body["data"].(map[string]any)
	if data["language"] != "python" {
		t.Errorf("language = %v, want python default", data["language"])
	}
	if data["complexity"] != "standard" {
		t.Errorf("complexity = %v, want standard default", data["complexity"])
	}
	if data["include_tests"] != false {
		t.Errorf("include_tests = %v, want false default", data["include_tests"])
	}
	if code, _ := data["code"].(string); code == "" {
		t.Error("missing generated code")
	}
}

func TestAnalyzeCodeSuggestionsDefaultOn(t *testing.T) {
	upstream := newMockUpstream(t)
	h := newHarness(t, upstream.URL)

	body := postJSON(t, h.http.URL+"/api/v3/analyze-code", map[string]any{
		"code": "def f(x):\n    return x * 2",
	})

	if body["success"] != true {
		t.Fatalf("success = %v, response: %v", body["success"], body)
	}

	data := body["data"].(map[string]any)
	if data["analysis_type"] != "general" {
		t.Errorf("analysis_type = %v, want general default", data["analysis_type"])
	}
	if data["include_suggestions"] != true {
		t.Errorf("include_suggestions = %v, want true default", data["include_suggestions"])
	}
}

func TestGenerateCodeUpstreamFailure(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	body := postJSON(t, h.http.URL+"/api/v3/generate-code", map[string]any{
		"prompt": "anything",
	})

	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
	if errMsg, _ := body["error"].(string); errMsg == "" {
		t.Error("missing error detail")
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	resp, err := http.Post(h.http.URL+"/api/v3/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	resp, err := http.Get(h.http.URL + "/api/v3/sessions/no-such-session")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetSessionRoundTrip(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	chat := postJSON(t, h.http.URL+"/api/v3/chat", map[string]any{
		"message":        "remember me",
		"execution_mode": "demo",
	})
	sessionID := chat["session_id"].(string)

	resp, err := http.Get(h.http.URL + "/api/v3/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Success bool             `json:"success"`
		Session *session.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Session == nil {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Session.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(body.Session.Messages))
	}
	if body.Session.Messages[0].Content != "remember me" {
		t.Errorf("first message = %q", body.Session.Messages[0].Content)
	}
}

func TestStatusNeverFails(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	resp, err := http.Get(h.http.URL + "/api/v3/status")
	if err != nil {
		t.Fatalf("GET /api/v3/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with the model server down", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestStatusOperational(t *testing.T) {
	upstream := newMockUpstream(t)
	h := newHarness(t, upstream.URL)

	resp, err := http.Get(h.http.URL + "/api/v3/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "operational" {
		t.Errorf("status = %v, want operational", body["status"])
	}
}

func TestMetricsHealthEndpoint(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	resp, err := http.Get(h.http.URL + "/metrics/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["status"]; !ok {
		t.Error("missing status field")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, deadUpstreamURL(t))

	req, _ := http.NewRequest(http.MethodOptions, h.http.URL+"/api/v3/chat", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
