/*
Copyright © 2025 ALESSIO TONIOLO

server.go implements a mock vLLM server for development and tests. It
answers the same OpenAI-compatible surface as a real vLLM instance without
requiring the model, with simulated processing time proportional to the
prompt length.
*/
package mockvllm

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/vllm"
)

// Config tunes the mock server.
type Config struct {
	// Model is the model name reported on every response
	Model string

	// SimulateLatency adds processing delay proportional to prompt length.
	// Tests turn this off.
	SimulateLatency bool
}

// DefaultConfig returns production-like mock behavior.
func DefaultConfig() *Config {
	return &Config{
		Model:           config.DefaultModel,
		SimulateLatency: true,
	}
}

// Server is the mock vLLM server.
type Server struct {
	config  *Config
	started time.Time
}

// New creates a mock server.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{config: cfg, started: time.Now()}
}

// Handler returns the HTTP routes of the mock server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/v1/completions", s.handleCompletion)
	r.Get("/v1/models", s.handleModels)
	return r
}

// ListenAndServe runs the mock server on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("[MockVLLM] Starting mock vLLM server on %s", addr)
	log.Printf("[MockVLLM] Available endpoints: /health /v1/completions /v1/models")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Mock vLLM Server is running",
		"version": "1.0.0",
		"model":   s.config.Model,
		"endpoints": map[string]string{
			"health":      "/health",
			"completions": "/v1/completions",
			"models":      "/v1/models",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"model":     s.config.Model,
		"server":    "mock-vllm",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req vllm.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if s.config.SimulateLatency {
		select {
		case <-time.After(processingDelay(req.Prompt)):
		case <-r.Context().Done():
			return
		}
	}

	text := Respond(req.Prompt)
	if req.Temperature > 0.5 {
		text += "\n\n*Note: This response includes some creative variations due to higher temperature setting.*"
	}

	model := req.Model
	if model == "" {
		model = s.config.Model
	}

	promptTokens := countTokens(req.Prompt)
	completionTokens := countTokens(text)

	writeJSON(w, http.StatusOK, vllm.CompletionResponse{
		ID:      completionID(req.Prompt),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []vllm.CompletionChoice{
			{Text: text, Index: 0, FinishReason: "stop"},
		},
		Usage: vllm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, vllm.ModelList{
		Object: "list",
		Data: []vllm.Model{
			{
				ID:      s.config.Model,
				Object:  "model",
				Created: time.Now().Unix(),
				OwnedBy: "deepseek-ai",
				Root:    s.config.Model,
			},
		},
	})
}

// processingDelay scales with prompt length, capped so large prompts do not
// stall the caller.
func processingDelay(prompt string) time.Duration {
	delay := 500*time.Millisecond + time.Duration(len(prompt))*time.Millisecond
	if delay > 3*time.Second {
		delay = 3 * time.Second
	}
	return delay
}

// countTokens approximates token usage by whitespace splitting, matching
// what callers see from the real usage accounting closely enough for tests.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

func completionID(prompt string) string {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("cmpl-%d-%d", time.Now().Unix(), h.Sum32()%10000)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
