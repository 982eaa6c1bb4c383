/*
Copyright © 2025 ALESSIO TONIOLO

handlers.go implements the /health, /api/v3 and /metrics endpoints.
AI endpoints never surface upstream failures as HTTP errors: the response
body carries success=false with the error detail, so clients keep one
decoding path.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/session"
	"github.com/atoniolo76/xcodeagent/pkg/vllm"
)

// Execution modes for /api/v3/chat.
const (
	ModeProduction = "production"
	ModeDemo       = "demo"
	ModeHybrid     = "hybrid"
)

// ChatRequest is the body of POST /api/v3/chat.
type ChatRequest struct {
	Message       string         `json:"message"`
	ExecutionMode string         `json:"execution_mode"`
	Context       map[string]any `json:"context,omitempty"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens"`
}

// GenerateCodeRequest is the body of POST /api/v3/generate-code.
type GenerateCodeRequest struct {
	Prompt       string  `json:"prompt"`
	Language     string  `json:"language"`
	Complexity   string  `json:"complexity"`
	IncludeTests bool    `json:"include_tests"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// AnalyzeCodeRequest is the body of POST /api/v3/analyze-code.
type AnalyzeCodeRequest struct {
	Code               string `json:"code"`
	AnalysisType       string `json:"analysis_type"`
	IncludeSuggestions *bool  `json:"include_suggestions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       now(),
		"production_mode": s.config.ProductionMode,
		"version":         config.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	health := s.pool.CheckHealth(ctx)
	s.collector.SetModelStatus(health.Status)

	var models any
	if list, err := s.pool.Models(ctx); err != nil {
		models = map[string]string{"error": err.Error()}
	} else {
		models = list
	}

	overall := "degraded"
	if health.Status == vllm.StatusHealthy {
		overall = "operational"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      overall,
		"vllm_server": health,
		"models":      models,
		"backend_info": map[string]any{
			"version":         config.Version,
			"host":            s.config.BackendHost,
			"port":            s.config.BackendPort,
			"production_mode": s.config.ProductionMode,
			"uptime":          time.Since(s.started).Seconds(),
			"system":          s.collector.LatestSystem(),
		},
		"performance": s.collector.Performance(),
		"pool":        s.pool.Status(),
		"timestamp":   now(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := ChatRequest{ExecutionMode: ModeProduction}
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID, err := s.store.Create(req.ExecutionMode)
	if err != nil {
		s.collector.RecordRequest(false, time.Since(start))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create session: %v", err))
		return
	}
	s.recordMessage(sessionID, "user", req.Message, req.ExecutionMode)

	var reply string
	switch req.ExecutionMode {
	case ModeDemo:
		reply = demoChatReply(req.Message)

	case ModeProduction, ModeHybrid:
		result, err := s.pool.Complete(r.Context(), chatPrompt(req.Message), vllm.CompletionOptions{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		elapsed := time.Since(start)

		if err != nil {
			s.collector.RecordAIRequest(s.config.Model, false, elapsed, 0)

			if req.ExecutionMode == ModeProduction {
				s.collector.RecordRequest(false, elapsed)
				writeJSON(w, http.StatusOK, map[string]any{
					"success":        false,
					"error":          fmt.Sprintf("Production model unavailable: %v", err),
					"session_id":     sessionID,
					"execution_mode": req.ExecutionMode,
					"timestamp":      now(),
				})
				return
			}
			reply = hybridFallbackReply(req.Message, err.Error())
		} else {
			s.collector.RecordAIRequest(result.Model, true, elapsed, result.Usage.CompletionTokens)
			reply = strings.TrimSpace(result.Text) +
				fmt.Sprintf("\n\n---\n*Generated by %s via vLLM (Response time: %.2fs)*", s.config.Model, result.ResponseTime)
		}

	default:
		reply = unknownModeReply(req.ExecutionMode)
	}

	s.recordMessage(sessionID, "assistant", reply, req.ExecutionMode)

	elapsed := time.Since(start)
	s.collector.RecordRequest(true, elapsed)

	messageCount, err := s.store.MessageCount(sessionID)
	if err != nil {
		log.Printf("[Server] Failed to count messages for %s: %v", sessionID, err)
	}

	model := "demo"
	if req.ExecutionMode == ModeProduction {
		model = s.config.Model
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"session_id":     sessionID,
		"execution_mode": req.ExecutionMode,
		"data": map[string]any{
			"response":      reply,
			"message_count": messageCount,
			"response_time": elapsed.Seconds(),
		},
		"metadata": map[string]any{
			"context":   req.Context,
			"timestamp": now(),
			"model":     model,
		},
	})
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := GenerateCodeRequest{Language: "python", Complexity: "standard"}
	if !decodeBody(w, r, &req) {
		return
	}

	prompt := codePrompt(req.Prompt, req.Language, req.Complexity, req.IncludeTests)
	result, err := s.pool.Complete(r.Context(), prompt, vllm.CompletionOptions{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	elapsed := time.Since(start)

	if err != nil {
		s.collector.RecordRequest(false, elapsed)
		s.collector.RecordAIRequest(s.config.Model, false, elapsed, 0)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.collector.RecordRequest(true, elapsed)
	s.collector.RecordAIRequest(result.Model, true, elapsed, result.Usage.CompletionTokens)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"code":          result.Text,
			"language":      req.Language,
			"complexity":    req.Complexity,
			"include_tests": req.IncludeTests,
			"usage":         result.Usage,
			"response_time": result.ResponseTime,
		},
		"metadata": map[string]any{
			"model":     s.config.Model,
			"timestamp": now(),
		},
	})
}

func (s *Server) handleAnalyzeCode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AnalyzeCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AnalysisType == "" {
		req.AnalysisType = "general"
	}
	includeSuggestions := req.IncludeSuggestions == nil || *req.IncludeSuggestions

	prompt := analysisPrompt(req.Code, req.AnalysisType, includeSuggestions)
	result, err := s.pool.Complete(r.Context(), prompt, vllm.CompletionOptions{})
	elapsed := time.Since(start)

	if err != nil {
		s.collector.RecordRequest(false, elapsed)
		s.collector.RecordAIRequest(s.config.Model, false, elapsed, 0)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.collector.RecordRequest(true, elapsed)
	s.collector.RecordAIRequest(result.Model, true, elapsed, result.Usage.CompletionTokens)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"analysis":            result.Text,
			"analysis_type":       req.AnalysisType,
			"include_suggestions": includeSuggestions,
			"usage":               result.Usage,
			"response_time":       result.ResponseTime,
		},
		"metadata": map[string]any{
			"model":     s.config.Model,
			"timestamp": now(),
		},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	stored, err := s.store.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": stored,
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"metrics":   s.collector.Performance(),
		"timestamp": now(),
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Summary())
}

func (s *Server) handleMetricsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    s.collector.HealthStatus(),
		"timestamp": now(),
		"alerts":    s.collector.Alerts(),
	})
}

// recordMessage appends a chat turn, logging instead of failing the request
// when the store misbehaves.
func (s *Server) recordMessage(sessionID, role, content, mode string) {
	if err := s.store.AppendMessage(sessionID, role, content, mode); err != nil {
		log.Printf("[Server] Failed to record %s message for %s: %v", role, sessionID, err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}
