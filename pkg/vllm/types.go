/*
Copyright © 2025 ALESSIO TONIOLO

types.go defines the wire types of the OpenAI-compatible vLLM surface the
backend talks to. Only the fields the backend reads or writes are typed.
*/
package vllm

// CompletionRequest is the payload for POST /v1/completions.
type CompletionRequest struct {
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	Stream           bool     `json:"stream"`
	Stop             []string `json:"stop,omitempty"`
}

// CompletionChoice is a single completion alternative.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the body of a successful /v1/completions call.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// Model is one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	Root    string `json:"root,omitempty"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Health status values reported by CheckHealth.
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

// HealthStatus summarizes an upstream health check. It is returned for every
// outcome; Error is set when Status is not healthy.
type HealthStatus struct {
	Status   string `json:"status"`
	URL      string `json:"url"`
	Model    string `json:"model,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// Result is the backend-facing outcome of a completion.
type Result struct {
	Text         string  `json:"text"`
	Model        string  `json:"model"`
	Usage        Usage   `json:"usage"`
	FinishReason string  `json:"finish_reason"`
	ResponseTime float64 `json:"response_time"`
}
