/*
Copyright © 2025 ALESSIO TONIOLO

client.go implements the HTTP client for a single vLLM model server.
Health checks retry with exponential backoff; completions run against the
full request timeout since large models can take tens of seconds on cold
prompts.
*/
package vllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/atoniolo76/xcodeagent/pkg/config"
)

// ErrTimeout marks a completion that ran past the request timeout.
var ErrTimeout = errors.New("request timeout - model may be loading or overloaded")

// UpstreamError is a non-2xx answer from the model server.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("vLLM server error: %d - %s", e.StatusCode, e.Body)
}

// Client talks to one vLLM server.
type Client struct {
	baseURL    string
	model      string
	retries    int
	httpClient *http.Client
}

// New creates a client for the vLLM server at baseURL. An empty model falls
// back to the default model name.
func New(baseURL, model string) *Client {
	if model == "" {
		model = config.DefaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		retries: config.DefaultHealthRetries,
		httpClient: &http.Client{
			Timeout: config.DefaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// BaseURL returns the server base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Model returns the model name sent on completion requests.
func (c *Client) Model() string {
	return c.model
}

// CheckHealth probes GET /health. Transport failures are retried with
// exponential backoff up to the configured attempt budget; an HTTP error
// status is terminal and reported as unhealthy.
func (c *Client) CheckHealth(ctx context.Context) HealthStatus {
	attempts := 0

	probe := func() (HealthStatus, error) {
		attempts++

		probeCtx, cancel := context.WithTimeout(ctx, config.DefaultHealthTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return HealthStatus{}, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return HealthStatus{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return HealthStatus{
				Status:   StatusUnhealthy,
				URL:      c.baseURL,
				Error:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
				Attempts: attempts,
			}, nil
		}

		io.Copy(io.Discard, resp.Body)
		return HealthStatus{
			Status:   StatusHealthy,
			URL:      c.baseURL,
			Model:    c.model,
			Attempts: attempts,
		}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	status, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.retries)),
	)
	if err != nil {
		return HealthStatus{
			Status:   StatusUnreachable,
			URL:      c.baseURL,
			Error:    err.Error(),
			Attempts: attempts,
		}
	}
	return status
}

// Models fetches GET /v1/models.
func (c *Client) Models(ctx context.Context) (*ModelList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return &list, nil
}

// CompletionOptions tunes a single completion. Zero values fall back to the
// production defaults.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

func (o CompletionOptions) withDefaults() CompletionOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = config.DefaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = config.DefaultTemperature
	}
	if o.TopP <= 0 {
		o.TopP = config.DefaultTopP
	}
	return o
}

// Complete posts the prompt to /v1/completions and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string, opts CompletionOptions) (*Result, error) {
	opts = opts.withDefaults()

	payload := CompletionRequest{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      false,
		Stop:        opts.Stop,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	var completion CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	result := &Result{
		Model:        completion.Model,
		Usage:        completion.Usage,
		FinishReason: "unknown",
		ResponseTime: elapsed.Seconds(),
	}
	if result.Model == "" {
		result.Model = c.model
	}
	if len(completion.Choices) > 0 {
		result.Text = completion.Choices[0].Text
		if completion.Choices[0].FinishReason != "" {
			result.FinishReason = completion.Choices[0].FinishReason
		}
	}
	return result, nil
}

// isClientTimeout catches net/http's own deadline errors, which do not
// unwrap to context.DeadlineExceeded on all paths.
func isClientTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
