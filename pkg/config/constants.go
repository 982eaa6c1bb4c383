/*
Copyright © 2025 ALESSIO TONIOLO

constants.go defines all configuration constants for the xcodeagent backend.
Update these values to change default behavior across all components.
*/
package config

import "time"

// =============================================================================
// BACKEND CONFIGURATION
// =============================================================================

// Port Configuration
const (
	// DefaultBackendPort is the port the backend API listens on
	DefaultBackendPort = 12000

	// DefaultVLLMPort is the port of the model server (vLLM)
	DefaultVLLMPort = 8000
)

// Version is reported by /health and /api/v3/status
const Version = "2.0.0"

// Model Configuration
const (
	// DefaultModel is the model name sent to the vLLM completion endpoint
	DefaultModel = "deepseek-ai/DeepSeek-R1-0528"

	// DefaultMaxTokens is the completion token budget when the request
	// does not specify one
	DefaultMaxTokens = 2048

	// DefaultTemperature is tuned low for code-centric completions
	DefaultTemperature = 0.1

	// DefaultTopP matches the production vLLM payload
	DefaultTopP = 0.9
)

// Timeouts & Retries
const (
	// DefaultRequestTimeout is the timeout for completion requests.
	// Large models can take a while on cold prompts.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultHealthRetries is the number of attempts for upstream health
	// checks before reporting unreachable
	DefaultHealthRetries = 3

	// DefaultHealthTimeout bounds a single health probe
	DefaultHealthTimeout = 5 * time.Second
)

// =============================================================================
// UPSTREAM POOL CONFIGURATION
// =============================================================================

const (
	// DefaultHealthPollInterval is how often the pool polls upstream /health
	DefaultHealthPollInterval = 2 * time.Second

	// DefaultLatencyProbeInterval is how often the pool measures RTT to
	// each upstream
	DefaultLatencyProbeInterval = 500 * time.Millisecond

	// DefaultUnhealthyThreshold is the consecutive probe failures before an
	// upstream stops receiving traffic
	DefaultUnhealthyThreshold = 3

	// DefaultMaxPendingPerUpstream forces queueing when every upstream has
	// this many requests in flight
	DefaultMaxPendingPerUpstream = 10

	// DefaultMaxQueueSize is the max requests waiting for an upstream slot
	DefaultMaxQueueSize = 1000

	// DefaultQueueTimeout is how long a request can wait in queue
	DefaultQueueTimeout = 30 * time.Second

	// DefaultLatencyHistorySize is the number of RTT samples kept per upstream
	DefaultLatencyHistorySize = 20

	// DefaultLatencyEWMAAlpha weights recent RTT samples more heavily
	DefaultLatencyEWMAAlpha = 0.3

	// DefaultPendingCostWeight converts one in-flight request into
	// milliseconds of routing cost
	DefaultPendingCostWeight = 50.0
)

// =============================================================================
// MONITORING CONFIGURATION
// =============================================================================

const (
	// DefaultSystemCollectInterval is how often system metrics are sampled
	DefaultSystemCollectInterval = 30 * time.Second

	// DefaultAppCollectInterval is how often application metrics are sampled
	DefaultAppCollectInterval = 60 * time.Second

	// DefaultHistorySize is the ring buffer size for metric snapshots
	DefaultHistorySize = 1000

	// DefaultSampleReservoirSize bounds the response-time samples kept for
	// percentile calculation
	DefaultSampleReservoirSize = 1000
)

// Health thresholds. CPU, memory and error rate are percentages.
const (
	HealthyCPUThreshold     = 80.0
	HealthyMemoryThreshold  = 85.0
	HealthyErrorRate        = 5.0
	HealthyResponseTime     = 2 * time.Second
	CriticalCPUThreshold    = 95.0
	CriticalMemoryThreshold = 95.0
	CriticalErrorRate       = 20.0
)

// Alert thresholds
const (
	AlertCPUThreshold          = 90.0
	AlertMemoryThreshold       = 90.0
	AlertErrorRateThreshold    = 10.0
	AlertResponseTimeThreshold = 5 * time.Second
)
