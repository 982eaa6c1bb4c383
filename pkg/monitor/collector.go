/*
Copyright © 2025 ALESSIO TONIOLO

collector.go samples system and application metrics in the background,
keeps bounded snapshot histories, and derives overall health and active
alerts from the latest samples.
*/
package monitor

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/atoniolo76/xcodeagent/pkg/config"
)

// SessionCounter reports recently active sessions. The session store
// satisfies this.
type SessionCounter interface {
	ActiveCount(window time.Duration) (int, error)
}

// SystemSnapshot is one sample of host-level metrics.
type SystemSnapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	DiskPercent   float64          `json:"disk_usage_percent"`
	NetworkIO     map[string]int64 `json:"network_io_bytes"`
	ProcessCount  int              `json:"process_count"`
	LoadAverage   []float64        `json:"load_average"`
}

// AppSnapshot is one sample of application-level metrics.
type AppSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	ActiveSessions  int       `json:"active_sessions"`
	TotalRequests   int64     `json:"total_requests"`
	ErrorRate       float64   `json:"error_rate"`
	ResponseTimeAvg float64   `json:"response_time_avg"`
	ResponseTimeP95 float64   `json:"response_time_p95"`
	ResponseTimeP99 float64   `json:"response_time_p99"`
}

// Performance mirrors the running counters exposed by /api/v3/performance.
type Performance struct {
	RequestsTotal       int64   `json:"requests_total"`
	RequestsSuccessful  int64   `json:"requests_successful"`
	RequestsFailed      int64   `json:"requests_failed"`
	AverageResponseTime float64 `json:"average_response_time"`
	ModelStatus         string  `json:"model_status"`
}

// Alert is one active alert derived from the latest samples.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the full monitoring report served by /metrics/summary.
type Summary struct {
	Timestamp    time.Time       `json:"timestamp"`
	System       *SystemSnapshot `json:"system,omitempty"`
	Application  *AppSnapshot    `json:"application,omitempty"`
	Performance  Performance     `json:"performance"`
	HealthStatus string          `json:"health_status"`
	Alerts       []Alert         `json:"alerts"`
}

// Collector owns the background sampling loops and the request counters.
type Collector struct {
	metrics  *Metrics
	sessions SessionCounter

	systemInterval time.Duration
	appInterval    time.Duration

	mu            sync.RWMutex
	systemHistory []SystemSnapshot
	appHistory    []AppSnapshot
	historySize   int

	statsMu     sync.Mutex
	total       int64
	successful  int64
	failed      int64
	avgResponse float64
	samples     []float64
	modelStatus string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector wires the collector to a metric set and a session counter.
// sessions may be nil when no store is attached.
func NewCollector(metrics *Metrics, sessions SessionCounter) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		metrics:        metrics,
		sessions:       sessions,
		systemInterval: config.DefaultSystemCollectInterval,
		appInterval:    config.DefaultAppCollectInterval,
		historySize:    config.DefaultHistorySize,
		modelStatus:    "unknown",
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the sampling loops.
func (c *Collector) Start() {
	c.wg.Add(2)
	go c.systemLoop()
	go c.appLoop()
	log.Printf("[Monitor] Collector started (system: %v, application: %v)", c.systemInterval, c.appInterval)
}

// Stop halts sampling and waits for the loops to exit.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
	log.Printf("[Monitor] Collector stopped")
}

// =============================================================================
// REQUEST RECORDING
// =============================================================================

// RecordRequest updates the running request counters, keeping the same
// running-average formula the performance endpoint has always reported.
func (c *Collector) RecordRequest(success bool, duration time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.total++
	if success {
		c.successful++
	} else {
		c.failed++
	}

	seconds := duration.Seconds()
	c.avgResponse = (c.avgResponse*float64(c.total-1) + seconds) / float64(c.total)

	c.samples = append(c.samples, seconds)
	if len(c.samples) > config.DefaultSampleReservoirSize {
		c.samples = c.samples[1:]
	}
}

// RecordAIRequest feeds the model-level Prometheus series.
func (c *Collector) RecordAIRequest(model string, success bool, duration time.Duration, completionTokens int) {
	status := "success"
	if !success {
		status = "error"
	}
	c.metrics.AIRequestsTotal.WithLabelValues(model, status).Inc()
	c.metrics.AIResponseTime.WithLabelValues(model).Observe(duration.Seconds())
	if success && duration > 0 && completionTokens > 0 {
		c.metrics.AITokensPerSecond.WithLabelValues(model).Set(float64(completionTokens) / duration.Seconds())
	}
}

// SetModelStatus records the last observed upstream health string.
func (c *Collector) SetModelStatus(status string) {
	c.statsMu.Lock()
	c.modelStatus = status
	c.statsMu.Unlock()
}

// Performance returns the running request counters.
func (c *Collector) Performance() Performance {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Performance{
		RequestsTotal:       c.total,
		RequestsSuccessful:  c.successful,
		RequestsFailed:      c.failed,
		AverageResponseTime: c.avgResponse,
		ModelStatus:         c.modelStatus,
	}
}

// =============================================================================
// SYSTEM METRICS
// =============================================================================

func (c *Collector) systemLoop() {
	defer c.wg.Done()

	// Sample once at startup so status and health have data immediately.
	c.collectSystem()

	ticker := time.NewTicker(c.systemInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collectSystem()
		}
	}
}

func (c *Collector) collectSystem() {
	snapshot := SystemSnapshot{
		Timestamp:   time.Now().UTC(),
		NetworkIO:   map[string]int64{},
		LoadAverage: []float64{0, 0, 0},
	}

	if percents, err := cpu.PercentWithContext(c.ctx, time.Second, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(c.ctx); err == nil {
		snapshot.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(c.ctx, "/"); err == nil {
		snapshot.DiskPercent = usage.UsedPercent
	}
	if counters, err := gopsnet.IOCountersWithContext(c.ctx, false); err == nil && len(counters) > 0 {
		snapshot.NetworkIO["bytes_sent"] = int64(counters[0].BytesSent)
		snapshot.NetworkIO["bytes_recv"] = int64(counters[0].BytesRecv)
	}
	if pids, err := process.PidsWithContext(c.ctx); err == nil {
		snapshot.ProcessCount = len(pids)
	}
	if avg, err := load.AvgWithContext(c.ctx); err == nil {
		snapshot.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	c.metrics.SystemCPUUsage.Set(snapshot.CPUPercent)
	c.metrics.SystemMemoryUsage.Set(snapshot.MemoryPercent)
	c.metrics.SystemDiskUsage.Set(snapshot.DiskPercent)

	c.mu.Lock()
	c.systemHistory = appendBounded(c.systemHistory, snapshot, c.historySize)
	c.mu.Unlock()
}

// =============================================================================
// APPLICATION METRICS
// =============================================================================

func (c *Collector) appLoop() {
	defer c.wg.Done()

	// Sample once at startup so status and health have data immediately.
	c.collectApp()

	ticker := time.NewTicker(c.appInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collectApp()
		}
	}
}

func (c *Collector) collectApp() {
	snapshot := AppSnapshot{Timestamp: time.Now().UTC()}

	if c.sessions != nil {
		if count, err := c.sessions.ActiveCount(time.Hour); err == nil {
			snapshot.ActiveSessions = count
			c.metrics.ActiveSessions.Set(float64(count))
		}
	}

	c.statsMu.Lock()
	snapshot.TotalRequests = c.total
	if c.total > 0 {
		snapshot.ErrorRate = float64(c.failed) / float64(c.total) * 100
	}
	snapshot.ResponseTimeAvg = c.avgResponse
	samples := make([]float64, len(c.samples))
	copy(samples, c.samples)
	c.statsMu.Unlock()

	snapshot.ResponseTimeP95 = percentile(samples, 0.95)
	snapshot.ResponseTimeP99 = percentile(samples, 0.99)

	c.mu.Lock()
	c.appHistory = appendBounded(c.appHistory, snapshot, c.historySize)
	c.mu.Unlock()
}

func appendBounded[T any](history []T, item T, size int) []T {
	history = append(history, item)
	if len(history) > size {
		history = history[1:]
	}
	return history
}

func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// =============================================================================
// HEALTH & ALERTS
// =============================================================================

// LatestSystem returns the most recent system snapshot, if any.
func (c *Collector) LatestSystem() *SystemSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.systemHistory) == 0 {
		return nil
	}
	snapshot := c.systemHistory[len(c.systemHistory)-1]
	return &snapshot
}

// LatestApp returns the most recent application snapshot, if any.
func (c *Collector) LatestApp() *AppSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.appHistory) == 0 {
		return nil
	}
	snapshot := c.appHistory[len(c.appHistory)-1]
	return &snapshot
}

// HealthStatus derives overall health from the latest samples: healthy,
// warning, critical, or unknown when there is no data yet.
func (c *Collector) HealthStatus() string {
	system := c.LatestSystem()
	app := c.LatestApp()
	if system == nil || app == nil {
		return "unknown"
	}

	cpuHealthy := system.CPUPercent < config.HealthyCPUThreshold
	memHealthy := system.MemoryPercent < config.HealthyMemoryThreshold
	errHealthy := app.ErrorRate < config.HealthyErrorRate
	rtHealthy := app.ResponseTimeAvg < config.HealthyResponseTime.Seconds()

	switch {
	case cpuHealthy && memHealthy && errHealthy && rtHealthy:
		return "healthy"
	case system.CPUPercent > config.CriticalCPUThreshold ||
		system.MemoryPercent > config.CriticalMemoryThreshold ||
		app.ErrorRate > config.CriticalErrorRate:
		return "critical"
	default:
		return "warning"
	}
}

// Alerts returns the active alerts derived from the latest samples.
func (c *Collector) Alerts() []Alert {
	alerts := []Alert{}

	if system := c.LatestSystem(); system != nil {
		if system.CPUPercent > config.AlertCPUThreshold {
			alerts = append(alerts, Alert{
				Type: "system", Severity: "critical",
				Message:   formatPercentAlert("High CPU usage", system.CPUPercent),
				Timestamp: system.Timestamp,
			})
		}
		if system.MemoryPercent > config.AlertMemoryThreshold {
			alerts = append(alerts, Alert{
				Type: "system", Severity: "critical",
				Message:   formatPercentAlert("High memory usage", system.MemoryPercent),
				Timestamp: system.Timestamp,
			})
		}
	}

	if app := c.LatestApp(); app != nil {
		if app.ErrorRate > config.AlertErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type: "application", Severity: "warning",
				Message:   formatPercentAlert("High error rate", app.ErrorRate),
				Timestamp: app.Timestamp,
			})
		}
		if app.ResponseTimeAvg > config.AlertResponseTimeThreshold.Seconds() {
			alerts = append(alerts, Alert{
				Type: "application", Severity: "warning",
				Message:   formatSecondsAlert("Slow response time", app.ResponseTimeAvg),
				Timestamp: app.Timestamp,
			})
		}
	}

	return alerts
}

// Summary assembles the full monitoring report.
func (c *Collector) Summary() Summary {
	return Summary{
		Timestamp:    time.Now().UTC(),
		System:       c.LatestSystem(),
		Application:  c.LatestApp(),
		Performance:  c.Performance(),
		HealthStatus: c.HealthStatus(),
		Alerts:       c.Alerts(),
	}
}
