/*
Copyright © 2025 ALESSIO TONIOLO

pool.go implements the routing layer between the API and the vLLM model
servers. The pool keeps a global view of every in-flight completion:

- In-flight tracking: requests the pool has dispatched to each upstream
- Health polling: /health per upstream, consecutive failures gate traffic
- Latency probing: RTT measurement with exponential weighted moving average

Routing picks the cheapest healthy upstream, where cost is weighted
in-flight work plus average network latency. When every upstream is at
capacity, requests wait in a bounded FIFO queue and are served in arrival
order as slots free up.
*/
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/vllm"
)

var (
	// ErrNoUpstreams means no healthy model server is available.
	ErrNoUpstreams = errors.New("no healthy model servers available")

	// ErrQueueFull means the wait queue hit its size limit.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueTimeout means no upstream slot freed up within the queue timeout.
	ErrQueueTimeout = errors.New("queue timeout")
)

// Config configures the upstream pool.
type Config struct {
	HealthPollInterval    time.Duration `json:"health_poll_interval"`
	LatencyProbeInterval  time.Duration `json:"latency_probe_interval"`
	ProbeTimeout          time.Duration `json:"probe_timeout"`
	UnhealthyThreshold    int           `json:"unhealthy_threshold"`
	MaxPendingPerUpstream int           `json:"max_pending_per_upstream"`
	MaxQueueSize          int           `json:"max_queue_size"`
	QueueTimeout          time.Duration `json:"queue_timeout"`
	LatencyHistorySize    int           `json:"latency_history_size"`
	LatencyEWMAAlpha      float64       `json:"latency_ewma_alpha"`
	PendingCostWeight     float64       `json:"pending_cost_weight"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HealthPollInterval:    config.DefaultHealthPollInterval,
		LatencyProbeInterval:  config.DefaultLatencyProbeInterval,
		ProbeTimeout:          config.DefaultHealthTimeout,
		UnhealthyThreshold:    config.DefaultUnhealthyThreshold,
		MaxPendingPerUpstream: config.DefaultMaxPendingPerUpstream,
		MaxQueueSize:          config.DefaultMaxQueueSize,
		QueueTimeout:          config.DefaultQueueTimeout,
		LatencyHistorySize:    config.DefaultLatencyHistorySize,
		LatencyEWMAAlpha:      config.DefaultLatencyEWMAAlpha,
		PendingCostWeight:     config.DefaultPendingCostWeight,
	}
}

// Upstream is one vLLM server in the pool.
type Upstream struct {
	ID  string
	URL string

	client *vllm.Client

	// In-flight completions dispatched by this pool
	pending atomic.Int64

	// Health state, owned by the health poller
	healthMu         sync.RWMutex
	healthy          bool
	consecutiveFails int
	lastChecked      time.Time

	// Network latency tracking
	latencyMu      sync.RWMutex
	latency        time.Duration
	latencyAvg     time.Duration
	latencyMin     time.Duration
	latencyMax     time.Duration
	latencyHistory []time.Duration
}

// Healthy reports whether the upstream is eligible for traffic.
func (u *Upstream) Healthy() bool {
	u.healthMu.RLock()
	defer u.healthMu.RUnlock()
	return u.healthy
}

// Pending returns the number of in-flight completions on this upstream.
func (u *Upstream) Pending() int {
	return int(u.pending.Load())
}

// UpstreamStatus is a point-in-time snapshot of one upstream.
type UpstreamStatus struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Healthy          bool      `json:"healthy"`
	Pending          int       `json:"pending"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastChecked      time.Time `json:"last_checked"`
	LatencyMs        float64   `json:"latency_ms"`
	LatencyAvgMs     float64   `json:"latency_avg_ms"`
	LatencyMinMs     float64   `json:"latency_min_ms"`
	LatencyMaxMs     float64   `json:"latency_max_ms"`
}

// Status is a snapshot of the whole pool.
type Status struct {
	Upstreams       []UpstreamStatus `json:"upstreams"`
	HealthyCount    int              `json:"healthy_count"`
	QueueDepth      int              `json:"queue_depth"`
	TotalDispatched int64            `json:"total_dispatched"`
	TotalQueued     int64            `json:"total_queued"`
	TotalRejected   int64            `json:"total_rejected"`
}

// waiter is one queued request, parked on done until it reaches the head
// of the queue and receives a reserved slot.
type waiter struct {
	done chan *Upstream
}

// Pool routes completions across a set of vLLM servers.
type Pool struct {
	config *Config

	mu        sync.RWMutex
	upstreams []*Upstream

	// FIFO queue of requests waiting for an upstream slot
	queueMu sync.Mutex
	queue   []*waiter

	// Shared client for health and latency probes
	probeClient *http.Client

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	totalDispatched atomic.Int64
	totalQueued     atomic.Int64
	totalRejected   atomic.Int64
}

// New builds a pool over the given server URLs. Every upstream serves the
// same model.
func New(cfg *Config, model string, urls []string) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config: cfg,
		probeClient: &http.Client{
			Timeout: cfg.ProbeTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	for i, url := range urls {
		p.upstreams = append(p.upstreams, &Upstream{
			ID:      fmt.Sprintf("vllm-%d", i),
			URL:     url,
			client:  vllm.New(url, model),
			healthy: true, // assume healthy until the poller says otherwise
		})
	}

	return p
}

// Start launches the health and latency loops.
func (p *Pool) Start() error {
	if p.running.Load() {
		return fmt.Errorf("pool already running")
	}
	p.running.Store(true)

	p.wg.Add(2)
	go p.pollHealthLoop()
	go p.probeLatencyLoop()

	log.Printf("[Pool] Started (upstreams: %d, max pending per upstream: %d)",
		len(p.upstreams), p.config.MaxPendingPerUpstream)
	return nil
}

// Stop halts the background loops and waits for them to exit.
func (p *Pool) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	p.cancel()
	p.wg.Wait()
	log.Printf("[Pool] Stopped")
}

// Primary returns the client of the first configured upstream.
func (p *Pool) Primary() *vllm.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.upstreams[0].client
}

// CheckHealth probes the primary upstream with the client's retry policy.
func (p *Pool) CheckHealth(ctx context.Context) vllm.HealthStatus {
	return p.Primary().CheckHealth(ctx)
}

// Models lists models from the first healthy upstream, falling back to the
// primary when none is marked healthy.
func (p *Pool) Models(ctx context.Context) (*vllm.ModelList, error) {
	p.mu.RLock()
	client := p.upstreams[0].client
	for _, u := range p.upstreams {
		if u.Healthy() {
			client = u.client
			break
		}
	}
	p.mu.RUnlock()
	return client.Models(ctx)
}

// Complete routes one completion to the cheapest available upstream,
// queueing when the pool is saturated.
func (p *Pool) Complete(ctx context.Context, prompt string, opts vllm.CompletionOptions) (*vllm.Result, error) {
	upstream, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(upstream)

	p.totalDispatched.Add(1)
	return upstream.client.Complete(ctx, prompt, opts)
}

// acquire reserves a slot on the cheapest healthy upstream. When none has
// capacity the caller joins a FIFO queue and waits for a freed slot,
// bounded by the queue timeout, the queue size, and the request context.
func (p *Pool) acquire(ctx context.Context) (*Upstream, error) {
	p.queueMu.Lock()
	// Only jump the queue when nobody is waiting; queued requests are
	// served strictly in arrival order.
	if len(p.queue) == 0 {
		if u := p.tryPick(); u != nil {
			p.queueMu.Unlock()
			return u, nil
		}
	}
	if len(p.queue) >= p.config.MaxQueueSize {
		p.queueMu.Unlock()
		p.totalRejected.Add(1)
		return nil, ErrQueueFull
	}
	w := &waiter{done: make(chan *Upstream, 1)}
	p.queue = append(p.queue, w)
	depth := len(p.queue)
	p.queueMu.Unlock()

	p.totalQueued.Add(1)
	log.Printf("[Pool] Request queued (queue depth: %d)", depth)

	deadline := time.NewTimer(p.config.QueueTimeout)
	defer deadline.Stop()

	select {
	case u := <-w.done:
		return u, nil
	case <-ctx.Done():
		p.abandon(w)
		return nil, ctx.Err()
	case <-deadline.C:
		p.abandon(w)
		p.totalRejected.Add(1)
		return nil, ErrQueueTimeout
	}
}

// release returns an upstream slot and hands freed capacity to the head of
// the queue.
func (p *Pool) release(u *Upstream) {
	u.pending.Add(-1)
	p.dispatch()
}

// dispatch drains the queue head-first while capacity lasts. The slot is
// reserved before the waiter is woken, so a handed-off slot cannot be lost.
func (p *Pool) dispatch() {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	for len(p.queue) > 0 {
		u := p.tryPick()
		if u == nil {
			return
		}
		w := p.queue[0]
		p.queue = p.queue[1:]
		w.done <- u
	}
}

// abandon removes a waiter that timed out or was cancelled. When dispatch
// already handed it a slot, the slot is returned to the pool.
func (p *Pool) abandon(w *waiter) {
	p.queueMu.Lock()
	for i, queued := range p.queue {
		if queued == w {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.queueMu.Unlock()
			return
		}
	}
	p.queueMu.Unlock()

	// Not in the queue, so dispatch delivered a slot concurrently.
	select {
	case u := <-w.done:
		p.release(u)
	default:
	}
}

// tryPick selects the cheapest healthy upstream with free capacity and
// reserves a slot on it. Returns nil when nothing is available.
func (p *Pool) tryPick() *Upstream {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Upstream
	bestCost := 0.0

	for _, u := range p.upstreams {
		if !u.Healthy() {
			continue
		}
		pending := u.pending.Load()
		if pending >= int64(p.config.MaxPendingPerUpstream) {
			continue
		}

		cost := float64(pending) * p.config.PendingCostWeight

		u.latencyMu.RLock()
		avg := u.latencyAvg
		if avg == 0 {
			avg = u.latency
		}
		u.latencyMu.RUnlock()
		cost += float64(avg.Milliseconds())

		if best == nil || cost < bestCost {
			best = u
			bestCost = cost
		}
	}

	if best != nil {
		best.pending.Add(1)
	}
	return best
}

// Status returns a snapshot of the pool state.
func (p *Pool) Status() Status {
	p.queueMu.Lock()
	depth := len(p.queue)
	p.queueMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	status := Status{
		QueueDepth:      depth,
		TotalDispatched: p.totalDispatched.Load(),
		TotalQueued:     p.totalQueued.Load(),
		TotalRejected:   p.totalRejected.Load(),
	}

	for _, u := range p.upstreams {
		u.healthMu.RLock()
		us := UpstreamStatus{
			ID:               u.ID,
			URL:              u.URL,
			Healthy:          u.healthy,
			Pending:          int(u.pending.Load()),
			ConsecutiveFails: u.consecutiveFails,
			LastChecked:      u.lastChecked,
		}
		u.healthMu.RUnlock()

		u.latencyMu.RLock()
		us.LatencyMs = durationMs(u.latency)
		us.LatencyAvgMs = durationMs(u.latencyAvg)
		us.LatencyMinMs = durationMs(u.latencyMin)
		us.LatencyMaxMs = durationMs(u.latencyMax)
		u.latencyMu.RUnlock()

		if us.Healthy {
			status.HealthyCount++
		}
		status.Upstreams = append(status.Upstreams, us)
	}

	return status
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// =============================================================================
// HEALTH POLLING
// =============================================================================

func (p *Pool) pollHealthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *Pool) pollAll() {
	p.mu.RLock()
	upstreams := make([]*Upstream, len(p.upstreams))
	copy(upstreams, p.upstreams)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, u := range upstreams {
		wg.Add(1)
		go func(u *Upstream) {
			defer wg.Done()
			p.pollUpstream(u)
		}(u)
	}
	wg.Wait()
}

func (p *Pool) pollUpstream(u *Upstream) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL+"/health", nil)
	if err != nil {
		p.markUnhealthy(u)
		return
	}

	resp, err := p.probeClient.Do(req)
	if err != nil {
		p.markUnhealthy(u)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.markUnhealthy(u)
		return
	}

	u.healthMu.Lock()
	recovered := !u.healthy
	u.healthy = true
	u.consecutiveFails = 0
	u.lastChecked = time.Now()
	u.healthMu.Unlock()

	if recovered {
		log.Printf("[Pool] Upstream %s recovered", u.ID)
		// Recovered capacity can serve queued requests.
		p.dispatch()
	}
}

func (p *Pool) markUnhealthy(u *Upstream) {
	u.healthMu.Lock()
	defer u.healthMu.Unlock()

	u.consecutiveFails++
	if u.consecutiveFails >= p.config.UnhealthyThreshold {
		if u.healthy {
			log.Printf("[Pool] Upstream %s marked unhealthy after %d failures", u.ID, u.consecutiveFails)
		}
		u.healthy = false
	}
	u.lastChecked = time.Now()
}

// =============================================================================
// LATENCY PROBING
// =============================================================================

func (p *Pool) probeLatencyLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.LatencyProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

func (p *Pool) probeAll() {
	p.mu.RLock()
	upstreams := make([]*Upstream, len(p.upstreams))
	copy(upstreams, p.upstreams)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, u := range upstreams {
		wg.Add(1)
		go func(u *Upstream) {
			defer wg.Done()
			p.probeUpstream(u)
		}(u)
	}
	wg.Wait()
}

func (p *Pool) probeUpstream(u *Upstream) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL+"/health", nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := p.probeClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		// Health poller owns the unhealthy transition; probes only measure.
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 500 {
		p.updateLatency(u, latency)
	}
}

func (p *Pool) updateLatency(u *Upstream, latency time.Duration) {
	u.latencyMu.Lock()
	defer u.latencyMu.Unlock()

	u.latency = latency

	if u.latencyMin == 0 || latency < u.latencyMin {
		u.latencyMin = latency
	}
	if latency > u.latencyMax {
		u.latencyMax = latency
	}

	if u.latencyHistory == nil {
		u.latencyHistory = make([]time.Duration, 0, p.config.LatencyHistorySize)
	}
	u.latencyHistory = append(u.latencyHistory, latency)
	if len(u.latencyHistory) > p.config.LatencyHistorySize {
		u.latencyHistory = u.latencyHistory[1:]
	}

	if u.latencyAvg == 0 {
		u.latencyAvg = latency
	} else {
		alpha := p.config.LatencyEWMAAlpha
		u.latencyAvg = time.Duration(alpha*float64(latency) + (1-alpha)*float64(u.latencyAvg))
	}
}
