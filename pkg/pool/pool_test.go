/*
Copyright © 2025 ALESSIO TONIOLO
*/
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atoniolo76/xcodeagent/pkg/vllm"
)

// newCompletionServer returns an httptest server answering /health and
// /v1/completions like a vLLM instance.
func newCompletionServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/completions":
			json.NewEncoder(w).Encode(vllm.CompletionResponse{
				ID:      "cmpl-test",
				Model:   "test-model",
				Choices: []vllm.CompletionChoice{{Text: text, FinishReason: "stop"}},
				Usage:   vllm.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.HealthPollInterval = 20 * time.Millisecond
	cfg.LatencyProbeInterval = 20 * time.Millisecond
	cfg.ProbeTimeout = time.Second
	cfg.QueueTimeout = 200 * time.Millisecond
	return cfg
}

func TestCompleteRoutesToUpstream(t *testing.T) {
	srv := newCompletionServer(t, "hello from upstream")
	defer srv.Close()

	p := New(testConfig(), "test-model", []string{srv.URL})
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	result, err := p.Complete(context.Background(), "hi", vllm.CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.Text != "hello from upstream" {
		t.Errorf("text = %q", result.Text)
	}

	status := p.Status()
	if status.TotalDispatched != 1 {
		t.Errorf("dispatched = %d, want 1", status.TotalDispatched)
	}
	if status.Upstreams[0].Pending != 0 {
		t.Errorf("pending not released: %d", status.Upstreams[0].Pending)
	}
}

func TestTryPickPrefersLeastLoaded(t *testing.T) {
	p := New(testConfig(), "m", []string{"http://a:8000", "http://b:8000"})

	// Load up the first upstream.
	p.upstreams[0].pending.Store(5)

	picked := p.tryPick()
	if picked == nil {
		t.Fatal("expected a pick")
	}
	if picked.ID != "vllm-1" {
		t.Errorf("picked %s, want vllm-1", picked.ID)
	}
	if picked.Pending() != 1 {
		t.Errorf("slot not reserved, pending = %d", picked.Pending())
	}
}

func TestTryPickSkipsUnhealthyAndSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 2
	p := New(cfg, "m", []string{"http://a:8000", "http://b:8000"})

	p.upstreams[0].healthy = false
	p.upstreams[1].pending.Store(2)

	if picked := p.tryPick(); picked != nil {
		t.Fatalf("expected no pick, got %s", picked.ID)
	}
}

func TestAcquireQueueTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 1
	p := New(cfg, "m", []string{"http://a:8000"})
	p.upstreams[0].pending.Store(1)

	start := time.Now()
	_, err := p.acquire(context.Background())
	if !errors.Is(err, ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.QueueTimeout {
		t.Errorf("returned before queue timeout: %v", elapsed)
	}

	if p.Status().TotalRejected != 1 {
		t.Errorf("rejected = %d, want 1", p.Status().TotalRejected)
	}
}

func TestAcquireWaitsForFreedSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 1
	cfg.QueueTimeout = 2 * time.Second
	p := New(cfg, "m", []string{"http://a:8000"})
	p.upstreams[0].pending.Store(1)

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.release(p.upstreams[0])
	}()

	u, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if u.ID != "vllm-0" {
		t.Errorf("acquired %s", u.ID)
	}
	if p.Status().TotalQueued != 1 {
		t.Errorf("queued = %d, want 1", p.Status().TotalQueued)
	}
}

func TestAcquireServesWaitersInArrivalOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 1
	cfg.QueueTimeout = 2 * time.Second
	p := New(cfg, "m", []string{"http://a:8000"})
	p.upstreams[0].pending.Store(1)

	var mu sync.Mutex
	var order []string

	enqueue := func(name string) chan error {
		errCh := make(chan error, 1)
		go func() {
			u, err := p.acquire(context.Background())
			if err == nil {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				p.release(u)
			}
			errCh <- err
		}()
		return errCh
	}

	first := enqueue("first")
	waitForQueueDepth(t, p, 1)
	second := enqueue("second")
	waitForQueueDepth(t, p, 2)

	// Free the only slot; the queue must drain head-first.
	p.release(p.upstreams[0])

	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("service order = %v, want [first second]", order)
	}
}

func waitForQueueDepth(t *testing.T, p *Pool, depth int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Status().QueueDepth == depth {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue depth never reached %d", depth)
}

func TestAcquireRespectsContext(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 1
	cfg.QueueTimeout = 5 * time.Second
	p := New(cfg, "m", []string{"http://a:8000"})
	p.upstreams[0].pending.Store(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestAcquireQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingPerUpstream = 1
	cfg.MaxQueueSize = 0
	p := New(cfg, "m", []string{"http://a:8000"})
	p.upstreams[0].pending.Store(1)

	_, err := p.acquire(context.Background())
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestHealthPollingMarksUnhealthyThenRecovers(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.UnhealthyThreshold = 2
	p := New(cfg, "m", []string{srv.URL})
	u := p.upstreams[0]

	failing.Store(true)
	p.pollUpstream(u)
	if !u.Healthy() {
		t.Fatal("one failure should not mark unhealthy")
	}
	p.pollUpstream(u)
	if u.Healthy() {
		t.Fatal("expected unhealthy after threshold failures")
	}

	failing.Store(false)
	p.pollUpstream(u)
	if !u.Healthy() {
		t.Fatal("expected recovery after successful poll")
	}
}

func TestLatencyEWMA(t *testing.T) {
	p := New(testConfig(), "m", []string{"http://a:8000"})
	u := p.upstreams[0]

	p.updateLatency(u, 100*time.Millisecond)
	if u.latencyAvg != 100*time.Millisecond {
		t.Fatalf("first sample should seed the average, got %v", u.latencyAvg)
	}

	p.updateLatency(u, 200*time.Millisecond)
	// alpha 0.3: 0.3*200 + 0.7*100 = 130ms
	want := 130 * time.Millisecond
	if diff := u.latencyAvg - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("avg = %v, want ~%v", u.latencyAvg, want)
	}
	if u.latencyMin != 100*time.Millisecond || u.latencyMax != 200*time.Millisecond {
		t.Errorf("min/max = %v/%v", u.latencyMin, u.latencyMax)
	}
}

func TestStatusSnapshot(t *testing.T) {
	p := New(testConfig(), "m", []string{"http://a:8000", "http://b:8000"})
	p.upstreams[1].healthy = false

	status := p.Status()
	if len(status.Upstreams) != 2 {
		t.Fatalf("upstreams = %d", len(status.Upstreams))
	}
	if status.HealthyCount != 1 {
		t.Errorf("healthy = %d, want 1", status.HealthyCount)
	}
}
