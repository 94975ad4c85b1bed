package reliability

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateCapacityNeverExceeded(t *testing.T) {
	g := newGate("fs", GateConfig{Policy: GateSemaphore, Capacity: 3})
	ctx := context.Background()

	var inFlight, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("in-flight peak %d exceeded capacity 3", peak)
	}
}

func TestGateWaiterBlocksUntilRelease(t *testing.T) {
	g := newGate("fs", GateConfig{Policy: GateSemaphore, Capacity: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	admitted := make(chan struct{})
	go func() {
		r2, err := g.Acquire(ctx)
		if err != nil {
			t.Errorf("second acquire failed: %v", err)
			return
		}
		close(admitted)
		r2()
	}()

	select {
	case <-admitted:
		t.Fatal("second caller admitted while gate full")
	case <-time.After(50 * time.Millisecond):
	}

	if stats := g.Stats(); stats.Waiting != 1 {
		t.Errorf("expected 1 waiter, got %d", stats.Waiting)
	}

	release()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after release")
	}
}

func TestGateReleaseIdempotent(t *testing.T) {
	g := newGate("fs", GateConfig{Policy: GateSemaphore, Capacity: 1})

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	release()
	release() // second call must be a no-op, not a double-release

	if stats := g.Stats(); stats.InFlight != 0 {
		t.Errorf("in_flight should be 0, got %d", stats.InFlight)
	}

	// Capacity 1 must still admit exactly one caller.
	r2, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	r2()
}

func TestGateAcquireCancelled(t *testing.T) {
	g := newGate("fs", GateConfig{Policy: GateSemaphore, Capacity: 1})

	release, _ := g.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := g.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail on cancelled context")
	}

	if stats := g.Stats(); stats.Waiting != 0 || stats.InFlight != 1 {
		t.Errorf("stats drifted after cancelled acquire: %+v", stats)
	}
}

func TestGateTokenBucket(t *testing.T) {
	g := newGate("search", GateConfig{Policy: GateTokenBucket, Capacity: 2, RefillPerSec: 50})
	ctx := context.Background()

	// Burst drains instantly; the third acquire waits for a refill.
	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := g.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		release()
	}

	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("third acquire should have waited for a token, elapsed %v", elapsed)
	}
}

func TestGateRegistryOverrides(t *testing.T) {
	r := NewGateRegistry(
		GateConfig{Policy: GateSemaphore, Capacity: 8},
		map[string]GateConfig{"search": {Policy: GateTokenBucket, Capacity: 2, RefillPerSec: 1}},
	)

	if s := r.Get("fs").Stats(); s.Policy != GateSemaphore || s.Capacity != 8 {
		t.Errorf("default gate misconfigured: %+v", s)
	}
	if s := r.Get("search").Stats(); s.Policy != GateTokenBucket || s.Capacity != 2 {
		t.Errorf("override gate misconfigured: %+v", s)
	}
	if r.Get("fs") != r.Get("fs") {
		t.Error("registry should return the same gate per target")
	}
}
