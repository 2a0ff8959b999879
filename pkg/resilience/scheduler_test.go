package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Concurrency: 3})
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", peak.Load())
	}
	if s.Active() != 0 || s.Queued() != 0 {
		t.Fatalf("scheduler not drained: active=%d queued=%d", s.Active(), s.Queued())
	}
}

func TestSchedulerFIFO(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Concurrency: 1})
	gate := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), func(context.Context) error { <-gate; return nil })
	}()
	waitFor(t, func() bool { return s.Active() == 1 })

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		waitFor(t, func() bool { return s.Queued() == i+1 })
	}
	close(gate)
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestSchedulerRateWindow(t *testing.T) {
	window := 60 * time.Millisecond
	s := NewScheduler(SchedulerOpts{Concurrency: 10, Rate: 2, Window: window})
	var mu sync.Mutex
	var started []time.Time
	items := []int{1, 2, 3, 4}
	results := MapOrdered(context.Background(), s, items, func(_ context.Context, n int) (int, error) {
		mu.Lock()
		started = append(started, time.Now())
		mu.Unlock()
		return n * 2, nil
	})
	for i, r := range results {
		if v, err := r.Unwrap(); err != nil || v != items[i]*2 {
			t.Fatalf("result %d = %v, %v", i, v, err)
		}
	}
	if len(started) != 4 {
		t.Fatalf("expected 4 starts, got %d", len(started))
	}
	// The third start must wait for the first to leave the window.
	if gap := started[2].Sub(started[0]); gap < window-10*time.Millisecond {
		t.Fatalf("third task started %v after the first, want >= ~%v", gap, window)
	}
}

func TestSchedulerCancelWhileQueued(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Concurrency: 1})
	gate := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), func(context.Context) error { <-gate; return nil })
	}()
	waitFor(t, func() bool { return s.Active() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Schedule(ctx, s, func(context.Context) (int, error) { return 1, nil })
		errc <- err
	}()
	waitFor(t, func() bool { return s.Queued() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Queued() != 0 {
		t.Fatalf("cancelled waiter left in queue")
	}
	close(gate)
	waitFor(t, func() bool { return s.Active() == 0 })
}

func TestMapOrderedKeepsPerItemErrors(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Concurrency: 4})
	boom := errors.New("boom")
	results := MapOrdered(context.Background(), s, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	if results[0].IsErr() || !errors.Is(results[1].Error(), boom) || results[2].IsErr() {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestMapOrderedCancelled(t *testing.T) {
	s := NewScheduler(SchedulerOpts{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := MapOrdered(ctx, s, []int{1, 2}, func(_ context.Context, n int) (int, error) { return n, nil })
	for _, r := range results {
		if !errors.Is(r.Error(), context.Canceled) {
			t.Fatalf("expected cancellation, got %v", r.Error())
		}
	}
}
