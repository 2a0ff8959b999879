package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
)

// SchedulerOpts configures a Scheduler.
type SchedulerOpts struct {
	// Concurrency is the maximum number of tasks running at once.
	Concurrency int
	// Rate is the maximum number of task starts in any trailing Window.
	// Zero means no rate limit.
	Rate int
	// Window is the rate window. Defaults to one minute.
	Window time.Duration
}

// Scheduler admits tasks in FIFO order while at most Concurrency are
// active and fewer than Rate have started within the trailing Window.
type Scheduler struct {
	mu     sync.Mutex
	opts   SchedulerOpts
	active int
	queue  []*waiter
	starts []time.Time
	timer  *time.Timer
	now    func() time.Time
}

type waiter struct {
	ready    chan struct{}
	admitted bool
}

// NewScheduler creates a scheduler with the given options.
func NewScheduler(opts SchedulerOpts) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Rate < 0 {
		opts.Rate = 0
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &Scheduler{opts: opts, now: time.Now}
}

// Active returns the number of running tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queued returns the number of tasks waiting for admission.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Do waits for admission, runs f and releases the slot.
func (s *Scheduler) Do(ctx context.Context, f func(context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return f(ctx)
}

// Schedule runs f under s and returns its value.
func Schedule[T any](ctx context.Context, s *Scheduler, f func(context.Context) (T, error)) (T, error) {
	if err := s.acquire(ctx); err != nil {
		var zero T
		return zero, err
	}
	defer s.release()
	return f(ctx)
}

// MapOrdered runs f over items under s and returns results in input order.
// Items are admitted one at a time so only Concurrency goroutines exist.
// Once ctx is done the remaining items fail with ctx.Err().
func MapOrdered[T, U any](ctx context.Context, s *Scheduler, items []T, f func(context.Context, T) (U, error)) []fn.Result[U] {
	out := make([]fn.Result[U], len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		if err := s.acquire(ctx); err != nil {
			for j := i; j < len(items); j++ {
				out[j] = fn.Err[U](err)
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.release()
			out[i] = fn.FromPair(f(ctx, item))
		}()
	}
	wg.Wait()
	return out
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := &waiter{ready: make(chan struct{})}
	s.mu.Lock()
	s.queue = append(s.queue, w)
	s.dispatch()
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		if w.admitted {
			// Admitted concurrently with cancellation: hand the slot back.
			s.active--
			s.dispatch()
		} else {
			s.remove(w)
		}
		return ctx.Err()
	}
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.active--
	s.dispatch()
	s.mu.Unlock()
}

// dispatch admits queued waiters while capacity allows. Must hold mu.
func (s *Scheduler) dispatch() {
	for len(s.queue) > 0 && s.active < s.opts.Concurrency {
		now := s.now()
		if s.opts.Rate > 0 {
			s.prune(now)
			if len(s.starts) >= s.opts.Rate {
				s.wakeAt(s.starts[0].Add(s.opts.Window).Sub(now))
				return
			}
			s.starts = append(s.starts, now)
		}
		w := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.active++
		w.admitted = true
		close(w.ready)
	}
}

// prune drops starts that have left the trailing window. Must hold mu.
func (s *Scheduler) prune(now time.Time) {
	cutoff := now.Add(-s.opts.Window)
	i := 0
	for i < len(s.starts) && !s.starts[i].After(cutoff) {
		i++
	}
	s.starts = s.starts[i:]
}

// wakeAt arms a single timer that re-runs dispatch. Must hold mu.
func (s *Scheduler) wakeAt(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.timer = nil
		s.dispatch()
		s.mu.Unlock()
	})
}

// remove deletes w from the queue. Must hold mu.
func (s *Scheduler) remove(w *waiter) {
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
