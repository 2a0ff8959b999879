package fn

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestPartition(t *testing.T) {
	bad := errors.New("bad")
	vals, errs := Partition([]Result[int]{Ok(1), Err[int](bad), Ok(3)})
	if !reflect.DeepEqual(vals, []int{1, 3}) || len(errs) != 1 {
		t.Fatalf("got %v %v", vals, errs)
	}
}

// --- Stages ---

func TestTracedStageAndStageFunc(t *testing.T) {
	s := TracedStage("double", StageFunc(func(_ context.Context, n int) (int, error) { return n * 2, nil }))
	if v, err := s(context.Background(), 4).Unwrap(); v != 8 || err != nil {
		t.Fatalf("got %v %v", v, err)
	}
	boom := errors.New("boom")
	f := TracedStage("fail", StageFunc(func(context.Context, int) (int, error) { return 0, boom }))
	if err := f(context.Background(), 1).Error(); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

// --- Retry ---

func TestBackoff(t *testing.T) {
	cases := []struct {
		base    time.Duration
		attempt int
		rnd     float64
		want    time.Duration
	}{
		{750 * time.Millisecond, 1, 0, 750 * time.Millisecond},
		{750 * time.Millisecond, 2, 0, 1500 * time.Millisecond},
		{750 * time.Millisecond, 3, 0, 3000 * time.Millisecond},
		// 15% of 100ms is below the 25ms floor.
		{100 * time.Millisecond, 1, 0.5, 112 * time.Millisecond},
		// 15% of 3000ms is above the 250ms ceiling.
		{750 * time.Millisecond, 3, 0.5, 3125 * time.Millisecond},
	}
	for _, c := range cases {
		if got := Backoff(c.base, c.attempt, c.rnd); got != c.want {
			t.Errorf("Backoff(%v,%d,%v) = %v, want %v", c.base, c.attempt, c.rnd, got, c.want)
		}
	}
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	calls := 0
	var waits []time.Duration
	r := Retry(context.Background(), RetryOpts{
		Retries:   3,
		BaseDelay: time.Millisecond,
		Rand:      func() float64 { return 0 },
		OnRetry:   func(_ int, _ error, w time.Duration) { waits = append(waits, w) },
	}, func(context.Context) Result[string] {
		calls++
		if calls < 4 {
			return Err[string](fmt.Errorf("fail %d", calls))
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Fatalf("got %v %v", v, err)
	}
	if calls != 4 || len(waits) != 3 {
		t.Fatalf("calls=%d waits=%v", calls, waits)
	}
}

func TestRetryExhausts(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{Retries: 2, BaseDelay: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("always"))
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("calls=%d ok=%v", calls, r.IsOk())
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		Retries:   5,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if calls != 1 || !errors.Is(r.Error(), permanent) {
		t.Fatalf("calls=%d err=%v", calls, r.Error())
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{Retries: 3, BaseDelay: time.Hour}, func(context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if !errors.Is(r.Error(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.Error())
	}
}

// --- Slices ---

func TestSliceHelpers(t *testing.T) {
	if got := Chunk([]int{1, 2, 3, 4, 5}, 2); len(got) != 3 || len(got[2]) != 1 {
		t.Fatalf("Chunk: %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n<=0 should be nil")
	}
	if got := UniqueBy([]string{"bx", "ay", "bz"}, func(s string) byte { return s[0] }); !reflect.DeepEqual(got, []string{"bx", "ay"}) {
		t.Fatalf("UniqueBy: %v", got)
	}
	if got := SortedSet([]string{"b", "a", "b"}); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("SortedSet: %v", got)
	}
	keys, groups := GroupOrdered([]string{"bx", "ay", "bz"}, func(s string) byte { return s[0] })
	if !reflect.DeepEqual(keys, []byte{'b', 'a'}) || len(groups['b']) != 2 {
		t.Fatalf("GroupOrdered: %v %v", keys, groups)
	}
	if got := FlatMap([]int{1, 2}, func(n int) []int { return []int{n, n} }); len(got) != 4 {
		t.Fatalf("FlatMap: %v", got)
	}
}
