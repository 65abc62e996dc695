package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	payerr "github.com/tipforge/payengine/internal/errors"
)

func TestDo_ExecutesOnce(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	var calls int32
	op := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "receipt-1", nil
	}

	for i := 0; i < 3; i++ {
		result, err := m.Do(context.Background(), "k1", op)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if result != "receipt-1" {
			t.Fatalf("expected cached result, got %v", result)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one execution, got %d", n)
	}
}

func TestDo_ConcurrentDuplicatesShareOneExecution(t *testing.T) {
	m := NewManager(Options{PollInterval: 5 * time.Millisecond})
	defer m.Close()

	var calls int32
	release := make(chan struct{})
	op := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return uint64(777), nil
	}

	const workers = 8
	results := make([]interface{}, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Do(context.Background(), "pay:once", op)
		}(i)
	}

	time.Sleep(30 * time.Millisecond) // let duplicates queue behind the record
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one execution across %d workers, got %d", workers, n)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != uint64(777) {
			t.Fatalf("worker %d observed %v", i, results[i])
		}
	}
}

func TestDo_FailedFirstAttemptIsNotRetried(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	var calls int32
	boom := errors.New("transfer rejected")
	op := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	if _, err := m.Do(context.Background(), "k", op); !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if _, err := m.Do(context.Background(), "k", op); !errors.Is(err, payerr.ErrPreviousAttemptFailed) {
		t.Fatalf("expected ErrPreviousAttemptFailed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one execution, got %d", n)
	}
}

func TestDo_DuplicateTimesOutOnStuckOriginal(t *testing.T) {
	m := NewManager(Options{PollInterval: 5 * time.Millisecond, WaitTimeout: 30 * time.Millisecond})
	defer m.Close()

	release := make(chan struct{})
	defer close(release)
	go m.Do(context.Background(), "stuck", func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})

	time.Sleep(10 * time.Millisecond) // ensure the pending record exists
	_, err := m.Do(context.Background(), "stuck", func(context.Context) (interface{}, error) {
		t.Fatal("duplicate must not run the operation")
		return nil, nil
	})
	if !errors.Is(err, payerr.ErrIdempotencyTimeout) {
		t.Fatalf("expected ErrIdempotencyTimeout, got %v", err)
	}
}

func TestDo_DuplicateHonorsContext(t *testing.T) {
	m := NewManager(Options{PollInterval: 5 * time.Millisecond})
	defer m.Close()

	release := make(chan struct{})
	defer close(release)
	go m.Do(context.Background(), "ctx", func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Do(ctx, "ctx", func(context.Context) (interface{}, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("actor", "pay", []string{"bob", "1.25", "USDC"}, time.Hour)
	b := Key("actor", "pay", []string{"bob", "1.25", "USDC"}, time.Hour)
	if a != b {
		t.Fatal("expected identical keys inside one bucket")
	}

	if Key("actor", "pay", []string{"bob", "1.25", "USDC"}, time.Hour) ==
		Key("actor", "pay", []string{"bob", "1.26", "USDC"}, time.Hour) {
		t.Fatal("expected payload change to change the key")
	}
	if Key("actor", "pay", []string{"x"}, time.Hour) ==
		Key("actor", "withdraw", []string{"x"}, time.Hour) {
		t.Fatal("expected operation kind to change the key")
	}
	if Key("alice", "pay", []string{"x"}, time.Hour) ==
		Key("bob", "pay", []string{"x"}, time.Hour) {
		t.Fatal("expected actor to change the key")
	}
}

func TestKey_PartBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	if Key("a", "pay", []string{"ab", "c"}, time.Hour) ==
		Key("a", "pay", []string{"a", "bc"}, time.Hour) {
		t.Fatal("expected part boundaries to be preserved")
	}
}

func TestEvict_RemovesStaleRecordsIncludingPending(t *testing.T) {
	m := NewManager(Options{MaxAge: time.Minute})
	defer m.Close()

	m.Do(context.Background(), "done", func(context.Context) (interface{}, error) { return 1, nil })

	release := make(chan struct{})
	defer close(release)
	go m.Do(context.Background(), "pending", func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(10 * time.Millisecond)

	if n := m.Len(); n != 2 {
		t.Fatalf("expected 2 records before eviction, got %d", n)
	}

	// Fresh records survive an on-time sweep.
	m.evict(time.Now())
	if n := m.Len(); n != 2 {
		t.Fatalf("expected fresh records to survive, got %d", n)
	}

	// Past MaxAge everything goes, pending included: an abandoned pending
	// record must not pin its key forever.
	m.evict(time.Now().Add(time.Hour))
	if n := m.Len(); n != 0 {
		t.Fatalf("expected stale records evicted, got %d", n)
	}
}
