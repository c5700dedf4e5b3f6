package importer

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2, time.Second)
	ctx := context.Background()

	if got := l.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := l.Active(); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire should fail when full")
	}

	l.Release()
	if got := l.Available(); got != 1 {
		t.Errorf("after Release, Available = %d, want 1", got)
	}
	l.Release()
	if got := l.Active(); got != 0 {
		t.Errorf("after both releases, Active = %d, want 0", got)
	}
}

func TestLimiter_Timeout(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed on empty limiter")
	}
	defer l.Release()

	err := l.Acquire(context.Background())
	if err != ErrTooManyImports {
		t.Fatalf("Acquire error = %v, want ErrTooManyImports", err)
	}
	if got := MapError(err).Code; got != "UPL001" {
		t.Errorf("MapError code = %q, want UPL001", got)
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	l.TryAcquire()
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(ctx); err != context.Canceled {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if got := l.Available(); got != DefaultMaxConcurrent {
		t.Errorf("Available = %d, want %d", got, DefaultMaxConcurrent)
	}
}

func TestLimiter_WaitForDrain(t *testing.T) {
	l := NewLimiter(3, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
			l.Release()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Fatalf("WaitForDrain error = %v", err)
	}
	wg.Wait()
}

func TestLimiter_WaitForDrainTimeout(t *testing.T) {
	l := NewLimiter(1, time.Second)
	l.TryAcquire()
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != context.DeadlineExceeded {
		t.Fatalf("WaitForDrain error = %v, want DeadlineExceeded", err)
	}
}
