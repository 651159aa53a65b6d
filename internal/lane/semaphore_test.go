package lane

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphoreAllowsUpToPermits(t *testing.T) {
	s := New(2, time.Hour, 1000)
	ctx := context.Background()
	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(ctx, Scheduled); err != nil {
		t.Fatal(err)
	}
	if s.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", s.InUse())
	}
}

func TestSemaphorePrioritizesInteractiveOverScheduled(t *testing.T) {
	s := New(1, time.Hour, 1000)
	ctx := context.Background()
	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}

	var order []Lane
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		_ = s.Acquire(ctx, Scheduled)
		mu.Lock()
		order = append(order, Scheduled)
		mu.Unlock()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_ = s.Acquire(ctx, Interactive)
		mu.Lock()
		order = append(order, Interactive)
		mu.Unlock()
	}()

	time.Sleep(50 * time.Millisecond)
	s.Release() // frees the initial interactive holder

	wg.Wait()
	if len(order) != 2 || order[0] != Interactive {
		t.Fatalf("expected interactive to be dispatched first, got %v", order)
	}
}

func TestSemaphoreStarvationOverride(t *testing.T) {
	s := New(1, 30*time.Millisecond, 1000)
	ctx := context.Background()
	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}

	var order []Lane
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Acquire(ctx, Maintenance) // enqueues first, will starve-promote
		mu.Lock()
		order = append(order, Maintenance)
		mu.Unlock()
	}()
	time.Sleep(5 * time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Acquire(ctx, Interactive)
		mu.Lock()
		order = append(order, Interactive)
		mu.Unlock()
	}()

	time.Sleep(60 * time.Millisecond) // let maintenance exceed the starvation window
	s.Release()

	wg.Wait()
	if len(order) != 2 || order[0] != Maintenance {
		t.Fatalf("expected starved maintenance waiter promoted ahead of interactive, got %v", order)
	}
}

func TestSemaphoreAcquireRespectsContextCancellation(t *testing.T) {
	s := New(1, time.Hour, 1000)
	ctx := context.Background()
	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(cctx, Scheduled)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	if s.Waiting() != 0 {
		t.Fatalf("expected canceled waiter removed from queue, got %d waiting", s.Waiting())
	}
}

func TestSemaphoreMaxConsecutiveInteractiveForcesOtherLane(t *testing.T) {
	s := New(1, time.Hour, 2)
	ctx := context.Background()

	var grants int32
	release := func() { s.Release() }

	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}
	atomic.AddInt32(&grants, 1)
	release()

	if err := s.Acquire(ctx, Interactive); err != nil {
		t.Fatal(err)
	}
	atomic.AddInt32(&grants, 1)

	done := make(chan Lane, 2)
	go func() { _ = s.Acquire(ctx, Scheduled); done <- Scheduled }()
	go func() { _ = s.Acquire(ctx, Interactive); done <- Interactive }()
	time.Sleep(20 * time.Millisecond)

	s.Release() // third release: consecutiveInteractive has hit the cap of 2

	first := <-done
	if first != Scheduled {
		t.Fatalf("expected scheduled lane forced ahead after hitting consecutive-interactive cap, got %v", first)
	}
}
