package syncthread

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRunOrdersSequentially(t *testing.T) {
	th := New()
	defer th.Close()

	var order []int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		i := i
		_, err := th.Run(context.Background(), func() (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected sequential order, got %v", order)
		}
	}
}

func TestRunReturnsValueAndError(t *testing.T) {
	th := New()
	defer th.Close()

	v, err := th.Run(context.Background(), func() (any, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Fatalf("expected (42, nil), got (%v, %v)", v, err)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	th := New()
	defer th.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := th.Run(ctx, func() (any, error) {
		return nil, nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPostRunsWithoutBlockingCaller(t *testing.T) {
	th := New()
	defer th.Close()

	done := make(chan struct{})
	th.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted job never ran")
	}
}

func TestCloseStopsAcceptingNewRuns(t *testing.T) {
	th := New()
	th.Close()

	_, err := th.Run(context.Background(), func() (any, error) { return nil, nil })
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled after Close, got %v", err)
	}
}
