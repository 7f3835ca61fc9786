package proxy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentlink/agentlink/internal/agent/server"
	agentclient "github.com/agentlink/agentlink/internal/client"
)

type counter struct{ N int32 }

func (c *counter) Bump() int32 {
	c.N++
	return c.N
}

func dialAgent(t *testing.T) (*server.Agent, *agentclient.Client) {
	t.Helper()
	a := server.New(server.Config{ListenIP: "127.0.0.1", ListenPort: 0, MaxConnections: 4})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	c, err := agentclient.Dial(context.Background(), a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return a, c
}

func pinCounter(t *testing.T, a *server.Agent, c *agentclient.Client) uint64 {
	t.Helper()
	obj := &counter{}
	handle := a.Router.Runtime.Track(obj)
	resp, err := c.Object(context.Background(), handle.Address, true)
	if err != nil {
		t.Fatalf("object: %v", err)
	}
	return resp.Token
}

func TestAcquireReusesCachedProxyAndBumpsRefcount(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}
	p1 := cache.Acquire(tok, "counter")
	p2 := cache.Acquire(tok, "counter")
	if p1 != p2 {
		t.Fatal("expected the same cached Proxy instance")
	}
	if p1.refcount != 2 {
		t.Fatalf("expected refcount 2 after two acquires, got %d", p1.refcount)
	}
}

func TestReleaseToZeroEventuallyUnpins(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}
	p := cache.Acquire(tok, "counter")
	p.Release(false) // no jitter: unpins ~immediately

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !p.Truthy() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected proxy to become disposed after release")
}

func TestReleasedProxyRejectsInvoke(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}
	p := cache.Acquire(tok, "counter")
	p.Release(false)
	time.Sleep(100 * time.Millisecond)

	_, err = p.Invoke(context.Background(), "Bump", nil, nil)
	if err != ErrDisposed {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestInvokeForwardsThroughProxyToAgent(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}
	p := cache.Acquire(tok, "counter")

	res, err := p.Invoke(context.Background(), "Bump", nil, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Returned.EncText != "1" {
		t.Fatalf("expected Bump to return 1, got %+v", res.Returned)
	}
}

func TestCallAndGetAreAliasesForInvokeAndGetField(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}
	p := cache.Acquire(tok, "counter")

	res, err := p.Call(context.Background(), "Bump")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Returned.EncText != "1" {
		t.Fatalf("expected Bump to return 1, got %+v", res.Returned)
	}

	field, err := p.Get(context.Background(), "N")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if field.Returned.EncText != "1" {
		t.Fatalf("expected field N == 1, got %+v", field.Returned)
	}
}

func TestConcurrentAcquireSharesOneProxyAndSuppressesLoserUnpin(t *testing.T) {
	a, c := dialAgent(t)
	tok := pinCounter(t, a, c)

	cache, err := NewCache(c, 16)
	if err != nil {
		t.Fatal(err)
	}

	const n = 32
	results := make([]*Proxy, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Acquire(tok, "counter")
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, p := range results {
		if p != first {
			t.Fatalf("acquire %d returned a different Proxy instance than acquire 0", i)
		}
	}
	if first.refcount != n {
		t.Fatalf("expected refcount %d after %d concurrent acquires, got %d", n, n, first.refcount)
	}

	for i := 0; i < n; i++ {
		first.Release(false)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !first.Truthy() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if first.Truthy() {
		t.Fatal("expected shared proxy to become disposed after releasing every reference")
	}

	// A losing proxy that was never published must not have sent its own
	// Unpin once its deferred release fires (spec.md §4.11 suppress_unpin):
	// the object's token should still be cleanly released exactly once,
	// not double-unpinned or left dangling.
	if err := c.Unpin(context.Background(), tok); err != nil {
		t.Fatalf("expected a second Unpin of an already-unpinned token to remain idempotent, got %v", err)
	}
}

func TestIsMovedErrMatchesAgentMovedMessage(t *testing.T) {
	if !isMovedErr(fmt.Errorf("state: object moved or invalid")) {
		t.Error("expected a moved-object error message to match")
	}
	if isMovedErr(fmt.Errorf("invocation: boom")) {
		t.Error("did not expect an unrelated error message to match")
	}
	if isMovedErr(nil) {
		t.Error("did not expect a nil error to match")
	}
}
