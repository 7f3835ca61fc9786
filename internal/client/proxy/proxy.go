// Package proxy implements the Client-side remote-object proxy and
// type cache of spec.md §4.11: a handle wrapping a pin token that
// forwards member access to the Agent over a Client connection,
// reference-counted so a short burst of re-acquisitions (e.g. the same
// object returned from two different calls) doesn't thrash the pin
// table with an unpin immediately followed by a re-pin.
//
// A live handle stays pinned across many short-lived calls instead of
// being re-acquired per request; the "pool" is the pin token's refcount
// rather than a TCP connection.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jpillora/backoff"

	"github.com/agentlink/agentlink/internal/client"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// ErrDisposed is returned by any member access on a released Proxy.
var ErrDisposed = fmt.Errorf("proxy: object disposed")

// unpinJitterMin/Max bound the delay before a zero-refcount Proxy's
// token is actually released, per spec.md §4.11 "a brief grace period
// before unpinning absorbs reacquire-then-release churn".
const (
	unpinJitterMin = 800 * time.Millisecond
	unpinJitterMax = 6 * time.Second
)

// Proxy is a live handle on a pinned remote object.
type Proxy struct {
	conn   *client.Client
	token  uint64
	typeFn string // type full name, for Invoke/GetField/SetField calls

	mu         sync.Mutex
	refcount   int32
	released   bool
	suppressed bool
	unpinTmr   *time.Timer
	backoff    *backoff.Backoff
}

func newProxy(conn *client.Client, token uint64, typeFullName string) *Proxy {
	return &Proxy{
		conn:     conn,
		token:    token,
		typeFn:   typeFullName,
		refcount: 1,
		backoff:  &backoff.Backoff{Min: unpinJitterMin, Max: unpinJitterMax, Jitter: true},
	}
}

// Token is the pin token this proxy wraps.
func (p *Proxy) Token() uint64 { return p.token }

// TypeFullName is the remote object's declared type.
func (p *Proxy) TypeFullName() string { return p.typeFn }

// AddReference increments the proxy's refcount, cancelling any pending
// delayed unpin scheduled by a previous Release.
func (p *Proxy) AddReference() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refcount++
	if p.unpinTmr != nil {
		p.unpinTmr.Stop()
		p.unpinTmr = nil
	}
}

// Release decrements the refcount. At zero it schedules an unpin after
// a jittered delay (spec.md §4.11) rather than unpinning immediately,
// so a caller that re-acquires the same object a moment later finds it
// still pinned. jitter lets tests force an immediate release.
func (p *Proxy) Release(jitter bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.refcount--
	if p.refcount > 0 {
		return
	}

	delay := time.Duration(0)
	if jitter {
		delay = p.backoff.Duration()
	}
	p.unpinTmr = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.refcount > 0 || p.released {
			p.mu.Unlock()
			return
		}
		p.released = true
		suppressed := p.suppressed
		p.mu.Unlock()
		if suppressed {
			// Lost a Cache.Acquire insertion race: a different Proxy
			// instance for this same token was published and is still
			// live, so unpinning here would pull it out from under that
			// instance (spec.md §4.11 "suppress_unpin").
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultRequestTimeout)
		defer cancel()
		p.conn.Unpin(ctx, p.token)
	})
}

// SuppressUnpin marks the proxy so that its eventual Release never sends
// an Unpin to the Agent. Used on the losing side of a concurrent
// Cache.Acquire race for the same token: the instance published into the
// cache owns the token's release from here on (spec.md §4.11
// "Proxies suppress unpin when discarded due to a cache race").
func (p *Proxy) SuppressUnpin() {
	p.mu.Lock()
	p.suppressed = true
	p.mu.Unlock()
}

// Truthy reports whether the proxy is still usable, mirroring a
// dynamic language's object-as-bool coercion for remote handles
// (spec.md §4.11 "Truthy").
func (p *Proxy) Truthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.released
}

func (p *Proxy) checkLive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrDisposed
	}
	return nil
}

// movedErrText is the wire-visible substring of agenterr.ErrMoved's
// message; the error taxonomy's Class doesn't survive the wire (only
// the Envelope's ErrorMessage string does), so the retry-and-suppress
// check below matches on text instead of errors.Is.
const movedErrText = "object moved or invalid"

func isMovedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), movedErrText)
}

// invokeMember is the single entry point every member access funnels
// through (spec.md §4.11's "retry-and-suppress protocol"): the Agent's
// own pin table already attempts one snapshot-refresh recovery before
// giving up (internal/agent/pin.TryRecover), so a lone "object moved"
// reply is often stale by the time the Client sees it. One silent
// retry here absorbs that race; a second failure is returned as-is.
func (p *Proxy) invokeMember(fn func() (message.InvocationResult, error)) (message.InvocationResult, error) {
	res, err := fn()
	if isMovedErr(err) {
		res, err = fn()
	}
	return res, err
}

// Invoke calls a method on the remote object this proxy wraps.
func (p *Proxy) Invoke(ctx context.Context, method string, genericArgs []string, params []value.ObjectOrToken) (message.InvocationResult, error) {
	if err := p.checkLive(); err != nil {
		return message.InvocationResult{}, err
	}
	return p.invokeMember(func() (message.InvocationResult, error) {
		return p.conn.Invoke(ctx, p.token, p.typeFn, method, genericArgs, params)
	})
}

func (p *Proxy) GetField(ctx context.Context, field string) (message.InvocationResult, error) {
	if err := p.checkLive(); err != nil {
		return message.InvocationResult{}, err
	}
	return p.invokeMember(func() (message.InvocationResult, error) {
		return p.conn.GetField(ctx, p.token, p.typeFn, field)
	})
}

func (p *Proxy) SetField(ctx context.Context, field string, v value.ObjectOrToken) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	_, err := p.invokeMember(func() (message.InvocationResult, error) {
		return message.InvocationResult{}, p.conn.SetField(ctx, p.token, p.typeFn, field, v)
	})
	return err
}

// Call is a terser alias for Invoke with no generic arguments: the
// dynamic-dispatch surface spec.md §6.11 describes for scripty
// call sites that don't care about generic method specialization.
func (p *Proxy) Call(ctx context.Context, method string, args ...value.ObjectOrToken) (message.InvocationResult, error) {
	return p.Invoke(ctx, method, nil, args)
}

// Get is a terser alias for GetField matching spec.md §6.11's
// "Proxy.Get" dynamic member-access surface.
func (p *Proxy) Get(ctx context.Context, field string) (message.InvocationResult, error) {
	return p.GetField(ctx, field)
}

// Cache is an LRU of live proxies keyed by pin token, so repeated
// lookups of the same remote object (e.g. walking a collection twice)
// reuse one Proxy and one refcount instead of re-pinning.
type Cache struct {
	mu   sync.Mutex
	lru  *lru.Cache[uint64, *Proxy]
	conn *client.Client
}

// NewCache builds a bounded proxy cache; an evicted entry is released
// without jitter, since eviction means the cache genuinely has no more
// room, not a short-lived reacquire.
func NewCache(conn *client.Client, size int) (*Cache, error) {
	c := &Cache{conn: conn}
	l, err := lru.NewWithEvict[uint64, *Proxy](size, func(_ uint64, p *Proxy) {
		p.Release(false)
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Acquire returns the cached Proxy for token if present (bumping its
// refcount), or wraps a freshly pinned token/type pair into a new one.
// The check-then-insert is guarded by c.mu so two concurrent misses for
// the same token can't both publish a Proxy (spec.md §4.11, §8 "No pin
// leakage"); the loser suppresses its own unpin and shares the winner's
// instance instead of rotting unreleased.
func (c *Cache) Acquire(token uint64, typeFullName string) *Proxy {
	if p, ok := c.lru.Get(token); ok {
		p.AddReference()
		return p
	}

	fresh := newProxy(c.conn, token, typeFullName)

	c.mu.Lock()
	if p, ok := c.lru.Get(token); ok {
		c.mu.Unlock()
		fresh.SuppressUnpin()
		fresh.Release(false)
		p.AddReference()
		return p
	}
	c.lru.Add(token, fresh)
	c.mu.Unlock()
	return fresh
}

// FromObjectOrToken resolves a value.ObjectOrToken of kind Pinned into
// a cached Proxy, or nil for every other kind (spec.md §4.11's proxy
// layer only wraps pinned references; encoded primitives are returned
// as bare Go values instead).
func (c *Cache) FromObjectOrToken(v value.ObjectOrToken) *Proxy {
	if v.Kind != value.OOTPinned {
		return nil
	}
	return c.Acquire(v.Token, v.PinTypeName)
}

// Purge releases and evicts every cached proxy, used on connection
// teardown.
func (c *Cache) Purge() {
	c.lru.Purge()
}
