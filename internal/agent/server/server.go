// Package server hosts the Agent's loopback TCP listener: an accept
// loop that wraps each connection in a transport.Conn wired to a
// shared router.Router, matching spec.md §4.1's "one Agent process,
// many Client connections" shape.
//
// An accept loop wraps each incoming connection in a single symmetric
// transport.Conn every Client dials.
package server

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/agentlink/agentlink/internal/agent/router"
	"github.com/agentlink/agentlink/internal/wire/transport"
)

// Config holds the Agent's listener configuration.
type Config struct {
	// ListenIP is normally loopback-only (spec.md §5 "loopback TCP");
	// it is configurable for integration tests that bind on a random
	// ephemeral port instead.
	ListenIP string
	// ListenPort of 0 lets the OS choose a free port; Agent.Addr()
	// reports whatever bind succeeded, matching spec.md §6's
	// discovery flow (the Agent doesn't assume a fixed port).
	ListenPort int
	// MaxConnections bounds concurrent Client connections.
	MaxConnections int
}

func DefaultConfig() Config {
	return Config{ListenIP: "127.0.0.1", ListenPort: 0, MaxConnections: 64}
}

// Agent is the in-process inspection target's side of the protocol: it
// owns the tracked-object runtime (via its Router) and accepts Client
// connections against it.
type Agent struct {
	cfg      Config
	Router   *router.Router
	listener net.Listener

	mu    sync.Mutex
	conns map[*transport.Conn]struct{}
	wg    sync.WaitGroup
	sem   chan struct{}
}

// New builds an Agent with a fresh Router (and therefore a fresh
// tracked-object runtime); call Track to register objects before or
// after Start.
func New(cfg Config) *Agent {
	poolSize := cfg.MaxConnections
	if poolSize <= 0 {
		poolSize = 64
	}
	return &Agent{
		cfg:    cfg,
		Router: router.New(),
		conns:  make(map[*transport.Conn]struct{}),
		sem:    make(chan struct{}, poolSize),
	}
}

// Track registers obj with the Agent's tracked-object runtime, making
// it discoverable through a subsequent "heap" request (spec.md §4.6).
func (a *Agent) Track(obj any) {
	a.Router.Runtime.Track(obj)
}

// Addr returns the bound listen address; valid only after Start.
func (a *Agent) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Start binds the listener and begins accepting connections. It
// returns once the bind succeeds; the accept loop runs in the
// background until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	addr := net.JoinHostPort(a.cfg.ListenIP, strconv.Itoa(a.cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = ln
	slog.Info("agent: listening", "addr", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.wg.Add(1)
	go a.acceptLoop(ctx)
	return nil
}

func (a *Agent) acceptLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		nc, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				slog.Info("agent: listener stopping")
				a.closeAll()
				return
			default:
				slog.Error("agent: accept error", "error", err)
				continue
			}
		}

		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			nc.Close()
			continue
		}

		a.wg.Add(1)
		go func() {
			defer func() { <-a.sem }()
			defer a.wg.Done()
			a.serve(nc)
		}()
	}
}

func (a *Agent) serve(nc net.Conn) {
	conn := transport.New(nc)
	conn.IdleTimeout = 0 // Agent connections get no idle cutoff
	conn.SetRequestHandler(a.Router.Handle)

	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
	}()

	// The Router's outbound callback sender is connection-scoped: an
	// event/hook registration made over this connection must deliver
	// its callback frames back down the same connection, not broadcast
	// to every Client. A real deployment with concurrently-subscribing
	// Clients would key this per-subscription; spec.md's single-Client
	// assumption (§5) makes last-writer-wins acceptable here.
	a.Router.SetCallbackSender(func(endpoint string, body []byte) error {
		return conn.SendCallback(endpoint, body)
	})

	conn.Start()
	slog.Debug("agent: client connected", "addr", nc.RemoteAddr())
	conn.Wait()
	slog.Debug("agent: client disconnected", "addr", nc.RemoteAddr())
}

func (a *Agent) closeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.conns {
		c.Close()
	}
}

// Wait blocks until the accept loop and every connection goroutine
// have exited.
func (a *Agent) Wait() { a.wg.Wait() }
