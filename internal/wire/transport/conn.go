// Package transport implements the full-duplex multiplexed connection
// of spec.md §4.2: one reader loop, one writer loop, a bounded write
// channel with opportunistic batching, request/response correlation by
// id, and fire-and-forget callback delivery. It is symmetric — both the
// Agent and the Client use the same Conn type, distinguished only by
// which handler they install (RequestHandler on the Agent side,
// CallbackHandler on the Client side).
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentlink/agentlink/internal/agenterr"
	"github.com/agentlink/agentlink/internal/compress"
	"github.com/agentlink/agentlink/internal/wire/frame"
)

// writeChanCapacity matches spec.md §4.2 "capacity ~500; wait-on-full".
const writeChanCapacity = 500

// RequestHandler processes an inbound request frame and returns the
// response body. It must never panic; Conn recovers around it anyway
// and converts a panic to a transport-level protocol error.
type RequestHandler func(ctx context.Context, endpoint string, body []byte) (respBody []byte, err error)

// CallbackHandler processes an inbound, unsolicited callback frame.
type CallbackHandler func(endpoint string, body []byte)

type pendingRequest struct {
	resultCh chan result
}

type result struct {
	body []byte
	err  error
}

// Conn is one multiplexed connection.
type Conn struct {
	nc     net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	writeCh chan frame.Frame
	nextID  atomic.Uint32

	pending sync.Map // uint32 -> *pendingRequest

	requestHandler  RequestHandler
	callbackHandler CallbackHandler

	closeOnce sync.Once
	closed    atomic.Bool
	doneCh    chan struct{}
	wg        sync.WaitGroup

	// IdleTimeout, if nonzero, closes the connection when no frame has
	// been read for that long (spec.md §5 "idle (on the order of 5s)").
	IdleTimeout time.Duration

	// compressPool prefixes every outbound body with a two-byte tag,
	// zstd-compressing bodies of at least compress.Threshold bytes, and
	// decodes every inbound one. A nil pool (construction failed)
	// degrades to an uncompressed passthrough rather than breaking the
	// connection.
	compressPool *compress.Pool
}

// New wraps an already-connected net.Conn. Call Start to begin serving.
func New(nc net.Conn) *Conn {
	pool, err := compress.NewPool()
	if err != nil {
		slog.Warn("transport: zstd pool unavailable, bodies sent uncompressed", "error", err)
		pool = nil
	}
	return &Conn{
		nc:           nc,
		reader:       bufio.NewReaderSize(nc, 8192),
		writer:       bufio.NewWriterSize(nc, 8192),
		writeCh:      make(chan frame.Frame, writeChanCapacity),
		doneCh:       make(chan struct{}),
		compressPool: pool,
	}
}

// compressBody tags and optionally compresses an outbound frame body.
func (c *Conn) compressBody(body []byte) []byte {
	if c.compressPool == nil {
		return body
	}
	return c.compressPool.Compress(body)
}

// decompressBody reverses compressBody for an inbound frame body.
func (c *Conn) decompressBody(body []byte) []byte {
	if c.compressPool == nil {
		return body
	}
	out, err := c.compressPool.Decode(body)
	if err != nil {
		slog.Debug("transport: body decompress failed, using raw bytes", "error", err)
		return body
	}
	return out
}

// SetRequestHandler installs the Agent-side handler used to answer
// inbound Request frames.
func (c *Conn) SetRequestHandler(h RequestHandler) { c.requestHandler = h }

// SetCallbackHandler installs the Client-side handler used to dispatch
// inbound Callback frames.
func (c *Conn) SetCallbackHandler(h CallbackHandler) { c.callbackHandler = h }

// Start launches the reader and writer goroutines. It returns
// immediately; use Wait or watch Done() to observe termination.
func (c *Conn) Start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// Done returns a channel closed when the connection has torn down.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }

// Wait blocks until both loops have exited.
func (c *Conn) Wait() { c.wg.Wait() }

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer c.teardown()

	for {
		if c.IdleTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.IdleTimeout))
		}
		f, err := frame.ReadFrom(c.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("transport: read error", "error", err)
			}
			return
		}
		f.Body = c.decompressBody(f.Body)

		switch f.Type {
		case frame.TypeResponse:
			c.completeRequest(f.ID, f.Body, nil)

		case frame.TypeCallback:
			if c.callbackHandler != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("transport: callback handler panic", "error", r)
						}
					}()
					c.callbackHandler(f.Endpoint, f.Body)
				}()
			}

		case frame.TypeRequest:
			c.handleRequest(f)
		}
	}
}

func (c *Conn) handleRequest(f frame.Frame) {
	if c.requestHandler == nil {
		c.replyError(f.ID, f.Endpoint, agenterr.Protocol("no request handler installed"))
		return
	}

	// Each request is handled on its own goroutine so a slow handler
	// never blocks reading subsequent frames (spec.md §5 "every handler
	// may suspend"); responses may therefore complete out of order,
	// which is explicitly allowed (spec.md §5 "Ordering guarantees").
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.replyError(f.ID, f.Endpoint, agenterr.Protocol("handler panic: %v", r))
			}
		}()

		body, err := c.requestHandler(context.Background(), f.Endpoint, f.Body)
		if err != nil {
			c.replyError(f.ID, f.Endpoint, err)
			return
		}
		c.enqueue(frame.Response(f.ID, f.Endpoint, body))
	}()
}

func (c *Conn) replyError(id uint32, endpoint string, err error) {
	// The router (internal/agent/router) is responsible for converting
	// handler errors into the wire Envelope; transport only guarantees
	// that *some* response is always sent so the Client never hangs.
	slog.Debug("transport: request failed", "endpoint", endpoint, "error", err)
	c.enqueue(frame.Response(id, endpoint, nil))
}

func (c *Conn) completeRequest(id uint32, body []byte, err error) {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		// A late-arriving response for a cancelled/forgotten request:
		// log and discard per spec.md §4.2.
		slog.Debug("transport: discarding unmatched response", "id", id)
		return
	}
	pr := v.(*pendingRequest)
	pr.resultCh <- result{body: body, err: err}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	defer c.teardown()

	for {
		first, ok := <-c.writeCh
		if !ok {
			return
		}
		if err := frame.WriteTo(c.writer, first); err != nil {
			slog.Debug("transport: write error", "error", err)
			return
		}

		// Opportunistically drain everything immediately available
		// before flushing once — immediate-flush latency when idle,
		// batched throughput under load (spec.md §4.2, §9 "Coalesced
		// writes").
	drain:
		for {
			select {
			case f, ok := <-c.writeCh:
				if !ok {
					break drain
				}
				if err := frame.WriteTo(c.writer, f); err != nil {
					slog.Debug("transport: write error", "error", err)
					return
				}
			default:
				break drain
			}
		}

		if err := c.writer.Flush(); err != nil {
			slog.Debug("transport: flush error", "error", err)
			return
		}
	}
}

func (c *Conn) enqueue(f frame.Frame) {
	if c.closed.Load() {
		return
	}
	f.Body = c.compressBody(f.Body)
	c.writeCh <- f // wait-on-full, no drops (spec.md §4.2)
}

// SendRequest sends a request frame and blocks until the matching
// response arrives, ctx is cancelled, or the connection tears down.
func (c *Conn) SendRequest(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, agenterr.Transport("connection closed")
	}

	id := c.nextID.Add(1)
	pr := &pendingRequest{resultCh: make(chan result, 1)}
	c.pending.Store(id, pr)

	c.enqueue(frame.Request(id, endpoint, body))

	select {
	case res := <-pr.resultCh:
		return res.body, res.err
	case <-ctx.Done():
		c.pending.Delete(id)
		return nil, agenterr.Transport("request cancelled: %v", ctx.Err())
	case <-c.doneCh:
		c.pending.Delete(id)
		return nil, agenterr.Transport("connection closed while awaiting response")
	}
}

// SendCallback emits a fire-and-forget callback frame (id 0).
func (c *Conn) SendCallback(endpoint string, body []byte) error {
	if c.closed.Load() {
		return agenterr.Transport("connection closed")
	}
	c.enqueue(frame.Callback(endpoint, body))
	return nil
}

// Close tears the connection down, failing all pending requests as
// cancelled per spec.md §5 "Connection-level cancellation".
func (c *Conn) Close() error {
	return c.teardown()
}

func (c *Conn) teardown() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.nc.Close()
		close(c.writeCh)
		close(c.doneCh)

		c.pending.Range(func(key, v any) bool {
			pr := v.(*pendingRequest)
			pr.resultCh <- result{err: agenterr.Transport("connection closed")}
			c.pending.Delete(key)
			return true
		})
	})
	return err
}
