package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := New(a), New(b)
	ca.Start()
	cb.Start()
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestRequestResponseRoundTrip(t *testing.T) {
	client, agent := pipeConns(t)

	agent.SetRequestHandler(func(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
		if endpoint != "ping" {
			t.Errorf("unexpected endpoint %q", endpoint)
		}
		return []byte("pong"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.SendRequest(ctx, "ping", []byte("hello"))
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if string(resp) != "pong" {
		t.Fatalf("got %q, want %q", resp, "pong")
	}
}

func TestConcurrentRequestsCorrelateIndependently(t *testing.T) {
	client, agent := pipeConns(t)

	agent.SetRequestHandler(func(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
		// Echo back so each response can be matched to its own request.
		return body, nil
	})

	const n = 20
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			body := []byte{byte(i)}
			resp, err := client.SendRequest(ctx, "echo", body)
			if err != nil {
				errCh <- err
				return
			}
			if len(resp) != 1 || resp[0] != byte(i) {
				errCh <- errContentMismatch
				return
			}
			errCh <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}

var errContentMismatch = &mismatchErr{}

type mismatchErr struct{}

func (*mismatchErr) Error() string { return "response body mismatch" }

func TestCallbackDeliveredWithoutRequest(t *testing.T) {
	client, agent := pipeConns(t)

	received := make(chan string, 1)
	client.SetCallbackHandler(func(endpoint string, body []byte) {
		received <- endpoint + ":" + string(body)
	})

	if err := agent.SendCallback("event.fired", []byte("payload")); err != nil {
		t.Fatalf("SendCallback: %v", err)
	}

	select {
	case got := <-received:
		if got != "event.fired:payload" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	client, agent := pipeConns(t)

	blockCh := make(chan struct{})
	agent.SetRequestHandler(func(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
		<-blockCh
		return nil, nil
	})

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.SendRequest(ctx, "slow", nil)
		resultCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Close()
	close(blockCh)

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected error after close, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending request to fail")
	}
}

func TestSendRequestAfterCloseFailsFast(t *testing.T) {
	client, _ := pipeConns(t)
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.SendRequest(ctx, "ping", nil); err == nil {
		t.Fatal("expected error sending on closed connection")
	}
}
