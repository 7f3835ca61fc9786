// Package bootstrap implements the discovery half of spec.md §6's
// Contract: a Client finding an already-running Agent inside a target
// process without prior configuration, via a well-known per-user
// handshake file the Agent publishes once its listener is up.
//
// Process injection — getting the Agent's code running inside a
// process that doesn't have it yet — is deliberately interface-only;
// spec.md §1 lists it as a non-goal of this core. Contract.Inject
// exists so a caller can plug in an external injector without changing
// this package.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrInjectionNotSupported is returned by the discovery-only Contract
// implementation's Inject method.
var ErrInjectionNotSupported = errors.New("bootstrap: process injection is not implemented by this core")

// ErrNotFound is returned by QueryStatus when no discovery file exists
// for the target pid.
var ErrNotFound = errors.New("bootstrap: no discovery handshake for target")

// Target identifies the process a Client wants to reach.
type Target struct {
	PID int
}

// Status is what a Client learns about a target process's Agent.
type Status struct {
	Injected  bool
	Addr      string
	Port      int
	SessionID string
}

// Contract is spec.md §6's bootstrap contract: discover a running
// Agent, or (for implementations that support it) inject one.
type Contract interface {
	QueryStatus(ctx context.Context, target Target) (Status, error)
	Inject(ctx context.Context, target Target, port int) error
}

// handshake is the on-disk form of a discovery file, one per Agent
// process.
type handshake struct {
	SessionID   string    `json:"session_id"`
	Addr        string    `json:"addr"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	PublishedAt time.Time `json:"published_at"`
}

// Discovery is the core's one concrete Contract implementation: it
// locates a running Agent's handshake file and reports its listen
// address, but refuses Inject (spec.md §1 non-goal).
type Discovery struct {
	Dir string // directory handshake files live in; empty uses DefaultDir()
}

// NewDiscovery builds a Discovery rooted at dir ("" for DefaultDir()).
func NewDiscovery(dir string) *Discovery {
	return &Discovery{Dir: dir}
}

// DefaultDir is $XDG_STATE_HOME-style per-user state directory for
// handshake files, portable via os.UserConfigDir rather than a
// per-OS path function (spec.md §1: OS-specific externalities beyond
// this are out of scope for the core).
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "agentlink")
}

func (d *Discovery) dir() string {
	if d.Dir != "" {
		return d.Dir
	}
	return DefaultDir()
}

func (d *Discovery) path(pid int) string {
	return filepath.Join(d.dir(), fmt.Sprintf("%d.json", pid))
}

// QueryStatus reads the discovery file for target.PID, if any.
func (d *Discovery) QueryStatus(ctx context.Context, target Target) (Status, error) {
	data, err := os.ReadFile(d.path(target.PID))
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, ErrNotFound
		}
		return Status{}, err
	}
	var h handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return Status{}, fmt.Errorf("bootstrap: corrupt handshake file: %w", err)
	}
	return Status{Injected: true, Addr: h.Addr, Port: h.Port, SessionID: h.SessionID}, nil
}

// Inject is unsupported by the discovery-only Contract.
func (d *Discovery) Inject(ctx context.Context, target Target, port int) error {
	return ErrInjectionNotSupported
}

// Publish writes (or overwrites) the discovery handshake for the
// calling Agent process, called once its listener is bound. It
// returns the session id it minted, which the Agent should log for
// correlation with Client-side diagnostics.
func Publish(dir string, pid int, addr string) (sessionID string, err error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	sessionID = uuid.NewString()
	h := handshake{SessionID: sessionID, Addr: addr, Port: portOf(addr), PID: pid, PublishedAt: time.Now()}
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", pid))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Withdraw removes pid's discovery file, called on clean Agent
// shutdown so a stale handshake doesn't point a Client at a dead
// listener.
func Withdraw(dir string, pid int) error {
	if dir == "" {
		dir = DefaultDir()
	}
	err := os.Remove(filepath.Join(dir, fmt.Sprintf("%d.json", pid)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var p int
	fmt.Sscanf(portStr, "%d", &p)
	return p
}
