package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/tor"
)

const (
	// DefaultTorSOCKS is the SOCKS listener of a local Tor client.
	DefaultTorSOCKS = "127.0.0.1:9050"

	defaultTorDialTimeout = 60 * time.Second
)

// TorStarter starts the local Tor client. Its lifecycle is managed outside
// of this package, Start must be safe to call again after a failure.
type TorStarter interface {
	Start(ctx context.Context) error
}

// TorDialer relays connections through a local Tor SOCKS proxy. The Tor
// client is started on first use.
type TorDialer struct {
	proxy   *tor.ProxyNet
	starter TorStarter

	mu      sync.Mutex
	started bool
}

// NewTorDialer returns a dialer using the SOCKS listener at socks. starter
// may be nil when Tor is already running.
func NewTorDialer(socks string, starter TorStarter) *TorDialer {
	if socks == "" {
		socks = DefaultTorSOCKS
	}
	return &TorDialer{
		proxy: &tor.ProxyNet{
			SOCKS:           socks,
			StreamIsolation: true,
		},
		starter: starter,
	}
}

// Start starts the Tor client once. Concurrent callers wait for the same
// start, a failed start is retried by the next caller.
func (t *TorDialer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started || t.starter == nil {
		t.started = true
		return nil
	}
	if err := t.starter.Start(ctx); err != nil {
		return &lnunify.ConnectionError{Target: "tor", Err: fmt.Errorf("starting tor: %w", err)}
	}
	t.started = true
	return nil
}

// DialContext dials addr through Tor.
func (t *TorDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	timeout := defaultTorDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := t.proxy.Dial(network, addr, timeout)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dialing %s over tor: %w", addr, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Dial matches the dial function signature of lnd's brontide and tor
// packages.
func (t *TorDialer) Dial(network, addr string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.DialContext(ctx, network, addr)
}
