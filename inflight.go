package lnunify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds every cached request unless overridden.
const DefaultRequestTimeout = 30 * time.Second

// Fingerprint is the deduplication key of a request: the resolved target
// followed by the serialized body.
type Fingerprint string

// NewFingerprint builds the key for a request to target with body. A nil
// body contributes nothing, raw JSON and byte slices are used as is.
func NewFingerprint(target string, body any) (Fingerprint, error) {
	var b []byte
	switch v := body.(type) {
	case nil:
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		var err error
		if b, err = json.Marshal(body); err != nil {
			return "", fmt.Errorf("serializing request body: %w", err)
		}
	}
	return Fingerprint(target + string(b)), nil
}

// pending is a single in-flight execution shared by every waiter with the
// same fingerprint.
type pending struct {
	done   chan struct{}
	cancel context.CancelFunc
	timer  *time.Timer

	// Guarded by RequestCache.mu.
	waiters int
	settled bool

	// Written once before done is closed.
	val any
	err error
}

// RequestCache coalesces concurrent identical requests and races each of
// them against a timeout. Every adapter owns its own cache.
type RequestCache struct {
	mu      sync.Mutex
	entries map[Fingerprint]*pending

	timeout time.Duration
	metrics *cacheObserver
	log     *slog.Logger
}

// CacheOption configures a RequestCache.
type CacheOption func(*RequestCache)

// WithDefaultTimeout sets the timeout applied to calls without their own.
// A non-positive value disables it.
func WithDefaultTimeout(d time.Duration) CacheOption {
	return func(c *RequestCache) { c.timeout = d }
}

// WithCacheMetrics reports cache activity under the given backend label.
func WithCacheMetrics(m *CacheMetrics, backend string) CacheOption {
	return func(c *RequestCache) {
		if m != nil {
			c.metrics = m.observer(backend)
		}
	}
}

// WithCacheLogger sets the logger used for settle diagnostics.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *RequestCache) { c.log = l }
}

func NewRequestCache(opts ...CacheOption) *RequestCache {
	c := &RequestCache{
		entries: make(map[Fingerprint]*pending),
		timeout: DefaultRequestTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption configures a single Execute call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the cache timeout for one call. Only the call that
// starts the execution decides its timeout, later waiters share it.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// Len returns the number of in-flight entries.
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Execute returns the result of fn for fp. When an execution for fp is
// already in flight, the caller joins it instead of calling fn again.
//
// fn runs on a context detached from the caller. It is cancelled when the
// last waiter gives up through its own context or when ClearAll is called.
// A timeout rejects all waiters with ErrRequestTimeout but lets fn run to
// completion, its result is then dropped.
func Execute[T any](ctx context.Context, c *RequestCache, fp Fingerprint,
	fn func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {

	var zero T

	c.mu.Lock()
	p, exists := c.entries[fp]
	if exists {
		p.waiters++
		c.mu.Unlock()
		c.metrics.shared()
	} else {
		cfg := callConfig{timeout: c.timeout}
		for _, opt := range opts {
			opt(&cfg)
		}

		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p = &pending{
			done:    make(chan struct{}),
			cancel:  cancel,
			waiters: 1,
		}
		c.entries[fp] = p
		if cfg.timeout > 0 {
			p.timer = time.AfterFunc(cfg.timeout, func() {
				if c.settle(fp, p, nil, fmt.Errorf("%w after %s", ErrRequestTimeout,
					cfg.timeout)) {

					c.metrics.timeout()
					c.log.Debug("request timed out", "fingerprint", string(fp),
						"timeout", cfg.timeout)
				}
			})
		}
		c.mu.Unlock()
		c.metrics.started()

		go func() {
			v, err := fn(callCtx)
			if !c.settle(fp, p, v, err) {
				c.log.Debug("dropping late result", "fingerprint", string(fp),
					"error", err)
			}
			cancel()
		}()
	}

	select {
	case <-p.done:
		if p.err != nil {
			return zero, p.err
		}
		v, ok := p.val.(T)
		if !ok && p.val != nil {
			return zero, &ProtocolError{Err: fmt.Errorf("shared result has type %T", p.val)}
		}
		return v, nil

	case <-ctx.Done():
		c.leave(fp, p)
		return zero, fmt.Errorf("%w: %w", ErrRequestCancelled, ctx.Err())
	}
}

// settle completes p once. The entry is removed before waiters are released.
func (c *RequestCache) settle(fp Fingerprint, p *pending, val any, err error) bool {
	c.mu.Lock()
	if p.settled {
		c.mu.Unlock()
		return false
	}
	p.settled = true
	if c.entries[fp] == p {
		delete(c.entries, fp)
	}
	timer := p.timer
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	p.val, p.err = val, err
	c.metrics.finished()
	close(p.done)
	return true
}

// leave drops one waiter. The last waiter to leave aborts the execution.
func (c *RequestCache) leave(fp Fingerprint, p *pending) {
	c.mu.Lock()
	p.waiters--
	last := p.waiters == 0
	c.mu.Unlock()

	if !last {
		return
	}
	if c.settle(fp, p, nil, ErrRequestCancelled) {
		c.metrics.cancelled()
	}
	p.cancel()
}

// ClearAll cancels every in-flight execution and empties the cache. Waiters
// are rejected with ErrRequestCancelled.
func (c *RequestCache) ClearAll() {
	c.mu.Lock()
	var cleared []*pending
	for fp, p := range c.entries {
		if !p.settled {
			p.settled = true
			cleared = append(cleared, p)
		}
		delete(c.entries, fp)
	}
	c.mu.Unlock()

	for _, p := range cleared {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.err = ErrRequestCancelled
		close(p.done)
		p.cancel()
		c.metrics.cancelled()
		c.metrics.finished()
	}
	if len(cleared) > 0 {
		c.log.Debug("cleared in-flight requests", "count", len(cleared))
	}
}
