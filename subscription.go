package lnunify

import (
	"context"
	"sync"
)

// SubscriptionState tracks a stream independently of its adapter.
type SubscriptionState int

const (
	Subscribed SubscriptionState = iota
	Unsubscribed
)

// Subscription is a long lived stream of updates owned by the adapter that
// opened it. Updates is closed when the stream ends, Err then reports why.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	err   error
	state SubscriptionState
}

// NewSubscription starts run on a derived context. run sends updates
// through emit and returns when the stream ends. Returning a nil error or
// the context's error is a regular unsubscribe.
func NewSubscription[T any](ctx context.Context,
	run func(ctx context.Context, emit func(T) bool) error) *Subscription[T] {

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	emit := func(v T) bool {
		select {
		case s.updates <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)
		err := run(ctx, emit)

		s.mu.Lock()
		if err != nil && ctx.Err() == nil {
			s.err = err
		}
		s.state = Unsubscribed
		s.mu.Unlock()
		cancel()
	}()
	return s
}

// Updates returns the stream of updates.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Err returns the error that ended the stream, nil after a regular close.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State reports whether the stream is still running.
func (s *Subscription[T]) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close unsubscribes and waits for the stream to stop.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}
