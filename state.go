package lnunify

import (
	"context"
	"fmt"
	"sync"
)

// State is the connection state of an adapter.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle tracks the adapter state machine
// Uninitialized -> Connecting -> Ready -> (Disconnected | Ready).
// Adapters embed it and guard their operations with Ready.
type Lifecycle struct {
	mu      sync.Mutex
	state   State
	gen     uint64
	pending *dialCall
	cancel  context.CancelFunc
}

// dialCall is a dial in progress. Callers arriving while it runs wait on
// done and share err.
type dialCall struct {
	done chan struct{}
	err  error
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect runs dial once the lifecycle moved to Connecting. Concurrent
// callers share a single dial and its result. A failed dial leaves the
// adapter Disconnected so it may be retried. Connecting a Ready adapter is
// a no-op.
func (l *Lifecycle) Connect(ctx context.Context, dial func(ctx context.Context) error) error {
	return l.ConnectUndo(ctx, dial, nil)
}

// ConnectUndo is Connect with an undo hook. A Disconnect while dial runs
// cancels the dial context and keeps the adapter Disconnected; if dial
// succeeded anyway, undo releases whatever it opened.
func (l *Lifecycle) ConnectUndo(ctx context.Context, dial func(ctx context.Context) error,
	undo func()) error {

	l.mu.Lock()
	if l.state == StateReady {
		l.mu.Unlock()
		return nil
	}
	if call := l.pending; call != nil {
		l.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &dialCall{done: make(chan struct{})}
	dialCtx, cancel := context.WithCancel(ctx)
	gen := l.gen
	l.pending = call
	l.cancel = cancel
	l.state = StateConnecting
	l.mu.Unlock()

	err := dial(dialCtx)

	l.mu.Lock()
	cancel()
	l.pending = nil
	l.cancel = nil
	superseded := l.gen != gen
	switch {
	case superseded:
		if err == nil {
			err = fmt.Errorf("%w: disconnected while connecting", ErrNotReady)
		} else {
			undo = nil
		}
	case err != nil:
		l.state = StateDisconnected
	default:
		l.state = StateReady
	}
	call.err = err
	close(call.done)
	l.mu.Unlock()

	if superseded && undo != nil {
		undo()
	}
	return err
}

// Ready returns ErrNotReady unless the adapter is connected.
func (l *Lifecycle) Ready() error {
	if s := l.State(); s != StateReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, s)
	}
	return nil
}

// Disconnect moves to Disconnected and reports whether the adapter was
// connected before. A dial in progress is cancelled and will not move the
// adapter to Ready.
func (l *Lifecycle) Disconnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.state == StateReady
	l.gen++
	if l.cancel != nil {
		l.cancel()
	}
	l.state = StateDisconnected
	return was
}
