package lnunify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleConnectSharesDial(t *testing.T) {
	var (
		l     Lifecycle
		dials atomic.Int32
		gate  = make(chan struct{})
	)
	dial := func(context.Context) error {
		dials.Add(1)
		<-gate
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Connect(context.Background(), dial))
		}()
	}
	require.Eventually(t, func() bool { return l.State() == StateConnecting }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, dials.Load())
	assert.Equal(t, StateReady, l.State())
	require.NoError(t, l.Ready())
}

func TestLifecycleSharedDialError(t *testing.T) {
	var l Lifecycle
	gate := make(chan struct{})
	boom := errors.New("boom")

	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errc <- l.Connect(context.Background(), func(context.Context) error {
				<-gate
				return boom
			})
		}()
	}
	require.Eventually(t, func() bool { return l.State() == StateConnecting }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)

	require.ErrorIs(t, <-errc, boom)
	require.ErrorIs(t, <-errc, boom)
	assert.Equal(t, StateDisconnected, l.State())

	// A failed dial may be retried.
	require.NoError(t, l.Connect(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateReady, l.State())
}

func TestLifecycleWaiterContext(t *testing.T) {
	var l Lifecycle
	gate := make(chan struct{})
	defer close(gate)

	go l.Connect(context.Background(), func(context.Context) error {
		<-gate
		return nil
	})
	require.Eventually(t, func() bool { return l.State() == StateConnecting }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Connect(ctx, func(context.Context) error {
		t.Error("second dial started")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLifecycleDisconnectDuringDial(t *testing.T) {
	var l Lifecycle
	gate := make(chan struct{})
	cancelled := make(chan struct{})
	var undone atomic.Bool

	errc := make(chan error, 1)
	go func() {
		errc <- l.ConnectUndo(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			<-gate
			return nil
		}, func() { undone.Store(true) })
	}()
	require.Eventually(t, func() bool { return l.State() == StateConnecting }, time.Second, time.Millisecond)

	assert.False(t, l.Disconnect())
	<-cancelled
	close(gate)

	err := <-errc
	require.ErrorIs(t, err, ErrNotReady)
	assert.True(t, undone.Load())
	assert.Equal(t, StateDisconnected, l.State())
	require.ErrorIs(t, l.Ready(), ErrNotReady)

	require.NoError(t, l.Connect(context.Background(), func(context.Context) error { return nil }))
	assert.True(t, l.Disconnect())
}

func TestLifecycleDisconnectFailedDialSkipsUndo(t *testing.T) {
	var l Lifecycle
	var undone atomic.Bool

	errc := make(chan error, 1)
	go func() {
		errc <- l.ConnectUndo(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, func() { undone.Store(true) })
	}()
	require.Eventually(t, func() bool { return l.State() == StateConnecting }, time.Second, time.Millisecond)
	l.Disconnect()

	require.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, undone.Load())
	assert.Equal(t, StateDisconnected, l.State())
}
