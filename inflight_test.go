package lnunify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a, err := NewFingerprint("https://node:8080/v1/listnodes", map[string]string{"id": "a"})
	require.NoError(t, err)
	b, err := NewFingerprint("https://node:8080/v1/listnodes", map[string]string{"id": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c, err := NewFingerprint("https://node:8080/v1/getinfo", nil)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("https://node:8080/v1/getinfo"), c)
}

func TestExecuteDeduplicates(t *testing.T) {
	cache := NewRequestCache()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "ok", nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Execute(context.Background(), cache, "fp", fn)
		}(i)
	}

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		p := cache.entries["fp"]
		return p != nil && p.waiters == n
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "ok", results[i])
	}
	assert.Zero(t, cache.Len())
}

func TestExecuteRemovesEntryOnError(t *testing.T) {
	cache := NewRequestCache()
	boom := errors.New("boom")

	_, err := Execute(context.Background(), cache, "fp", func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len())

	v, err := Execute(context.Background(), cache, "fp", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestExecuteTimeout(t *testing.T) {
	cache := NewRequestCache()
	finished := make(chan struct{})
	release := make(chan struct{})

	start := time.Now()
	_, err := Execute(context.Background(), cache, "fp", func(ctx context.Context) (int, error) {
		defer close(finished)
		<-release
		return 1, nil
	}, WithTimeout(50*time.Millisecond))

	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, cache.Len())

	// The underlying call is not aborted and finishes quietly.
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("underlying call did not finish")
	}
	assert.Zero(t, cache.Len())
}

func TestExecuteDefaultTimeout(t *testing.T) {
	cache := NewRequestCache(WithDefaultTimeout(20 * time.Millisecond))
	_, err := Execute(context.Background(), cache, "fp", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestExecuteCallerCancel(t *testing.T) {
	cache := NewRequestCache()
	aborted := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Execute(ctx, cache, "fp", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(aborted)
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrRequestCancelled)
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("underlying call was not aborted")
	}
	assert.Zero(t, cache.Len())
}

func TestExecuteCancelKeepsOtherWaiters(t *testing.T) {
	cache := NewRequestCache()
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		select {
		case <-release:
			return 42, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	var (
		wg     sync.WaitGroup
		stayed int
		err    error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		stayed, err = Execute(context.Background(), cache, "fp", fn)
	}()
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, leaveErr := Execute(ctx, cache, "fp", fn)
	require.ErrorIs(t, leaveErr, ErrRequestCancelled)

	close(release)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, stayed)
}

func TestClearAll(t *testing.T) {
	cache := NewRequestCache()
	var aborted atomic.Int32

	fn := func(ctx context.Context) (int, error) {
		<-ctx.Done()
		aborted.Add(1)
		return 0, ctx.Err()
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, fp := range []Fingerprint{"a", "b", "a"} {
		wg.Add(1)
		go func(i int, fp Fingerprint) {
			defer wg.Done()
			_, errs[i] = Execute(context.Background(), cache, fp, fn)
		}(i, fp)
	}
	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.entries) == 2 && cache.entries["a"].waiters == 2
	}, time.Second, time.Millisecond)

	cache.ClearAll()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrRequestCancelled)
	}
	assert.Zero(t, cache.Len())
	require.Eventually(t, func() bool { return aborted.Load() == 2 }, time.Second, time.Millisecond)
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewCacheMetrics(reg)
	require.NoError(t, err)

	cache := NewRequestCache(WithCacheMetrics(m, "lnd"))
	_, err = Execute(context.Background(), cache, "fp", func(context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("lnd", "executed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight.WithLabelValues("lnd")))
}
