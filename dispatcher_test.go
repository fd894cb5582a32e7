package lnunify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter implements the core interface plus balance and invoice
// operations, routing every call through its own request cache.
type fakeAdapter struct {
	Lifecycle
	kind  BackendKind
	cache *RequestCache
	caps  CapabilitySet

	block    chan struct{}
	calls    atomic.Int32
	connects atomic.Int32

	// dialGate holds Connect until closed. With ignoreCancel the dial
	// completes even when its context is cancelled.
	dialGate     chan struct{}
	ignoreCancel bool
	closeGate    chan struct{}
}

func newFakeAdapter(kind BackendKind) *fakeAdapter {
	return &fakeAdapter{
		kind:  kind,
		cache: NewRequestCache(),
		caps: CapabilitySet{
			CapLightningSends: Static(true),
			CapAMP:            Static(false),
		},
	}
}

func (f *fakeAdapter) Kind() BackendKind { return f.kind }

func (f *fakeAdapter) Connect(ctx context.Context) error {
	return f.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		f.connects.Add(1)
		if f.dialGate == nil {
			return nil
		}
		if f.ignoreCancel {
			<-f.dialGate
			return nil
		}
		select {
		case <-f.dialGate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (f *fakeAdapter) Close() error {
	f.Disconnect()
	f.cache.ClearAll()
	if f.closeGate != nil {
		<-f.closeGate
	}
	return nil
}

func (f *fakeAdapter) Capabilities() CapabilitySet { return f.caps }

func (f *fakeAdapter) GetInfo(ctx context.Context) (NodeInfo, error) {
	return NodeInfo{Alias: string(f.kind)}, nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context) (Balance, error) {
	return Execute(ctx, f.cache, Fingerprint(string(f.kind)+"/balance"),
		func(ctx context.Context) (Balance, error) {
			f.calls.Add(1)
			if f.block != nil {
				select {
				case <-f.block:
				case <-ctx.Done():
					return Balance{}, ctx.Err()
				}
			}
			return Balance{Lightning: LightningBalance{LocalSat: 1000}}, nil
		})
}

func (f *fakeAdapter) PayInvoice(ctx context.Context, req PayInvoiceRequest) (Payment, error) {
	return Payment{PaymentRequest: req.PaymentRequest, Status: PaymentSucceeded}, nil
}

func (f *fakeAdapter) ListInvoices(ctx context.Context, opts ListOptions) ([]Invoice, error) {
	out := make([]Invoice, opts.EffectiveLimit())
	return out, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAdapter, *fakeAdapter) {
	t.Helper()
	lnd := newFakeAdapter(KindLND)
	cln := newFakeAdapter(KindCLNRest)
	d, err := NewDispatcher(map[BackendKind]Adapter{
		KindLND:     lnd,
		KindCLNRest: cln,
	}, KindLND)
	require.NoError(t, err)
	return d, lnd, cln
}

func TestNewDispatcherValidates(t *testing.T) {
	_, err := NewDispatcher(map[BackendKind]Adapter{KindLND: newFakeAdapter(KindLND)}, KindSpark)
	require.Error(t, err)

	_, err = NewDispatcher(map[BackendKind]Adapter{KindSpark: newFakeAdapter(KindLND)}, KindSpark)
	require.Error(t, err)
}

func TestDispatcherForwardsAndAutoConnects(t *testing.T) {
	d, lnd, _ := newTestDispatcher(t)

	bal, err := d.GetBalance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1000, bal.Lightning.LocalSat)
	assert.Equal(t, StateReady, lnd.State())
	assert.EqualValues(t, 1, lnd.connects.Load())
}

func TestDispatcherUnsupported(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	assert.False(t, d.Implements(OpListChannels))
	assert.True(t, d.Implements(OpGetBalance))

	_, err := d.ListChannels(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	assert.True(t, IsUnsupported(err))

	var ue *UnsupportedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, OpListChannels, ue.Operation)
	assert.Equal(t, KindLND, ue.Kind)
}

func TestDispatcherCapabilityGate(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := d.PayInvoice(context.Background(), PayInvoiceRequest{PaymentRequest: "lnbc1"})
	require.NoError(t, err)

	_, err = d.PayInvoice(context.Background(), PayInvoiceRequest{PaymentRequest: "lnbc1", AMP: true})
	require.ErrorIs(t, err, ErrCapabilityDenied)

	// Undeclared request capability denies.
	_, err = d.PayInvoice(context.Background(), PayInvoiceRequest{PaymentRequest: "lnbc1", MaxParts: 4})
	require.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestDispatcherSwitchClearsPreviousCache(t *testing.T) {
	d, lnd, cln := newTestDispatcher(t)
	lnd.block = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := d.GetBalance(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return lnd.cache.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Switch(context.Background(), KindCLNRest))

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrRequestCancelled)
	case <-time.After(time.Second):
		t.Fatal("pending call was not cancelled by the switch")
	}
	assert.Zero(t, lnd.cache.Len())
	assert.Equal(t, StateDisconnected, lnd.State())

	_, err := d.GetBalance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, cln.calls.Load())
	assert.EqualValues(t, 1, lnd.calls.Load())
	assert.Equal(t, KindCLNRest, d.Kind())
}

func TestDispatcherConcurrentColdCalls(t *testing.T) {
	d, lnd, _ := newTestDispatcher(t)
	lnd.dialGate = make(chan struct{})

	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := d.GetBalance(context.Background())
			errc <- err
		}()
	}
	require.Eventually(t, func() bool { return lnd.State() == StateConnecting }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(lnd.dialGate)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("call did not return")
		}
	}
	assert.EqualValues(t, 1, lnd.connects.Load())
	assert.Equal(t, StateReady, lnd.State())
}

func TestDispatcherSwitchDuringConnect(t *testing.T) {
	tests := []struct {
		name         string
		ignoreCancel bool
	}{
		{name: "dial honours cancel"},
		{name: "dial completes anyway", ignoreCancel: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, lnd, cln := newTestDispatcher(t)
			lnd.dialGate = make(chan struct{})
			lnd.ignoreCancel = tc.ignoreCancel

			errc := make(chan error, 1)
			go func() {
				_, err := d.GetBalance(context.Background())
				errc <- err
			}()
			require.Eventually(t, func() bool { return lnd.State() == StateConnecting }, time.Second, time.Millisecond)

			switched := make(chan error, 1)
			go func() { switched <- d.Switch(context.Background(), KindCLNRest) }()
			require.NoError(t, <-switched)
			close(lnd.dialGate)

			select {
			case err := <-errc:
				require.ErrorIs(t, err, ErrRequestCancelled)
			case <-time.After(time.Second):
				t.Fatal("call on the switched out adapter did not return")
			}
			assert.Equal(t, StateDisconnected, lnd.State())
			assert.Zero(t, lnd.calls.Load())

			_, err := d.GetBalance(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 1, cln.calls.Load())
			assert.Equal(t, StateDisconnected, lnd.State())
		})
	}
}

func TestDispatcherSwitchDoesNotBlockOnClose(t *testing.T) {
	d, lnd, cln := newTestDispatcher(t)

	_, err := d.GetBalance(context.Background())
	require.NoError(t, err)
	lnd.closeGate = make(chan struct{})

	switched := make(chan error, 1)
	go func() { switched <- d.Switch(context.Background(), KindCLNRest) }()
	require.Eventually(t, func() bool { return d.Kind() == KindCLNRest }, time.Second, time.Millisecond)

	// The previous adapter is still closing.
	_, err = d.GetBalance(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, cln.calls.Load())

	close(lnd.closeGate)
	select {
	case err := <-switched:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("switch did not return")
	}
}

func TestDispatcherCallByName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	res, err := d.Call(context.Background(), OpListInvoices, json.RawMessage(`{"limit":3}`))
	require.NoError(t, err)
	assert.Len(t, res.([]Invoice), 3)

	res, err = d.Call(context.Background(), OpListInvoices, nil)
	require.NoError(t, err)
	assert.Len(t, res.([]Invoice), DefaultListLimit)

	_, err = d.Call(context.Background(), OpGetFees, nil)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = d.Call(context.Background(), "noSuchOp", nil)
	require.Error(t, err)

	_, err = d.Call(context.Background(), OpListInvoices, json.RawMessage(`{"limit":"x"}`))
	require.Error(t, err)

	assert.Contains(t, Operations(), OpPayInvoice)
	assert.NotContains(t, Operations(), OpSubscribeInvoices)
}

func TestDispatcherCapabilities(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	ok, err := d.Supports(context.Background(), CapAMP)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Supports(context.Background(), CapOffers)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := d.Capabilities(context.Background())
	assert.True(t, snap[CapLightningSends].Supported)
	assert.False(t, snap[CapAMP].Supported)
}
