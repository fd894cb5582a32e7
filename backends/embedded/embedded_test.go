package embedded

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/transport/bridge"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

type fakeBridge struct {
	t *testing.T

	mu      sync.Mutex
	calls   map[string]int
	unary   map[string]func(req []byte) (proto.Message, error)
	streams map[string][]bridge.Event
}

func newFakeBridge(t *testing.T) *fakeBridge {
	f := &fakeBridge{
		t:       t,
		calls:   make(map[string]int),
		unary:   make(map[string]func([]byte) (proto.Message, error)),
		streams: make(map[string][]bridge.Event),
	}
	f.unary[methodGetInfo] = func([]byte) (proto.Message, error) {
		return &lnrpc.GetInfoResponse{
			IdentityPubkey: "03cc",
			Alias:          "phone",
			Version:        "0.17.0-beta",
			Chains:         []*lnrpc.Chain{{Chain: "bitcoin", Network: "mainnet"}},
		}, nil
	}
	return f
}

func (f *fakeBridge) encode(msg proto.Message) string {
	b, err := proto.Marshal(msg)
	require.NoError(f.t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func (f *fakeBridge) Call(_ context.Context, method, payload string) (string, error) {
	f.mu.Lock()
	f.calls[method]++
	h, ok := f.unary[method]
	f.mu.Unlock()
	if !ok {
		return "", errors.New("unknown service " + method)
	}
	req, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	resp, err := h(req)
	if err != nil {
		return "", err
	}
	return f.encode(resp), nil
}

func (f *fakeBridge) Stream(ctx context.Context, method, _ string) (<-chan bridge.Event, error) {
	f.mu.Lock()
	f.calls[method]++
	events := f.streams[method]
	f.mu.Unlock()

	ch := make(chan bridge.Event)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (f *fakeBridge) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func connect(t *testing.T, b bridge.Bridge) (*Adapter, context.Context) {
	t.Helper()
	a, err := New(b)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, a.Connect(ctx))
	t.Cleanup(func() { a.Close() })
	return a, ctx
}

func TestNewRequiresBridge(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestConnectFailsOnHostError(t *testing.T) {
	f := newFakeBridge(t)
	f.unary[methodGetInfo] = func([]byte) (proto.Message, error) {
		return nil, errors.New("wallet locked")
	}
	a, err := New(f)
	require.NoError(t, err)

	err = a.Connect(context.Background())
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "wallet locked")
	assert.Equal(t, lnunify.StateDisconnected, a.State())
}

func TestGetInfo(t *testing.T) {
	a, ctx := connect(t, newFakeBridge(t))

	info, err := a.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "phone", info.Alias)
	assert.Equal(t, lnunify.KindEmbeddedLND, a.Kind())
}

func TestPayInvoiceTakesFirstUpdate(t *testing.T) {
	f := newFakeBridge(t)
	f.streams[methodSendPayment] = []bridge.Event{
		{Data: f.encode(&lnrpc.Payment{PaymentHash: "bb", Status: lnrpc.Payment_FAILED,
			FailureReason: lnrpc.PaymentFailureReason_FAILURE_REASON_NO_ROUTE})},
	}
	a, ctx := connect(t, f)

	p, err := a.PayInvoice(ctx, lnunify.PayInvoiceRequest{PaymentRequest: "lnbc1"})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentFailed, p.Status)
	assert.Equal(t, "FAILURE_REASON_NO_ROUTE", p.FailureReason)
	assert.Equal(t, 1, f.count(methodSendPayment))
}

func TestPayInvoiceStreamError(t *testing.T) {
	f := newFakeBridge(t)
	f.streams[methodSendPayment] = []bridge.Event{
		{ErrorCode: "2", ErrorDesc: "invoice is already paid"},
	}
	a, ctx := connect(t, f)

	_, err := a.PayInvoice(ctx, lnunify.PayInvoiceRequest{PaymentRequest: "lnbc1"})
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "invoice is already paid")
}

func TestListUTXOsThroughWalletKit(t *testing.T) {
	f := newFakeBridge(t)
	f.unary[methodListUnspent] = func(raw []byte) (proto.Message, error) {
		req := &walletrpc.ListUnspentRequest{}
		if err := proto.Unmarshal(raw, req); err != nil {
			return nil, err
		}
		assert.EqualValues(t, 0, req.GetMinConfs())
		return &walletrpc.ListUnspentResponse{Utxos: []*lnrpc.Utxo{{
			Address:       "bc1qexample",
			AmountSat:     12345,
			Confirmations: 3,
			Outpoint:      &lnrpc.OutPoint{TxidStr: "dd", OutputIndex: 1},
		}}}, nil
	}
	a, ctx := connect(t, f)

	utxos, err := a.ListUTXOs(ctx)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, "bc1qexample", utxos[0].Address)
	assert.EqualValues(t, 12345, utxos[0].AmountSat)
}

func TestSubscribeChannelEventsEndsOnEOF(t *testing.T) {
	f := newFakeBridge(t)
	f.streams[methodSubscribeChannelEvents] = []bridge.Event{
		{Data: f.encode(&lnrpc.ChannelEventUpdate{Type: lnrpc.ChannelEventUpdate_ACTIVE_CHANNEL})},
		{ErrorCode: "1", ErrorDesc: "channel event store shutting down"},
	}
	a, ctx := connect(t, f)

	sub, err := a.SubscribeChannelEvents(ctx)
	require.NoError(t, err)

	var events []lnunify.ChannelEvent
	for ev := range sub.Updates() {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.NoError(t, sub.Err())
	assert.Equal(t, lnunify.Unsubscribed, sub.State())
}

func TestConcurrentCallsShareRoundTrip(t *testing.T) {
	f := newFakeBridge(t)
	release := make(chan struct{})
	f.unary[methodFeeReport] = func([]byte) (proto.Message, error) {
		<-release
		return &lnrpc.FeeReportResponse{DayFeeSum: 10}, nil
	}
	a, ctx := connect(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := a.GetFees(ctx)
			assert.NoError(t, err)
			assert.EqualValues(t, 10, report.DayFeeSat)
		}()
	}
	assert.Eventually(t, func() bool { return a.cache.Len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.count(methodFeeReport))
}

func TestCapabilities(t *testing.T) {
	a, ctx := connect(t, newFakeBridge(t))

	caps := a.Capabilities().Evaluate(ctx)
	assert.False(t, caps[lnunify.CapRouting].Supported)
	assert.False(t, caps[lnunify.CapAccounts].Supported)
	assert.True(t, caps[lnunify.CapSimpleTaprootChannels].Supported)
	assert.True(t, caps[lnunify.CapAMP].Supported)
}
