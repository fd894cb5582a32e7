package lndcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRPC implements the methods a test needs, anything else panics through
// the nil embedded interface.
type fakeRPC struct {
	RPC

	version  string
	channels []*lnrpc.Channel
	aliases  map[string]string
	invoices []*lnrpc.Invoice
	payment  *lnrpc.Payment
	failed   []*lnrpc.FailedUpdate
	verify   *lnrpc.VerifyMessageResponse

	mu        sync.Mutex
	infoCalls int
	invReq    *lnrpc.ListInvoiceRequest
	sendReq   *routerrpc.SendPaymentRequest
	closeReq  *lnrpc.CloseChannelRequest
	policyReq *lnrpc.PolicyUpdateRequest
}

func (f *fakeRPC) GetInfo(context.Context) (*lnrpc.GetInfoResponse, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	return &lnrpc.GetInfoResponse{
		IdentityPubkey: "02aa",
		Version:        f.version,
		Chains:         []*lnrpc.Chain{{Chain: "bitcoin", Network: "mainnet"}},
	}, nil
}

func (f *fakeRPC) ListChannels(context.Context) (*lnrpc.ListChannelsResponse, error) {
	return &lnrpc.ListChannelsResponse{Channels: f.channels}, nil
}

func (f *fakeRPC) PendingChannels(context.Context) (*lnrpc.PendingChannelsResponse, error) {
	return &lnrpc.PendingChannelsResponse{}, nil
}

func (f *fakeRPC) GetNodeInfo(_ context.Context, pubkey string) (*lnrpc.NodeInfo, error) {
	alias, ok := f.aliases[pubkey]
	if !ok {
		return nil, errors.New("unable to find node")
	}
	return &lnrpc.NodeInfo{Node: &lnrpc.LightningNode{Alias: alias}}, nil
}

func (f *fakeRPC) ListInvoices(_ context.Context, req *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error) {
	f.invReq = req
	return &lnrpc.ListInvoiceResponse{Invoices: f.invoices}, nil
}

func (f *fakeRPC) SendPayment(_ context.Context, req *routerrpc.SendPaymentRequest) (*lnrpc.Payment, error) {
	f.sendReq = req
	return f.payment, nil
}

func (f *fakeRPC) CloseChannel(_ context.Context, req *lnrpc.CloseChannelRequest) (*lnrpc.PendingUpdate, error) {
	f.closeReq = req
	txid := make([]byte, 32)
	txid[0] = 0xff
	return &lnrpc.PendingUpdate{Txid: txid}, nil
}

func (f *fakeRPC) UpdateChannelPolicy(_ context.Context, req *lnrpc.PolicyUpdateRequest) (*lnrpc.PolicyUpdateResponse, error) {
	f.policyReq = req
	return &lnrpc.PolicyUpdateResponse{FailedUpdates: f.failed}, nil
}

func (f *fakeRPC) VerifyMessage(context.Context, []byte, string) (*lnrpc.VerifyMessageResponse, error) {
	return f.verify, nil
}

func (f *fakeRPC) SubscribeInvoices(ctx context.Context, fn func(*lnrpc.Invoice) bool) error {
	for _, inv := range f.invoices {
		if !fn(inv) {
			return nil
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func readyNode(t *testing.T, rpc RPC) *Node {
	t.Helper()
	lc := &lnunify.Lifecycle{}
	require.NoError(t, lc.Connect(context.Background(), func(context.Context) error { return nil }))
	return New(rpc, lc, WithAliasRate(1000, 10))
}

const chanPoint = "aa00000000000000000000000000000000000000000000000000000000000000:1"

func TestNodeRequiresReady(t *testing.T) {
	n := New(&fakeRPC{}, &lnunify.Lifecycle{})
	_, err := n.GetInfo(context.Background())
	assert.ErrorIs(t, err, lnunify.ErrNotReady)
	_, err = n.ListChannels(context.Background())
	assert.ErrorIs(t, err, lnunify.ErrNotReady)
}

func TestNodeListChannelsEnrichesAliases(t *testing.T) {
	rpc := &fakeRPC{
		channels: []*lnrpc.Channel{
			{RemotePubkey: "02known", ChannelPoint: chanPoint},
			{RemotePubkey: "02unknown"},
			{RemotePubkey: "02peer", PeerAlias: "from-peer"},
		},
		aliases: map[string]string{"02known": "known", "02peer": "graph"},
	}
	n := readyNode(t, rpc)

	chans, err := n.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, chans, 3)
	assert.Equal(t, "known", chans[0].Alias)
	assert.Empty(t, chans[1].Alias)
	assert.Equal(t, "from-peer", chans[2].Alias)
}

func TestNodeListInvoicesNewestFirst(t *testing.T) {
	rpc := &fakeRPC{invoices: []*lnrpc.Invoice{
		{RHash: []byte{1}, CreationDate: 100},
		{RHash: []byte{2}, CreationDate: 300},
		{RHash: []byte{3}, CreationDate: 200},
	}}
	n := readyNode(t, rpc)

	invs, err := n.ListInvoices(context.Background(), lnunify.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(lnunify.DefaultListLimit), rpc.invReq.GetNumMaxInvoices())
	assert.True(t, rpc.invReq.GetReversed())
	require.Len(t, invs, 3)
	assert.Equal(t, "02", invs[0].PaymentHash)
	assert.Equal(t, "01", invs[2].PaymentHash)
}

func TestNodePayInvoiceDefaults(t *testing.T) {
	rpc := &fakeRPC{payment: &lnrpc.Payment{
		PaymentHash: "ab",
		ValueMsat:   5000,
		Status:      lnrpc.Payment_FAILED,
	}}
	n := readyNode(t, rpc)

	p, err := n.PayInvoice(context.Background(), lnunify.PayInvoiceRequest{
		PaymentRequest: "lnbc1",
		LastHopPubkey:  "02ff",
	})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentFailed, p.Status)
	assert.Equal(t, "lnbc1", p.PaymentRequest)
	assert.Equal(t, int32(defaultPaymentTimeout), rpc.sendReq.GetTimeoutSeconds())
	assert.True(t, rpc.sendReq.GetNoInflightUpdates())
	assert.Equal(t, []byte{0x02, 0xff}, rpc.sendReq.GetLastHopPubkey())
}

func TestNodeKeysendPreimageRecord(t *testing.T) {
	rpc := &fakeRPC{payment: &lnrpc.Payment{Status: lnrpc.Payment_SUCCEEDED}}
	n := readyNode(t, rpc)
	dest := "02" + strings.Repeat("11", 32)

	p, err := n.SendKeysend(context.Background(), lnunify.KeysendRequest{
		Destination: dest,
		AmountSat:   21,
		Message:     "hi",
	})
	require.NoError(t, err)

	preimage := rpc.sendReq.GetDestCustomRecords()[KeysendPreimageRecord]
	require.Len(t, preimage, 32)
	hash := sha256.Sum256(preimage)
	assert.Equal(t, hash[:], rpc.sendReq.GetPaymentHash())
	assert.Equal(t, []byte("hi"), rpc.sendReq.GetDestCustomRecords()[KeysendMessageRecord])
	assert.Equal(t, dest, p.Destination)

	_, err = n.SendKeysend(context.Background(), lnunify.KeysendRequest{Destination: "02"})
	assert.Error(t, err)
}

func TestNodeCloseChannelByID(t *testing.T) {
	rpc := &fakeRPC{channels: []*lnrpc.Channel{
		{ChanId: 770499265909358593, ChannelPoint: chanPoint},
	}}
	n := readyNode(t, rpc)

	closed, err := n.CloseChannel(context.Background(), lnunify.CloseChannelRequest{
		ChannelID: "700765x1082x1",
		Force:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("00", 31)+"ff", closed.ClosingTxID)
	assert.Equal(t, uint32(1), rpc.closeReq.GetChannelPoint().GetOutputIndex())
	assert.True(t, rpc.closeReq.GetForce())

	_, err = n.CloseChannel(context.Background(), lnunify.CloseChannelRequest{ChannelID: "1"})
	assert.ErrorContains(t, err, "not found")
}

func TestNodeSetFees(t *testing.T) {
	rpc := &fakeRPC{}
	n := readyNode(t, rpc)

	err := n.SetFees(context.Background(), lnunify.SetFeesRequest{
		Global:            true,
		BaseFeeMsat:       1000,
		FeeRatePPM:        250,
		InboundFeeRatePPM: -50,
	})
	require.NoError(t, err)
	assert.True(t, rpc.policyReq.GetGlobal())
	assert.Equal(t, uint32(250), rpc.policyReq.GetFeeRatePpm())
	assert.Equal(t, uint32(defaultTimeLockDelta), rpc.policyReq.GetTimeLockDelta())
	assert.Equal(t, int32(-50), rpc.policyReq.GetInboundFee().GetFeeRatePpm())

	rpc.failed = []*lnrpc.FailedUpdate{{UpdateError: "edge not found"}}
	err = n.SetFees(context.Background(), lnunify.SetFeesRequest{ChannelPoint: chanPoint})
	assert.ErrorIs(t, err, lnunify.ErrBackend)
	assert.EqualError(t, err, "edge not found")
	assert.Equal(t, "aa"+strings.Repeat("00", 31), rpc.policyReq.GetChanPoint().GetFundingTxidStr())
}

func TestNodeVerifyMessageExpectedPubkey(t *testing.T) {
	rpc := &fakeRPC{verify: &lnrpc.VerifyMessageResponse{Valid: true, Pubkey: "02aa"}}
	n := readyNode(t, rpc)

	res, err := n.VerifyMessage(context.Background(), lnunify.VerifyMessageRequest{Message: "m", Signature: "s"})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = n.VerifyMessage(context.Background(), lnunify.VerifyMessageRequest{
		Message: "m", Signature: "s", Pubkey: "03bb",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestNodeCapabilitiesFollowVersion(t *testing.T) {
	rpc := &fakeRPC{version: "0.17.4-beta commit=v0.17.4-beta"}
	n := readyNode(t, rpc)
	caps := n.Capabilities()
	ctx := context.Background()

	for c, want := range map[lnunify.Capability]bool{
		lnunify.CapMPP:                   true,
		lnunify.CapSimpleTaprootChannels: true,
		lnunify.CapInboundFees:           false,
		lnunify.CapOffers:                false,
		lnunify.CapKeysend:               true,
	} {
		ok, err := caps.Supports(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, want, ok, c)
	}

	rpc.version = "0.18.3-beta"
	ok, err := caps.Supports(ctx, lnunify.CapInboundFees)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNodeSubscribeInvoices(t *testing.T) {
	rpc := &fakeRPC{invoices: []*lnrpc.Invoice{
		{RHash: []byte{1}, State: lnrpc.Invoice_SETTLED},
		{RHash: []byte{2}},
	}}
	n := readyNode(t, rpc)

	sub, err := n.SubscribeInvoices(context.Background())
	require.NoError(t, err)

	first := <-sub.Updates()
	assert.Equal(t, lnunify.InvoiceSettled, first.Invoice.State)
	second := <-sub.Updates()
	assert.Equal(t, "02", second.Invoice.PaymentHash)

	sub.Close()
	assert.NoError(t, sub.Err())
	assert.Equal(t, lnunify.Unsubscribed, sub.State())
}

func TestParseChannelPoint(t *testing.T) {
	cp, err := ParseChannelPoint(chanPoint)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cp.GetOutputIndex())

	for _, bad := range []string{"", "aa:1", chanPoint[:64], chanPoint[:65] + "x"} {
		_, err := ParseChannelPoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnaryCoalescesIdenticalCalls(t *testing.T) {
	cache := lnunify.NewRequestCache()
	var calls atomic.Int32
	release := make(chan struct{})

	call := func(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
		calls.Add(1)
		<-release
		return &lnrpc.GetInfoResponse{Alias: "node"}, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Unary(context.Background(), cache, "GetInfo", &lnrpc.GetInfoRequest{}, call)
			if err == nil {
				results[i] = r.GetAlias()
			}
		}(i)
	}

	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, time.Millisecond)
	// Give the remaining goroutines time to join the pending call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"node", "node", "node"}, results)
}
