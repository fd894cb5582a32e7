package clncore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers commands from canned JSON replies and records the
// params it was called with.
type fakeCaller struct {
	t       *testing.T
	replies map[string]string
	errs    map[string]error

	mu     sync.Mutex
	params map[string]map[string]any
	calls  map[string]int
}

func newFakeCaller(t *testing.T) *fakeCaller {
	return &fakeCaller{
		t: t,
		replies: map[string]string{
			"getinfo": `{"id":"02cc","alias":"carol","version":"v24.08.1","network":"bitcoin",
				"blockheight":800100,"fees_collected_msat":"21000msat"}`,
		},
		errs:   make(map[string]error),
		params: make(map[string]map[string]any),
		calls:  make(map[string]int),
	}
}

func (f *fakeCaller) Call(_ context.Context, method string, params any,
	_ ...lnunify.CallOption) (json.RawMessage, error) {

	var decoded map[string]any
	if b, err := json.Marshal(params); err == nil {
		_ = json.Unmarshal(b, &decoded)
	}

	f.mu.Lock()
	f.calls[method]++
	f.params[method] = decoded
	f.mu.Unlock()

	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	reply, ok := f.replies[method]
	if !ok {
		return nil, lnunify.NewBackendError(methodNotFound, "Unknown command '"+method+"'")
	}
	return json.RawMessage(reply), nil
}

func (f *fakeCaller) paramsOf(method string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[method]
}

func (f *fakeCaller) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func readyLifecycle(t *testing.T) *lnunify.Lifecycle {
	t.Helper()
	lc := &lnunify.Lifecycle{}
	require.NoError(t, lc.Connect(context.Background(), func(context.Context) error { return nil }))
	return lc
}

func readyNode(t *testing.T, c Caller, opts ...Option) *FullNode {
	t.Helper()
	opts = append([]Option{WithAliasRate(1000, 10)}, opts...)
	return NewFull(c, readyLifecycle(t), opts...)
}

func TestNodeRequiresReady(t *testing.T) {
	n := NewFull(newFakeCaller(t), &lnunify.Lifecycle{})
	_, err := n.GetInfo(context.Background())
	assert.ErrorIs(t, err, lnunify.ErrNotReady)
	_, err = n.ListOffers(context.Background())
	assert.ErrorIs(t, err, lnunify.ErrNotReady)
}

func TestGetInfo(t *testing.T) {
	n := readyNode(t, newFakeCaller(t))

	info, err := n.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "02cc", info.Pubkey)
	assert.Equal(t, "mainnet", info.Network)
	assert.EqualValues(t, 800100, info.BlockHeight)
}

func TestListChannelsFallsBackToListPeers(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["listpeers"] = `{"peers":[{"id":"02dd","connected":true,"channels":[
		{"state":"CHANNELD_NORMAL","short_channel_id":"800000x1x0","funding_txid":"ab","funding_outnum":0,
		 "msatoshi_to_us":4000000,"msatoshi_total":10000000},
		{"state":"ONCHAIN","short_channel_id":"700000x1x0","msatoshi_total":1000}]}]}`
	f.replies["listnodes"] = `{"nodes":[{"nodeid":"02dd","alias":"dave"}]}`
	n := readyNode(t, f)

	channels, err := n.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "02dd", channels[0].RemotePubkey)
	assert.Equal(t, "dave", channels[0].Alias)
	assert.Equal(t, "ab:0", channels[0].ChannelPoint)
	assert.EqualValues(t, 4000, channels[0].LocalSat)
	assert.True(t, channels[0].Active)
	assert.Equal(t, 1, f.count("listpeerchannels"))
	assert.Equal(t, map[string]any{"id": "02dd"}, f.paramsOf("listnodes"))
}

func TestListChannelsPropagatesOtherErrors(t *testing.T) {
	f := newFakeCaller(t)
	f.errs["listpeerchannels"] = lnunify.NewBackendError(-32602, "rune does not allow")
	n := readyNode(t, f)

	_, err := n.ListChannels(context.Background())
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Zero(t, f.count("listpeers"))
}

func TestListInvoicesFromSQLRows(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["sql"] = `{"rows":[
		["lnunify.1","lnbc1",null,"aa","10000msat","paid",10000,1700000100,"bb","coffee",1700003600]]}`
	n := readyNode(t, f)

	invoices, err := n.ListInvoices(context.Background(), lnunify.ListOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "aa", invoices[0].PaymentHash)
	assert.Equal(t, "coffee", invoices[0].Memo)
	assert.EqualValues(t, 10, invoices[0].AmountPaidSat)
	assert.Equal(t, lnunify.InvoiceSettled, invoices[0].State)
	assert.Contains(t, f.paramsOf("sql")["query"], "LIMIT 5;")
}

func TestLegacyListInvoicesNewestFirst(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["listinvoices"] = `{"invoices":[
		{"payment_hash":"01","status":"paid","msatoshi":1000},
		{"payment_hash":"02","status":"unpaid","msatoshi":2000},
		{"payment_hash":"03","status":"expired","msatoshi":3000}]}`
	n := readyNode(t, f, WithDialect(Legacy))

	invoices, err := n.ListInvoices(context.Background(), lnunify.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "03", invoices[0].PaymentHash)
	assert.Equal(t, lnunify.InvoiceExpired, invoices[0].State)
	assert.Equal(t, "02", invoices[1].PaymentHash)
	assert.Zero(t, f.count("sql"))
}

func TestListTransactionsToleratesMissingBookkeeper(t *testing.T) {
	f := newFakeCaller(t)
	f.errs["sql"] = lnunify.NewBackendError(-32602, "no such table: bkpr_accountevents")
	f.replies["listtransactions"] = `{"transactions":[{"hash":"aa","outputs":[]}]}`
	n := readyNode(t, f)

	txs, err := n.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCreateInvoiceParams(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["invoice"] = `{"payment_hash":"cc","bolt11":"lnbc210n1","expires_at":1700003600}`
	n := readyNode(t, f)

	inv, err := n.CreateInvoice(context.Background(), lnunify.CreateInvoiceRequest{ValueSat: 21, Memo: "tip"})
	require.NoError(t, err)
	assert.Equal(t, "lnbc210n1", inv.PaymentRequest)
	assert.EqualValues(t, 21000, inv.ValueMsat)

	params := f.paramsOf("invoice")
	assert.EqualValues(t, 21000, params["amount_msat"])
	assert.Equal(t, "tip", params["description"])
	assert.Equal(t, inv.Label, params["label"])
	assert.Regexp(t, `^lnunify\.[0-9a-f-]{36}$`, inv.Label)

	_, err = n.CreateInvoice(context.Background(), lnunify.CreateInvoiceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "any", f.paramsOf("invoice")["amount_msat"])
}

func TestPayInvoice(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["pay"] = `{"payment_hash":"dd","payment_preimage":"ee","status":"complete",
		"amount_msat":50000,"amount_sent_msat":50020,"destination":"02dd"}`
	n := readyNode(t, f)

	p, err := n.PayInvoice(context.Background(), lnunify.PayInvoiceRequest{
		PaymentRequest: "lnbc500n1",
		FeeLimitSat:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentSucceeded, p.Status)
	assert.EqualValues(t, 20, p.FeeMsat)
	assert.Equal(t, "lnbc500n1", p.PaymentRequest)

	params := f.paramsOf("pay")
	assert.EqualValues(t, 3000, params["maxfee"])
	assert.EqualValues(t, defaultPaymentTimeout, params["retry_for"])
	assert.NotContains(t, params, "amount_msat")
}

func TestCloseChannelResolvesChannelPoint(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["listpeerchannels"] = `{"channels":[{"peer_id":"02dd","state":"CHANNELD_NORMAL",
		"short_channel_id":"800000x1x0","channel_id":"cid","funding_txid":"ab","funding_outnum":1}]}`
	f.replies["close"] = `{"type":"mutual","txid":"ff"}`
	n := readyNode(t, f)

	closed, err := n.CloseChannel(context.Background(), lnunify.CloseChannelRequest{
		ChannelPoint: "ab:1",
		Force:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ff", closed.ClosingTxID)
	assert.Equal(t, map[string]any{"id": "800000x1x0", "unilateraltimeout": float64(forceCloseTimeout)},
		f.paramsOf("close"))
}

func TestConnectPeerSplitsHost(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["connect"] = `{"id":"02dd"}`
	n := readyNode(t, f)

	require.NoError(t, n.ConnectPeer(context.Background(), lnunify.ConnectPeerRequest{
		Pubkey: "02dd",
		Host:   "203.0.113.5:9736",
	}))
	assert.Equal(t, map[string]any{"id": "02dd", "host": "203.0.113.5", "port": float64(9736)},
		f.paramsOf("connect"))
}

func TestGetFeesLegacyUsesGossip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	f := newFakeCaller(t)
	f.replies["listpeers"] = `{"peers":[{"id":"02dd","channels":[
		{"state":"CHANNELD_NORMAL","short_channel_id":"1x1x0","funding_txid":"ab","funding_outnum":0}]}]}`
	f.replies["listchannels"] = `{"channels":[
		{"short_channel_id":"1x1x0","base_fee_millisatoshi":1000,"fee_per_millionth":250}]}`
	f.replies["listforwards"] = `{"forwards":[
		{"status":"settled","fee":2000,"resolved_time":1699999000},
		{"status":"failed","fee":9000,"resolved_time":1699999000},
		{"status":"settled","fee":5000,"resolved_time":1699000000}]}`
	n := readyNode(t, f, WithDialect(Legacy), WithClock(func() time.Time { return now }))

	report, err := n.GetFees(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.DayFeeSat)
	assert.EqualValues(t, 2, report.WeekFeeSat)
	assert.EqualValues(t, 7, report.MonthFeeSat)
	assert.EqualValues(t, 21, report.TotalFeeSat)
	require.Len(t, report.ChannelFees, 1)
	assert.EqualValues(t, 1000, report.ChannelFees[0].BaseFeeMsat)
	assert.EqualValues(t, 250, report.ChannelFees[0].FeeRatePPM)
	assert.Equal(t, map[string]any{"source": "02cc"}, f.paramsOf("listchannels"))
}

func TestSetFees(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["setchannel"] = `{"channels":[]}`
	f.replies["setchannelfee"] = `{"base":1,"ppm":2}`

	n := readyNode(t, f)
	require.NoError(t, n.SetFees(context.Background(), lnunify.SetFeesRequest{
		Global: true, BaseFeeMsat: 1000, FeeRatePPM: 100,
	}))
	assert.Equal(t, map[string]any{"id": "all", "feebase": float64(1000), "feeppm": float64(100)},
		f.paramsOf("setchannel"))

	legacy := readyNode(t, f, WithDialect(Legacy))
	require.NoError(t, legacy.SetFees(context.Background(), lnunify.SetFeesRequest{
		ChannelID: "1x1x0", BaseFeeMsat: 1, FeeRatePPM: 2,
	}))
	assert.Equal(t, map[string]any{"id": "1x1x0", "base": float64(1), "ppm": float64(2)},
		f.paramsOf("setchannelfee"))
}

func TestSendKeysendExtraTLVs(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["keysend"] = `{"payment_hash":"ab","status":"complete","amount_msat":1000,"amount_sent_msat":1000}`
	n := readyNode(t, f)

	p, err := n.SendKeysend(context.Background(), lnunify.KeysendRequest{
		Destination: "02dd",
		AmountSat:   1,
		Message:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "02dd", p.Destination)
	assert.Equal(t, map[string]any{"34349334": "6869"}, f.paramsOf("keysend")["extratlvs"])
}

func TestSignAndVerifyMessage(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["signmessage"] = `{"signature":"00","recid":"00","zbase":"d7abc"}`
	f.replies["checkmessage"] = `{"verified":true,"pubkey":"02dd"}`
	n := readyNode(t, f)

	sig, err := n.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "d7abc", sig.Signature)

	v, err := n.VerifyMessage(context.Background(), lnunify.VerifyMessageRequest{
		Message: "hello", Signature: "d7abc", Pubkey: "02dd",
	})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, map[string]any{"message": "hello", "zbase": "d7abc", "pubkey": "02dd"},
		f.paramsOf("checkmessage"))
}

func TestOffers(t *testing.T) {
	f := newFakeCaller(t)
	f.replies["offer"] = `{"offer_id":"o1","active":true,"single_use":false,"bolt12":"lno1","used":false}`
	f.replies["fetchinvoice"] = `{"invoice":"lni1","changes":{"amount_msat":"2000msat"}}`
	n := readyNode(t, f)

	offer, err := n.CreateOffer(context.Background(), lnunify.CreateOfferRequest{Description: "donate"})
	require.NoError(t, err)
	assert.Equal(t, "lno1", offer.Bolt12)
	assert.Equal(t, "donate", offer.Description)
	assert.Equal(t, "any", f.paramsOf("offer")["amount"])

	inv, err := n.FetchInvoice(context.Background(), lnunify.FetchInvoiceRequest{Offer: "lno1", AmountMsat: 1000})
	require.NoError(t, err)
	assert.Equal(t, "lni1", inv.Bolt12Invoice)
	assert.EqualValues(t, 2000, inv.AmountMsat)
	assert.Equal(t, "2000", inv.Changes["amount_msat"])
}

func TestOffersCapability(t *testing.T) {
	tests := []struct {
		name    string
		version string
		configs string
		want    bool
	}{
		{name: "release default", version: "v24.11", want: true},
		{name: "flag object", version: "v24.08", configs: `{"configs":{"experimental-offers":{"set":true}}}`, want: true},
		{name: "legacy flag", version: "v23.05", configs: `{"experimental-offers":true}`, want: true},
		{name: "disabled", version: "v24.08", configs: `{"configs":{}}`, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeCaller(t)
			f.replies["getinfo"] = `{"id":"02cc","version":"` + tc.version + `"}`
			if tc.configs != "" {
				f.replies["listconfigs"] = tc.configs
			}
			n := readyNode(t, f)

			ok, err := n.Capabilities().Supports(context.Background(), lnunify.CapOffers)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			if tc.configs == "" {
				assert.Zero(t, f.count("listconfigs"))
			}
		})
	}
}

func TestLegacyCapabilities(t *testing.T) {
	n := readyNode(t, newFakeCaller(t), WithDialect(Legacy))

	caps := n.Node.Capabilities().Evaluate(context.Background())
	assert.False(t, caps[lnunify.CapKeysend].Supported)
	assert.False(t, caps[lnunify.CapMessageSigning].Supported)
	assert.False(t, caps[lnunify.CapTaproot].Supported)
	assert.True(t, caps[lnunify.CapRouting].Supported)
}

func TestCachedCallerSharesRoundTrip(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	next := CallerFunc(func(ctx context.Context, method string, params any,
		_ ...lnunify.CallOption) (json.RawMessage, error) {

		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return json.RawMessage(`{}`), nil
	})
	cache := lnunify.NewRequestCache()
	c := Cached(next, cache, "node")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), "listfunds", nil)
			assert.NoError(t, err)
		}()
	}
	assert.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
