package eclair

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "hunter2"

var testNow = time.Unix(1700000000, 0)

const testChannels = `[{
	"nodeId":"02dd","channelId":"c1","state":"NORMAL",
	"data":{"commitments":{
		"localParams":{"nodeId":"03aa","toSelfDelay":144,"isInitiator":true},
		"remoteParams":{"nodeId":"02dd"},
		"channelFlags":{"announceChannel":true},
		"localCommit":{"spec":{"toLocal":700000000,"toRemote":300000000}}},
	 "channelUpdate":{"shortChannelId":"1x2x3","feeBaseMsat":1000,"feeProportionalMillionths":100}}
},{
	"nodeId":"02ee","channelId":"c2","state":"WAIT_FOR_FUNDING_CONFIRMED",
	"data":{"commitments":{"localCommit":{"spec":{"toLocal":50000000,"toRemote":0}}}}
},{
	"nodeId":"02ff","channelId":"c3","state":"CLOSED",
	"data":{"commitments":{"localCommit":{"spec":{"toLocal":0,"toRemote":0}}}}
}]`

// forms records the decoded form of every call by method.
type forms struct {
	mu sync.Mutex
	m  map[string][]url.Values
}

func (f *forms) last(method string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.m[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func (f *forms) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m[method])
}

// newTestAdapter serves replies by method. A reply may be a func to
// compute it per call.
func newTestAdapter(t *testing.T, replies map[string]any) (*Adapter, *forms) {
	t.Helper()
	if _, ok := replies["getinfo"]; !ok {
		replies["getinfo"] = `{"version":"0.11.0-abc","nodeId":"03aa","alias":"carol","color":"#49daaa",
			"network":"regtest","blockHeight":500,"publicAddresses":["10.0.0.1:9735"]}`
	}
	recorded := &forms{m: make(map[string][]url.Values)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Empty(t, user)
		assert.Equal(t, testPassword, pass)
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseForm()) {
			return
		}

		method := r.URL.Path[1:]
		recorded.mu.Lock()
		recorded.m[method] = append(recorded.m[method], r.PostForm)
		recorded.mu.Unlock()

		switch reply := replies[method].(type) {
		case string:
			fmt.Fprint(w, reply)
		case func(url.Values) string:
			fmt.Fprint(w, reply(r.PostForm))
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"unknown method"}`)
		}
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{URL: srv.URL + "/", Password: testPassword},
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return testNow }),
		WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, a.Connect(ctx))
	return a, recorded
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Password: testPassword})
	assert.Error(t, err)

	_, err = New(Config{URL: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestConnectWrongPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid authentication"}`)
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{URL: srv.URL, Password: "wrong"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = a.Connect(context.Background())
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "invalid authentication")
	assert.Equal(t, lnunify.StateDisconnected, a.State())
}

func TestGetInfo(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{"channels": testChannels})
	assert.Equal(t, lnunify.KindEclair, a.Kind())

	info, err := a.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "03aa", info.Pubkey)
	assert.Equal(t, "carol", info.Alias)
	assert.EqualValues(t, 500, info.BlockHeight)
	assert.Equal(t, []string{"03aa@10.0.0.1:9735"}, info.URIs)
	assert.EqualValues(t, 1, info.NumActiveChannels)
	assert.EqualValues(t, 1, info.NumPendingChannels)
	assert.EqualValues(t, 3, info.NumPeers)
}

func TestGetBalance(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{
		"channels":       testChannels,
		"onchainbalance": `{"confirmed":120000,"unconfirmed":5000}`,
	})

	b, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b.Onchain)
	assert.EqualValues(t, 125000, b.Onchain.TotalSat)
	assert.EqualValues(t, 700000, b.Lightning.LocalSat)
	assert.EqualValues(t, 300000, b.Lightning.RemoteSat)
	assert.EqualValues(t, 50000, b.Lightning.PendingOpenSat)
}

func TestListChannelsSkipsClosedAndResolvesAliases(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"channels": testChannels,
		"nodes": func(form url.Values) string {
			if form.Get("nodeIds") == "02dd" {
				return `[{"nodeId":"02dd","alias":"dave"}]`
			}
			return `[]`
		},
	})

	channels, err := a.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)

	assert.Equal(t, "c1", channels[0].ChannelID)
	assert.Equal(t, "1x2x3", channels[0].ShortChannelID)
	assert.Equal(t, "dave", channels[0].Alias)
	assert.True(t, channels[0].Initiator)
	assert.False(t, channels[0].Private)
	assert.EqualValues(t, 1000000, channels[0].CapacitySat)

	assert.Equal(t, lnunify.ChannelPendingOpen, channels[1].Status)
	assert.Empty(t, channels[1].Alias)
	assert.Equal(t, 2, f.count("nodes"))
}

func TestListInvoicesMergesPending(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"listinvoices": `[
			{"serialized":"lnbcrt1a","description":"paid","paymentHash":"01","expiry":3600,
			 "timestamp":1699990000,"amount":1000000},
			{"serialized":"lnbcrt1b","description":"open","paymentHash":"02","expiry":3600,
			 "timestamp":1699999000,"amount":2000000},
			{"serialized":"lnbcrt1c","description":"old","paymentHash":"03","expiry":60,
			 "timestamp":1699000000}]`,
		"listpendinginvoices": `[
			{"serialized":"lnbcrt1b","paymentHash":"02","expiry":3600,"timestamp":1699999000,"amount":2000000},
			{"serialized":"lnbcrt1c","paymentHash":"03","expiry":60,"timestamp":1699000000}]`,
	})

	invoices, err := a.ListInvoices(context.Background(), lnunify.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "02", invoices[0].PaymentHash)
	assert.Equal(t, lnunify.InvoiceOpen, invoices[0].State)
	assert.Equal(t, "01", invoices[1].PaymentHash)
	assert.Equal(t, lnunify.InvoiceSettled, invoices[1].State)
	assert.EqualValues(t, 1000, invoices[1].AmountPaidSat)

	from := fmt.Sprint(testNow.Add(-invoiceWindow).Unix())
	assert.Equal(t, from, f.last("listinvoices").Get("from"))
	assert.Equal(t, from, f.last("listpendinginvoices").Get("from"))
}

func TestCreateInvoiceForm(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"createinvoice": `{"serialized":"lnbcrt25u1","description":"coffee","paymentHash":"aa",
			"expiry":600,"timestamp":1700000000,"amount":2500000,"nodeId":"03aa"}`,
	})

	inv, err := a.CreateInvoice(context.Background(), lnunify.CreateInvoiceRequest{
		ValueSat: 2500,
		Memo:     "coffee",
		Expiry:   600,
	})
	require.NoError(t, err)
	assert.Equal(t, "lnbcrt25u1", inv.PaymentRequest)
	assert.Equal(t, lnunify.InvoiceOpen, inv.State)
	assert.EqualValues(t, 1700000600, inv.ExpiresAt)

	form := f.last("createinvoice")
	assert.Equal(t, "coffee", form.Get("description"))
	assert.Equal(t, "2500000", form.Get("amountMsat"))
	assert.Equal(t, "600", form.Get("expireIn"))
}

func TestPayInvoicePollsUntilSent(t *testing.T) {
	polls := 0
	a, f := newTestAdapter(t, map[string]any{
		"payinvoice": `"b2a4c5f0-5b1d-4c5e-8a5a-3f5e0f2c1d00"`,
		"getsentinfo": func(url.Values) string {
			polls++
			if polls < 3 {
				return `[{"id":"b2a4","paymentHash":"ph","recipientAmount":10000,"recipientNodeId":"02dd",
					"createdAt":1700000000000,"status":{"type":"pending"}}]`
			}
			return `[{"id":"b2a4","paymentHash":"ph","recipientAmount":10000,"recipientNodeId":"02dd",
				"createdAt":1700000000000,
				"status":{"type":"sent","paymentPreimage":"pre","feesPaid":2000}}]`
		},
	})

	p, err := a.PayInvoice(context.Background(), lnunify.PayInvoiceRequest{
		PaymentRequest: "lnbcrt100n1",
		FeeLimitSat:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentSucceeded, p.Status)
	assert.Equal(t, "pre", p.Preimage)
	assert.EqualValues(t, 2, p.FeeSat)
	assert.EqualValues(t, 1700000000, p.CreatedAt)
	assert.Equal(t, "lnbcrt100n1", p.PaymentRequest)
	assert.Equal(t, 3, polls)

	assert.Equal(t, "lnbcrt100n1", f.last("payinvoice").Get("invoice"))
	assert.Equal(t, "3", f.last("payinvoice").Get("maxFeeFlatSat"))
	assert.Equal(t, "b2a4c5f0-5b1d-4c5e-8a5a-3f5e0f2c1d00", f.last("getsentinfo").Get("id"))
}

func TestPayInvoiceFailed(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{
		"payinvoice": `"id1"`,
		"getsentinfo": `[{"id":"id1","paymentHash":"ph","recipientAmount":10000,
			"status":{"type":"failed","failures":[{"failureMessage":"route not found"}]}}]`,
	})

	p, err := a.PayInvoice(context.Background(), lnunify.PayInvoiceRequest{PaymentRequest: "lnbcrt1"})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentFailed, p.Status)
	assert.Equal(t, "route not found", p.FailureReason)
}

func TestPayInvoiceStillPendingAtTimeout(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{
		"payinvoice":  `"id1"`,
		"getsentinfo": `[{"id":"id1","paymentHash":"ph","recipientAmount":10000,"status":{"type":"pending"}}]`,
	})

	p, err := a.awaitPayment(context.Background(), "id1", "lnbcrt1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentInFlight, p.Status)
	assert.Equal(t, "ph", p.PaymentHash)
}

func TestSendOnchain(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{"sendonchain": `"deadbeef"`})

	sent, err := a.SendOnchain(context.Background(), lnunify.SendOnchainRequest{
		Address:   "bcrt1qxyz",
		AmountSat: 21000,
	})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", sent.TxID)
	assert.Equal(t, "21000", f.last("sendonchain").Get("amountSatoshis"))
	assert.Equal(t, "6", f.last("sendonchain").Get("confirmationTarget"))

	_, err = a.SendOnchain(context.Background(), lnunify.SendOnchainRequest{Address: "bcrt1qxyz", SendAll: true})
	assert.ErrorIs(t, err, lnunify.ErrCapabilityDenied)
}

func TestOpenChannelConnectsFirst(t *testing.T) {
	txid := "a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1"
	a, f := newTestAdapter(t, map[string]any{
		"connect": `"connected"`,
		"open":    `"created channel e1 with fundingTxId=` + txid + ` and fees=720 sat"`,
	})

	opened, err := a.OpenChannel(context.Background(), lnunify.OpenChannelRequest{
		NodePubkey:  "02dd",
		Host:        "10.0.0.2:9735",
		LocalSat:    100000,
		SatPerVbyte: 4,
		Private:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, txid, opened.FundingTxID)

	assert.Equal(t, "02dd@10.0.0.2:9735", f.last("connect").Get("uri"))
	form := f.last("open")
	assert.Equal(t, "02dd", form.Get("nodeId"))
	assert.Equal(t, "100000", form.Get("fundingSatoshis"))
	assert.Equal(t, "4", form.Get("fundingFeerateSatByte"))
	assert.Equal(t, "0", form.Get("channelFlags"))
}

func TestCloseChannel(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"close":      `{"c1":"ok"}`,
		"forceclose": `{"c1":"channel not found"}`,
	})

	_, err := a.CloseChannel(context.Background(), lnunify.CloseChannelRequest{ChannelID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", f.last("close").Get("channelId"))

	_, err = a.CloseChannel(context.Background(), lnunify.CloseChannelRequest{ChannelID: "c1", Force: true})
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "channel not found")

	_, err = a.CloseChannel(context.Background(), lnunify.CloseChannelRequest{ChannelPoint: "ab:0"})
	assert.Error(t, err)
}

func TestSignAndVerifyMessage(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"signmessage":   `{"nodeId":"03aa","message":"aGVsbG8=","signature":"1fabcd"}`,
		"verifymessage": `{"valid":true,"publicKey":"03aa"}`,
	})

	sig, err := a.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "1fabcd", sig.Signature)
	assert.Equal(t, "aGVsbG8=", f.last("signmessage").Get("msg"))

	v, err := a.VerifyMessage(context.Background(), lnunify.VerifyMessageRequest{
		Message:   "hello",
		Signature: "1fabcd",
	})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "03aa", v.Pubkey)
	assert.Equal(t, "1fabcd", f.last("verifymessage").Get("sig"))

	v, err = a.VerifyMessage(context.Background(), lnunify.VerifyMessageRequest{
		Message:   "hello",
		Signature: "1fabcd",
		Pubkey:    "02ff",
	})
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestGetFees(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{
		"channels": testChannels,
		"audit": `{"sent":[],"relayed":[
			{"amountIn":1002000,"amountOut":1000000,"timestamp":{"iso":"","unix":1699990000}},
			{"amountIn":1010000,"amountOut":1000000,"timestamp":1699000000000}]}`,
	})

	fees, err := a.GetFees(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fees.DayFeeSat)
	assert.EqualValues(t, 2, fees.WeekFeeSat)
	assert.EqualValues(t, 12, fees.MonthFeeSat)
	assert.EqualValues(t, 12, fees.TotalFeeSat)
	require.Len(t, fees.ChannelFees, 1)
	assert.EqualValues(t, 1000, fees.ChannelFees[0].BaseFeeMsat)
	assert.EqualValues(t, 100, fees.ChannelFees[0].FeeRatePPM)
}

func TestSetFeesGlobal(t *testing.T) {
	a, f := newTestAdapter(t, map[string]any{
		"channels":       testChannels,
		"updaterelayfee": `{"c1":{"cmd":"ok"}}`,
	})

	require.NoError(t, a.SetFees(context.Background(), lnunify.SetFeesRequest{
		Global:      true,
		BaseFeeMsat: 500,
		FeeRatePPM:  50,
	}))
	form := f.last("updaterelayfee")
	assert.Equal(t, "c1", form.Get("channelIds"))
	assert.Equal(t, "500", form.Get("feeBaseMsat"))
	assert.Equal(t, "50", form.Get("feeProportionalMillionths"))

	assert.Error(t, a.SetFees(context.Background(), lnunify.SetFeesRequest{BaseFeeMsat: 1}))
}

func TestCapabilities(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]any{})

	caps := a.Capabilities().Evaluate(context.Background())
	assert.False(t, caps[lnunify.CapKeysend].Supported)
	assert.True(t, caps[lnunify.CapMessageSigning].Supported)
	assert.True(t, caps[lnunify.CapLnurlAuth].Supported)
	assert.False(t, caps[lnunify.CapOffers].Supported)
}
