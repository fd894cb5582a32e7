package lnd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	testMacaroon = "0201036c6e64"
	testTxid     = "aa00000000000000000000000000000000000000000000000000000000000000"
)

func newTestAdapter(t *testing.T, mux *http.ServeMux) *Adapter {
	t.Helper()

	mux.HandleFunc("/v1/getinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testMacaroon, r.Header.Get("Grpc-Metadata-macaroon"))
		fmt.Fprint(w, `{"identity_pubkey":"02aa","alias":"alice","version":"0.18.3-beta commit=v0.18.3-beta",
			"block_height":850000,"synced_to_chain":true,"chains":[{"chain":"bitcoin","network":"mainnet"}],
			"num_active_channels":3,"unknown_field":1}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(Config{Host: srv.URL, Macaroon: testMacaroon}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func connect(t *testing.T, a *Adapter) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, a.Connect(ctx))
	return ctx
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Macaroon: testMacaroon})
	assert.Error(t, err)

	_, err = New(Config{Host: "localhost"})
	assert.Error(t, err)
}

func TestConnectAndGetInfo(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux())

	_, err := a.GetInfo(context.Background())
	require.ErrorIs(t, err, lnunify.ErrNotReady)

	ctx := connect(t, a)
	assert.Equal(t, lnunify.StateReady, a.State())
	assert.Equal(t, lnunify.KindLND, a.Kind())

	info, err := a.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "02aa", info.Pubkey)
	assert.Equal(t, "alice", info.Alias)
	assert.Equal(t, "mainnet", info.Network)
	assert.EqualValues(t, 850000, info.BlockHeight)

	ok, err := a.Capabilities().Supports(ctx, lnunify.CapInboundFees)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Close())
	assert.Equal(t, lnunify.StateDisconnected, a.State())
}

func TestConnectBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":2,"message":"verification failed: signature mismatch after caveat verification"}`)
	}))
	defer srv.Close()

	a, err := New(Config{Host: srv.URL, Macaroon: testMacaroon}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = a.Connect(context.Background())
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "signature mismatch")
	assert.Equal(t, lnunify.StateDisconnected, a.State())
}

func TestListInvoicesQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("reversed"))
		assert.Equal(t, "2", r.URL.Query().Get("num_max_invoices"))
		fmt.Fprint(w, `{"invoices":[
			{"r_hash":"AQI=","value":"10","creation_date":"100","state":"SETTLED","amt_paid_sat":"10"},
			{"r_hash":"AwQ=","value":"20","creation_date":"200","state":"OPEN"}]}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	invoices, err := a.ListInvoices(ctx, lnunify.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "0304", invoices[0].PaymentHash)
	assert.Equal(t, "0102", invoices[1].PaymentHash)
	assert.EqualValues(t, 10000, invoices[1].ValueMsat)
	assert.Equal(t, lnunify.InvoiceSettled, invoices[1].State)
}

func TestCreateInvoicePostsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "coffee", body["memo"])
		assert.Equal(t, "21000", body["value_msat"])
		fmt.Fprint(w, `{"r_hash":"AQI=","payment_request":"lnbc210n1","add_index":"7"}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	inv, err := a.CreateInvoice(ctx, lnunify.CreateInvoiceRequest{ValueSat: 21, Memo: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, "0102", inv.PaymentHash)
	assert.Equal(t, "lnbc210n1", inv.PaymentRequest)
}

func TestCloseChannelReadsStream(t *testing.T) {
	closing := make([]byte, 32)
	closing[0] = 0xff

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/channels/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/channels/"+testTxid+"/1", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		fmt.Fprintf(w, `{"result":{"close_pending":{"txid":%q,"output_index":0}}}`+"\n",
			base64.StdEncoding.EncodeToString(closing))
		w.(http.Flusher).Flush()
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	closed, err := a.CloseChannel(ctx, lnunify.CloseChannelRequest{
		ChannelPoint: testTxid + ":1",
		Force:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("00", 31)+"ff", closed.ClosingTxID)
}

func TestCloseChannelStreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/channels/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":2,"message":"channel not found"}}`+"\n")
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	_, err := a.CloseChannel(ctx, lnunify.CloseChannelRequest{ChannelPoint: testTxid + ":0"})
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "channel not found")
}

func TestPayInvoiceOverWebSocket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/router/send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.URL.Query().Get("method"))
		assert.Equal(t, testMacaroon, r.Header.Get("Grpc-Metadata-Macaroon"))
		c, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		ctx := r.Context()

		var req map[string]any
		assert.NoError(t, wsjson.Read(ctx, c, &req))
		assert.Equal(t, "lnbc1", req["payment_request"])
		assert.Equal(t, true, req["no_inflight_updates"])

		wsjson.Write(ctx, c, map[string]any{"result": map[string]any{
			"payment_hash": "0102", "status": "IN_FLIGHT"}})
		wsjson.Write(ctx, c, map[string]any{"result": map[string]any{
			"payment_hash": "0102", "status": "SUCCEEDED", "value_msat": "5000", "fee_msat": "12"}})
		c.Close(websocket.StatusNormalClosure, "")
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	p, err := a.PayInvoice(ctx, lnunify.PayInvoiceRequest{PaymentRequest: "lnbc1"})
	require.NoError(t, err)
	assert.Equal(t, lnunify.PaymentSucceeded, p.Status)
	assert.EqualValues(t, 5000, p.ValueMsat)
	assert.EqualValues(t, 12, p.FeeMsat)
	assert.Equal(t, "lnbc1", p.PaymentRequest)
}

func TestSubscribeInvoicesClosedWithAdapter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoices/subscribe", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.URL.Query().Get("method"))
		c, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		ctx := r.Context()

		var req map[string]any
		assert.NoError(t, wsjson.Read(ctx, c, &req))
		wsjson.Write(ctx, c, map[string]any{"result": map[string]any{
			"r_hash": "AQI=", "value": "1", "state": "SETTLED"}})

		// Hold the stream open until the client goes away.
		c.Read(ctx)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	sub, err := a.SubscribeInvoices(ctx)
	require.NoError(t, err)

	select {
	case upd := <-sub.Updates():
		assert.Equal(t, "0102", upd.Invoice.PaymentHash)
		assert.Equal(t, lnunify.InvoiceSettled, upd.Invoice.State)
	case <-time.After(5 * time.Second):
		t.Fatal("no invoice update")
	}
	assert.Equal(t, 1, a.OpenSessions())

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		return sub.State() == lnunify.Unsubscribed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, a.OpenSessions())
}

func TestCapabilitiesFollowVersionAndCache(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux())
	ctx := connect(t, a)

	caps := a.Capabilities().Evaluate(ctx)
	assert.True(t, caps[lnunify.CapSimpleTaprootChannels].Supported)
	assert.False(t, caps[lnunify.CapOffers].Supported)
	assert.Equal(t, 0, a.cache.Len())
}
