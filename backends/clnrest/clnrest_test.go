package clnrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRune = "tU-RLjMiDpY2U0o3W1oFowar36RFGpWloPbW9-RuZdo9MyZpZD0wMjRiOWExZmE4ZTAwNmYxZTM5MzdmNjVmNjZjNDA4ZTZkYThlMWNhNzI4ZWE0MzIyMmE3MzgxZGYxY2M0NDk2MDUmbWV0aG9kPWxpc3RwZWVycyZwbnVtPTEmcG5hbWVpZF4wMjRiOWExZmE4ZTAwNmYxZTM5MzdmNjVmNjZjNDA4ZTZkYThlMWNhNzI4ZWE0MzIyMmE3MzgxZGYxY2M0NDk2MDUmcGFycjBeMDI0YjlhMWZhOGUwMDZmMWUzOTM3ZjY1ZjY2YzQwOGU2ZGE4ZTFjYTcyOGVhNDMyMjJhNzM4MWRmMWNjNDQ5NjA1"

func newTestAdapter(t *testing.T, mux *http.ServeMux) *Adapter {
	t.Helper()

	mux.HandleFunc("/v1/getinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, testRune, r.Header.Get("Rune"))
		fmt.Fprint(w, `{"id":"03bb","alias":"bob","version":"v24.11.1","network":"testnet",
			"blockheight":3000000,"num_peers":2,"fees_collected_msat":"0msat"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(Config{Host: srv.URL, Rune: testRune}, WithHTTPClient(srv.Client()))
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

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Rune: testRune})
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
	assert.Equal(t, lnunify.KindCLNRest, a.Kind())

	info, err := a.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "03bb", info.Pubkey)
	assert.Equal(t, "testnet", info.Network)
	assert.EqualValues(t, 2, info.NumPeers)

	ok, err := a.Capabilities().Supports(ctx, lnunify.CapOffers)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnectRejectedRune(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/v1/getinfo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":1501,"message":"Not authorized: Not derived from master"}`)
	})

	a, err := New(Config{Host: srv.URL, Rune: "bogus"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = a.Connect(context.Background())
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Contains(t, err.Error(), "Not derived from master")
	assert.Equal(t, lnunify.StateDisconnected, a.State())
}

func TestListChannelsFallsBackOnUnknownCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/listpeerchannels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-32601,"message":"Unknown command 'listpeerchannels'"}`)
	})
	mux.HandleFunc("/v1/listpeers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"peers":[{"id":"02dd","connected":true,"channels":[
			{"state":"CHANNELD_NORMAL","short_channel_id":"1x2x3","funding_txid":"ab","funding_outnum":1,
			 "to_us_msat":"5000000msat","total_msat":"8000000msat"}]}]}`)
	})
	mux.HandleFunc("/v1/listnodes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, map[string]any{"id": "02dd"}, decodeBody(t, r))
		fmt.Fprint(w, `{"nodes":[{"nodeid":"02dd","alias":"dave"}]}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	channels, err := a.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "1x2x3", channels[0].ShortChannelID)
	assert.Equal(t, "ab:1", channels[0].ChannelPoint)
	assert.EqualValues(t, 5000, channels[0].LocalSat)
	assert.EqualValues(t, 3000, channels[0].RemoteSat)
	assert.Equal(t, "dave", channels[0].Alias)
}

func TestCreateInvoicePostsParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/invoice", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := decodeBody(t, r)
		assert.EqualValues(t, 1500, body["amount_msat"])
		assert.Equal(t, "pizza", body["description"])
		assert.Equal(t, true, body["exposeprivatechannels"])
		assert.EqualValues(t, 600, body["expiry"])
		fmt.Fprint(w, `{"payment_hash":"ph","bolt11":"lntb15n1","expires_at":1700000600}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	inv, err := a.CreateInvoice(ctx, lnunify.CreateInvoiceRequest{ValueMsat: 1500, Memo: "pizza", Expiry: 600})
	require.NoError(t, err)
	assert.Equal(t, "lntb15n1", inv.PaymentRequest)
	assert.EqualValues(t, 1, inv.ValueSat)
	assert.EqualValues(t, 1500, inv.ValueMsat)
	assert.EqualValues(t, 1700000600, inv.ExpiresAt)
}

func TestListClosedChannels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/listclosedchannels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, map[string]any{}, decodeBody(t, r))
		fmt.Fprint(w, `{"closedchannels":[{"peer_id":"02ee","channel_id":"cid","short_channel_id":"9x9x9",
			"funding_txid":"cd","funding_outnum":0,"total_msat":"2000000msat","final_to_us_msat":"500000msat",
			"opener":"local","close_cause":"user"}]}`)
	})
	mux.HandleFunc("/v1/listnodes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"nodes":[]}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	closed, err := a.ListClosedChannels(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, lnunify.ChannelClosed, closed[0].Status)
	assert.Equal(t, "cd:0", closed[0].ChannelPoint)
	assert.EqualValues(t, 500, closed[0].LocalSat)
	assert.EqualValues(t, 1500, closed[0].RemoteSat)
	assert.True(t, closed[0].Initiator)
}

func TestConcurrentCommandsShareRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/listfunds", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		fmt.Fprint(w, `{"outputs":[{"txid":"aa","output":0,"amount_msat":"7000000msat","status":"confirmed"}],
			"channels":[]}`)
	})
	a := newTestAdapter(t, mux)
	ctx := connect(t, a)

	results := make(chan lnunify.Balance, 2)
	for i := 0; i < 2; i++ {
		go func() {
			b, err := a.GetBalance(ctx)
			assert.NoError(t, err)
			results <- b
		}()
	}
	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		b := <-results
		require.NotNil(t, b.Onchain)
		assert.EqualValues(t, 7000, b.Onchain.ConfirmedSat)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestCloseForgetsState(t *testing.T) {
	a := newTestAdapter(t, http.NewServeMux())
	connect(t, a)

	require.NoError(t, a.Close())
	assert.Equal(t, lnunify.StateDisconnected, a.State())
	_, err := a.GetInfo(context.Background())
	assert.ErrorIs(t, err, lnunify.ErrNotReady)
}
