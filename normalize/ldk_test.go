package normalize

import (
	"encoding/json"
	"testing"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ldkChannels = `[{
	"channelId": "ab01",
	"counterpartyNodeId": "02aa",
	"fundingTxo_txid": "f00d",
	"fundingTxo_vout": 1,
	"channelValueSats": 1000000,
	"unspendablePunishmentReserve": 10000,
	"counterpartyUnspendablePunishmentReserve": 10000,
	"userChannelId": "42",
	"outboundCapacityMsat": 390000000,
	"inboundCapacityMsat": 590000000,
	"isOutbound": true,
	"isChannelReady": true,
	"isUsable": true,
	"isAnnounced": false,
	"forceCloseSpendDelay": 144
}, {
	"channelId": "ab02",
	"counterpartyNodeId": "02bb",
	"channelValueSats": 500000,
	"counterpartyUnspendablePunishmentReserve": 0,
	"userChannelId": "43",
	"outboundCapacityMsat": 0,
	"inboundCapacityMsat": 0,
	"isChannelReady": false
}]`

const ldkPayments = `[
	{"id": "p1", "kind": {"type": "bolt11", "hash": "h1", "preimage": "r1"}, "amountMsat": 21000,
	 "direction": "inbound", "status": "succeeded", "latestUpdateTimestamp": 100},
	{"id": "p2", "kind": {"type": "bolt11", "hash": "h2"}, "amountMsat": 5000,
	 "direction": "outbound", "status": "failed", "latestUpdateTimestamp": 300},
	{"id": "p3", "kind": {"type": "onchain", "txid": "t3", "status": "confirmed"}, "amountMsat": 70000000,
	 "direction": "outbound", "status": "succeeded", "latestUpdateTimestamp": 200},
	{"id": "p4", "kind": {"type": "bolt11", "hash": "h4"}, "amountMsat": 1000,
	 "direction": "inbound", "status": "pending", "latestUpdateTimestamp": 400}
]`

func decodeLDK[T any](t *testing.T, doc string) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(doc), &out))
	return out
}

func TestLDKChannelRecord(t *testing.T) {
	channels := decodeLDK[[]LDKChannel](t, ldkChannels)
	require.Len(t, channels, 2)

	ch := LDKChannelRecord(channels[0])
	assert.Equal(t, "ab01", ch.ChannelID)
	assert.Equal(t, "f00d:1", ch.ChannelPoint)
	assert.Equal(t, lnunify.ChannelOpen, ch.Status)
	assert.True(t, ch.Private)
	assert.True(t, ch.Initiator)
	assert.EqualValues(t, 400000, ch.LocalSat)
	assert.EqualValues(t, 600000, ch.RemoteSat)
	assert.EqualValues(t, 144, ch.CSVDelay)

	pending := LDKChannelRecord(channels[1])
	assert.Equal(t, lnunify.ChannelPendingOpen, pending.Status)
	assert.Empty(t, pending.ChannelPoint)
}

func TestLDKBalance(t *testing.T) {
	channels := decodeLDK[[]LDKChannel](t, ldkChannels)
	bal := LDKBalance(LDKBalances{TotalOnchainSat: 3000, SpendableOnchainSat: 2000}, channels)

	require.NotNil(t, bal.Onchain)
	assert.EqualValues(t, 1000, bal.Onchain.UnconfirmedSat)
	assert.EqualValues(t, 390000, bal.Lightning.LocalSat)
	assert.EqualValues(t, 590000, bal.Lightning.RemoteSat)
	assert.EqualValues(t, 500000, bal.Lightning.PendingOpenSat)
}

func TestLDKNodeInfo(t *testing.T) {
	channels := decodeLDK[[]LDKChannel](t, ldkChannels)
	peers := []LDKPeer{{NodeID: "02aa", IsConnected: true}, {NodeID: "02bb"}}
	info := LDKNodeInfo("03cc", "bitcoin", LDKStatus{IsRunning: true, BestBlockHeight: 800000}, channels, peers)

	assert.Equal(t, "mainnet", info.Network)
	assert.Equal(t, "ldk-node", info.Version)
	assert.True(t, info.SyncedToChain)
	assert.False(t, info.SyncedToGraph)
	assert.EqualValues(t, 1, info.NumActiveChannels)
	assert.EqualValues(t, 1, info.NumPendingChannels)
	assert.EqualValues(t, 1, info.NumPeers)
}

func TestLDKPaymentSplit(t *testing.T) {
	payments := decodeLDK[[]LDKPayment](t, ldkPayments)

	invoices := LDKInvoices(payments)
	require.Len(t, invoices, 2)
	assert.Equal(t, "h4", invoices[0].PaymentHash)
	assert.Equal(t, lnunify.InvoiceOpen, invoices[0].State)
	assert.Equal(t, lnunify.InvoiceSettled, invoices[1].State)
	assert.EqualValues(t, 21, invoices[1].AmountPaidSat)
	assert.EqualValues(t, 100, invoices[1].SettledAt)

	sent := LDKPayments(payments)
	require.Len(t, sent, 1)
	assert.Equal(t, lnunify.PaymentFailed, sent[0].Status)
	assert.NotEmpty(t, sent[0].FailureReason)

	txs := LDKTransactions(payments)
	require.Len(t, txs, 1)
	assert.Equal(t, "t3", txs[0].TxID)
	assert.EqualValues(t, -70000, txs[0].AmountSat)
	assert.EqualValues(t, 6, txs[0].NumConfirmations)
}

func TestLDKEvents(t *testing.T) {
	upd, ok := LDKInvoiceUpdate(LDKEvent{Type: "paymentReceived", PaymentHash: "h1", AmountMsat: 21000})
	require.True(t, ok)
	assert.Equal(t, lnunify.InvoiceSettled, upd.Invoice.State)
	assert.EqualValues(t, 21, upd.Invoice.AmountPaidSat)

	_, ok = LDKInvoiceUpdate(LDKEvent{Type: "paymentSuccessful"})
	assert.False(t, ok)

	ev, ok := LDKChannelEvent(LDKEvent{Type: "channelPending", ChannelID: "ab01",
		CounterpartyNodeID: "02aa", FundingTxID: "f00d", FundingVout: 0})
	require.True(t, ok)
	assert.Equal(t, lnunify.ChannelEventPending, ev.Type)
	assert.Equal(t, "f00d:0", ev.ChannelPoint)
	assert.Equal(t, lnunify.ChannelPendingOpen, ev.Channel.Status)

	ev, ok = LDKChannelEvent(LDKEvent{Type: "channelClosed", ChannelID: "ab01", Reason: "holderForceClosed"})
	require.True(t, ok)
	assert.Equal(t, lnunify.ChannelEventClosed, ev.Type)
	assert.Equal(t, "holderForceClosed", ev.Channel.State)

	_, ok = LDKChannelEvent(LDKEvent{Type: "paymentForwarded"})
	assert.False(t, ok)
}
