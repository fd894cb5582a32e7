package normalize

import (
	"encoding/json"
	"testing"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nwcList = `{"transactions":[
	{"type":"incoming","invoice":"lnbc1","payment_hash":"aa","amount":21000,"created_at":100,"settled_at":150,"preimage":"p1"},
	{"type":"outgoing","invoice":"lnbc2","payment_hash":"bb","amount":5000,"fees_paid":1000,"created_at":200,"settled_at":210,"preimage":"p2"},
	{"type":"incoming","invoice":"lnbc3","payment_hash":"cc","amount":1000,"created_at":300,"expires_at":400},
	{"type":"outgoing","payment_hash":"dd","amount":1000,"created_at":50,"state":"failed"}
]}`

func TestNWCTransactionsSplit(t *testing.T) {
	var r NWCTransactions
	require.NoError(t, json.Unmarshal([]byte(nwcList), &r))

	invoices := NWCInvoices(r, 1000)
	require.Len(t, invoices, 2)
	assert.Equal(t, "cc", invoices[0].PaymentHash)
	assert.Equal(t, lnunify.InvoiceExpired, invoices[0].State)
	assert.Equal(t, lnunify.InvoiceSettled, invoices[1].State)
	assert.Equal(t, int64(21), invoices[1].AmountPaidSat)

	payments := NWCPayments(r)
	require.Len(t, payments, 2)
	assert.Equal(t, lnunify.PaymentSucceeded, payments[0].Status)
	assert.Equal(t, int64(1), payments[0].FeeSat)
	assert.Equal(t, lnunify.PaymentFailed, payments[1].Status)

	ledger := NWCLedger(r)
	require.Len(t, ledger, 2)
	assert.Equal(t, "bb", ledger[0].TxID)
	assert.Equal(t, int64(-6), ledger[0].AmountSat)
	assert.Equal(t, int64(21), ledger[1].AmountSat)
}

func TestNWCInvoiceUpdate(t *testing.T) {
	var n NWCNotification
	require.NoError(t, json.Unmarshal([]byte(`{"notification_type":"payment_received",
		"notification":{"type":"incoming","payment_hash":"aa","amount":3000,"settled_at":10}}`), &n))
	u, ok := NWCInvoiceUpdate(n, 20)
	require.True(t, ok)
	assert.Equal(t, "aa", u.Invoice.PaymentHash)
	assert.Equal(t, lnunify.InvoiceSettled, u.Invoice.State)
	assert.Equal(t, int64(3000), u.Invoice.AmountPaidMsat)

	_, ok = NWCInvoiceUpdate(NWCNotification{NotificationType: "payment_sent"}, 20)
	assert.False(t, ok)
}

func TestNWCNodeInfoAndBalance(t *testing.T) {
	info := NWCNodeInfo(NWCInfo{Alias: "wallet", Network: "bitcoin", Pubkey: "02ee"})
	assert.Equal(t, "mainnet", info.Network)
	assert.Equal(t, "02ee", info.Pubkey)

	b := NWCWalletBalance(NWCBalance{Balance: 123456})
	assert.Nil(t, b.Onchain)
	assert.Equal(t, int64(123), b.Lightning.LocalSat)
	assert.Equal(t, int64(123456), b.Lightning.LocalMsat)
}
