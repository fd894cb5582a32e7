package normalize

import (
	"sort"

	"github.com/feelancer21/lnunify"
)

// NIP-47 amounts are always millisatoshis.

type NWCInfo struct {
	Alias       string   `json:"alias"`
	Color       string   `json:"color"`
	Pubkey      string   `json:"pubkey"`
	Network     string   `json:"network"`
	BlockHeight uint32   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Methods     []string `json:"methods"`
}

func NWCNodeInfo(r NWCInfo) lnunify.NodeInfo {
	return lnunify.NodeInfo{
		Pubkey:        r.Pubkey,
		Alias:         r.Alias,
		Color:         r.Color,
		Network:       CLNNetwork(r.Network),
		BlockHeight:   r.BlockHeight,
		BlockHash:     r.BlockHash,
		SyncedToChain: true,
		SyncedToGraph: true,
	}
}

type NWCBalance struct {
	Balance Msat `json:"balance"`
}

func NWCWalletBalance(r NWCBalance) lnunify.Balance {
	return lnunify.Balance{
		Lightning: lnunify.LightningBalance{
			LocalSat:  r.Balance.Sat(),
			LocalMsat: r.Balance.Int64(),
		},
	}
}

// NWCTransaction is the transaction object of make_invoice,
// lookup_invoice, list_transactions and notifications.
type NWCTransaction struct {
	Type            string `json:"type"`
	State           string `json:"state"`
	Invoice         string `json:"invoice"`
	Description     string `json:"description"`
	DescriptionHash string `json:"description_hash"`
	Preimage        string `json:"preimage"`
	PaymentHash     string `json:"payment_hash"`
	Amount          Msat   `json:"amount"`
	FeesPaid        Msat   `json:"fees_paid"`
	CreatedAt       Unix   `json:"created_at"`
	ExpiresAt       Unix   `json:"expires_at"`
	SettledAt       Unix   `json:"settled_at"`
}

const (
	NWCIncoming = "incoming"
	NWCOutgoing = "outgoing"
)

type NWCTransactions struct {
	Transactions []NWCTransaction `json:"transactions"`
}

func nwcInvoiceState(t NWCTransaction, now int64) lnunify.InvoiceState {
	switch {
	case t.State == "settled" || t.SettledAt > 0:
		return lnunify.InvoiceSettled
	case t.State == "expired" || (t.ExpiresAt > 0 && now > int64(t.ExpiresAt)):
		return lnunify.InvoiceExpired
	case t.State == "failed":
		return lnunify.InvoiceCanceled
	default:
		return lnunify.InvoiceOpen
	}
}

func NWCInvoiceRecord(t NWCTransaction, now int64) lnunify.Invoice {
	inv := lnunify.Invoice{
		PaymentHash:    t.PaymentHash,
		Preimage:       t.Preimage,
		PaymentRequest: t.Invoice,
		Memo:           t.Description,
		ValueSat:       t.Amount.Sat(),
		ValueMsat:      t.Amount.Int64(),
		State:          nwcInvoiceState(t, now),
		CreatedAt:      int64(t.CreatedAt),
		SettledAt:      int64(t.SettledAt),
		ExpiresAt:      int64(t.ExpiresAt),
	}
	if inv.State == lnunify.InvoiceSettled {
		inv.AmountPaidSat = inv.ValueSat
		inv.AmountPaidMsat = inv.ValueMsat
	}
	return inv
}

func nwcPaymentStatus(t NWCTransaction) lnunify.PaymentStatus {
	switch {
	case t.State == "settled" || t.SettledAt > 0 || t.Preimage != "":
		return lnunify.PaymentSucceeded
	case t.State == "failed":
		return lnunify.PaymentFailed
	case t.State == "pending":
		return lnunify.PaymentInFlight
	default:
		return lnunify.PaymentUnknown
	}
}

func NWCPaymentRecord(t NWCTransaction) lnunify.Payment {
	return lnunify.Payment{
		PaymentHash:    t.PaymentHash,
		Preimage:       t.Preimage,
		PaymentRequest: t.Invoice,
		Description:    t.Description,
		ValueSat:       t.Amount.Sat(),
		ValueMsat:      t.Amount.Int64(),
		FeeSat:         t.FeesPaid.Sat(),
		FeeMsat:        t.FeesPaid.Int64(),
		Status:         nwcPaymentStatus(t),
		CreatedAt:      int64(t.CreatedAt),
	}
}

// NWCInvoices returns the incoming transactions, newest first.
func NWCInvoices(r NWCTransactions, now int64) []lnunify.Invoice {
	var out []lnunify.Invoice
	for _, t := range r.Transactions {
		if t.Type == NWCIncoming {
			out = append(out, NWCInvoiceRecord(t, now))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// NWCPayments returns the outgoing transactions, newest first.
func NWCPayments(r NWCTransactions) []lnunify.Payment {
	var out []lnunify.Payment
	for _, t := range r.Transactions {
		if t.Type == NWCOutgoing {
			out = append(out, NWCPaymentRecord(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// NWCLedger lists settled wallet movements as transactions keyed by
// payment hash. Outgoing amounts are negative and include the fee.
func NWCLedger(r NWCTransactions) []lnunify.Transaction {
	var out []lnunify.Transaction
	for _, t := range r.Transactions {
		if nwcPaymentStatus(t) != lnunify.PaymentSucceeded {
			continue
		}
		tx := lnunify.Transaction{
			TxID:      t.PaymentHash,
			AmountSat: t.Amount.Sat(),
			FeeSat:    t.FeesPaid.Sat(),
			Timestamp: int64(firstUnix(t.SettledAt, t.CreatedAt)),
			Label:     t.Description,
		}
		if t.Type == NWCOutgoing {
			tx.AmountSat = -(t.Amount.Sat() + t.FeesPaid.Sat())
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// NWCPayResult is the result of pay_invoice and pay_keysend.
type NWCPayResult struct {
	Preimage string `json:"preimage"`
	FeesPaid Msat   `json:"fees_paid"`
}

// NWCPaid builds the payment of a successful pay call. The request side
// carries what the reply leaves out.
func NWCPaid(r NWCPayResult, paymentHash, payReq, destination string, amountMsat int64) lnunify.Payment {
	return lnunify.Payment{
		PaymentHash:    paymentHash,
		Preimage:       r.Preimage,
		PaymentRequest: payReq,
		Destination:    destination,
		ValueSat:       MsatToSat(amountMsat),
		ValueMsat:      amountMsat,
		FeeSat:         r.FeesPaid.Sat(),
		FeeMsat:        r.FeesPaid.Int64(),
		Status:         lnunify.PaymentSucceeded,
	}
}

// NWCNotification is the content of a kind 23196 event.
type NWCNotification struct {
	NotificationType string         `json:"notification_type"`
	Notification     NWCTransaction `json:"notification"`
}

// NWCInvoiceUpdate converts a payment_received notification. ok is false
// for every other notification type.
func NWCInvoiceUpdate(n NWCNotification, now int64) (lnunify.InvoiceUpdate, bool) {
	if n.NotificationType != "payment_received" {
		return lnunify.InvoiceUpdate{}, false
	}
	inv := NWCInvoiceRecord(n.Notification, now)
	inv.State = lnunify.InvoiceSettled
	inv.AmountPaidSat = inv.ValueSat
	inv.AmountPaidMsat = inv.ValueMsat
	return lnunify.InvoiceUpdate{Invoice: inv}, true
}
