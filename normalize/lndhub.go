package normalize

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/feelancer21/lnunify"
)

// HubHash is a 32 byte hash LndHub serializes either as hex or as a
// node.js Buffer object {"type": "Buffer", "data": [...]}.
type HubHash string

func (h *HubHash) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*h = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*h = HubHash(s)
	default:
		var buf struct {
			Raw []int `json:"data"`
		}
		if err := json.Unmarshal(b, &buf); err != nil {
			return fmt.Errorf("decoding buffer hash: %w", err)
		}
		raw := make([]byte, len(buf.Raw))
		for i, v := range buf.Raw {
			if v < 0 || v > 255 {
				return fmt.Errorf("decoding buffer hash: byte %d out of range", v)
			}
			raw[i] = byte(v)
		}
		*h = HubHash(hex.EncodeToString(raw))
	}
	return nil
}

// HubInfo is the lnd style getinfo an LndHub instance proxies.
type HubInfo struct {
	IdentityPubkey string   `json:"identity_pubkey"`
	Alias          string   `json:"alias"`
	Color          string   `json:"color"`
	Version        string   `json:"version"`
	BlockHeight    uint32   `json:"block_height"`
	BlockHash      string   `json:"block_hash"`
	SyncedToChain  bool     `json:"synced_to_chain"`
	SyncedToGraph  bool     `json:"synced_to_graph"`
	URIs           []string `json:"uris"`
	Chains         []struct {
		Chain   string `json:"chain"`
		Network string `json:"network"`
	} `json:"chains"`
	NumActiveChannels uint32 `json:"num_active_channels"`
	NumPeers          uint32 `json:"num_peers"`
}

func HubNodeInfo(r HubInfo) lnunify.NodeInfo {
	info := lnunify.NodeInfo{
		Pubkey:            r.IdentityPubkey,
		Alias:             r.Alias,
		Color:             r.Color,
		Version:           r.Version,
		BlockHeight:       r.BlockHeight,
		BlockHash:         r.BlockHash,
		SyncedToChain:     r.SyncedToChain,
		SyncedToGraph:     r.SyncedToGraph,
		URIs:              r.URIs,
		NumActiveChannels: r.NumActiveChannels,
		NumPeers:          r.NumPeers,
	}
	if len(r.Chains) > 0 {
		info.Network = r.Chains[0].Network
	}
	return info
}

// HubBalance is the reply of /balance.
type HubBalance struct {
	BTC struct {
		AvailableBalance Int `json:"AvailableBalance"`
	} `json:"BTC"`
}

// HubAccountBalance reports the custodial account balance as local
// lightning funds. There is no on-chain wallet.
func HubAccountBalance(r HubBalance) lnunify.Balance {
	sat := r.BTC.AvailableBalance.Int64()
	return lnunify.Balance{
		Lightning: lnunify.LightningBalance{
			LocalSat:  sat,
			LocalMsat: SatToMsat(sat),
		},
	}
}

// HubInvoice is an entry of /getuserinvoices or the reply of /addinvoice.
type HubInvoice struct {
	RHash          HubHash `json:"r_hash"`
	PaymentHash    HubHash `json:"payment_hash"`
	PaymentRequest string  `json:"payment_request"`
	PayReq         string  `json:"pay_req"`
	Description    string  `json:"description"`
	Amt            Int     `json:"amt"`
	Timestamp      Unix    `json:"timestamp"`
	ExpireTime     int64   `json:"expire_time"`
	IsPaid         bool    `json:"ispaid"`
	Keysend        bool    `json:"keysend"`
}

func HubInvoiceRecord(i HubInvoice, now int64) lnunify.Invoice {
	sat := i.Amt.Int64()
	inv := lnunify.Invoice{
		PaymentHash:    firstString(string(i.RHash), string(i.PaymentHash)),
		PaymentRequest: firstString(i.PaymentRequest, i.PayReq),
		Memo:           i.Description,
		ValueSat:       sat,
		ValueMsat:      SatToMsat(sat),
		CreatedAt:      int64(i.Timestamp),
		IsKeysend:      i.Keysend,
		State:          lnunify.InvoiceOpen,
	}
	if i.ExpireTime > 0 && inv.CreatedAt > 0 {
		inv.ExpiresAt = inv.CreatedAt + i.ExpireTime
	}
	switch {
	case i.IsPaid:
		inv.State = lnunify.InvoiceSettled
		inv.AmountPaidSat = sat
		inv.AmountPaidMsat = SatToMsat(sat)
	case inv.ExpiresAt > 0 && now > inv.ExpiresAt:
		inv.State = lnunify.InvoiceExpired
	}
	return inv
}

func HubInvoices(invoices []HubInvoice, now int64) []lnunify.Invoice {
	out := make([]lnunify.Invoice, 0, len(invoices))
	for _, i := range invoices {
		out = append(out, HubInvoiceRecord(i, now))
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt > out[b].CreatedAt })
	return out
}

// HubTx is an entry of /gettxs. Paid invoices and on-chain deposits share
// the list and are told apart by Type.
type HubTx struct {
	Type            string  `json:"type"`
	Fee             Int     `json:"fee"`
	Value           Int     `json:"value"`
	Timestamp       Unix    `json:"timestamp"`
	Memo            string  `json:"memo"`
	PaymentPreimage HubHash `json:"payment_preimage"`
	PaymentHash     HubHash `json:"payment_hash"`
	PayReq          string  `json:"pay_req"`

	// On-chain deposits.
	TxID          string  `json:"txid"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int32   `json:"confirmations"`
	Time          Unix    `json:"time"`
}

const (
	hubPaidInvoice = "paid_invoice"
	hubOnchainTx   = "bitcoind_tx"
)

// HubPayments returns the outgoing payments of /gettxs, newest first.
func HubPayments(txs []HubTx) []lnunify.Payment {
	var out []lnunify.Payment
	for _, t := range txs {
		if t.Type != hubPaidInvoice {
			continue
		}
		value := t.Value.Int64()
		if value < 0 {
			value = -value
		}
		out = append(out, lnunify.Payment{
			PaymentHash:    string(t.PaymentHash),
			Preimage:       string(t.PaymentPreimage),
			PaymentRequest: t.PayReq,
			Description:    t.Memo,
			ValueSat:       value,
			ValueMsat:      SatToMsat(value),
			FeeSat:         t.Fee.Int64(),
			FeeMsat:        SatToMsat(t.Fee.Int64()),
			Status:         lnunify.PaymentSucceeded,
			CreatedAt:      int64(t.Timestamp),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// HubTransactions returns the on-chain deposits of /gettxs. Amounts are
// reported in BTC and rounded to satoshis.
func HubTransactions(txs []HubTx) []lnunify.Transaction {
	var out []lnunify.Transaction
	for _, t := range txs {
		if t.Type != hubOnchainTx {
			continue
		}
		tx := lnunify.Transaction{
			TxID:             t.TxID,
			AmountSat:        btcToSat(t.Amount),
			NumConfirmations: t.Confirmations,
			Timestamp:        int64(firstUnix(t.Time, t.Timestamp)),
		}
		if t.Address != "" {
			tx.DestAddresses = []string{t.Address}
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func btcToSat(btc float64) int64 {
	if btc < 0 {
		return -int64(-btc*1e8 + 0.5)
	}
	return int64(btc*1e8 + 0.5)
}

func firstUnix(values ...Unix) Unix {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// HubPayResult is the reply of /payinvoice.
type HubPayResult struct {
	PaymentError    string  `json:"payment_error"`
	PaymentPreimage HubHash `json:"payment_preimage"`
	PaymentHash     HubHash `json:"payment_hash"`
	PayReq          string  `json:"pay_req"`
	PaymentRoute    *struct {
		TotalAmt  Int `json:"total_amt"`
		TotalFees Int `json:"total_fees"`
	} `json:"payment_route"`
	Decoded *HubDecoded `json:"decoded"`
}

// HubPaymentRecord converts a pay reply. A non-empty payment_error is a
// failed payment, not a transport error.
func HubPaymentRecord(r HubPayResult, payReq string) lnunify.Payment {
	p := lnunify.Payment{
		PaymentHash:    string(r.PaymentHash),
		Preimage:       string(r.PaymentPreimage),
		PaymentRequest: firstString(r.PayReq, payReq),
		Status:         lnunify.PaymentSucceeded,
	}
	if r.Decoded != nil {
		p.PaymentHash = firstString(p.PaymentHash, r.Decoded.PaymentHash)
		p.Destination = r.Decoded.Destination
		p.Description = r.Decoded.Description
		p.ValueSat = r.Decoded.NumSatoshis.Int64()
	}
	if rt := r.PaymentRoute; rt != nil {
		total, fees := rt.TotalAmt.Int64(), rt.TotalFees.Int64()
		p.FeeSat = fees
		if total > fees {
			p.ValueSat = total - fees
		}
	}
	p.ValueMsat = SatToMsat(p.ValueSat)
	p.FeeMsat = SatToMsat(p.FeeSat)
	if r.PaymentError != "" {
		p.Status = lnunify.PaymentFailed
		p.FailureReason = r.PaymentError
	}
	return p
}

// HubDecoded is the reply of /decodeinvoice.
type HubDecoded struct {
	Destination     string `json:"destination"`
	PaymentHash     string `json:"payment_hash"`
	NumSatoshis     Int    `json:"num_satoshis"`
	NumMsat         Int    `json:"num_msat"`
	Timestamp       Unix   `json:"timestamp"`
	Expiry          Int    `json:"expiry"`
	Description     string `json:"description"`
	DescriptionHash string `json:"description_hash"`
	FallbackAddr    string `json:"fallback_addr"`
	CLTVExpiry      Int    `json:"cltv_expiry"`
}

func HubPayReq(d HubDecoded) lnunify.PayReq {
	msat := d.NumMsat.Int64()
	if msat == 0 {
		msat = SatToMsat(d.NumSatoshis.Int64())
	}
	return lnunify.PayReq{
		Destination:     d.Destination,
		PaymentHash:     d.PaymentHash,
		NumSat:          MsatToSat(msat),
		NumMsat:         msat,
		Description:     d.Description,
		DescriptionHash: d.DescriptionHash,
		Timestamp:       int64(d.Timestamp),
		Expiry:          d.Expiry.Int64(),
		CLTVExpiry:      d.CLTVExpiry.Int64(),
		FallbackAddr:    d.FallbackAddr,
	}
}
