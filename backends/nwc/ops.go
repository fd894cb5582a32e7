package nwc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
)

// tlvKeysendMessage is the record type wallets show as the keysend
// message.
const tlvKeysendMessage = 34349334

func (a *Adapter) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	var info normalize.NWCInfo
	if err := a.call(ctx, lnunify.OpGetInfo, "get_info", nil, &info); err != nil {
		return lnunify.NodeInfo{}, err
	}
	return normalize.NWCNodeInfo(info), nil
}

func (a *Adapter) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	var b normalize.NWCBalance
	if err := a.call(ctx, lnunify.OpGetBalance, "get_balance", nil, &b); err != nil {
		return lnunify.Balance{}, err
	}
	return normalize.NWCWalletBalance(b), nil
}

type listParams struct {
	Limit  int    `json:"limit,omitempty"`
	Unpaid bool   `json:"unpaid,omitempty"`
	Type   string `json:"type,omitempty"`
}

func (a *Adapter) listTransactions(ctx context.Context, op lnunify.Operation,
	p listParams) (normalize.NWCTransactions, error) {

	var txs normalize.NWCTransactions
	err := a.call(ctx, op, "list_transactions", p, &txs)
	return txs, err
}

// ListTransactions returns the settled wallet movements.
func (a *Adapter) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	txs, err := a.listTransactions(ctx, lnunify.OpListTransactions,
		listParams{Limit: lnunify.DefaultListLimit})
	if err != nil {
		return nil, err
	}
	return normalize.NWCLedger(txs), nil
}

func (a *Adapter) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	txs, err := a.listTransactions(ctx, lnunify.OpListInvoices, listParams{
		Limit:  opts.EffectiveLimit(),
		Unpaid: true,
		Type:   normalize.NWCIncoming,
	})
	if err != nil {
		return nil, err
	}
	return normalize.NWCInvoices(txs, a.now().Unix()), nil
}

func (a *Adapter) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	txs, err := a.listTransactions(ctx, lnunify.OpListPayments, listParams{
		Limit: opts.EffectiveLimit(),
		Type:  normalize.NWCOutgoing,
	})
	if err != nil {
		return nil, err
	}
	return normalize.NWCPayments(txs), nil
}

// CreateInvoice runs make_invoice. Wallet services choose the preimage.
func (a *Adapter) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if req.Preimage != "" {
		return lnunify.Invoice{}, &lnunify.CapabilityError{
			Capability: lnunify.CapCustomPreimages,
			Operation:  lnunify.OpCreateInvoice,
		}
	}
	if req.IsAMP {
		return lnunify.Invoice{}, &lnunify.CapabilityError{
			Capability: lnunify.CapAMP,
			Operation:  lnunify.OpCreateInvoice,
		}
	}

	params := map[string]any{
		"amount":      req.AmountMsat(),
		"description": req.Memo,
	}
	if req.Expiry > 0 {
		params["expiry"] = req.Expiry
	}
	var tx normalize.NWCTransaction
	if err := a.call(ctx, lnunify.OpCreateInvoice, "make_invoice", params, &tx); err != nil {
		return lnunify.Invoice{}, err
	}
	if tx.Amount == 0 {
		tx.Amount = normalize.Msat(req.AmountMsat())
	}
	if tx.Description == "" {
		tx.Description = req.Memo
	}
	return normalize.NWCInvoiceRecord(tx, a.now().Unix()), nil
}

// PayInvoice runs pay_invoice. The hash, destination and amount of the
// payment come from decoding the invoice locally since the reply only
// carries the preimage and fee.
func (a *Adapter) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if req.AMP {
		return lnunify.Payment{}, &lnunify.CapabilityError{
			Capability: lnunify.CapAMP,
			Operation:  lnunify.OpPayInvoice,
		}
	}
	decoded, err := normalize.DecodeBolt11(req.PaymentRequest)
	if err != nil {
		return lnunify.Payment{}, err
	}

	params := map[string]any{"invoice": req.PaymentRequest}
	amountMsat := decoded.NumMsat
	if amountMsat == 0 {
		if req.AmountSat <= 0 {
			return lnunify.Payment{}, fmt.Errorf("invoice has no amount, amount_sat is required")
		}
		amountMsat = normalize.SatToMsat(req.AmountSat)
		params["amount"] = amountMsat
	}

	var res normalize.NWCPayResult
	if err := a.call(ctx, lnunify.OpPayInvoice, "pay_invoice", params, &res); err != nil {
		return lnunify.Payment{}, err
	}
	p := normalize.NWCPaid(res, decoded.PaymentHash, req.PaymentRequest, decoded.Destination, amountMsat)
	p.Description = decoded.Description
	p.CreatedAt = a.now().Unix()
	return p, nil
}

type tlvRecord struct {
	Type  uint64 `json:"type"`
	Value string `json:"value"`
}

// SendKeysend runs pay_keysend with a preimage chosen here, so the payment
// hash is known without asking the wallet.
func (a *Adapter) SendKeysend(ctx context.Context, req lnunify.KeysendRequest) (lnunify.Payment, error) {
	if req.Destination == "" || req.AmountSat <= 0 {
		return lnunify.Payment{}, fmt.Errorf("keysend needs a destination and a positive amount")
	}
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return lnunify.Payment{}, fmt.Errorf("generating preimage: %w", err)
	}
	hash := sha256.Sum256(preimage[:])

	var records []tlvRecord
	if req.Message != "" {
		records = append(records, tlvRecord{
			Type:  tlvKeysendMessage,
			Value: hex.EncodeToString([]byte(req.Message)),
		})
	}
	for typ, v := range req.Custom {
		records = append(records, tlvRecord{Type: typ, Value: hex.EncodeToString(v)})
	}

	amountMsat := normalize.SatToMsat(req.AmountSat)
	params := map[string]any{
		"amount":   amountMsat,
		"pubkey":   req.Destination,
		"preimage": hex.EncodeToString(preimage[:]),
	}
	if len(records) > 0 {
		params["tlv_records"] = records
	}

	var res normalize.NWCPayResult
	if err := a.call(ctx, lnunify.OpSendKeysend, "pay_keysend", params, &res); err != nil {
		return lnunify.Payment{}, err
	}
	if res.Preimage == "" {
		res.Preimage = hex.EncodeToString(preimage[:])
	}
	p := normalize.NWCPaid(res, hex.EncodeToString(hash[:]), "", req.Destination, amountMsat)
	p.Description = req.Message
	p.CreatedAt = a.now().Unix()
	return p, nil
}

// DecodePaymentRequest decodes locally, the wallet is not asked.
func (a *Adapter) DecodePaymentRequest(_ context.Context, payReq string) (lnunify.PayReq, error) {
	if err := a.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}
	return normalize.DecodeBolt11(payReq)
}

// VerifyMessage checks the signature locally.
func (a *Adapter) VerifyMessage(_ context.Context, req lnunify.VerifyMessageRequest) (lnunify.VerifiedMessage, error) {
	if err := a.Ready(); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	return lnunify.VerifyMessageLocally(req)
}

// SubscribeInvoices streams payment_received notifications as settled
// invoices.
func (a *Adapter) SubscribeInvoices(ctx context.Context) (*lnunify.Subscription[lnunify.InvoiceUpdate], error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	if !a.info.notifies("payment_received") {
		return nil, &lnunify.CapabilityError{
			Capability: lnunify.CapSubscriptions,
			Operation:  lnunify.OpSubscribeInvoices,
		}
	}

	events, stop := a.router.listen()
	return lnunify.NewSubscription(ctx, func(ctx context.Context, emit func(lnunify.InvoiceUpdate) bool) error {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				n, err := a.notification(ev.Content)
				if err != nil {
					a.log.Debug("dropping notification", "id", ev.ID, "error", err)
					continue
				}
				update, ok := normalize.NWCInvoiceUpdate(n, a.now().Unix())
				if !ok {
					continue
				}
				if !emit(update) {
					return nil
				}
			}
		}
	}), nil
}

func (a *Adapter) notification(content string) (normalize.NWCNotification, error) {
	var n normalize.NWCNotification
	plain, err := a.signer.Decrypt(content)
	if err != nil {
		return n, fmt.Errorf("decrypting: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), &n); err != nil {
		return n, fmt.Errorf("decoding: %w", err)
	}
	return n, nil
}
