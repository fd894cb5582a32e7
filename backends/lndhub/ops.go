package lndhub

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
)

// GetInfo returns the lnd getinfo the hub proxies. Some hubs do not
// expose it.
func (a *Adapter) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NodeInfo{}, err
	}
	var info normalize.HubInfo
	if err := a.call(ctx, http.MethodGet, "/getinfo", nil, &info); err != nil {
		return lnunify.NodeInfo{}, err
	}
	return normalize.HubNodeInfo(info), nil
}

func (a *Adapter) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Balance{}, err
	}
	var b normalize.HubBalance
	if err := a.call(ctx, http.MethodGet, "/balance", nil, &b); err != nil {
		return lnunify.Balance{}, err
	}
	return normalize.HubAccountBalance(b), nil
}

func (a *Adapter) txs(ctx context.Context, limit int) ([]normalize.HubTx, error) {
	var txs []normalize.HubTx
	route := query("/gettxs", url.Values{"limit": {strconv.Itoa(limit)}, "offset": {"0"}})
	if err := a.call(ctx, http.MethodGet, route, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// ListTransactions returns the on-chain deposits to the account.
func (a *Adapter) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	txs, err := a.txs(ctx, lnunify.DefaultListLimit)
	if err != nil {
		return nil, err
	}
	return normalize.HubTransactions(txs), nil
}

func (a *Adapter) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	var invoices []normalize.HubInvoice
	route := query("/getuserinvoices", url.Values{"limit": {strconv.Itoa(opts.EffectiveLimit())}})
	if err := a.call(ctx, http.MethodGet, route, nil, &invoices); err != nil {
		return nil, err
	}
	return normalize.HubInvoices(invoices, a.now().Unix()), nil
}

func (a *Adapter) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	txs, err := a.txs(ctx, opts.EffectiveLimit())
	if err != nil {
		return nil, err
	}
	return normalize.HubPayments(txs), nil
}

// CreateInvoice creates an invoice in whole satoshis.
func (a *Adapter) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Invoice{}, err
	}
	body := map[string]string{
		"amt":  strconv.FormatInt(normalize.MsatToSat(req.AmountMsat()), 10),
		"memo": req.Memo,
	}
	var inv normalize.HubInvoice
	if err := a.call(ctx, http.MethodPost, "/addinvoice", body, &inv); err != nil {
		return lnunify.Invoice{}, err
	}
	if inv.Description == "" {
		inv.Description = req.Memo
	}
	if inv.Amt == 0 {
		inv.Amt = normalize.Int(normalize.MsatToSat(req.AmountMsat()))
	}
	if inv.Timestamp == 0 {
		inv.Timestamp = normalize.Unix(a.now().Unix())
	}
	return normalize.HubInvoiceRecord(inv, a.now().Unix()), nil
}

// PayInvoice pays synchronously. The amount is only used for invoices
// without one.
func (a *Adapter) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	body := map[string]any{"invoice": req.PaymentRequest}
	if req.AmountSat > 0 {
		body["amount"] = req.AmountSat
	}
	var res normalize.HubPayResult
	if err := a.call(ctx, http.MethodPost, "/payinvoice", body, &res); err != nil {
		return lnunify.Payment{}, err
	}
	return normalize.HubPaymentRecord(res, req.PaymentRequest), nil
}

// NewAddress returns the deposit address of the account. The hub assigns
// one address per account.
func (a *Adapter) NewAddress(ctx context.Context, _ lnunify.NewAddressRequest) (lnunify.NewAddress, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NewAddress{}, err
	}
	var addrs []struct {
		Address string `json:"address"`
	}
	if err := a.call(ctx, http.MethodGet, "/getbtc", nil, &addrs); err != nil {
		return lnunify.NewAddress{}, err
	}
	if len(addrs) == 0 || addrs[0].Address == "" {
		return lnunify.NewAddress{}, &lnunify.ProtocolError{Err: errors.New("hub returned no deposit address")}
	}
	return lnunify.NewAddress{Address: addrs[0].Address}, nil
}

func (a *Adapter) DecodePaymentRequest(ctx context.Context, payReq string) (lnunify.PayReq, error) {
	if err := a.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}
	var d normalize.HubDecoded
	route := query("/decodeinvoice", url.Values{"invoice": {payReq}})
	if err := a.call(ctx, http.MethodGet, route, nil, &d); err != nil {
		return lnunify.PayReq{}, err
	}
	return normalize.HubPayReq(d), nil
}
