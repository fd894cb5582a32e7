package clncore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
)

const (
	// keysendMessageRecord carries a text message along a keysend.
	keysendMessageRecord uint64 = 34349334

	fetchInvoiceTimeout = 60
)

// FullNode adds the operations of nodes reached with a rune: keysend,
// message signing, closed channels and BOLT12 offers.
type FullNode struct {
	*Node
}

// NewFull returns a FullNode calling caller once lc is ready.
func NewFull(caller Caller, lc *lnunify.Lifecycle, opts ...Option) *FullNode {
	return &FullNode{Node: New(caller, lc, opts...)}
}

// ListClosedChannels returns the channels closed since the node keeps
// history of them.
func (n *FullNode) ListClosedChannels(ctx context.Context) ([]lnunify.Channel, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	resp, err := call[closedChannelList](ctx, n.caller, "listclosedchannels", nil)
	if err != nil {
		return nil, fmt.Errorf("cln listing closed channels: %w", err)
	}
	out := make([]lnunify.Channel, 0, len(resp.ClosedChannels))
	for _, c := range resp.ClosedChannels {
		out = append(out, normalize.CLNClosedChannelRecord(c))
	}
	n.aliases.Enrich(ctx, out)
	return out, nil
}

// SendKeysend pays destination spontaneously. The node generates the
// preimage, custom records travel as extra TLVs.
func (n *FullNode) SendKeysend(ctx context.Context, req lnunify.KeysendRequest) (lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	params := map[string]any{
		"destination": req.Destination,
		"amount_msat": normalize.SatToMsat(req.AmountSat),
		"retry_for":   defaultPaymentTimeout,
	}
	if req.FeeLimitSat > 0 {
		params["maxfee"] = normalize.SatToMsat(req.FeeLimitSat)
	}

	tlvs := make(map[string]string, len(req.Custom)+1)
	for k, v := range req.Custom {
		tlvs[strconv.FormatUint(k, 10)] = hex.EncodeToString(v)
	}
	if req.Message != "" {
		tlvs[strconv.FormatUint(keysendMessageRecord, 10)] = hex.EncodeToString([]byte(req.Message))
	}
	if len(tlvs) > 0 {
		params["extratlvs"] = tlvs
	}

	p, err := call[normalize.CLNPayment](ctx, n.caller, "keysend", params,
		lnunify.WithTimeout(paymentTimeout(defaultPaymentTimeout)))
	if err != nil {
		return lnunify.Payment{}, fmt.Errorf("cln sending keysend: %w", err)
	}
	out := normalize.CLNPaymentRecord(p)
	if out.Destination == "" {
		out.Destination = req.Destination
	}
	return out, nil
}

// SignMessage returns the zbase32 signature, the format lnd uses as well.
func (n *FullNode) SignMessage(ctx context.Context, msg []byte) (lnunify.SignedMessage, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.SignedMessage{}, err
	}
	resp, err := call[signedMessage](ctx, n.caller, "signmessage", map[string]string{"message": string(msg)})
	if err != nil {
		return lnunify.SignedMessage{}, fmt.Errorf("cln signing message: %w", err)
	}
	return lnunify.SignedMessage{Signature: resp.Zbase}, nil
}

// VerifyMessage asks the node. Without an expected pubkey the node only
// accepts signatures of nodes it knows from gossip.
func (n *FullNode) VerifyMessage(ctx context.Context, req lnunify.VerifyMessageRequest) (lnunify.VerifiedMessage, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	params := map[string]string{"message": req.Message, "zbase": req.Signature}
	if req.Pubkey != "" {
		params["pubkey"] = req.Pubkey
	}
	resp, err := call[checkedMessage](ctx, n.caller, "checkmessage", params)
	if err != nil {
		return lnunify.VerifiedMessage{}, fmt.Errorf("cln checking message: %w", err)
	}
	return lnunify.VerifiedMessage{Valid: resp.Verified, Pubkey: resp.Pubkey}, nil
}

// ListOffers returns the active offers.
func (n *FullNode) ListOffers(ctx context.Context) ([]lnunify.Offer, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	resp, err := call[offerList](ctx, n.caller, "listoffers", map[string]bool{"active_only": true})
	if err != nil {
		return nil, fmt.Errorf("cln listing offers: %w", err)
	}
	out := make([]lnunify.Offer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		out = append(out, normalize.CLNOfferRecord(o))
	}
	return out, nil
}

// CreateOffer creates an offer, for any amount unless one is given.
func (n *FullNode) CreateOffer(ctx context.Context, req lnunify.CreateOfferRequest) (lnunify.Offer, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Offer{}, err
	}
	params := map[string]any{
		"amount":      "any",
		"description": req.Description,
		"single_use":  req.SingleUse,
	}
	if req.AmountMsat > 0 {
		params["amount"] = strconv.FormatInt(req.AmountMsat, 10) + "msat"
	}
	if req.Label != "" {
		params["label"] = req.Label
	}
	resp, err := call[normalize.CLNOffer](ctx, n.caller, "offer", params)
	if err != nil {
		return lnunify.Offer{}, fmt.Errorf("cln creating offer: %w", err)
	}
	out := normalize.CLNOfferRecord(resp)
	if out.Description == "" {
		out.Description = req.Description
	}
	return out, nil
}

func (n *FullNode) DisableOffer(ctx context.Context, offerID string) (lnunify.Offer, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Offer{}, err
	}
	resp, err := call[normalize.CLNOffer](ctx, n.caller, "disableoffer", map[string]string{"offer_id": offerID})
	if err != nil {
		return lnunify.Offer{}, fmt.Errorf("cln disabling offer: %w", err)
	}
	return normalize.CLNOfferRecord(resp), nil
}

// FetchInvoice requests an invoice for offer. Changes the issuer made to
// the offer terms are reported along with it.
func (n *FullNode) FetchInvoice(ctx context.Context, req lnunify.FetchInvoiceRequest) (lnunify.FetchedInvoice, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.FetchedInvoice{}, err
	}
	params := map[string]any{
		"offer":   req.Offer,
		"timeout": fetchInvoiceTimeout,
	}
	if req.AmountMsat > 0 {
		params["amount_msat"] = req.AmountMsat
	}
	if req.PayerNote != "" {
		params["payer_note"] = req.PayerNote
	}
	resp, err := call[normalize.CLNFetchedInvoice](ctx, n.caller, "fetchinvoice", params,
		lnunify.WithTimeout(paymentTimeout(fetchInvoiceTimeout)))
	if err != nil {
		return lnunify.FetchedInvoice{}, fmt.Errorf("cln fetching invoice: %w", err)
	}
	return normalize.CLNFetchedInvoiceRecord(resp, req.AmountMsat), nil
}

type closedChannelList struct {
	ClosedChannels []normalize.CLNClosedChannel `json:"closedchannels"`
}

type signedMessage struct {
	Signature string `json:"signature"`
	Zbase     string `json:"zbase"`
}

type checkedMessage struct {
	Verified bool   `json:"verified"`
	Pubkey   string `json:"pubkey"`
}

type offerList struct {
	Offers []normalize.CLNOffer `json:"offers"`
}
