package lndcore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"golang.org/x/time/rate"
)

const (
	// KeysendPreimageRecord carries the preimage of a spontaneous payment.
	KeysendPreimageRecord uint64 = 5482373484

	// KeysendMessageRecord carries a text message along a keysend.
	KeysendMessageRecord uint64 = 34349334

	defaultPaymentTimeout = 60

	// lnd rejects policy updates without a time lock delta.
	defaultTimeLockDelta = 80

	defaultAliasRate  = 10
	defaultAliasBurst = 5
)

// Node implements the canonical operations on top of an RPC. Adapters embed
// it next to the Lifecycle it guards its operations with.
type Node struct {
	rpc     RPC
	lc      *lnunify.Lifecycle
	aliases *lnunify.Aliases
	log     *slog.Logger
}

type Option func(*nodeOptions)

type nodeOptions struct {
	log        *slog.Logger
	aliasRate  rate.Limit
	aliasBurst int
}

func WithLogger(l *slog.Logger) Option {
	return func(o *nodeOptions) { o.log = l }
}

// WithAliasRate limits alias lookups to r per second.
func WithAliasRate(r rate.Limit, burst int) Option {
	return func(o *nodeOptions) {
		o.aliasRate = r
		o.aliasBurst = burst
	}
}

// New returns a Node calling rpc once lc is ready.
func New(rpc RPC, lc *lnunify.Lifecycle, opts ...Option) *Node {
	o := nodeOptions{
		log:        slog.Default(),
		aliasRate:  defaultAliasRate,
		aliasBurst: defaultAliasBurst,
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{rpc: rpc, lc: lc, log: o.log}
	n.aliases = lnunify.NewAliases(n.lookupAlias, o.aliasRate, o.aliasBurst, o.log)
	return n
}

// RPC returns the underlying RPC.
func (n *Node) RPC() RPC {
	return n.rpc
}

// Aliases returns the alias resolver used for channel enrichment.
func (n *Node) Aliases() *lnunify.Aliases {
	return n.aliases
}

func (n *Node) lookupAlias(ctx context.Context, pubkey string) (string, error) {
	info, err := n.rpc.GetNodeInfo(ctx, pubkey)
	if err != nil {
		return "", err
	}
	return info.GetNode().GetAlias(), nil
}

// GetAlias implements lnunify.AliasResolver.
func (n *Node) GetAlias(ctx context.Context, pubkey string) (string, error) {
	if err := n.lc.Ready(); err != nil {
		return "", err
	}
	alias, err := n.lookupAlias(ctx, pubkey)
	if err != nil {
		return "", fmt.Errorf("lnd getting node info: %w", err)
	}
	return alias, nil
}

func (n *Node) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.NodeInfo{}, err
	}
	info, err := n.rpc.GetInfo(ctx)
	if err != nil {
		return lnunify.NodeInfo{}, fmt.Errorf("lnd getting info: %w", err)
	}
	return normalize.LNDNodeInfo(info), nil
}

func (n *Node) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Balance{}, err
	}
	wallet, err := n.rpc.WalletBalance(ctx)
	if err != nil {
		return lnunify.Balance{}, fmt.Errorf("lnd getting wallet balance: %w", err)
	}
	channels, err := n.rpc.ChannelBalance(ctx)
	if err != nil {
		return lnunify.Balance{}, fmt.Errorf("lnd getting channel balance: %w", err)
	}
	return normalize.LNDBalance(wallet, channels), nil
}

// ListChannels returns the open channels followed by the pending ones.
func (n *Node) ListChannels(ctx context.Context) ([]lnunify.Channel, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	open, err := n.rpc.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("lnd listing channels: %w", err)
	}
	pending, err := n.rpc.PendingChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("lnd listing pending channels: %w", err)
	}

	out := make([]lnunify.Channel, 0, len(open.GetChannels()))
	for _, c := range open.GetChannels() {
		out = append(out, normalize.LNDChannel(c))
	}
	out = append(out, normalize.LNDPendingChannels(pending)...)
	n.aliases.Enrich(ctx, out)
	return out, nil
}

// ListClosedChannels returns the close summaries of the node.
func (n *Node) ListClosedChannels(ctx context.Context) ([]lnunify.Channel, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	closed, err := n.rpc.ClosedChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("lnd listing closed channels: %w", err)
	}
	out := make([]lnunify.Channel, 0, len(closed.GetChannels()))
	for _, c := range closed.GetChannels() {
		out = append(out, normalize.LNDClosedChannel(c))
	}
	n.aliases.Enrich(ctx, out)
	return out, nil
}

func (n *Node) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	txs, err := n.rpc.GetTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("lnd getting transactions: %w", err)
	}
	out := make([]lnunify.Transaction, 0, len(txs.GetTransactions()))
	for _, tx := range txs.GetTransactions() {
		out = append(out, normalize.LNDTransaction(tx))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func (n *Node) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	resp, err := n.rpc.ListInvoices(ctx, &lnrpc.ListInvoiceRequest{
		NumMaxInvoices: uint64(opts.EffectiveLimit()),
		Reversed:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd listing invoices: %w", err)
	}
	out := make([]lnunify.Invoice, 0, len(resp.GetInvoices()))
	for _, inv := range resp.GetInvoices() {
		out = append(out, normalize.LNDInvoice(inv))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (n *Node) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	resp, err := n.rpc.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
		IncludeIncomplete: true,
		MaxPayments:       uint64(opts.EffectiveLimit()),
		Reversed:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd listing payments: %w", err)
	}
	out := make([]lnunify.Payment, 0, len(resp.GetPayments()))
	for _, p := range resp.GetPayments() {
		out = append(out, normalize.LNDPayment(p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (n *Node) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Invoice{}, err
	}
	inv := &lnrpc.Invoice{
		Memo:      req.Memo,
		ValueMsat: req.AmountMsat(),
		Expiry:    req.Expiry,
		Private:   req.Private,
		IsAmp:     req.IsAMP,
	}
	if req.Preimage != "" {
		preimage, err := hex.DecodeString(req.Preimage)
		if err != nil || len(preimage) != 32 {
			return lnunify.Invoice{}, fmt.Errorf("invalid preimage: %q", req.Preimage)
		}
		inv.RPreimage = preimage
	}

	resp, err := n.rpc.AddInvoice(ctx, inv)
	if err != nil {
		return lnunify.Invoice{}, fmt.Errorf("lnd adding invoice: %w", err)
	}
	out := normalize.LNDAddInvoice(resp, req)
	out.Preimage = req.Preimage
	return out, nil
}

// PayInvoice sends through the router and waits for the final state. A
// failed payment is returned as a record, not as an error.
func (n *Node) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}
	send := &routerrpc.SendPaymentRequest{
		PaymentRequest:    req.PaymentRequest,
		Amt:               req.AmountSat,
		FeeLimitSat:       req.FeeLimitSat,
		TimeoutSeconds:    timeout,
		MaxParts:          req.MaxParts,
		Amp:               req.AMP,
		OutgoingChanIds:   req.OutgoingChanIDs,
		AllowSelfPayment:  req.AllowSelfPayment,
		NoInflightUpdates: true,
	}
	if req.LastHopPubkey != "" {
		hop, err := hex.DecodeString(req.LastHopPubkey)
		if err != nil {
			return lnunify.Payment{}, fmt.Errorf("invalid last hop pubkey: %w", err)
		}
		send.LastHopPubkey = hop
	}

	p, err := n.rpc.SendPayment(ctx, send)
	if err != nil {
		return lnunify.Payment{}, fmt.Errorf("lnd sending payment: %w", err)
	}
	out := normalize.LNDPayment(p)
	if out.PaymentRequest == "" {
		out.PaymentRequest = req.PaymentRequest
	}
	return out, nil
}

// SendKeysend pays destination spontaneously with a random preimage.
func (n *Node) SendKeysend(ctx context.Context, req lnunify.KeysendRequest) (lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	dest, err := hex.DecodeString(req.Destination)
	if err != nil || len(dest) != 33 {
		return lnunify.Payment{}, fmt.Errorf("invalid destination: %q", req.Destination)
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return lnunify.Payment{}, fmt.Errorf("generating preimage: %w", err)
	}
	hash := sha256.Sum256(preimage)

	records := make(map[uint64][]byte, len(req.Custom)+2)
	for k, v := range req.Custom {
		records[k] = v
	}
	records[KeysendPreimageRecord] = preimage
	if req.Message != "" {
		records[KeysendMessageRecord] = []byte(req.Message)
	}

	p, err := n.rpc.SendPayment(ctx, &routerrpc.SendPaymentRequest{
		Dest:              dest,
		Amt:               req.AmountSat,
		FeeLimitSat:       req.FeeLimitSat,
		PaymentHash:       hash[:],
		DestCustomRecords: records,
		DestFeatures:      []lnrpc.FeatureBit{lnrpc.FeatureBit_TLV_ONION_REQ},
		TimeoutSeconds:    defaultPaymentTimeout,
		NoInflightUpdates: true,
	})
	if err != nil {
		return lnunify.Payment{}, fmt.Errorf("lnd sending keysend: %w", err)
	}
	out := normalize.LNDPayment(p)
	if out.PaymentHash == "" {
		out.PaymentHash = hex.EncodeToString(hash[:])
	}
	if out.Destination == "" {
		out.Destination = req.Destination
	}
	return out, nil
}

func (n *Node) SendOnchain(ctx context.Context, req lnunify.SendOnchainRequest) (lnunify.SentOnchain, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.SentOnchain{}, err
	}
	outpoints, err := parseOutpoints(req.Outpoints)
	if err != nil {
		return lnunify.SentOnchain{}, err
	}
	resp, err := n.rpc.SendCoins(ctx, &lnrpc.SendCoinsRequest{
		Addr:        req.Address,
		Amount:      req.AmountSat,
		SatPerVbyte: req.SatPerVbyte,
		SendAll:     req.SendAll,
		Label:       req.Label,
		Outpoints:   outpoints,
	})
	if err != nil {
		return lnunify.SentOnchain{}, fmt.Errorf("lnd sending coins: %w", err)
	}
	return lnunify.SentOnchain{TxID: resp.GetTxid()}, nil
}

// AddressType maps an address type name to lnd's enum.
func AddressType(name string) (lnrpc.AddressType, error) {
	switch strings.ToLower(name) {
	case "", "p2wkh":
		return lnrpc.AddressType_WITNESS_PUBKEY_HASH, nil
	case "np2wkh":
		return lnrpc.AddressType_NESTED_PUBKEY_HASH, nil
	case "p2tr":
		return lnrpc.AddressType_TAPROOT_PUBKEY, nil
	default:
		return 0, fmt.Errorf("unknown address type: %q", name)
	}
}

func (n *Node) NewAddress(ctx context.Context, req lnunify.NewAddressRequest) (lnunify.NewAddress, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.NewAddress{}, err
	}
	t, err := AddressType(req.Type)
	if err != nil {
		return lnunify.NewAddress{}, err
	}
	resp, err := n.rpc.NewAddress(ctx, &lnrpc.NewAddressRequest{Type: t})
	if err != nil {
		return lnunify.NewAddress{}, fmt.Errorf("lnd getting new address: %w", err)
	}
	return lnunify.NewAddress{Address: resp.GetAddress()}, nil
}

// OpenChannel connects to the peer first when a host is given.
func (n *Node) OpenChannel(ctx context.Context, req lnunify.OpenChannelRequest) (lnunify.OpenedChannel, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.OpenedChannel{}, err
	}
	pub, err := hex.DecodeString(req.NodePubkey)
	if err != nil || len(pub) != 33 {
		return lnunify.OpenedChannel{}, fmt.Errorf("invalid node pubkey: %q", req.NodePubkey)
	}
	outpoints, err := parseOutpoints(req.Outpoints)
	if err != nil {
		return lnunify.OpenedChannel{}, err
	}

	if req.Host != "" {
		err := n.connect(ctx, lnunify.ConnectPeerRequest{Pubkey: req.NodePubkey, Host: req.Host})
		if err != nil {
			return lnunify.OpenedChannel{}, err
		}
	}

	open := &lnrpc.OpenChannelRequest{
		NodePubkey:         pub,
		LocalFundingAmount: req.LocalSat,
		PushSat:            req.PushSat,
		SatPerVbyte:        req.SatPerVbyte,
		Private:            req.Private,
		FundMax:            req.FundMax,
		Outpoints:          outpoints,
	}
	if req.SimpleTaproot {
		open.CommitmentType = lnrpc.CommitmentType_SIMPLE_TAPROOT
	}

	cp, err := n.rpc.OpenChannel(ctx, open)
	if err != nil {
		return lnunify.OpenedChannel{}, fmt.Errorf("lnd opening channel: %w", err)
	}
	point := normalize.LNDChannelPoint(cp)
	txid, _, _ := strings.Cut(point, ":")
	return lnunify.OpenedChannel{FundingTxID: txid, OutputIndex: cp.GetOutputIndex()}, nil
}

// CloseChannel closes by channel point, or by channel id when no point is
// given, and returns once the closing transaction was broadcast.
func (n *Node) CloseChannel(ctx context.Context, req lnunify.CloseChannelRequest) (lnunify.ClosedChannel, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.ClosedChannel{}, err
	}
	point := req.ChannelPoint
	if point == "" {
		var err error
		if point, err = n.channelPoint(ctx, req.ChannelID); err != nil {
			return lnunify.ClosedChannel{}, err
		}
	}
	cp, err := ParseChannelPoint(point)
	if err != nil {
		return lnunify.ClosedChannel{}, err
	}

	upd, err := n.rpc.CloseChannel(ctx, &lnrpc.CloseChannelRequest{
		ChannelPoint:    cp,
		Force:           req.Force,
		SatPerVbyte:     req.SatPerVbyte,
		DeliveryAddress: req.Address,
	})
	if err != nil {
		return lnunify.ClosedChannel{}, fmt.Errorf("lnd closing channel: %w", err)
	}
	var txid string
	if h, err := chainhash.NewHash(upd.GetTxid()); err == nil {
		txid = h.String()
	}
	return lnunify.ClosedChannel{ClosingTxID: txid}, nil
}

// channelPoint resolves a numeric channel id or short channel id among the
// open channels.
func (n *Node) channelPoint(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("channel point or channel id required")
	}
	resp, err := n.rpc.ListChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("lnd listing channels: %w", err)
	}
	for _, c := range resp.GetChannels() {
		ch := normalize.LNDChannel(c)
		if ch.ChannelID == id || ch.ShortChannelID == id {
			return ch.ChannelPoint, nil
		}
	}
	return "", fmt.Errorf("channel %s not found", id)
}

func (n *Node) ConnectPeer(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	if err := n.lc.Ready(); err != nil {
		return err
	}
	return n.connect(ctx, req)
}

func (n *Node) connect(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	err := n.rpc.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{Pubkey: req.Pubkey, Host: req.Host},
		Perm: req.Perm,
	})
	if err != nil && !strings.Contains(err.Error(), "already connected") {
		return fmt.Errorf("lnd connecting peer: %w", err)
	}
	return nil
}

func (n *Node) DecodePaymentRequest(ctx context.Context, payReq string) (lnunify.PayReq, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}
	resp, err := n.rpc.DecodePayReq(ctx, payReq)
	if err != nil {
		return lnunify.PayReq{}, fmt.Errorf("lnd decoding payment request: %w", err)
	}
	return normalize.LNDPayReq(resp), nil
}

func (n *Node) SignMessage(ctx context.Context, msg []byte) (lnunify.SignedMessage, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.SignedMessage{}, err
	}
	resp, err := n.rpc.SignMessage(ctx, msg)
	if err != nil {
		return lnunify.SignedMessage{}, fmt.Errorf("lnd signing message: %w", err)
	}
	return lnunify.SignedMessage{Signature: resp.GetSignature()}, nil
}

// VerifyMessage asks the node. A signature by an expected pubkey other than
// the recovered one is invalid.
func (n *Node) VerifyMessage(ctx context.Context, req lnunify.VerifyMessageRequest) (lnunify.VerifiedMessage, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	resp, err := n.rpc.VerifyMessage(ctx, []byte(req.Message), req.Signature)
	if err != nil {
		return lnunify.VerifiedMessage{}, fmt.Errorf("lnd verifying message: %w", err)
	}
	out := lnunify.VerifiedMessage{Valid: resp.GetValid(), Pubkey: resp.GetPubkey()}
	if req.Pubkey != "" && req.Pubkey != out.Pubkey {
		out.Valid = false
	}
	return out, nil
}

func (n *Node) GetFees(ctx context.Context) (lnunify.FeeReport, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.FeeReport{}, err
	}
	resp, err := n.rpc.FeeReport(ctx)
	if err != nil {
		return lnunify.FeeReport{}, fmt.Errorf("lnd getting fee report: %w", err)
	}
	return normalize.LNDFeeReport(resp), nil
}

// SetFees updates one channel or, with Global, every channel.
func (n *Node) SetFees(ctx context.Context, req lnunify.SetFeesRequest) error {
	if err := n.lc.Ready(); err != nil {
		return err
	}
	upd := &lnrpc.PolicyUpdateRequest{
		BaseFeeMsat:   req.BaseFeeMsat,
		FeeRatePpm:    uint32(req.FeeRatePPM),
		TimeLockDelta: req.TimeLockDelta,
	}
	if upd.TimeLockDelta == 0 {
		upd.TimeLockDelta = defaultTimeLockDelta
	}
	if req.InboundBaseFeeMsat != 0 || req.InboundFeeRatePPM != 0 {
		upd.InboundFee = &lnrpc.InboundFee{
			BaseFeeMsat: req.InboundBaseFeeMsat,
			FeeRatePpm:  req.InboundFeeRatePPM,
		}
	}

	switch {
	case req.Global:
		upd.Scope = &lnrpc.PolicyUpdateRequest_Global{Global: true}
	default:
		point := req.ChannelPoint
		if point == "" {
			var err error
			if point, err = n.channelPoint(ctx, req.ChannelID); err != nil {
				return err
			}
		}
		cp, err := ParseChannelPoint(point)
		if err != nil {
			return err
		}
		upd.Scope = &lnrpc.PolicyUpdateRequest_ChanPoint{ChanPoint: cp}
	}

	resp, err := n.rpc.UpdateChannelPolicy(ctx, upd)
	if err != nil {
		return fmt.Errorf("lnd updating channel policy: %w", err)
	}
	if failed := resp.GetFailedUpdates(); len(failed) > 0 {
		return lnunify.NewBackendError(0, failed[0].GetUpdateError())
	}
	return nil
}

func (n *Node) ListUTXOs(ctx context.Context) ([]lnunify.UTXO, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	resp, err := n.rpc.ListUnspent(ctx, &lnrpc.ListUnspentRequest{
		MinConfs: 0,
		MaxConfs: math.MaxInt32,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd listing unspent: %w", err)
	}
	out := make([]lnunify.UTXO, 0, len(resp.GetUtxos()))
	for _, u := range resp.GetUtxos() {
		out = append(out, normalize.LNDUTXO(u))
	}
	return out, nil
}

func (n *Node) SubscribeInvoices(ctx context.Context) (*lnunify.Subscription[lnunify.InvoiceUpdate], error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	return lnunify.NewSubscription(ctx, func(ctx context.Context, emit func(lnunify.InvoiceUpdate) bool) error {
		return n.rpc.SubscribeInvoices(ctx, func(inv *lnrpc.Invoice) bool {
			return emit(lnunify.InvoiceUpdate{Invoice: normalize.LNDInvoice(inv)})
		})
	}), nil
}

func (n *Node) SubscribeChannelEvents(ctx context.Context) (*lnunify.Subscription[lnunify.ChannelEvent], error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	return lnunify.NewSubscription(ctx, func(ctx context.Context, emit func(lnunify.ChannelEvent) bool) error {
		return n.rpc.SubscribeChannelEvents(ctx, func(u *lnrpc.ChannelEventUpdate) bool {
			return emit(normalize.LNDChannelEvent(u))
		})
	}), nil
}

// ParseChannelPoint parses txid:index.
func ParseChannelPoint(s string) (*lnrpc.ChannelPoint, error) {
	txid, idx, ok := strings.Cut(s, ":")
	if !ok || len(txid) != 64 {
		return nil, fmt.Errorf("invalid channel point: %q", s)
	}
	if _, err := hex.DecodeString(txid); err != nil {
		return nil, fmt.Errorf("invalid channel point: %q", s)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid channel point index: %q", s)
	}
	return &lnrpc.ChannelPoint{
		FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{FundingTxidStr: txid},
		OutputIndex: uint32(index),
	}, nil
}

func parseOutpoints(points []string) ([]*lnrpc.OutPoint, error) {
	if len(points) == 0 {
		return nil, nil
	}
	out := make([]*lnrpc.OutPoint, 0, len(points))
	for _, p := range points {
		cp, err := ParseChannelPoint(p)
		if err != nil {
			return nil, fmt.Errorf("invalid outpoint: %q", p)
		}
		out = append(out, &lnrpc.OutPoint{
			TxidStr:     cp.GetFundingTxidStr(),
			OutputIndex: cp.GetOutputIndex(),
		})
	}
	return out, nil
}
