package clncore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultPaymentTimeout = 60

	// Unilateral close timeouts in seconds, the legacy value follows what
	// spark and lnsocket clients always sent.
	forceCloseTimeout       = 2
	legacyForceCloseTimeout = 60

	labelPrefix = "lnunify."

	defaultAliasRate  = 10
	defaultAliasBurst = 5
)

// Dialect selects the command set used to talk to the node.
type Dialect int

const (
	// Modern nodes offer listpeerchannels, sql, decode and setchannel.
	Modern Dialect = iota

	// Legacy nodes are driven with listpeers, listinvoices, listsendpays,
	// decodepay and setchannelfee.
	Legacy
)

func (d Dialect) String() string {
	if d == Legacy {
		return "legacy"
	}
	return "modern"
}

// Node implements the canonical operations shared by every Core Lightning
// backend on top of a Caller.
type Node struct {
	caller  Caller
	lc      *lnunify.Lifecycle
	dialect Dialect
	aliases *lnunify.Aliases
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*nodeOptions)

type nodeOptions struct {
	log        *slog.Logger
	dialect    Dialect
	aliasRate  rate.Limit
	aliasBurst int
	now        func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *nodeOptions) { o.log = l }
}

func WithDialect(d Dialect) Option {
	return func(o *nodeOptions) { o.dialect = d }
}

// WithAliasRate limits alias lookups to r per second.
func WithAliasRate(r rate.Limit, burst int) Option {
	return func(o *nodeOptions) {
		o.aliasRate = r
		o.aliasBurst = burst
	}
}

// WithClock replaces the clock fee reports are computed against.
func WithClock(now func() time.Time) Option {
	return func(o *nodeOptions) { o.now = now }
}

// New returns a Node calling caller once lc is ready.
func New(caller Caller, lc *lnunify.Lifecycle, opts ...Option) *Node {
	o := nodeOptions{
		log:        slog.Default(),
		aliasRate:  defaultAliasRate,
		aliasBurst: defaultAliasBurst,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		caller:  caller,
		lc:      lc,
		dialect: o.dialect,
		now:     o.now,
		log:     o.log,
	}
	n.aliases = lnunify.NewAliases(n.lookupAlias, o.aliasRate, o.aliasBurst, o.log)
	return n
}

// Caller returns the underlying caller.
func (n *Node) Caller() Caller {
	return n.caller
}

func (n *Node) Dialect() Dialect {
	return n.dialect
}

// Aliases returns the alias resolver used for channel enrichment.
func (n *Node) Aliases() *lnunify.Aliases {
	return n.aliases
}

func (n *Node) lookupAlias(ctx context.Context, pubkey string) (string, error) {
	var params any = map[string]string{"id": pubkey}
	if n.dialect == Legacy {
		params = []string{pubkey}
	}
	resp, err := call[nodeList](ctx, n.caller, "listnodes", params)
	if err != nil {
		return "", err
	}
	if len(resp.Nodes) == 0 {
		return "", nil
	}
	return resp.Nodes[0].Alias, nil
}

// GetAlias implements lnunify.AliasResolver.
func (n *Node) GetAlias(ctx context.Context, pubkey string) (string, error) {
	if err := n.lc.Ready(); err != nil {
		return "", err
	}
	alias, err := n.lookupAlias(ctx, pubkey)
	if err != nil {
		return "", fmt.Errorf("cln listing nodes: %w", err)
	}
	return alias, nil
}

func (n *Node) getinfo(ctx context.Context) (normalize.CLNGetinfo, error) {
	info, err := call[normalize.CLNGetinfo](ctx, n.caller, "getinfo", nil)
	if err != nil {
		return info, fmt.Errorf("cln getting info: %w", err)
	}
	return info, nil
}

func (n *Node) listfunds(ctx context.Context) (normalize.CLNListFunds, error) {
	funds, err := call[normalize.CLNListFunds](ctx, n.caller, "listfunds", nil)
	if err != nil {
		return funds, fmt.Errorf("cln listing funds: %w", err)
	}
	return funds, nil
}

// channels lists the raw channel entries. Nodes before listpeerchannels
// nest them in listpeers.
func (n *Node) channels(ctx context.Context) ([]normalize.CLNChannel, error) {
	if n.dialect == Modern {
		resp, err := call[peerChannels](ctx, n.caller, "listpeerchannels", nil)
		if err == nil {
			return resp.Channels, nil
		}
		if !isUnknownCommand(err) {
			return nil, fmt.Errorf("cln listing peer channels: %w", err)
		}
		n.log.Debug("listpeerchannels unknown, falling back to listpeers")
	}
	resp, err := call[peerList](ctx, n.caller, "listpeers", nil)
	if err != nil {
		return nil, fmt.Errorf("cln listing peers: %w", err)
	}
	return normalize.CLNPeerChannels(resp.Peers), nil
}

func (n *Node) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.NodeInfo{}, err
	}
	info, err := n.getinfo(ctx)
	if err != nil {
		return lnunify.NodeInfo{}, err
	}
	return normalize.CLNNodeInfo(info), nil
}

func (n *Node) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Balance{}, err
	}
	funds, err := n.listfunds(ctx)
	if err != nil {
		return lnunify.Balance{}, err
	}
	return normalize.CLNBalance(funds), nil
}

// ListChannels returns the open, pending and closing channels. Channels
// whose funds are fully resolved on chain are left out.
func (n *Node) ListChannels(ctx context.Context) ([]lnunify.Channel, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	channels, err := n.channels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]lnunify.Channel, 0, len(channels))
	for _, c := range channels {
		ch := normalize.CLNChannelRecord(c)
		if ch.Status == lnunify.ChannelClosed {
			continue
		}
		out = append(out, ch)
	}
	n.aliases.Enrich(ctx, out)
	return out, nil
}

// ListTransactions returns the on-chain history. Modern nodes merge the
// bookkeeper events with listtransactions, either source missing yields
// fewer entries rather than an error. Legacy nodes list their wallet
// outputs.
func (n *Node) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	info, err := n.getinfo(ctx)
	if err != nil {
		return nil, err
	}

	if n.dialect == Legacy {
		funds, err := n.listfunds(ctx)
		if err != nil {
			return nil, err
		}
		return normalize.CLNFundTransactions(funds, int64(info.Blockheight)), nil
	}

	var events []normalize.CLNAccountEvent
	rows, err := call[normalize.SQLRows](ctx, n.caller, "sql",
		sqlQuery{Query: normalize.BookkeeperQuery(lnunify.DefaultListLimit)})
	switch {
	case err != nil:
		n.log.Debug("querying bookkeeper events", "error", err)
	default:
		if events, err = normalize.DecodeRows[normalize.CLNAccountEvent](rows, normalize.BookkeeperColumns); err != nil {
			return nil, &lnunify.ProtocolError{Err: fmt.Errorf("decoding bookkeeper rows: %w", err)}
		}
	}

	txs, err := call[transactionList](ctx, n.caller, "listtransactions", nil)
	if err != nil {
		n.log.Debug("listing transactions", "error", err)
	}

	return normalize.CLNTransactions(events, txs.Transactions, int64(info.Blockheight),
		normalize.CLNNetwork(info.Network)), nil
}

// ListInvoices returns the paid invoices, newest first.
func (n *Node) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	limit := opts.EffectiveLimit()

	var invoices []normalize.CLNInvoice
	if n.dialect == Modern {
		rows, err := call[normalize.SQLRows](ctx, n.caller, "sql", sqlQuery{Query: normalize.InvoicesQuery(limit)})
		if err != nil {
			return nil, fmt.Errorf("cln querying invoices: %w", err)
		}
		invoices, err = normalize.DecodeRows[normalize.CLNInvoice](rows, normalize.InvoiceColumns)
		if err != nil {
			return nil, &lnunify.ProtocolError{Err: fmt.Errorf("decoding invoice rows: %w", err)}
		}
	} else {
		resp, err := call[invoiceList](ctx, n.caller, "listinvoices", nil)
		if err != nil {
			return nil, fmt.Errorf("cln listing invoices: %w", err)
		}
		invoices = newest(resp.Invoices, limit)
	}

	out := make([]lnunify.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, normalize.CLNInvoiceRecord(inv))
	}
	return out, nil
}

// ListPayments returns the payments, newest first. Modern nodes group the
// parts of multi part payments in the query.
func (n *Node) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	limit := opts.EffectiveLimit()

	var payments []normalize.CLNPayment
	if n.dialect == Modern {
		rows, err := call[normalize.SQLRows](ctx, n.caller, "sql", sqlQuery{Query: normalize.PaymentsQuery(limit)})
		if err != nil {
			return nil, fmt.Errorf("cln querying payments: %w", err)
		}
		payments, err = normalize.DecodeRows[normalize.CLNPayment](rows, normalize.PaymentColumns)
		if err != nil {
			return nil, &lnunify.ProtocolError{Err: fmt.Errorf("decoding payment rows: %w", err)}
		}
	} else {
		resp, err := call[sendpayList](ctx, n.caller, "listsendpays", nil)
		if err != nil {
			return nil, fmt.Errorf("cln listing sendpays: %w", err)
		}
		payments = newest(append(resp.Payments, resp.Pays...), limit)
	}

	out := make([]lnunify.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, normalize.CLNPaymentRecord(p))
	}
	return out, nil
}

// newest reverses the oldest first list commands return and keeps at most
// limit entries.
func newest[T any](list []T, limit int) []T {
	out := make([]T, 0, min(len(list), limit))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out
}

// CreateInvoice labels the invoice with a random id. A zero amount creates
// an invoice for any amount.
func (n *Node) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Invoice{}, err
	}
	label := labelPrefix + uuid.NewString()

	params := map[string]any{
		"label":                 label,
		"description":           req.Memo,
		"exposeprivatechannels": true,
	}
	amount := any("any")
	if msat := req.AmountMsat(); msat > 0 {
		amount = msat
	}
	if n.dialect == Legacy {
		params["msatoshi"] = amount
	} else {
		params["amount_msat"] = amount
		if req.Preimage != "" {
			params["preimage"] = req.Preimage
		}
	}
	if req.Expiry > 0 {
		params["expiry"] = req.Expiry
	}

	resp, err := call[normalize.CLNCreatedInvoice](ctx, n.caller, "invoice", params)
	if err != nil {
		return lnunify.Invoice{}, fmt.Errorf("cln creating invoice: %w", err)
	}
	out := normalize.CLNCreatedInvoiceRecord(resp, label, req)
	out.Preimage = req.Preimage
	return out, nil
}

// PayInvoice pays a bolt11 invoice and waits for the result. The call
// timeout follows the retry window of the payment.
func (n *Node) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}

	params := map[string]any{"bolt11": req.PaymentRequest}
	if n.dialect == Legacy {
		if req.AmountSat > 0 {
			params["msatoshi"] = normalize.SatToMsat(req.AmountSat)
		}
	} else {
		params["retry_for"] = timeout
		if req.AmountSat > 0 {
			params["amount_msat"] = normalize.SatToMsat(req.AmountSat)
		}
		if req.FeeLimitSat > 0 {
			params["maxfee"] = normalize.SatToMsat(req.FeeLimitSat)
		}
	}

	p, err := call[normalize.CLNPayment](ctx, n.caller, "pay", params,
		lnunify.WithTimeout(paymentTimeout(timeout)))
	if err != nil {
		return lnunify.Payment{}, fmt.Errorf("cln paying invoice: %w", err)
	}
	out := normalize.CLNPaymentRecord(p)
	if out.PaymentRequest == "" {
		out.PaymentRequest = req.PaymentRequest
	}
	return out, nil
}

// paymentTimeout leaves the node time to report after its retry window.
func paymentTimeout(seconds int32) time.Duration {
	return time.Duration(seconds)*time.Second + lnunify.DefaultRequestTimeout
}

// feerate converts sat/vbyte into the perkb notation Core Lightning takes.
// Zero leaves the choice to the node.
func feerate(params map[string]any, satPerVbyte uint64) {
	if satPerVbyte > 0 {
		params["feerate"] = strconv.FormatUint(satPerVbyte*1000, 10) + "perkb"
	}
}

func (n *Node) SendOnchain(ctx context.Context, req lnunify.SendOnchainRequest) (lnunify.SentOnchain, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.SentOnchain{}, err
	}
	params := map[string]any{"destination": req.Address}
	if req.SendAll {
		params["satoshi"] = "all"
	} else {
		params["satoshi"] = req.AmountSat
	}
	feerate(params, req.SatPerVbyte)
	if len(req.Outpoints) > 0 {
		params["utxos"] = req.Outpoints
	}

	resp, err := call[withdrawal](ctx, n.caller, "withdraw", params)
	if err != nil {
		return lnunify.SentOnchain{}, fmt.Errorf("cln withdrawing: %w", err)
	}
	return lnunify.SentOnchain{TxID: resp.TxID}, nil
}

// NewAddress returns a segwit v0 or taproot address. Nested segwit is not
// offered by Core Lightning.
func (n *Node) NewAddress(ctx context.Context, req lnunify.NewAddressRequest) (lnunify.NewAddress, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.NewAddress{}, err
	}

	params := map[string]any{}
	switch req.Type {
	case "":
	case "p2wkh":
		params["addresstype"] = "bech32"
	case "p2tr":
		if n.dialect == Legacy {
			return lnunify.NewAddress{}, fmt.Errorf("address type %q not supported", req.Type)
		}
		params["addresstype"] = "p2tr"
	default:
		return lnunify.NewAddress{}, fmt.Errorf("address type %q not supported", req.Type)
	}

	resp, err := call[newAddr](ctx, n.caller, "newaddr", params)
	if err != nil {
		return lnunify.NewAddress{}, fmt.Errorf("cln getting new address: %w", err)
	}
	addr := resp.Bech32
	switch {
	case req.Type == "p2tr" || addr == "" && resp.P2TR != "":
		addr = resp.P2TR
	case addr == "":
		addr = resp.Address
	}
	if addr == "" {
		return lnunify.NewAddress{}, &lnunify.ProtocolError{Err: errors.New("newaddr returned no address")}
	}
	return lnunify.NewAddress{Address: addr}, nil
}

// OpenChannel connects to the peer first when a host is given.
func (n *Node) OpenChannel(ctx context.Context, req lnunify.OpenChannelRequest) (lnunify.OpenedChannel, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.OpenedChannel{}, err
	}
	if req.Host != "" {
		err := n.connect(ctx, lnunify.ConnectPeerRequest{Pubkey: req.NodePubkey, Host: req.Host})
		if err != nil {
			return lnunify.OpenedChannel{}, err
		}
	}

	params := map[string]any{
		"id":       req.NodePubkey,
		"announce": !req.Private,
	}
	if req.FundMax {
		params["amount"] = "all"
	} else {
		params["amount"] = req.LocalSat
	}
	if req.PushSat > 0 {
		params["push_msat"] = normalize.SatToMsat(req.PushSat)
	}
	feerate(params, req.SatPerVbyte)
	if len(req.Outpoints) > 0 {
		params["utxos"] = req.Outpoints
	}

	resp, err := call[fundedChannel](ctx, n.caller, "fundchannel", params)
	if err != nil {
		return lnunify.OpenedChannel{}, fmt.Errorf("cln funding channel: %w", err)
	}
	return lnunify.OpenedChannel{FundingTxID: resp.TxID, OutputIndex: resp.Outnum}, nil
}

// CloseChannel closes by channel id, short channel id or channel point.
// A forced close gives the peer a short grace period before going
// unilateral.
func (n *Node) CloseChannel(ctx context.Context, req lnunify.CloseChannelRequest) (lnunify.ClosedChannel, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.ClosedChannel{}, err
	}
	id, err := n.channelID(ctx, req.ChannelID, req.ChannelPoint)
	if err != nil {
		return lnunify.ClosedChannel{}, err
	}

	params := map[string]any{"id": id}
	if req.Force {
		params["unilateraltimeout"] = forceCloseTimeout
		if n.dialect == Legacy {
			params["unilateraltimeout"] = legacyForceCloseTimeout
		}
	}
	if req.Address != "" {
		params["destination"] = req.Address
	}

	resp, err := call[closed](ctx, n.caller, "close", params)
	if err != nil {
		return lnunify.ClosedChannel{}, fmt.Errorf("cln closing channel: %w", err)
	}
	return lnunify.ClosedChannel{ClosingTxID: resp.TxID}, nil
}

// channelID returns id as is or looks up the channel with the given
// channel point.
func (n *Node) channelID(ctx context.Context, id, point string) (string, error) {
	if id != "" {
		return id, nil
	}
	if point == "" {
		return "", errors.New("channel point or channel id required")
	}
	channels, err := n.channels(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range channels {
		ch := normalize.CLNChannelRecord(c)
		if ch.ChannelPoint == point || c.FundingTxID == point {
			if ch.ShortChannelID != "" {
				return ch.ShortChannelID, nil
			}
			return ch.ChannelID, nil
		}
	}
	return "", fmt.Errorf("channel %s not found", point)
}

func (n *Node) ConnectPeer(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	if err := n.lc.Ready(); err != nil {
		return err
	}
	return n.connect(ctx, req)
}

func (n *Node) connect(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	var params any
	switch {
	case n.dialect == Legacy:
		params = []string{req.Pubkey, req.Host}
	default:
		p := map[string]any{"id": req.Pubkey}
		if host, port, err := net.SplitHostPort(req.Host); err == nil {
			p["host"] = host
			if v, err := strconv.Atoi(port); err == nil {
				p["port"] = v
			}
		} else if req.Host != "" {
			p["host"] = req.Host
		}
		params = p
	}
	if _, err := n.caller.Call(ctx, "connect", params); err != nil {
		return fmt.Errorf("cln connecting peer: %w", err)
	}
	return nil
}

func (n *Node) DecodePaymentRequest(ctx context.Context, payReq string) (lnunify.PayReq, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}

	var (
		d   normalize.CLNDecoded
		err error
	)
	if n.dialect == Legacy {
		d, err = call[normalize.CLNDecoded](ctx, n.caller, "decodepay", []string{payReq})
	} else {
		d, err = call[normalize.CLNDecoded](ctx, n.caller, "decode", map[string]string{"string": payReq})
	}
	if err != nil {
		return lnunify.PayReq{}, fmt.Errorf("cln decoding payment request: %w", err)
	}
	return normalize.CLNPayReq(d)
}

// GetFees sums the settled forwards and lists the local channel policies.
// Legacy nodes take the policies from their own gossip.
func (n *Node) GetFees(ctx context.Context) (lnunify.FeeReport, error) {
	if err := n.lc.Ready(); err != nil {
		return lnunify.FeeReport{}, err
	}
	info, err := n.getinfo(ctx)
	if err != nil {
		return lnunify.FeeReport{}, err
	}
	channels, err := n.channels(ctx)
	if err != nil {
		return lnunify.FeeReport{}, err
	}

	var forwardParams any = map[string]string{"status": "settled"}
	if n.dialect == Legacy {
		forwardParams = nil

		gossip, err := call[gossipList](ctx, n.caller, "listchannels", map[string]string{"source": info.ID})
		if err != nil {
			return lnunify.FeeReport{}, fmt.Errorf("cln listing channels: %w", err)
		}
		channels = normalize.CLNApplyGossipFees(channels, gossip.Channels)
	}

	forwards, err := call[forwardList](ctx, n.caller, "listforwards", forwardParams)
	if err != nil {
		return lnunify.FeeReport{}, fmt.Errorf("cln listing forwards: %w", err)
	}
	return normalize.CLNFeeReport(info, channels, forwards.Forwards, n.now().Unix()), nil
}

// SetFees updates one channel or, with Global, every channel.
func (n *Node) SetFees(ctx context.Context, req lnunify.SetFeesRequest) error {
	if err := n.lc.Ready(); err != nil {
		return err
	}
	id := "all"
	if !req.Global {
		var err error
		if id, err = n.channelID(ctx, req.ChannelID, req.ChannelPoint); err != nil {
			return err
		}
	}

	method := "setchannel"
	params := map[string]any{"id": id, "feebase": req.BaseFeeMsat, "feeppm": req.FeeRatePPM}
	if n.dialect == Legacy {
		method = "setchannelfee"
		params = map[string]any{"id": id, "base": req.BaseFeeMsat, "ppm": req.FeeRatePPM}
	}
	if _, err := n.caller.Call(ctx, method, params); err != nil {
		return fmt.Errorf("cln setting channel fees: %w", err)
	}
	return nil
}

func (n *Node) ListUTXOs(ctx context.Context) ([]lnunify.UTXO, error) {
	if err := n.lc.Ready(); err != nil {
		return nil, err
	}
	info, err := n.getinfo(ctx)
	if err != nil {
		return nil, err
	}
	funds, err := n.listfunds(ctx)
	if err != nil {
		return nil, err
	}
	out := normalize.CLNUTXOs(funds, int64(info.Blockheight))
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confirmations < out[j].Confirmations })
	return out, nil
}

// Command replies decoded by the operations above.

type sqlQuery struct {
	Query string `json:"query"`
}

type peerChannels struct {
	Channels []normalize.CLNChannel `json:"channels"`
}

type peerList struct {
	Peers []normalize.CLNPeer `json:"peers"`
}

type nodeList struct {
	Nodes []normalize.CLNNode `json:"nodes"`
}

type gossipList struct {
	Channels []normalize.CLNGossipChannel `json:"channels"`
}

type transactionList struct {
	Transactions []normalize.CLNTransaction `json:"transactions"`
}

type invoiceList struct {
	Invoices []normalize.CLNInvoice `json:"invoices"`
}

// sendpayList accepts the payments key and the pays key of older nodes.
type sendpayList struct {
	Payments []normalize.CLNPayment `json:"payments"`
	Pays     []normalize.CLNPayment `json:"pays"`
}

type forwardList struct {
	Forwards []normalize.CLNForward `json:"forwards"`
}

type withdrawal struct {
	TxID string `json:"txid"`
}

type newAddr struct {
	Bech32  string `json:"bech32"`
	P2TR    string `json:"p2tr"`
	Address string `json:"address"`
}

type fundedChannel struct {
	TxID   string `json:"txid"`
	Outnum uint32 `json:"outnum"`
}

type closed struct {
	Type string `json:"type"`
	TxID string `json:"txid"`
}
