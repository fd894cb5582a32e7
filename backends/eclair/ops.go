package eclair

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"golang.org/x/sync/errgroup"
)

func (a *Adapter) channels(ctx context.Context) ([]normalize.EclairChannel, error) {
	var channels []normalize.EclairChannel
	if err := a.callInto(ctx, "channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (a *Adapter) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NodeInfo{}, err
	}

	var (
		info     normalize.EclairInfo
		channels []normalize.EclairChannel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.callInto(gctx, "getinfo", nil, &info) })
	g.Go(func() (err error) {
		channels, err = a.channels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return lnunify.NodeInfo{}, err
	}
	return normalize.EclairNodeInfo(info, channels), nil
}

func (a *Adapter) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Balance{}, err
	}

	var (
		onchain  normalize.EclairOnchainBalance
		channels []normalize.EclairChannel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.callInto(gctx, "onchainbalance", nil, &onchain) })
	g.Go(func() (err error) {
		channels, err = a.channels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return lnunify.Balance{}, err
	}
	return normalize.EclairBalance(&onchain, channels), nil
}

// ListChannels returns channels that are not yet closed, with peer aliases
// filled in.
func (a *Adapter) ListChannels(ctx context.Context) ([]lnunify.Channel, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	channels, err := a.channels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]lnunify.Channel, 0, len(channels))
	for _, c := range channels {
		rec := normalize.EclairChannelRecord(c)
		if rec.Status == lnunify.ChannelClosed {
			continue
		}
		out = append(out, rec)
	}
	a.aliases.Enrich(ctx, out)
	return out, nil
}

func (a *Adapter) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}

	var (
		info normalize.EclairInfo
		txs  []normalize.EclairOnchainTx
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.callInto(gctx, "getinfo", nil, &info) })
	g.Go(func() error {
		form := url.Values{"count": {strconv.Itoa(lnunify.DefaultListLimit)}}
		return a.callInto(gctx, "onchaintransactions", form, &txs)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return normalize.EclairTransactions(txs, info.BlockHeight), nil
}

// ListInvoices merges the invoices of the last 90 days with the pending
// ones. Invoices missing from the pending list are settled.
func (a *Adapter) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}

	now := a.now()
	form := url.Values{"from": {strconv.FormatInt(now.Add(-invoiceWindow).Unix(), 10)}}
	var all, pending []normalize.EclairInvoice
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.callInto(gctx, "listinvoices", form, &all) })
	g.Go(func() error { return a.callInto(gctx, "listpendinginvoices", form, &pending) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	invoices := normalize.EclairInvoices(all, pending, now.Unix())
	if limit := opts.EffectiveLimit(); len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

func (a *Adapter) audit(ctx context.Context) (normalize.EclairAudit, error) {
	var audit normalize.EclairAudit
	err := a.callInto(ctx, "audit", nil, &audit)
	return audit, err
}

func (a *Adapter) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	audit, err := a.audit(ctx)
	if err != nil {
		return nil, err
	}
	payments := normalize.EclairPayments(audit)
	if limit := opts.EffectiveLimit(); len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (a *Adapter) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Invoice{}, err
	}

	form := url.Values{"description": {req.Memo}}
	if msat := req.AmountMsat(); msat > 0 {
		form.Set("amountMsat", strconv.FormatInt(msat, 10))
	}
	if req.Expiry > 0 {
		form.Set("expireIn", strconv.FormatInt(req.Expiry, 10))
	}
	var inv normalize.EclairInvoice
	if err := a.callInto(ctx, "createinvoice", form, &inv); err != nil {
		return lnunify.Invoice{}, err
	}
	return normalize.EclairInvoiceRecord(inv, map[string]bool{inv.PaymentHash: true},
		a.now().Unix()), nil
}

// PayInvoice starts the payment and polls getsentinfo until it resolves or
// the payment timeout passes. A payment still pending at that point is
// returned as in flight.
func (a *Adapter) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Payment{}, err
	}

	form := url.Values{"invoice": {req.PaymentRequest}}
	if req.AmountSat > 0 {
		form.Set("amountMsat", strconv.FormatInt(req.AmountSat*1000, 10))
	}
	if req.FeeLimitSat > 0 {
		form.Set("maxFeeFlatSat", strconv.FormatInt(req.FeeLimitSat, 10))
	}
	var id string
	if err := a.callInto(ctx, "payinvoice", form, &id); err != nil {
		return lnunify.Payment{}, err
	}

	timeout := defaultPaymentTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return a.awaitPayment(ctx, id, req.PaymentRequest, timeout)
}

func (a *Adapter) awaitPayment(ctx context.Context, id, payReq string,
	timeout time.Duration) (lnunify.Payment, error) {

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	last := lnunify.Payment{PaymentRequest: payReq, Status: lnunify.PaymentInFlight}
	for {
		var attempts []normalize.EclairSentInfo
		err := a.callInto(ctx, "getsentinfo", url.Values{"id": {id}}, &attempts)
		switch {
		case err != nil && ctx.Err() == nil:
			return lnunify.Payment{}, err
		case err == nil:
			p, done := normalize.EclairSentPayment(attempts)
			if p.PaymentRequest == "" {
				p.PaymentRequest = payReq
			}
			if done {
				return p, nil
			}
			if len(attempts) > 0 {
				last = p
				last.Status = lnunify.PaymentInFlight
			}
		}

		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return last, err
			}
			a.log.Warn("payment still pending", "id", id)
			return last, nil
		case <-ticker.C:
		}
	}
}

// SendOnchain sends with a confirmation target of six blocks. Eclair
// picks the inputs and has no send-all.
func (a *Adapter) SendOnchain(ctx context.Context, req lnunify.SendOnchainRequest) (lnunify.SentOnchain, error) {
	if err := a.Ready(); err != nil {
		return lnunify.SentOnchain{}, err
	}
	if req.SendAll || len(req.Outpoints) > 0 {
		return lnunify.SentOnchain{}, &lnunify.CapabilityError{
			Capability: lnunify.CapCoinControl,
			Operation:  lnunify.OpSendOnchain,
		}
	}

	form := url.Values{
		"address":            {req.Address},
		"amountSatoshis":     {strconv.FormatInt(req.AmountSat, 10)},
		"confirmationTarget": {strconv.Itoa(defaultConfTarget)},
	}
	var txid string
	if err := a.callInto(ctx, "sendonchain", form, &txid); err != nil {
		return lnunify.SentOnchain{}, err
	}
	return lnunify.SentOnchain{TxID: txid}, nil
}

func (a *Adapter) NewAddress(ctx context.Context, _ lnunify.NewAddressRequest) (lnunify.NewAddress, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NewAddress{}, err
	}
	var addr string
	if err := a.callInto(ctx, "getnewaddress", nil, &addr); err != nil {
		return lnunify.NewAddress{}, err
	}
	return lnunify.NewAddress{Address: addr}, nil
}

var fundingTxRe = regexp.MustCompile(`fundingTxId=([0-9a-f]{64})`)

// OpenChannel connects to the peer when a host is given, then opens.
func (a *Adapter) OpenChannel(ctx context.Context, req lnunify.OpenChannelRequest) (lnunify.OpenedChannel, error) {
	if err := a.Ready(); err != nil {
		return lnunify.OpenedChannel{}, err
	}
	if req.Host != "" {
		err := a.ConnectPeer(ctx, lnunify.ConnectPeerRequest{Pubkey: req.NodePubkey, Host: req.Host})
		if err != nil {
			return lnunify.OpenedChannel{}, err
		}
	}

	flags := "1"
	if req.Private {
		flags = "0"
	}
	form := url.Values{
		"nodeId":          {req.NodePubkey},
		"fundingSatoshis": {strconv.FormatInt(req.LocalSat, 10)},
		"channelFlags":    {flags},
	}
	if req.PushSat > 0 {
		form.Set("pushMsat", strconv.FormatInt(req.PushSat*1000, 10))
	}
	if req.SatPerVbyte > 0 {
		form.Set("fundingFeerateSatByte", strconv.FormatUint(req.SatPerVbyte, 10))
	}
	var msg string
	if err := a.callInto(ctx, "open", form, &msg); err != nil {
		return lnunify.OpenedChannel{}, err
	}

	// The reply is a sentence: created channel <id> with fundingTxId=<txid>.
	m := fundingTxRe.FindStringSubmatch(msg)
	if m == nil {
		return lnunify.OpenedChannel{}, &lnunify.ProtocolError{
			Body: []byte(msg),
			Err:  fmt.Errorf("no funding txid in open reply"),
		}
	}
	return lnunify.OpenedChannel{FundingTxID: m[1]}, nil
}

// CloseChannel closes by channel id. Eclair does not index channels by
// funding outpoint.
func (a *Adapter) CloseChannel(ctx context.Context, req lnunify.CloseChannelRequest) (lnunify.ClosedChannel, error) {
	if err := a.Ready(); err != nil {
		return lnunify.ClosedChannel{}, err
	}
	if req.ChannelID == "" {
		return lnunify.ClosedChannel{}, fmt.Errorf("eclair closing channel: channel id is required")
	}

	method := "close"
	form := url.Values{"channelId": {req.ChannelID}}
	switch {
	case req.Force:
		method = "forceclose"
	case req.Address != "":
		form.Set("scriptPubKey", req.Address)
	}
	if req.SatPerVbyte > 0 && !req.Force {
		form.Set("preferredFeerateSatByte", strconv.FormatUint(req.SatPerVbyte, 10))
	}

	var results map[string]string
	if err := a.callInto(ctx, method, form, &results); err != nil {
		return lnunify.ClosedChannel{}, err
	}
	for id, res := range results {
		if res != "ok" {
			return lnunify.ClosedChannel{}, lnunify.NewBackendError(0,
				fmt.Sprintf("closing %s: %s", id, res))
		}
	}
	return lnunify.ClosedChannel{}, nil
}

func (a *Adapter) ConnectPeer(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	if err := a.Ready(); err != nil {
		return err
	}
	form := url.Values{"uri": {req.Pubkey + "@" + req.Host}}
	if _, err := a.call(ctx, "connect", form); err != nil {
		return fmt.Errorf("eclair connect: %w", err)
	}
	return nil
}

func (a *Adapter) DecodePaymentRequest(ctx context.Context, payReq string) (lnunify.PayReq, error) {
	if err := a.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}
	var inv normalize.EclairInvoice
	if err := a.callInto(ctx, "parseinvoice", url.Values{"invoice": {payReq}}, &inv); err != nil {
		return lnunify.PayReq{}, err
	}
	return normalize.EclairPayReq(inv), nil
}

func (a *Adapter) SignMessage(ctx context.Context, msg []byte) (lnunify.SignedMessage, error) {
	if err := a.Ready(); err != nil {
		return lnunify.SignedMessage{}, err
	}
	var res struct {
		Signature string `json:"signature"`
	}
	form := url.Values{"msg": {base64.StdEncoding.EncodeToString(msg)}}
	if err := a.callInto(ctx, "signmessage", form, &res); err != nil {
		return lnunify.SignedMessage{}, err
	}
	return lnunify.SignedMessage{Signature: res.Signature}, nil
}

// VerifyMessage checks sig over the message. When a pubkey is requested
// the recovered key must match it.
func (a *Adapter) VerifyMessage(ctx context.Context, req lnunify.VerifyMessageRequest) (lnunify.VerifiedMessage, error) {
	if err := a.Ready(); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	var res struct {
		Valid     bool   `json:"valid"`
		PublicKey string `json:"public_key"`
	}
	form := url.Values{
		"msg": {base64.StdEncoding.EncodeToString([]byte(req.Message))},
		"sig": {req.Signature},
	}
	if err := a.callInto(ctx, "verifymessage", form, &res); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	valid := res.Valid
	if req.Pubkey != "" && !strings.EqualFold(req.Pubkey, res.PublicKey) {
		valid = false
	}
	return lnunify.VerifiedMessage{Valid: valid, Pubkey: res.PublicKey}, nil
}

func (a *Adapter) GetFees(ctx context.Context) (lnunify.FeeReport, error) {
	if err := a.Ready(); err != nil {
		return lnunify.FeeReport{}, err
	}

	var (
		audit    normalize.EclairAudit
		channels []normalize.EclairChannel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		audit, err = a.audit(gctx)
		return err
	})
	g.Go(func() (err error) {
		channels, err = a.channels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return lnunify.FeeReport{}, err
	}
	return normalize.EclairFeeReport(audit, channels, a.now().Unix()), nil
}

// SetFees updates one channel, or every open channel when Global is set.
func (a *Adapter) SetFees(ctx context.Context, req lnunify.SetFeesRequest) error {
	if err := a.Ready(); err != nil {
		return err
	}

	form := url.Values{
		"feeBaseMsat":               {strconv.FormatInt(req.BaseFeeMsat, 10)},
		"feeProportionalMillionths": {strconv.FormatInt(req.FeeRatePPM, 10)},
	}
	switch {
	case req.Global:
		channels, err := a.channels(ctx)
		if err != nil {
			return err
		}
		var ids []string
		for _, c := range channels {
			if normalize.EclairChannelStatus(c.State) == lnunify.ChannelOpen {
				ids = append(ids, c.ChannelID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		form.Set("channelIds", strings.Join(ids, ","))
	case req.ChannelID != "":
		form.Set("channelId", req.ChannelID)
	default:
		return fmt.Errorf("eclair setting fees: channel id is required")
	}

	var results map[string]json.RawMessage
	return a.callInto(ctx, "updaterelayfee", form, &results)
}
