package ldk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"golang.org/x/sync/errgroup"
)

func (a *Adapter) channels(ctx context.Context) ([]normalize.LDKChannel, error) {
	return call[[]normalize.LDKChannel](ctx, a, methodListChannels)
}

func (a *Adapter) payments(ctx context.Context) ([]normalize.LDKPayment, error) {
	return call[[]normalize.LDKPayment](ctx, a, methodListPayments)
}

func (a *Adapter) GetInfo(ctx context.Context) (lnunify.NodeInfo, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NodeInfo{}, err
	}

	var (
		status   normalize.LDKStatus
		channels []normalize.LDKChannel
		peers    []normalize.LDKPeer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		status, err = call[normalize.LDKStatus](gctx, a, methodStatus)
		return err
	})
	g.Go(func() (err error) {
		channels, err = a.channels(gctx)
		return err
	})
	g.Go(func() (err error) {
		peers, err = call[[]normalize.LDKPeer](gctx, a, methodListPeers)
		return err
	})
	if err := g.Wait(); err != nil {
		return lnunify.NodeInfo{}, err
	}
	return normalize.LDKNodeInfo(a.nodeID(), a.network, status, channels, peers), nil
}

func (a *Adapter) GetBalance(ctx context.Context) (lnunify.Balance, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Balance{}, err
	}

	var (
		balances normalize.LDKBalances
		channels []normalize.LDKChannel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balances, err = call[normalize.LDKBalances](gctx, a, methodListBalances)
		return err
	})
	g.Go(func() (err error) {
		channels, err = a.channels(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return lnunify.Balance{}, err
	}
	return normalize.LDKBalance(balances, channels), nil
}

// ListChannels returns open and pending channels. ldk-node forgets a
// channel once it is closed.
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
		out = append(out, normalize.LDKChannelRecord(c))
	}
	return out, nil
}

func (a *Adapter) ListTransactions(ctx context.Context) ([]lnunify.Transaction, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	payments, err := a.payments(ctx)
	if err != nil {
		return nil, err
	}
	return normalize.LDKTransactions(payments), nil
}

func (a *Adapter) ListInvoices(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	payments, err := a.payments(ctx)
	if err != nil {
		return nil, err
	}
	invoices := normalize.LDKInvoices(payments)
	if limit := opts.EffectiveLimit(); len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

func (a *Adapter) ListPayments(ctx context.Context, opts lnunify.ListOptions) ([]lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	payments, err := a.payments(ctx)
	if err != nil {
		return nil, err
	}
	out := normalize.LDKPayments(payments)
	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateInvoice asks for a variable amount invoice when no amount is
// given. The payment hash is read from the invoice itself.
func (a *Adapter) CreateInvoice(ctx context.Context, req lnunify.CreateInvoiceRequest) (lnunify.Invoice, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Invoice{}, err
	}
	switch {
	case req.Preimage != "":
		return lnunify.Invoice{}, &lnunify.CapabilityError{
			Capability: lnunify.CapCustomPreimages,
			Operation:  lnunify.OpCreateInvoice,
		}
	case req.IsAMP:
		return lnunify.Invoice{}, &lnunify.CapabilityError{
			Capability: lnunify.CapAMP,
			Operation:  lnunify.OpCreateInvoice,
		}
	}

	expiry := req.Expiry
	if expiry <= 0 {
		expiry = defaultInvoiceExpiry
	}
	type receiveResult struct {
		Invoice string `json:"invoice"`
	}
	var (
		res receiveResult
		err error
	)
	if msat := req.AmountMsat(); msat > 0 {
		res, err = call[receiveResult](ctx, a, methodReceive, msat, req.Memo, expiry)
	} else {
		res, err = call[receiveResult](ctx, a, methodReceiveVariable, req.Memo, expiry)
	}
	if err != nil {
		return lnunify.Invoice{}, err
	}

	decoded, err := normalize.DecodeBolt11(res.Invoice)
	if err != nil {
		return lnunify.Invoice{}, &lnunify.ProtocolError{
			Body: []byte(res.Invoice),
			Err:  fmt.Errorf("decoding created invoice: %w", err),
		}
	}
	return lnunify.Invoice{
		PaymentHash:    decoded.PaymentHash,
		PaymentRequest: res.Invoice,
		Memo:           req.Memo,
		ValueMsat:      decoded.NumMsat,
		ValueSat:       decoded.NumSat,
		State:          lnunify.InvoiceOpen,
		CreatedAt:      decoded.Timestamp,
		ExpiresAt:      decoded.Timestamp + decoded.Expiry,
	}, nil
}

// PayInvoice starts the payment and polls the payment store until it
// resolves or the payment timeout passes. A payment still pending at that
// point is returned as in flight.
func (a *Adapter) PayInvoice(ctx context.Context, req lnunify.PayInvoiceRequest) (lnunify.Payment, error) {
	if err := a.Ready(); err != nil {
		return lnunify.Payment{}, err
	}
	decoded, err := normalize.DecodeBolt11(req.PaymentRequest)
	if err != nil {
		return lnunify.Payment{}, fmt.Errorf("ldk paying invoice: %w", err)
	}

	var id string
	if req.AmountSat > 0 {
		id, err = call[string](ctx, a, methodSendUsingAmount, req.PaymentRequest,
			normalize.SatToMsat(req.AmountSat))
	} else {
		id, err = call[string](ctx, a, methodSend, req.PaymentRequest)
	}
	if err != nil {
		return lnunify.Payment{}, err
	}

	timeout := defaultPaymentTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	p, err := a.awaitPayment(ctx, id, decoded.PaymentHash, timeout)
	p.PaymentRequest = req.PaymentRequest
	p.Destination = decoded.Destination
	p.Description = decoded.Description
	return p, err
}

func (a *Adapter) awaitPayment(ctx context.Context, id, hash string,
	timeout time.Duration) (lnunify.Payment, error) {

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	last := lnunify.Payment{PaymentHash: hash, Status: lnunify.PaymentInFlight}
	for {
		payments, err := a.payments(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			return lnunify.Payment{}, err
		case err == nil:
			for _, p := range payments {
				if p.ID != id {
					continue
				}
				rec := normalize.LDKPaymentRecord(p)
				if rec.Status == lnunify.PaymentSucceeded || rec.Status == lnunify.PaymentFailed {
					return rec, nil
				}
				last = rec
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

// SendOnchain sends with the fee rate the node estimates. A send-all keeps
// the reserve needed to bump anchor channels.
func (a *Adapter) SendOnchain(ctx context.Context, req lnunify.SendOnchainRequest) (lnunify.SentOnchain, error) {
	if err := a.Ready(); err != nil {
		return lnunify.SentOnchain{}, err
	}
	if len(req.Outpoints) > 0 {
		return lnunify.SentOnchain{}, &lnunify.CapabilityError{
			Capability: lnunify.CapCoinControl,
			Operation:  lnunify.OpSendOnchain,
		}
	}

	var (
		txid string
		err  error
	)
	if req.SendAll {
		txid, err = call[string](ctx, a, methodSendAllOnchain, req.Address, true)
	} else {
		txid, err = call[string](ctx, a, methodSendOnchain, req.Address, req.AmountSat)
	}
	if err != nil {
		return lnunify.SentOnchain{}, err
	}
	return lnunify.SentOnchain{TxID: txid}, nil
}

func (a *Adapter) NewAddress(ctx context.Context, _ lnunify.NewAddressRequest) (lnunify.NewAddress, error) {
	if err := a.Ready(); err != nil {
		return lnunify.NewAddress{}, err
	}
	addr, err := call[string](ctx, a, methodNewAddress)
	if err != nil {
		return lnunify.NewAddress{}, err
	}
	return lnunify.NewAddress{Address: addr}, nil
}

// OpenChannel opens and reports the funding transaction if the node
// already knows it.
func (a *Adapter) OpenChannel(ctx context.Context, req lnunify.OpenChannelRequest) (lnunify.OpenedChannel, error) {
	if err := a.Ready(); err != nil {
		return lnunify.OpenedChannel{}, err
	}
	switch {
	case req.FundMax || len(req.Outpoints) > 0:
		return lnunify.OpenedChannel{}, &lnunify.CapabilityError{
			Capability: lnunify.CapCoinControl,
			Operation:  lnunify.OpOpenChannel,
		}
	case req.SimpleTaproot:
		return lnunify.OpenedChannel{}, &lnunify.CapabilityError{
			Capability: lnunify.CapSimpleTaprootChannels,
			Operation:  lnunify.OpOpenChannel,
		}
	}

	var push any
	if req.PushSat > 0 {
		push = normalize.SatToMsat(req.PushSat)
	}
	userChannelID, err := call[string](ctx, a, methodOpenChannel,
		req.NodePubkey, req.Host, req.LocalSat, push, !req.Private)
	if err != nil {
		return lnunify.OpenedChannel{}, err
	}
	a.log.Info("channel opening", "peer", req.NodePubkey, "user_channel_id", userChannelID)

	channels, err := a.channels(ctx)
	if err != nil {
		a.log.Warn("looking up opened channel", "user_channel_id", userChannelID, "err", err)
		return lnunify.OpenedChannel{}, nil
	}
	for _, c := range channels {
		if c.UserChannelID == userChannelID {
			return lnunify.OpenedChannel{FundingTxID: c.FundingTxID, OutputIndex: c.FundingVout}, nil
		}
	}
	return lnunify.OpenedChannel{}, nil
}

// CloseChannel closes cooperatively. The channel is looked up by channel
// id, user channel id or funding outpoint.
func (a *Adapter) CloseChannel(ctx context.Context, req lnunify.CloseChannelRequest) (lnunify.ClosedChannel, error) {
	if err := a.Ready(); err != nil {
		return lnunify.ClosedChannel{}, err
	}
	if req.Force {
		return lnunify.ClosedChannel{}, fmt.Errorf("ldk closing channel: force close is not supported")
	}
	if req.ChannelID == "" && req.ChannelPoint == "" {
		return lnunify.ClosedChannel{}, fmt.Errorf("ldk closing channel: channel id or point is required")
	}

	channels, err := a.channels(ctx)
	if err != nil {
		return lnunify.ClosedChannel{}, err
	}
	for _, c := range channels {
		point := normalize.LDKChannelRecord(c).ChannelPoint
		match := (req.ChannelID != "" && (req.ChannelID == c.ChannelID || req.ChannelID == c.UserChannelID)) ||
			(req.ChannelPoint != "" && strings.EqualFold(req.ChannelPoint, point))
		if !match {
			continue
		}
		_, err := call[struct{}](ctx, a, methodCloseChannel, c.UserChannelID, c.CounterpartyNodeID)
		if err != nil {
			return lnunify.ClosedChannel{}, err
		}
		return lnunify.ClosedChannel{}, nil
	}
	return lnunify.ClosedChannel{}, lnunify.NewBackendError(0, "channel not found")
}

func (a *Adapter) ConnectPeer(ctx context.Context, req lnunify.ConnectPeerRequest) error {
	if err := a.Ready(); err != nil {
		return err
	}
	if _, err := call[struct{}](ctx, a, methodConnect, req.Pubkey, req.Host, req.Perm); err != nil {
		return fmt.Errorf("ldk connect: %w", err)
	}
	return nil
}

// DecodePaymentRequest decodes locally, the node has no decode call.
func (a *Adapter) DecodePaymentRequest(_ context.Context, payReq string) (lnunify.PayReq, error) {
	if err := a.Ready(); err != nil {
		return lnunify.PayReq{}, err
	}
	return normalize.DecodeBolt11(payReq)
}

func (a *Adapter) SignMessage(ctx context.Context, msg []byte) (lnunify.SignedMessage, error) {
	if err := a.Ready(); err != nil {
		return lnunify.SignedMessage{}, err
	}
	res, err := call[struct {
		Signature string `json:"signature"`
	}](ctx, a, methodSignMessage, string(msg))
	if err != nil {
		return lnunify.SignedMessage{}, err
	}
	return lnunify.SignedMessage{Signature: res.Signature}, nil
}

// VerifyMessage checks the signature against the requested pubkey, or the
// node's own key when none is given.
func (a *Adapter) VerifyMessage(ctx context.Context, req lnunify.VerifyMessageRequest) (lnunify.VerifiedMessage, error) {
	if err := a.Ready(); err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	pubkey := req.Pubkey
	if pubkey == "" {
		pubkey = a.nodeID()
	}
	res, err := call[struct {
		Valid bool `json:"valid"`
	}](ctx, a, methodVerifySignature, req.Message, req.Signature, pubkey)
	if err != nil {
		return lnunify.VerifiedMessage{}, err
	}
	return lnunify.VerifiedMessage{Valid: res.Valid, Pubkey: pubkey}, nil
}
