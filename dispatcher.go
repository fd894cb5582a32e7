package lnunify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Dispatcher forwards canonical operations to the active adapter. The
// adapter table is built once, the active kind may be switched at runtime.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[BackendKind]Adapter
	active   BackendKind

	autoConnect bool
	log         *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithAutoConnect connects adapters lazily on their first call. Enabled by
// default.
func WithAutoConnect(v bool) DispatcherOption {
	return func(d *Dispatcher) { d.autoConnect = v }
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

func NewDispatcher(adapters map[BackendKind]Adapter, active BackendKind,
	opts ...DispatcherOption) (*Dispatcher, error) {

	table := make(map[BackendKind]Adapter, len(adapters))
	for k, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter for %s", k)
		}
		if a.Kind() != k {
			return nil, fmt.Errorf("adapter for %s reports kind %s", k, a.Kind())
		}
		table[k] = a
	}
	if _, ok := table[active]; !ok {
		return nil, fmt.Errorf("no adapter configured for %s", active)
	}

	d := &Dispatcher{
		adapters:    table,
		active:      active,
		autoConnect: true,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Kind returns the active backend kind.
func (d *Dispatcher) Kind() BackendKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// Active returns the active adapter.
func (d *Dispatcher) Active() Adapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adapters[d.active]
}

// Switch makes kind the active backend. The outgoing adapter is closed,
// which cancels its in-flight requests and closes its sessions. Calls that
// resolved the outgoing adapter before the switch fail with
// ErrRequestCancelled instead of reconnecting it.
func (d *Dispatcher) Switch(ctx context.Context, kind BackendKind) error {
	d.mu.Lock()
	next, ok := d.adapters[kind]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("no adapter configured for %s", kind)
	}
	if kind == d.active {
		d.mu.Unlock()
		return nil
	}
	prev := d.adapters[d.active]
	d.active = kind
	d.mu.Unlock()

	// prev no longer resolves as active, so its Close does not hold up
	// calls that go to next.
	closeErr := prev.Close()

	d.log.Info("switched backend", "from", prev.Kind(), "to", kind)
	if closeErr != nil {
		d.log.Warn("closing previous adapter", "kind", prev.Kind(), "error", closeErr)
	}

	if d.autoConnect {
		if err := next.Connect(ctx); err != nil {
			return fmt.Errorf("connecting %s: %w", kind, err)
		}
	}
	return nil
}

// Close closes every adapter of the table.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for k, a := range d.adapters {
		if a.State() == StateUninitialized {
			continue
		}
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Implements reports whether the active adapter implements op without
// calling it.
func (d *Dispatcher) Implements(op Operation) bool {
	implemented, ok := opImplemented[op]
	if !ok {
		return false
	}
	return implemented(d.Active())
}

// Supports evaluates a capability of the active adapter.
func (d *Dispatcher) Supports(ctx context.Context, c Capability) (bool, error) {
	return d.Active().Capabilities().Supports(ctx, c)
}

// Capabilities evaluates every capability the active adapter declares.
func (d *Dispatcher) Capabilities(ctx context.Context) map[Capability]CapabilityResult {
	return d.Active().Capabilities().Evaluate(ctx)
}

func (d *Dispatcher) ensureConnected(ctx context.Context, a Adapter) error {
	if !d.autoConnect || a.State() == StateReady {
		return nil
	}
	if d.Active() != a {
		return fmt.Errorf("%w: backend %s was switched out", ErrRequestCancelled, a.Kind())
	}
	if err := a.Connect(ctx); err != nil {
		if d.Active() != a {
			return fmt.Errorf("%w: backend %s was switched out", ErrRequestCancelled, a.Kind())
		}
		return fmt.Errorf("connecting %s: %w", a.Kind(), err)
	}
	if d.Active() != a {
		// A switch raced the dial; the Close it issued may have run first.
		if err := a.Close(); err != nil {
			d.log.Warn("closing switched out adapter", "kind", a.Kind(), "error", err)
		}
		return fmt.Errorf("%w: backend %s was switched out", ErrRequestCancelled, a.Kind())
	}
	return nil
}

// gate checks the capability the operation is mapped to and any extra
// capabilities the request asks for. An undeclared operation capability
// does not gate, an undeclared request capability denies.
func (d *Dispatcher) gate(ctx context.Context, a Adapter, op Operation,
	extra ...Capability) error {

	caps := a.Capabilities()
	check := func(c Capability, allowUndeclared bool) error {
		fn, declared := caps[c]
		if !declared || fn == nil {
			if allowUndeclared {
				return nil
			}
			return &CapabilityError{Capability: c, Operation: op}
		}
		ok, err := fn(ctx)
		if err != nil {
			return fmt.Errorf("checking %s: %w", c, err)
		}
		if !ok {
			return &CapabilityError{Capability: c, Operation: op}
		}
		return nil
	}

	if c, ok := opCapability[op]; ok {
		if err := check(c, true); err != nil {
			return err
		}
	}
	for _, c := range extra {
		if err := check(c, false); err != nil {
			return err
		}
	}
	return nil
}

// invoke resolves the active adapter, asserts it implements I and runs fn.
func invoke[I any, R any](ctx context.Context, d *Dispatcher, op Operation,
	fn func(context.Context, I) (R, error), extra ...Capability) (R, error) {

	var zero R

	a := d.Active()
	impl, ok := a.(I)
	if !ok {
		return zero, &UnsupportedError{Kind: a.Kind(), Operation: op}
	}

	if err := d.ensureConnected(ctx, a); err != nil {
		return zero, err
	}
	if err := d.gate(ctx, a, op, extra...); err != nil {
		return zero, err
	}

	res, err := fn(ctx, impl)
	if err != nil {
		d.log.Debug("operation failed", "kind", a.Kind(), "op", op, "error", err)
		return zero, err
	}
	return res, nil
}

func (d *Dispatcher) GetInfo(ctx context.Context) (NodeInfo, error) {
	return invoke(ctx, d, OpGetInfo, func(ctx context.Context, a Adapter) (NodeInfo, error) {
		return a.GetInfo(ctx)
	})
}

func (d *Dispatcher) GetBalance(ctx context.Context) (Balance, error) {
	return invoke(ctx, d, OpGetBalance, func(ctx context.Context, a BalanceGetter) (Balance, error) {
		return a.GetBalance(ctx)
	})
}

func (d *Dispatcher) ListChannels(ctx context.Context) ([]Channel, error) {
	return invoke(ctx, d, OpListChannels, func(ctx context.Context, a ChannelLister) ([]Channel, error) {
		return a.ListChannels(ctx)
	})
}

func (d *Dispatcher) ListClosedChannels(ctx context.Context) ([]Channel, error) {
	return invoke(ctx, d, OpListClosedChannels,
		func(ctx context.Context, a ClosedChannelLister) ([]Channel, error) {
			return a.ListClosedChannels(ctx)
		})
}

func (d *Dispatcher) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return invoke(ctx, d, OpListTransactions,
		func(ctx context.Context, a TransactionLister) ([]Transaction, error) {
			return a.ListTransactions(ctx)
		})
}

func (d *Dispatcher) ListInvoices(ctx context.Context, opts ListOptions) ([]Invoice, error) {
	return invoke(ctx, d, OpListInvoices, func(ctx context.Context, a InvoiceLister) ([]Invoice, error) {
		return a.ListInvoices(ctx, opts)
	})
}

func (d *Dispatcher) ListPayments(ctx context.Context, opts ListOptions) ([]Payment, error) {
	return invoke(ctx, d, OpListPayments, func(ctx context.Context, a PaymentLister) ([]Payment, error) {
		return a.ListPayments(ctx, opts)
	})
}

func (d *Dispatcher) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	var extra []Capability
	if req.Preimage != "" {
		extra = append(extra, CapCustomPreimages)
	}
	if req.IsAMP {
		extra = append(extra, CapAMP)
	}
	return invoke(ctx, d, OpCreateInvoice, func(ctx context.Context, a InvoiceCreator) (Invoice, error) {
		return a.CreateInvoice(ctx, req)
	}, extra...)
}

func (d *Dispatcher) PayInvoice(ctx context.Context, req PayInvoiceRequest) (Payment, error) {
	var extra []Capability
	if req.AMP {
		extra = append(extra, CapAMP)
	}
	if req.MaxParts > 1 {
		extra = append(extra, CapMPP)
	}
	if len(req.OutgoingChanIDs) > 0 || req.LastHopPubkey != "" {
		extra = append(extra, CapHopPicking)
	}
	return invoke(ctx, d, OpPayInvoice, func(ctx context.Context, a InvoicePayer) (Payment, error) {
		return a.PayInvoice(ctx, req)
	}, extra...)
}

func (d *Dispatcher) SendKeysend(ctx context.Context, req KeysendRequest) (Payment, error) {
	return invoke(ctx, d, OpSendKeysend, func(ctx context.Context, a KeysendSender) (Payment, error) {
		return a.SendKeysend(ctx, req)
	})
}

func (d *Dispatcher) SendOnchain(ctx context.Context, req SendOnchainRequest) (SentOnchain, error) {
	var extra []Capability
	if len(req.Outpoints) > 0 {
		extra = append(extra, CapCoinControl)
	}
	return invoke(ctx, d, OpSendOnchain, func(ctx context.Context, a OnchainSender) (SentOnchain, error) {
		return a.SendOnchain(ctx, req)
	}, extra...)
}

func (d *Dispatcher) NewAddress(ctx context.Context, req NewAddressRequest) (NewAddress, error) {
	var extra []Capability
	switch strings.ToLower(req.Type) {
	case "":
	case "p2tr":
		extra = append(extra, CapAddressTypeSelection, CapTaproot)
	default:
		extra = append(extra, CapAddressTypeSelection)
	}
	return invoke(ctx, d, OpNewAddress, func(ctx context.Context, a AddressGenerator) (NewAddress, error) {
		return a.NewAddress(ctx, req)
	}, extra...)
}

func (d *Dispatcher) OpenChannel(ctx context.Context, req OpenChannelRequest) (OpenedChannel, error) {
	var extra []Capability
	if req.SimpleTaproot {
		extra = append(extra, CapSimpleTaprootChannels)
	}
	if len(req.Outpoints) > 0 {
		extra = append(extra, CapCoinControl)
	}
	return invoke(ctx, d, OpOpenChannel, func(ctx context.Context, a ChannelOpener) (OpenedChannel, error) {
		return a.OpenChannel(ctx, req)
	}, extra...)
}

func (d *Dispatcher) CloseChannel(ctx context.Context, req CloseChannelRequest) (ClosedChannel, error) {
	return invoke(ctx, d, OpCloseChannel, func(ctx context.Context, a ChannelCloser) (ClosedChannel, error) {
		return a.CloseChannel(ctx, req)
	})
}

func (d *Dispatcher) ConnectPeer(ctx context.Context, req ConnectPeerRequest) error {
	_, err := invoke(ctx, d, OpConnectPeer, func(ctx context.Context, a PeerConnector) (struct{}, error) {
		return struct{}{}, a.ConnectPeer(ctx, req)
	})
	return err
}

func (d *Dispatcher) DecodePaymentRequest(ctx context.Context, payReq string) (PayReq, error) {
	return invoke(ctx, d, OpDecodePaymentRequest,
		func(ctx context.Context, a PaymentRequestDecoder) (PayReq, error) {
			return a.DecodePaymentRequest(ctx, payReq)
		})
}

func (d *Dispatcher) SignMessage(ctx context.Context, msg []byte) (SignedMessage, error) {
	return invoke(ctx, d, OpSignMessage, func(ctx context.Context, a MessageSigner) (SignedMessage, error) {
		return a.SignMessage(ctx, msg)
	})
}

func (d *Dispatcher) VerifyMessage(ctx context.Context, req VerifyMessageRequest) (VerifiedMessage, error) {
	return invoke(ctx, d, OpVerifyMessage,
		func(ctx context.Context, a MessageVerifier) (VerifiedMessage, error) {
			return a.VerifyMessage(ctx, req)
		})
}

func (d *Dispatcher) GetFees(ctx context.Context) (FeeReport, error) {
	return invoke(ctx, d, OpGetFees, func(ctx context.Context, a FeeGetter) (FeeReport, error) {
		return a.GetFees(ctx)
	})
}

func (d *Dispatcher) SetFees(ctx context.Context, req SetFeesRequest) error {
	var extra []Capability
	if req.InboundBaseFeeMsat != 0 || req.InboundFeeRatePPM != 0 {
		extra = append(extra, CapInboundFees)
	}
	_, err := invoke(ctx, d, OpSetFees, func(ctx context.Context, a FeeSetter) (struct{}, error) {
		return struct{}{}, a.SetFees(ctx, req)
	}, extra...)
	return err
}

func (d *Dispatcher) ListUTXOs(ctx context.Context) ([]UTXO, error) {
	return invoke(ctx, d, OpListUTXOs, func(ctx context.Context, a UTXOLister) ([]UTXO, error) {
		return a.ListUTXOs(ctx)
	})
}

func (d *Dispatcher) ListOffers(ctx context.Context) ([]Offer, error) {
	return invoke(ctx, d, OpListOffers, func(ctx context.Context, a OfferManager) ([]Offer, error) {
		return a.ListOffers(ctx)
	})
}

func (d *Dispatcher) CreateOffer(ctx context.Context, req CreateOfferRequest) (Offer, error) {
	return invoke(ctx, d, OpCreateOffer, func(ctx context.Context, a OfferManager) (Offer, error) {
		return a.CreateOffer(ctx, req)
	})
}

func (d *Dispatcher) DisableOffer(ctx context.Context, offerID string) (Offer, error) {
	return invoke(ctx, d, OpDisableOffer, func(ctx context.Context, a OfferManager) (Offer, error) {
		return a.DisableOffer(ctx, offerID)
	})
}

func (d *Dispatcher) FetchInvoice(ctx context.Context, req FetchInvoiceRequest) (FetchedInvoice, error) {
	return invoke(ctx, d, OpFetchInvoice, func(ctx context.Context, a OfferManager) (FetchedInvoice, error) {
		return a.FetchInvoice(ctx, req)
	})
}

func (d *Dispatcher) SubscribeInvoices(ctx context.Context) (*Subscription[InvoiceUpdate], error) {
	return invoke(ctx, d, OpSubscribeInvoices,
		func(ctx context.Context, a InvoiceSubscriber) (*Subscription[InvoiceUpdate], error) {
			return a.SubscribeInvoices(ctx)
		})
}

func (d *Dispatcher) SubscribeChannelEvents(ctx context.Context) (*Subscription[ChannelEvent], error) {
	return invoke(ctx, d, OpSubscribeChannelEvents,
		func(ctx context.Context, a ChannelEventSubscriber) (*Subscription[ChannelEvent], error) {
			return a.SubscribeChannelEvents(ctx)
		})
}
