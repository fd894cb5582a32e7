// Package nwc implements the lnunify operations for a wallet service
// reached over Nostr Wallet Connect (NIP-47). Requests are nip04 encrypted
// events published to the relays of the connection URI; responses and
// notifications arrive on one shared relay subscription.
package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	defaultTimeout = 60 * time.Second

	// infoTimeout bounds the fetch of the info event during Connect.
	infoTimeout = 15 * time.Second
)

// Config describes a wallet connection.
type Config struct {
	// URI is the nostr+walletconnect:// connection string.
	URI     string
	Timeout time.Duration
}

// Adapter implements the lnunify operations for a NIP-47 wallet service.
type Adapter struct {
	lnunify.Lifecycle

	conn    Connection
	signer  *keySigner
	cache   *lnunify.RequestCache
	info    infoStore
	router  *router
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration

	newRelays func(ctx context.Context) Relays

	mu     sync.Mutex
	relays Relays
	stop   context.CancelFunc
	done   chan struct{}
}

type Option func(*options)

type options struct {
	log       *slog.Logger
	metrics   *lnunify.CacheMetrics
	newRelays func(ctx context.Context) Relays
	now       func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRelays replaces the relay pool, mainly for tests. It is called on
// every Connect.
func WithRelays(newRelays func(ctx context.Context) Relays) Option {
	return func(o *options) { o.newRelays = newRelays }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns an adapter for cfg. It does not contact any relay before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	conn, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	signer, err := newKeySigner(conn.Secret, conn.WalletPubkey)
	if err != nil {
		return nil, fmt.Errorf("nwc: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	o := options{log: slog.Default(), now: time.Now, newRelays: NewPool}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindNWC.String())

	return &Adapter{
		conn:   conn,
		signer: signer,
		cache: lnunify.NewRequestCache(
			lnunify.WithDefaultTimeout(cfg.Timeout),
			lnunify.WithCacheMetrics(o.metrics, lnunify.KindNWC.String()),
			lnunify.WithCacheLogger(log),
		),
		router:    newRouter(),
		log:       log,
		now:       o.now,
		timeout:   cfg.Timeout,
		newRelays: o.newRelays,
	}, nil
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindNWC
}

// ClientPubkey returns the key requests are signed with.
func (a *Adapter) ClientPubkey() string {
	return a.signer.pub
}

// Connect reads the info event of the wallet service and subscribes to
// its responses and notifications.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.ConnectUndo(ctx, func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.relays == nil {
			a.relays = a.newRelays(context.Background())
		}
		if err := a.fetchInfo(ctx); err != nil {
			return err
		}
		a.subscribe()

		npub, err := nip19.EncodePublicKey(a.conn.WalletPubkey)
		if err != nil {
			npub = a.conn.WalletPubkey
		}
		a.log.Info("connected", "wallet", npub, "relays", strings.Join(a.conn.Relays, ","))
		return nil
	}, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.release()
	})
}

func (a *Adapter) fetchInfo(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	events := a.relays.FetchReplaceable(ctx, a.conn.Relays, nostr.Filter{
		Kinds:   []int{KindInfo},
		Authors: []string{a.conn.WalletPubkey},
		Limit:   1,
	})
	for _, ev := range events {
		if err := verifyEvent(ev, a.conn.WalletPubkey); err != nil {
			a.log.Debug("dropping info event", "id", ev.ID, "error", err)
			continue
		}
		if err := a.info.store(ev); err != nil {
			a.log.Debug("ignoring info event", "id", ev.ID, "error", err)
		}
	}
	if !a.info.known() {
		return &lnunify.ConnectionError{
			Target: strings.Join(a.conn.Relays, ","),
			Err:    errors.New("wallet service published no info event"),
		}
	}
	return nil
}

// subscribe starts the shared subscription. The caller holds a.mu.
func (a *Adapter) subscribe() {
	if a.stop != nil {
		a.stop()
		<-a.done
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.stop, a.done = cancel, done

	since := nostr.Now() - EventGracePeriodSeconds
	events := a.relays.Subscribe(ctx, a.conn.Relays, nostr.Filter{
		Kinds:   []int{KindResponse, KindNotification},
		Authors: []string{a.conn.WalletPubkey},
		Tags:    nostr.TagMap{"p": {a.signer.pub}},
		Since:   &since,
	})

	go func() {
		defer close(done)
		for ev := range events {
			a.route(ev)
		}
		if ctx.Err() == nil {
			a.log.Warn("relay subscription ended")
			a.Disconnect()
		}
	}()
}

func (a *Adapter) route(ev *nostr.Event) {
	if err := verifyEvent(ev, a.conn.WalletPubkey); err != nil {
		a.log.Debug("dropping event", "id", ev.ID, "error", err)
		return
	}
	switch ev.Kind {
	case KindResponse:
		if !a.router.deliver(ev) {
			a.log.Debug("response without waiter", "id", ev.ID, "request", tagValue(ev, "e"))
		}
	case KindNotification:
		a.router.notify(ev)
	}
}

// Close ends the subscription and releases the relays.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.release()
	return nil
}

// release stops the subscription and closes the relays. The caller holds
// a.mu.
func (a *Adapter) release() {
	if a.stop != nil {
		a.stop()
		<-a.done
		a.stop, a.done = nil, nil
	}
	if a.relays != nil {
		a.relays.Close()
		a.relays = nil
	}
	a.info.reset()
}

// call performs method through the request cache. Identical concurrent
// requests share one round trip.
func (a *Adapter) call(ctx context.Context, op lnunify.Operation, method string, params, v any) error {
	if err := a.Ready(); err != nil {
		return err
	}
	if !a.info.supports(method) {
		return &lnunify.UnsupportedError{Kind: lnunify.KindNWC, Operation: op}
	}
	if params == nil {
		params = struct{}{}
	}
	fp, err := lnunify.NewFingerprint("nwc:"+method, params)
	if err != nil {
		return err
	}
	raw, err := lnunify.Execute(ctx, a.cache, fp, func(ctx context.Context) (json.RawMessage, error) {
		return a.roundTrip(ctx, op, method, params)
	})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding %s: %w", method, err)}
	}
	return nil
}

// roundTrip publishes one request event and waits for its response.
func (a *Adapter) roundTrip(ctx context.Context, op lnunify.Operation, method string,
	params any) (json.RawMessage, error) {

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.Lock()
	relays := a.relays
	a.mu.Unlock()
	if relays == nil {
		return nil, lnunify.ErrNotReady
	}

	content, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", method, err)
	}
	enc, err := a.signer.Encrypt(string(content))
	if err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", method, err)
	}

	expiration := nostr.Now() + nostr.Timestamp(a.timeout/time.Second)
	ev := newRequestEvent(a.signer.pub, a.conn.WalletPubkey, enc, expiration)
	if err := a.signer.SignEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("signing %s: %w", method, err)
	}

	replies, done := a.router.await(ev.ID)
	defer done()

	if err := relays.Publish(ctx, a.conn.Relays, *ev); err != nil {
		return nil, &lnunify.ConnectionError{Target: strings.Join(a.conn.Relays, ","), Err: err}
	}
	a.log.Debug("request published", "method", method, "id", ev.ID)

	var reply *nostr.Event
	select {
	case reply = <-replies:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no response to %s", lnunify.ErrRequestTimeout, method)
		}
		return nil, ctx.Err()
	}

	plain, err := a.signer.Decrypt(reply.Content)
	if err != nil {
		return nil, &lnunify.ProtocolError{Err: fmt.Errorf("decrypting %s response: %w", method, err)}
	}
	var resp response
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		return nil, &lnunify.ProtocolError{Body: []byte(plain), Err: err}
	}
	if resp.Error != nil {
		return nil, resp.Error.asError(op)
	}
	if resp.ResultType != "" && resp.ResultType != method {
		return nil, &lnunify.ProtocolError{
			Body: []byte(plain),
			Err:  fmt.Errorf("result type %s for %s", resp.ResultType, method),
		}
	}
	return resp.Result, nil
}

// Capabilities follow the methods and notifications the wallet service
// announces in its info event.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return lnunify.CapabilitySet{
		lnunify.CapOnchainSends:          lnunify.Static(false),
		lnunify.CapOnchainReceiving:      lnunify.Static(false),
		lnunify.CapLightningSends:        a.offers("pay_invoice"),
		lnunify.CapKeysend:               a.offers("pay_keysend"),
		lnunify.CapChannelManagement:     lnunify.Static(false),
		lnunify.CapPendingChannels:       lnunify.Static(false),
		lnunify.CapClosedChannels:        lnunify.Static(false),
		lnunify.CapMPP:                   lnunify.Static(false),
		lnunify.CapAMP:                   lnunify.Static(false),
		lnunify.CapCoinControl:           lnunify.Static(false),
		lnunify.CapHopPicking:            lnunify.Static(false),
		lnunify.CapMessageSigning:        lnunify.Static(false),
		lnunify.CapRouting:               lnunify.Static(false),
		lnunify.CapNodeInfo:              a.offers("get_info"),
		lnunify.CapAddressTypeSelection:  lnunify.Static(false),
		lnunify.CapTaproot:               lnunify.Static(false),
		lnunify.CapSimpleTaprootChannels: lnunify.Static(false),
		lnunify.CapBumpFee:               lnunify.Static(false),
		lnunify.CapOffers:                lnunify.Static(false),
		lnunify.CapWithdrawalRequests:    lnunify.Static(false),
		lnunify.CapForwardingHistory:     lnunify.Static(false),
		lnunify.CapInboundFees:           lnunify.Static(false),
		lnunify.CapAccounts:              lnunify.Static(false),
		lnunify.CapCustomPreimages:       lnunify.Static(false),
		lnunify.CapSubscriptions:         a.notifies("payment_received"),
		lnunify.CapLnurlAuth:             lnunify.Static(false),
	}
}

func (a *Adapter) offers(method string) lnunify.Check {
	return func(context.Context) (bool, error) {
		if err := a.Ready(); err != nil {
			return false, err
		}
		return a.info.supports(method), nil
	}
}

func (a *Adapter) notifies(typ string) lnunify.Check {
	return func(context.Context) (bool, error) {
		if err := a.Ready(); err != nil {
			return false, err
		}
		return a.info.notifies(typ), nil
	}
}

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.BalanceGetter         = (*Adapter)(nil)
	_ lnunify.TransactionLister     = (*Adapter)(nil)
	_ lnunify.InvoiceLister         = (*Adapter)(nil)
	_ lnunify.PaymentLister         = (*Adapter)(nil)
	_ lnunify.InvoiceCreator        = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.KeysendSender         = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
	_ lnunify.MessageVerifier       = (*Adapter)(nil)
	_ lnunify.InvoiceSubscriber     = (*Adapter)(nil)
)
