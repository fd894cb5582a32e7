// Package ldk drives an ldk-node instance running inside the host process.
// The host builds and starts the node and answers calls on the native
// bridge with JSON, positional arguments in and the native result out.
package ldk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport/bridge"
)

// Method names of the ldk-node module registered by the host.
const (
	methodNodeID          = "nodeId"
	methodStatus          = "status"
	methodListBalances    = "listBalances"
	methodListChannels    = "listChannels"
	methodOpenChannel     = "openChannel"
	methodCloseChannel    = "closeChannel"
	methodNewAddress      = "newOnchainAddress"
	methodSendOnchain     = "sendToOnchainAddress"
	methodSendAllOnchain  = "sendAllToOnchainAddress"
	methodReceive         = "receiveBolt11"
	methodReceiveVariable = "receiveVariableAmountBolt11"
	methodSend            = "sendBolt11"
	methodSendUsingAmount = "sendBolt11UsingAmount"
	methodListPayments    = "listPayments"
	methodConnect         = "connect"
	methodListPeers       = "listPeers"
	methodWaitNextEvent   = "waitNextEvent"
	methodEventHandled    = "eventHandled"
	methodSignMessage     = "signMessage"
	methodVerifySignature = "verifySignature"
)

const (
	defaultPollInterval       = time.Second
	defaultPaymentTimeout     = 60 * time.Second
	defaultEventRetryInterval = time.Second
	defaultInvoiceExpiry      = 3600
)

// Config describes the embedded node.
type Config struct {
	Bridge bridge.Bridge

	// Network the node was built for, as ldk-node names it.
	Network string
}

// Adapter implements the lnunify operations for ldk-node.
type Adapter struct {
	lnunify.Lifecycle

	b       bridge.Bridge
	network string
	cache   *lnunify.RequestCache
	events  *eventPump
	log     *slog.Logger
	poll    time.Duration

	mu     sync.Mutex
	pubkey string
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	poll    time.Duration
	retry   time.Duration
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPollInterval sets how often a sent payment is polled for its result.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

// WithEventRetryInterval sets the pause after a failed wait for the next
// node event.
func WithEventRetryInterval(d time.Duration) Option {
	return func(o *options) { o.retry = d }
}

func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("ldk: bridge is required")
	}
	network := normalize.LDKNetwork(cfg.Network)
	if !lnunify.IsValidNetwork(network) {
		return nil, fmt.Errorf("ldk: unknown network %q", cfg.Network)
	}

	o := options{
		log:   slog.Default(),
		poll:  defaultPollInterval,
		retry: defaultEventRetryInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindEmbeddedLDK.String())

	return &Adapter{
		b:       cfg.Bridge,
		network: network,
		cache: lnunify.NewRequestCache(
			lnunify.WithCacheMetrics(o.metrics, lnunify.KindEmbeddedLDK.String()),
			lnunify.WithCacheLogger(log),
		),
		events: newEventPump(cfg.Bridge, o.retry, log),
		log:    log,
		poll:   o.poll,
	}, nil
}

// call runs method through the request cache and decodes the result into
// T. Errors reported by the host that are not classified yet are node
// errors.
func call[T any](ctx context.Context, a *Adapter, method string, args ...any) (T, error) {
	var out T
	if args == nil {
		args = []any{}
	}
	fp, err := lnunify.NewFingerprint("ldk:"+method, args)
	if err != nil {
		return out, err
	}
	raw, err := lnunify.Execute(ctx, a.cache, fp, func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		if err := bridge.CallJSON(ctx, a.b, method, args, &raw); err != nil {
			return nil, classify(err)
		}
		return raw, nil
	})
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding %s: %w", method, err)}
	}
	return out, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, lnunify.ErrConnection), errors.Is(err, lnunify.ErrProtocol),
		errors.Is(err, lnunify.ErrBackend):
		return err
	default:
		return lnunify.NewBackendError(0, err.Error())
	}
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindEmbeddedLDK
}

// Connect expects the host to have started the node. It remembers the node
// id for signature checks.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		status, err := call[normalize.LDKStatus](ctx, a, methodStatus)
		if err != nil {
			return fmt.Errorf("ldk connecting: %w", err)
		}
		if !status.IsRunning {
			return fmt.Errorf("ldk connecting: %w: node is not running", lnunify.ErrConnection)
		}
		id, err := call[string](ctx, a, methodNodeID)
		if err != nil {
			return fmt.Errorf("ldk connecting: %w", err)
		}

		a.mu.Lock()
		a.pubkey = id
		a.mu.Unlock()
		a.log.Info("connected", "pubkey", id, "block_height", status.BestBlockHeight)
		return nil
	})
}

// Close leaves the node running and ends every subscription.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.events.close()
	a.cache.ClearAll()
	return nil
}

func (a *Adapter) nodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pubkey
}

// Capabilities is static. ldk-node does not route, keeps no closed
// channels and exposes neither keysend nor offers yet.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return lnunify.CapabilitySet{
		lnunify.CapOnchainSends:          lnunify.Static(true),
		lnunify.CapOnchainReceiving:      lnunify.Static(true),
		lnunify.CapLightningSends:        lnunify.Static(true),
		lnunify.CapKeysend:               lnunify.Static(false),
		lnunify.CapChannelManagement:     lnunify.Static(true),
		lnunify.CapPendingChannels:       lnunify.Static(true),
		lnunify.CapClosedChannels:        lnunify.Static(false),
		lnunify.CapMPP:                   lnunify.Static(true),
		lnunify.CapAMP:                   lnunify.Static(false),
		lnunify.CapCoinControl:           lnunify.Static(false),
		lnunify.CapHopPicking:            lnunify.Static(false),
		lnunify.CapMessageSigning:        lnunify.Static(true),
		lnunify.CapRouting:               lnunify.Static(false),
		lnunify.CapNodeInfo:              lnunify.Static(true),
		lnunify.CapAddressTypeSelection:  lnunify.Static(false),
		lnunify.CapTaproot:               lnunify.Static(true),
		lnunify.CapSimpleTaprootChannels: lnunify.Static(false),
		lnunify.CapBumpFee:               lnunify.Static(false),
		lnunify.CapOffers:                lnunify.Static(false),
		lnunify.CapWithdrawalRequests:    lnunify.Static(false),
		lnunify.CapForwardingHistory:     lnunify.Static(false),
		lnunify.CapInboundFees:           lnunify.Static(false),
		lnunify.CapAccounts:              lnunify.Static(false),
		lnunify.CapCustomPreimages:       lnunify.Static(false),
		lnunify.CapSubscriptions:         lnunify.Static(true),
		lnunify.CapLnurlAuth:             lnunify.Static(true),
	}
}

var (
	_ lnunify.Adapter                = (*Adapter)(nil)
	_ lnunify.BalanceGetter          = (*Adapter)(nil)
	_ lnunify.ChannelLister          = (*Adapter)(nil)
	_ lnunify.TransactionLister      = (*Adapter)(nil)
	_ lnunify.InvoiceLister          = (*Adapter)(nil)
	_ lnunify.PaymentLister          = (*Adapter)(nil)
	_ lnunify.InvoiceCreator         = (*Adapter)(nil)
	_ lnunify.InvoicePayer           = (*Adapter)(nil)
	_ lnunify.OnchainSender          = (*Adapter)(nil)
	_ lnunify.AddressGenerator       = (*Adapter)(nil)
	_ lnunify.ChannelOpener          = (*Adapter)(nil)
	_ lnunify.ChannelCloser          = (*Adapter)(nil)
	_ lnunify.PeerConnector          = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder  = (*Adapter)(nil)
	_ lnunify.MessageSigner          = (*Adapter)(nil)
	_ lnunify.MessageVerifier        = (*Adapter)(nil)
	_ lnunify.InvoiceSubscriber      = (*Adapter)(nil)
	_ lnunify.ChannelEventSubscriber = (*Adapter)(nil)
)
