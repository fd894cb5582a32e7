// Package eclair implements the lnunify operations for an Eclair node. The
// API takes form encoded POSTs, answers in camelCase and authenticates
// with basic auth and an empty user name.
package eclair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport"
	"golang.org/x/time/rate"
)

const (
	// invoiceWindow bounds listinvoices and listpendinginvoices.
	invoiceWindow = 90 * 24 * time.Hour

	defaultPollInterval   = time.Second
	defaultPaymentTimeout = 60 * time.Second
	defaultConfTarget     = 6
)

// Config describes an Eclair API endpoint.
type Config struct {
	// URL of the API, for example http://localhost:8080.
	URL string

	Password string

	TLSVerify  bool
	TLSCertPEM []byte
	Tor        *transport.TorDialer
	Timeout    time.Duration
}

// Adapter implements the lnunify operations for Eclair.
type Adapter struct {
	lnunify.Lifecycle

	rest    *transport.RESTClient
	cache   *lnunify.RequestCache
	aliases *lnunify.Aliases
	log     *slog.Logger
	now     func() time.Time
	poll    time.Duration
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	http    *http.Client
	now     func() time.Time
	poll    time.Duration
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.http = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPollInterval sets how often a sent payment is polled for its result.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

// New returns an adapter for cfg. It does not contact the node before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("eclair: url is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("eclair: password is required")
	}

	o := options{log: slog.Default(), now: time.Now, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindEclair.String())

	cache := lnunify.NewRequestCache(
		lnunify.WithCacheMetrics(o.metrics, lnunify.KindEclair.String()),
		lnunify.WithCacheLogger(log),
	)
	restOpts := []transport.RESTOption{
		transport.WithHeaders(basicAuth(cfg.Password)),
		transport.WithCache(cache),
		transport.WithLogger(log),
	}
	if o.http != nil {
		restOpts = append(restOpts, transport.WithHTTPClient(o.http))
	}
	rest, err := transport.NewRESTClient(transport.RESTConfig{
		Host:       strings.TrimSuffix(cfg.URL, "/"),
		TLSVerify:  cfg.TLSVerify,
		TLSCertPEM: cfg.TLSCertPEM,
		Tor:        cfg.Tor,
		Breaker:    true,
		Timeout:    cfg.Timeout,
	}, restOpts...)
	if err != nil {
		return nil, fmt.Errorf("eclair: %w", err)
	}

	a := &Adapter{
		rest:  rest,
		cache: cache,
		log:   log,
		now:   o.now,
		poll:  o.poll,
	}
	a.aliases = lnunify.NewAliases(a.lookupAlias, rate.Limit(5), 5, log)
	return a, nil
}

func basicAuth(password string) transport.HeaderFunc {
	return func(req *http.Request) error {
		req.SetBasicAuth("", password)
		return nil
	}
}

// call posts form to /method and returns the raw reply.
func (a *Adapter) call(ctx context.Context, method string, form url.Values,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	if form == nil {
		form = url.Values{}
	}
	return a.rest.Post(ctx, "/"+method, transport.Form(form), opts...)
}

// callInto decodes the camelCase reply of method into v.
func (a *Adapter) callInto(ctx context.Context, method string, form url.Values, v any,
	opts ...lnunify.CallOption) error {

	raw, err := a.call(ctx, method, form, opts...)
	if err != nil {
		return fmt.Errorf("eclair %s: %w", method, err)
	}
	if err := normalize.DecodeCamel(raw, v); err != nil {
		return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding %s: %w", method, err)}
	}
	return nil
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindEclair
}

// Connect checks the password with a getinfo call.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		var info normalize.EclairInfo
		if err := a.callInto(ctx, "getinfo", nil, &info); err != nil {
			return fmt.Errorf("eclair connecting: %w", err)
		}
		a.log.Info("connected", "alias", info.Alias, "version", info.Version)
		return nil
	})
}

// Close forgets cached state.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.aliases.Forget()
	return nil
}

// Capabilities is static. Eclair has no keysend endpoint and does not
// report pending channels apart from the channel list.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return lnunify.CapabilitySet{
		lnunify.CapOnchainSends:          lnunify.Static(true),
		lnunify.CapOnchainReceiving:      lnunify.Static(true),
		lnunify.CapLightningSends:        lnunify.Static(true),
		lnunify.CapKeysend:               lnunify.Static(false),
		lnunify.CapChannelManagement:     lnunify.Static(true),
		lnunify.CapPendingChannels:       lnunify.Static(false),
		lnunify.CapClosedChannels:        lnunify.Static(false),
		lnunify.CapMPP:                   lnunify.Static(false),
		lnunify.CapAMP:                   lnunify.Static(false),
		lnunify.CapCoinControl:           lnunify.Static(false),
		lnunify.CapHopPicking:            lnunify.Static(false),
		lnunify.CapMessageSigning:        lnunify.Static(true),
		lnunify.CapRouting:               lnunify.Static(true),
		lnunify.CapNodeInfo:              lnunify.Static(true),
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
		lnunify.CapSubscriptions:         lnunify.Static(false),
		lnunify.CapLnurlAuth:             lnunify.Static(true),
	}
}

func (a *Adapter) lookupAlias(ctx context.Context, pubkey string) (string, error) {
	var nodes []struct {
		NodeID string `json:"node_id"`
		Alias  string `json:"alias"`
	}
	if err := a.callInto(ctx, "nodes", url.Values{"nodeIds": {pubkey}}, &nodes); err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.NodeID == pubkey {
			return n.Alias, nil
		}
	}
	return "", nil
}

// GetAlias returns the announced alias of pubkey.
func (a *Adapter) GetAlias(ctx context.Context, pubkey string) (string, error) {
	if err := a.Ready(); err != nil {
		return "", err
	}
	return a.lookupAlias(ctx, pubkey)
}

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.BalanceGetter         = (*Adapter)(nil)
	_ lnunify.ChannelLister         = (*Adapter)(nil)
	_ lnunify.TransactionLister     = (*Adapter)(nil)
	_ lnunify.InvoiceLister         = (*Adapter)(nil)
	_ lnunify.PaymentLister         = (*Adapter)(nil)
	_ lnunify.InvoiceCreator        = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.OnchainSender         = (*Adapter)(nil)
	_ lnunify.AddressGenerator      = (*Adapter)(nil)
	_ lnunify.ChannelOpener         = (*Adapter)(nil)
	_ lnunify.ChannelCloser         = (*Adapter)(nil)
	_ lnunify.PeerConnector         = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
	_ lnunify.MessageSigner         = (*Adapter)(nil)
	_ lnunify.MessageVerifier       = (*Adapter)(nil)
	_ lnunify.FeeGetter             = (*Adapter)(nil)
	_ lnunify.FeeSetter             = (*Adapter)(nil)
	_ lnunify.AliasResolver         = (*Adapter)(nil)
)
