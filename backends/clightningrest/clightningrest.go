// Package clightningrest reaches a Core Lightning node through the
// c-lightning-REST server. Most commands are a POST to /v1/<command>, the
// message signing and offer commands keep the server's own routes.
package clightningrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/clncore"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport"
)

// Coin control needs both the node and the REST server to be recent
// enough.
const (
	MinVersionCoinControl    = "v0.8.2"
	MinAPIVersionCoinControl = "v0.4.0"
)

// Config describes a c-lightning-REST endpoint. Exactly one of Macaroon
// and Rune authorizes the requests.
type Config struct {
	Host string
	Port string

	// Macaroon is the hex encoded access.macaroon of the server.
	Macaroon string

	// Rune is sent in the Rune header by servers proxying clnrest.
	Rune string

	TLSVerify  bool
	TLSCertPEM []byte
	Tor        *transport.TorDialer
	Timeout    time.Duration
}

// Adapter implements the lnunify operations for c-lightning-REST.
type Adapter struct {
	lnunify.Lifecycle
	*clncore.FullNode

	rest  *transport.RESTClient
	cache *lnunify.RequestCache
	log   *slog.Logger
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	http    *http.Client
	node    []clncore.Option
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

// WithNodeOptions passes options through to the shared Core Lightning
// layer.
func WithNodeOptions(opts ...clncore.Option) Option {
	return func(o *options) { o.node = append(o.node, opts...) }
}

// authHeader sends the macaroon hex encoded, which the server has to be
// told with encodingtype.
func authHeader(cfg Config) transport.HeaderFunc {
	if cfg.Rune != "" {
		return transport.StaticHeader("Rune", cfg.Rune)
	}
	return func(req *http.Request) error {
		req.Header.Set("macaroon", cfg.Macaroon)
		req.Header.Set("encodingtype", "hex")
		return nil
	}
}

// New returns an adapter for cfg. It does not contact the node before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Host == "" {
		return nil, errors.New("c-lightning-rest: host is required")
	}
	if (cfg.Macaroon == "") == (cfg.Rune == "") {
		return nil, errors.New("c-lightning-rest: either macaroon or rune is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindCLightningREST.String())

	cache := lnunify.NewRequestCache(
		lnunify.WithCacheMetrics(o.metrics, lnunify.KindCLightningREST.String()),
		lnunify.WithCacheLogger(log),
	)
	restOpts := []transport.RESTOption{
		transport.WithHeaders(authHeader(cfg)),
		transport.WithCache(cache),
		transport.WithLogger(log),
	}
	if o.http != nil {
		restOpts = append(restOpts, transport.WithHTTPClient(o.http))
	}
	rest, err := transport.NewRESTClient(transport.RESTConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		TLSVerify:  cfg.TLSVerify,
		TLSCertPEM: cfg.TLSCertPEM,
		Tor:        cfg.Tor,
		Breaker:    true,
		Timeout:    cfg.Timeout,
	}, restOpts...)
	if err != nil {
		return nil, fmt.Errorf("c-lightning-rest: %w", err)
	}

	a := &Adapter{rest: rest, cache: cache, log: log}
	nodeOpts := append([]clncore.Option{
		clncore.WithLogger(log),
		clncore.WithDialect(clncore.Legacy),
	}, o.node...)
	a.FullNode = clncore.NewFull(clncore.CallerFunc(a.call), &a.Lifecycle, nodeOpts...)
	return a, nil
}

// call maps a Core Lightning command to its route. Commands the server
// keeps under its own routes are rewritten, everything else is posted to
// /v1/<command>.
func (a *Adapter) call(ctx context.Context, method string, params any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	switch method {
	case "signmessage":
		return a.rest.Post(ctx, "/v1/utility/signMessage", params, opts...)

	case "checkmessage":
		p, _ := params.(map[string]string)
		route := "/v1/utility/checkMessage/" + url.PathEscape(p["message"]) + "/" +
			url.PathEscape(p["zbase"])
		return a.rest.Get(ctx, route, opts...)

	case "listoffers":
		route := "/v1/offers/listOffers"
		if p, ok := params.(map[string]bool); ok && p["active_only"] {
			route += "?active_only=true"
		}
		return a.rest.Get(ctx, route, opts...)

	case "offer":
		return a.rest.Post(ctx, "/v1/offers/offer", params, opts...)

	case "disableoffer":
		p, _ := params.(map[string]string)
		return a.rest.Delete(ctx, "/v1/offers/disableOffer/"+url.PathEscape(p["offer_id"]), opts...)

	case "fetchinvoice":
		return a.rest.Post(ctx, "/v1/offers/fetchInvoice", params, opts...)

	case "decodepay":
		var payReq string
		if p, ok := params.([]string); ok && len(p) > 0 {
			payReq = p[0]
		}
		return a.rest.Post(ctx, "/v1/decode", map[string]string{"string": payReq}, opts...)

	case "setchannelfee":
		return a.rest.Post(ctx, "/v1/channel/setChannelFee", params, opts...)
	}

	if params == nil {
		params = struct{}{}
	}
	return a.rest.Post(ctx, "/v1/"+method, params, opts...)
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindCLightningREST
}

// Connect checks the credentials with a getinfo call.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		raw, err := a.call(ctx, "getinfo", nil)
		if err != nil {
			return fmt.Errorf("c-lightning-rest connecting: %w", err)
		}
		var info normalize.CLNGetinfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding getinfo: %w", err)}
		}
		a.log.Info("connected", "alias", info.Alias, "version", info.Version,
			"api_version", info.APIVersion)
		return nil
	})
}

// Close forgets cached state. The server holds no open sessions.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return nil
}

// Capabilities narrows the Core Lightning set to what the server exposes.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return a.FullNode.Capabilities().With(lnunify.CapabilitySet{
		lnunify.CapPendingChannels:    lnunify.Static(false),
		lnunify.CapClosedChannels:     lnunify.Static(false),
		lnunify.CapCoinControl:        a.coinControl,
		lnunify.CapWithdrawalRequests: lnunify.Static(false),
		lnunify.CapForwardingHistory:  lnunify.Static(false),
		lnunify.CapCustomPreimages:    lnunify.Static(false),
	})
}

func (a *Adapter) coinControl(ctx context.Context) (bool, error) {
	return a.supports(ctx, MinVersionCoinControl, "", MinAPIVersionCoinControl)
}

// supports checks the node version against min and an optional end of
// support eos. A non-empty minAPI also requires the REST server to be at
// least that version.
func (a *Adapter) supports(ctx context.Context, min, eos, minAPI string) (bool, error) {
	info, err := a.GetInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("getting node version: %w", err)
	}
	ok := lnunify.IsSupportedVersion(info.Version, min, eos)
	if minAPI != "" {
		ok = ok && lnunify.IsSupportedVersion(info.APIVersion, minAPI)
	}
	return ok, nil
}

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.KeysendSender         = (*Adapter)(nil)
	_ lnunify.MessageSigner         = (*Adapter)(nil)
	_ lnunify.MessageVerifier       = (*Adapter)(nil)
	_ lnunify.OfferManager          = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
	_ lnunify.FeeSetter             = (*Adapter)(nil)
)
