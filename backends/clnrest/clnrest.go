// Package clnrest reaches a Core Lightning node through its REST plugin.
// Every command is a POST to /v1/<command> authorized by a rune.
package clnrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/clncore"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport"
)

// Config describes a clnrest endpoint.
type Config struct {
	Host string
	Port string

	// Rune is sent in the Rune header of every request.
	Rune string

	TLSVerify  bool
	TLSCertPEM []byte
	Tor        *transport.TorDialer
	Timeout    time.Duration
}

// Adapter implements the lnunify operations for clnrest.
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

// New returns an adapter for cfg. It does not contact the node before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Host == "" {
		return nil, errors.New("clnrest: host is required")
	}
	if cfg.Rune == "" {
		return nil, errors.New("clnrest: rune is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindCLNRest.String())

	cache := lnunify.NewRequestCache(
		lnunify.WithCacheMetrics(o.metrics, lnunify.KindCLNRest.String()),
		lnunify.WithCacheLogger(log),
	)
	restOpts := []transport.RESTOption{
		transport.WithHeaders(transport.StaticHeader("Rune", cfg.Rune)),
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
		return nil, fmt.Errorf("clnrest: %w", err)
	}

	a := &Adapter{rest: rest, cache: cache, log: log}
	nodeOpts := append([]clncore.Option{
		clncore.WithLogger(log),
		clncore.WithDialect(clncore.Modern),
	}, o.node...)
	a.FullNode = clncore.NewFull(clncore.CallerFunc(a.call), &a.Lifecycle, nodeOpts...)
	return a, nil
}

// call posts params as the JSON body of the command. Commands without
// params still need an object body.
func (a *Adapter) call(ctx context.Context, method string, params any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	if params == nil {
		params = struct{}{}
	}
	return a.rest.Post(ctx, "/v1/"+method, params, opts...)
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindCLNRest
}

// Connect checks the rune with a getinfo call.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		raw, err := a.call(ctx, "getinfo", nil)
		if err != nil {
			return fmt.Errorf("clnrest connecting: %w", err)
		}
		var info normalize.CLNGetinfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding getinfo: %w", err)}
		}
		a.log.Info("connected", "alias", info.Alias, "version", info.Version)
		return nil
	})
}

// Close forgets cached state. clnrest holds no open sessions.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return nil
}

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.KeysendSender         = (*Adapter)(nil)
	_ lnunify.ChannelCloser         = (*Adapter)(nil)
	_ lnunify.ClosedChannelLister   = (*Adapter)(nil)
	_ lnunify.MessageSigner         = (*Adapter)(nil)
	_ lnunify.OfferManager          = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
	_ lnunify.UTXOLister            = (*Adapter)(nil)
)
