// Package lnd reaches an lnd node over its REST proxy. Requests carry the
// hex encoded macaroon, server streams run over websockets.
package lnd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/feelancer21/lnunify/transport"
)

// Config describes an lnd REST endpoint.
type Config struct {
	Host string
	Port string

	// Macaroon is the hex encoded macaroon sent with every request.
	Macaroon string

	TLSVerify  bool
	TLSCertPEM []byte
	Tor        *transport.TorDialer
	Timeout    time.Duration
}

// Adapter implements the lnunify operations for lnd REST.
type Adapter struct {
	lnunify.Lifecycle
	*lndcore.Node

	rpc      *restRPC
	cache    *lnunify.RequestCache
	sessions transport.Sessions
	log      *slog.Logger
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	http    *http.Client
	node    []lndcore.Option
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

// WithNodeOptions passes options through to the shared lnd layer.
func WithNodeOptions(opts ...lndcore.Option) Option {
	return func(o *options) { o.node = append(o.node, opts...) }
}

// New returns an adapter for cfg. It does not contact the node before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Host == "" {
		return nil, errors.New("lnd: host is required")
	}
	if cfg.Macaroon == "" {
		return nil, errors.New("lnd: macaroon is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindLND.String())

	cache := lnunify.NewRequestCache(
		lnunify.WithCacheMetrics(o.metrics, lnunify.KindLND.String()),
		lnunify.WithCacheLogger(log),
	)
	restOpts := []transport.RESTOption{
		transport.WithHeaders(transport.StaticHeader("Grpc-Metadata-macaroon", cfg.Macaroon)),
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
		return nil, fmt.Errorf("lnd: %w", err)
	}

	a := &Adapter{cache: cache, log: log}
	a.rpc = &restRPC{
		rest: rest,
		ws: transport.WSConfig{
			Headers:    http.Header{"Grpc-Metadata-Macaroon": []string{cfg.Macaroon}},
			HTTPClient: rest.HTTPClient(),
		},
		sessions: &a.sessions,
	}
	nodeOpts := append([]lndcore.Option{lndcore.WithLogger(log)}, o.node...)
	a.Node = lndcore.New(a.rpc, &a.Lifecycle, nodeOpts...)
	return a, nil
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindLND
}

// Connect checks the macaroon with a getinfo call.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		info, err := a.rpc.GetInfo(ctx)
		if err != nil {
			return fmt.Errorf("lnd connecting: %w", err)
		}
		a.log.Info("connected", "alias", info.GetAlias(), "version", info.GetVersion())
		return nil
	})
}

// Close ends every open subscription and forgets cached state.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return a.sessions.CloseAll()
}

// OpenSessions returns the number of live websocket subscriptions.
func (a *Adapter) OpenSessions() int {
	return a.sessions.Len()
}

var (
	_ lnunify.Adapter                = (*Adapter)(nil)
	_ lnunify.InvoicePayer           = (*Adapter)(nil)
	_ lnunify.ChannelCloser          = (*Adapter)(nil)
	_ lnunify.InvoiceSubscriber      = (*Adapter)(nil)
	_ lnunify.ChannelEventSubscriber = (*Adapter)(nil)
)
