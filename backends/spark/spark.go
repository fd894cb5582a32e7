// Package spark reaches a Core Lightning node through the JSON-RPC bridge
// of a Spark wallet server. Commands are POSTed to /rpc and authorized by
// the X-Access key.
package spark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/clncore"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport"
)

const rpcRoute = "/rpc"

// rangedCommands are list commands Spark can slice with a Range header.
// The value names the unit of the slice.
var rangedCommands = map[string]string{
	"listinvoices": "invoices",
	"listsendpays": "payments",
}

// Config describes a Spark server.
type Config struct {
	// URL of the server, with or without the /rpc suffix.
	URL string

	AccessKey string

	TLSVerify  bool
	TLSCertPEM []byte
	Tor        *transport.TorDialer
	Timeout    time.Duration
}

// Adapter implements the lnunify operations for Spark. The bridge offers
// the legacy command set only.
type Adapter struct {
	lnunify.Lifecycle
	*clncore.Node

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

// New returns an adapter for cfg. It does not contact the server before
// Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("spark: url is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("spark: access key is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindSpark.String())

	cache := lnunify.NewRequestCache(
		lnunify.WithCacheMetrics(o.metrics, lnunify.KindSpark.String()),
		lnunify.WithCacheLogger(log),
	)
	restOpts := []transport.RESTOption{
		transport.WithHeaders(headers(cfg.AccessKey)),
		transport.WithCache(cache),
		transport.WithLogger(log),
	}
	if o.http != nil {
		restOpts = append(restOpts, transport.WithHTTPClient(o.http))
	}
	rest, err := transport.NewRESTClient(transport.RESTConfig{
		Host:       strings.TrimSuffix(strings.TrimSuffix(cfg.URL, "/"), rpcRoute),
		TLSVerify:  cfg.TLSVerify,
		TLSCertPEM: cfg.TLSCertPEM,
		Tor:        cfg.Tor,
		Breaker:    true,
		Timeout:    cfg.Timeout,
	}, restOpts...)
	if err != nil {
		return nil, fmt.Errorf("spark: %w", err)
	}

	a := &Adapter{rest: rest, cache: cache, log: log}
	nodeOpts := append([]clncore.Option{
		clncore.WithLogger(log),
		clncore.WithDialect(clncore.Legacy),
	}, o.node...)
	a.Node = clncore.New(clncore.CallerFunc(a.call), &a.Lifecycle, nodeOpts...)
	return a, nil
}

type rangeKey struct{}

// headers sets the access key, and the Range header for list commands
// that carry a slice in their context.
func headers(accessKey string) transport.HeaderFunc {
	return func(req *http.Request) error {
		req.Header.Set("X-Access", accessKey)
		if r, ok := req.Context().Value(rangeKey{}).(string); ok {
			req.Header.Set("Range", r)
		}
		return nil
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

func (a *Adapter) call(ctx context.Context, method string, params any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	if params == nil {
		params = struct{}{}
	}
	if unit, ok := rangedCommands[method]; ok {
		slice := "-" + strconv.Itoa(lnunify.DefaultListLimit)
		ctx = context.WithValue(ctx, rangeKey{}, unit+"="+slice)
	}
	return a.rest.Post(ctx, rpcRoute, rpcRequest{Method: method, Params: params}, opts...)
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindSpark
}

// Connect checks the access key with a getinfo call.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		raw, err := a.call(ctx, "getinfo", nil)
		if err != nil {
			return fmt.Errorf("spark connecting: %w", err)
		}
		var info normalize.CLNGetinfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding getinfo: %w", err)}
		}
		a.log.Info("connected", "alias", info.Alias, "version", info.Version)
		return nil
	})
}

// Close forgets cached state.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return nil
}

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.ChannelOpener         = (*Adapter)(nil)
	_ lnunify.FeeSetter             = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
)
