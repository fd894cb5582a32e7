// Package embedded drives an lnd instance running inside the host process.
// The host provides the bridge, starting and unlocking the node stay its
// business.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/feelancer21/lnunify/transport/bridge"
)

// Adapter implements the lnunify operations on the native bridge.
type Adapter struct {
	lnunify.Lifecycle
	*lndcore.Node

	rpc   *bridgeRPC
	cache *lnunify.RequestCache
	log   *slog.Logger
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	node    []lndcore.Option
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNodeOptions passes options through to the shared lnd layer.
func WithNodeOptions(opts ...lndcore.Option) Option {
	return func(o *options) { o.node = append(o.node, opts...) }
}

func New(b bridge.Bridge, opts ...Option) (*Adapter, error) {
	if b == nil {
		return nil, errors.New("embedded: bridge is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindEmbeddedLND.String())

	a := &Adapter{
		cache: lnunify.NewRequestCache(
			lnunify.WithCacheMetrics(o.metrics, lnunify.KindEmbeddedLND.String()),
			lnunify.WithCacheLogger(log),
		),
		log: log,
	}
	a.rpc = &bridgeRPC{b: b, cache: a.cache}
	nodeOpts := append([]lndcore.Option{lndcore.WithLogger(log)}, o.node...)
	a.Node = lndcore.New(a.rpc, &a.Lifecycle, nodeOpts...)
	return a, nil
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindEmbeddedLND
}

// Connect expects the host to have started the node and checks that it
// answers.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		info, err := a.rpc.GetInfo(ctx)
		if err != nil {
			return fmt.Errorf("embedded lnd connecting: %w", err)
		}
		a.log.Info("connected", "alias", info.GetAlias(), "version", info.GetVersion())
		return nil
	})
}

// Close leaves the node running. Streams end with their contexts.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return nil
}

// Capabilities is the lnd set of a mobile node: it does not route and keeps
// no accounts.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return a.Node.Capabilities().With(lnunify.CapabilitySet{
		lnunify.CapRouting:           lnunify.Static(false),
		lnunify.CapAccounts:          lnunify.Static(false),
		lnunify.CapForwardingHistory: lnunify.Static(false),
		lnunify.CapInboundFees:       lnunify.Static(false),
	})
}

var (
	_ lnunify.Adapter                = (*Adapter)(nil)
	_ lnunify.InvoicePayer           = (*Adapter)(nil)
	_ lnunify.ChannelEventSubscriber = (*Adapter)(nil)
)
