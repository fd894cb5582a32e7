// Package lnc reaches lnd's gRPC services through a tunnel, as Lightning
// Node Connect does through its mailbox. The tunnel itself is provided by
// the caller, without one the adapter dials lnd directly over TLS.
package lnc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndcore"
	"github.com/feelancer21/lnunify/transport"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
)

// Dialer opens the connection gRPC runs on.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Config describes how to reach the node.
type Config struct {
	// Addr is the mailbox server or lnd's gRPC host:port.
	Addr string

	// Macaroon is the hex encoded macaroon sent with every call.
	Macaroon string

	// Tunnel establishes an already encrypted connection to the node. TLS
	// is skipped when it is set.
	Tunnel Dialer

	// TLSCertPEM pins lnd's certificate for direct connections.
	TLSCertPEM []byte

	// Tor dials direct connections through Tor when no tunnel is set.
	Tor *transport.TorDialer
}

// Adapter implements the lnunify operations on gRPC.
type Adapter struct {
	lnunify.Lifecycle
	*lndcore.Node

	cfg   Config
	conn  *grpc.ClientConn
	rpc   *grpcRPC
	cache *lnunify.RequestCache
	log   *slog.Logger
}

type Option func(*options)

type options struct {
	log      *slog.Logger
	metrics  *lnunify.CacheMetrics
	dialOpts []grpc.DialOption
	node     []lndcore.Option
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithNodeOptions passes options through to the shared lnd layer.
func WithNodeOptions(opts ...lndcore.Option) Option {
	return func(o *options) { o.node = append(o.node, opts...) }
}

// New prepares the gRPC channel. grpc connects lazily, the node is first
// contacted by Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("lnc: address is required")
	}

	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindLNC.String())

	creds, err := transportCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("lnc: %w", err)
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.Macaroon != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(&MacaroonCredential{
			MacaroonHex: cfg.Macaroon,
			Tunneled:    cfg.Tunnel != nil,
		}))
	}
	switch {
	case cfg.Tunnel != nil:
		dialOpts = append(dialOpts, grpc.WithContextDialer(cfg.Tunnel))
	case cfg.Tor != nil:
		dialOpts = append(dialOpts, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return cfg.Tor.DialContext(ctx, "tcp", addr)
		}))
	}
	dialOpts = append(dialOpts, o.dialOpts...)

	// Create gRPC connection // Dial is deprecated!
	conn, err := grpc.NewClient(cfg.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("lnc: creating gRPC channel: %w", err)
	}

	a := &Adapter{
		cfg:  cfg,
		conn: conn,
		cache: lnunify.NewRequestCache(
			lnunify.WithCacheMetrics(o.metrics, lnunify.KindLNC.String()),
			lnunify.WithCacheLogger(log),
		),
		log: log,
	}
	a.rpc = &grpcRPC{
		target: cfg.Addr,
		ln:     lnrpc.NewLightningClient(conn),
		router: routerrpc.NewRouterClient(conn),
		cache:  a.cache,
	}
	nodeOpts := append([]lndcore.Option{lndcore.WithLogger(log)}, o.node...)
	a.Node = lndcore.New(a.rpc, &a.Lifecycle, nodeOpts...)
	return a, nil
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindLNC
}

// Connect opens the tunnel and checks the macaroon with GetInfo.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.Lifecycle.Connect(ctx, func(ctx context.Context) error {
		a.conn.Connect()
		info, err := a.rpc.GetInfo(ctx)
		if err != nil {
			return fmt.Errorf("lnc connecting: %w", err)
		}
		a.log.Info("connected", "alias", info.GetAlias(), "version", info.GetVersion())
		return nil
	})
}

// Close tears down the gRPC channel, which ends every open stream.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return a.conn.Close()
}

// Capabilities narrows the lnd set to what is reachable through the
// tunnel's default permissions.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	return a.Node.Capabilities().With(lnunify.CapabilitySet{
		lnunify.CapSimpleTaprootChannels: lnunify.Static(false),
		lnunify.CapBumpFee:               lnunify.Static(false),
		lnunify.CapLnurlAuth:             lnunify.Static(false),
		lnunify.CapInboundFees:           lnunify.Static(false),
	})
}

var (
	_ lnunify.Adapter           = (*Adapter)(nil)
	_ lnunify.InvoicePayer      = (*Adapter)(nil)
	_ lnunify.InvoiceSubscriber = (*Adapter)(nil)
)
