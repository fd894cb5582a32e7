// Package commando drives a Core Lightning node over the lightning peer
// protocol. Commands travel as commando messages inside a noise session
// and are authorized by a rune.
package commando

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/clncore"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport"
	"github.com/feelancer21/lnunify/transport/commando"
)

// Config describes how to reach the node.
type Config struct {
	// Host is host:port of the node's peer port.
	Host string

	// Pubkey is the node identity key in hex.
	Pubkey string

	// PrivateKey is the hex encoded local identity. Keeping it stable
	// keeps the node from seeing a new peer on every connect.
	PrivateKey string

	Rune    string
	Tor     *transport.TorDialer
	Timeout time.Duration
}

// Session is an established commando session.
type Session interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context, cfg commando.Config, log *slog.Logger) (Session, error)

func dialCommando(ctx context.Context, cfg commando.Config, log *slog.Logger) (Session, error) {
	c, err := commando.Dial(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Adapter implements the lnunify operations over commando.
type Adapter struct {
	lnunify.Lifecycle
	*clncore.FullNode

	cfg      Config
	dial     DialFunc
	cache    *lnunify.RequestCache
	sessions transport.Sessions
	log      *slog.Logger

	mu      sync.Mutex
	session Session
}

type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *lnunify.CacheMetrics
	dial    DialFunc
	node    []clncore.Option
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics reports request cache activity.
func WithMetrics(m *lnunify.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer replaces how sessions are opened, mainly for tests.
func WithDialer(d DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// WithNodeOptions passes options through to the shared Core Lightning
// layer.
func WithNodeOptions(opts ...clncore.Option) Option {
	return func(o *options) { o.node = append(o.node, opts...) }
}

// New returns an adapter for cfg. The session is opened on Connect.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	switch {
	case cfg.Host == "":
		return nil, errors.New("commando: host is required")
	case cfg.Pubkey == "":
		return nil, errors.New("commando: pubkey is required")
	case cfg.Rune == "":
		return nil, errors.New("commando: rune is required")
	}

	o := options{log: slog.Default(), dial: dialCommando}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("backend", lnunify.KindLNSocket.String())

	a := &Adapter{
		cfg:  cfg,
		dial: o.dial,
		cache: lnunify.NewRequestCache(
			lnunify.WithCacheMetrics(o.metrics, lnunify.KindLNSocket.String()),
			lnunify.WithCacheLogger(log),
		),
		log: log,
	}
	nodeOpts := append([]clncore.Option{
		clncore.WithLogger(log),
		clncore.WithDialect(clncore.Modern),
	}, o.node...)
	caller := clncore.Cached(clncore.CallerFunc(a.call), a.cache, cfg.Pubkey+"@"+cfg.Host)
	a.FullNode = clncore.NewFull(caller, &a.Lifecycle, nodeOpts...)
	return a, nil
}

func (a *Adapter) call(ctx context.Context, method string, params any,
	_ ...lnunify.CallOption) (json.RawMessage, error) {

	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: no commando session", lnunify.ErrNotReady)
	}
	if params == nil {
		params = struct{}{}
	}
	return s.Call(ctx, method, params)
}

func (a *Adapter) Kind() lnunify.BackendKind {
	return lnunify.KindLNSocket
}

// Connect opens the session and checks the rune with getinfo. A session
// that drops later leaves the adapter Disconnected.
func (a *Adapter) Connect(ctx context.Context) error {
	var opened Session
	return a.Lifecycle.ConnectUndo(ctx, func(ctx context.Context) error {
		cfg := commando.Config{
			Addr:       a.cfg.Host,
			Pubkey:     a.cfg.Pubkey,
			PrivateKey: a.cfg.PrivateKey,
			Rune:       a.cfg.Rune,
			Timeout:    a.cfg.Timeout,
		}
		if a.cfg.Tor != nil {
			if err := a.cfg.Tor.Start(ctx); err != nil {
				return fmt.Errorf("commando starting tor: %w", err)
			}
			cfg.Dial = a.cfg.Tor.Dial
		}
		s, err := a.dial(ctx, cfg, a.log)
		if err != nil {
			return fmt.Errorf("commando connecting: %w", err)
		}

		raw, err := s.Call(ctx, "getinfo", struct{}{})
		if err != nil {
			s.Close()
			return fmt.Errorf("commando connecting: %w", err)
		}
		var info normalize.CLNGetinfo
		if err := json.Unmarshal(raw, &info); err != nil {
			s.Close()
			return &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding getinfo: %w", err)}
		}

		untrack := a.sessions.Track(s)
		a.mu.Lock()
		a.session = s
		a.mu.Unlock()
		opened = s
		go a.watch(s, untrack)

		a.log.Info("connected", "alias", info.Alias, "version", info.Version)
		return nil
	}, func() {
		// Closed while the session was being set up.
		a.mu.Lock()
		if a.session == opened {
			a.session = nil
		}
		a.mu.Unlock()
		opened.Close()
	})
}

// watch disconnects the adapter when s ends while it is still the current
// session.
func (a *Adapter) watch(s Session, untrack func()) {
	<-s.Done()
	untrack()

	a.mu.Lock()
	current := a.session == s
	if current {
		a.session = nil
	}
	a.mu.Unlock()

	if current && a.Disconnect() {
		a.log.Warn("commando session ended")
		a.cache.ClearAll()
	}
}

// Close ends the session and forgets cached state.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	a.cache.ClearAll()
	a.Aliases().Forget()
	return a.sessions.CloseAll()
}

// OpenSessions returns 1 while a session is established.
func (a *Adapter) OpenSessions() int {
	return a.sessions.Len()
}

// Capabilities narrows the Core Lightning set to what the rune permits.
// Each permission check is a checkrune round trip.
func (a *Adapter) Capabilities() lnunify.CapabilitySet {
	base := a.FullNode.Capabilities()
	return base.With(lnunify.CapabilitySet{
		lnunify.CapLightningSends:    a.runeAllows("pay"),
		lnunify.CapKeysend:           a.runeAllows("keysend"),
		lnunify.CapOnchainSends:      a.runeAllows("withdraw"),
		lnunify.CapChannelManagement: a.runeAllows("fundchannel"),
		lnunify.CapMessageSigning:    a.runeAllows("signmessage"),
		lnunify.CapRouting:           a.runeAllows("setchannel"),
		lnunify.CapOffers:            lnunify.All(a.runeAllows("offer"), base[lnunify.CapOffers]),
	})
}

// runeAllows asks the node whether the rune may run method. A denial is
// an unsupported capability, nodes without checkrune allow everything the
// rune was not checked for.
func (a *Adapter) runeAllows(method string) lnunify.Check {
	return func(ctx context.Context) (bool, error) {
		if err := a.Ready(); err != nil {
			return false, err
		}
		raw, err := a.Caller().Call(ctx, "checkrune", map[string]string{
			"rune":   a.cfg.Rune,
			"method": method,
		})
		var be *lnunify.BackendError
		switch {
		case err == nil:
		case errors.As(err, &be) && be.Status == methodNotFound:
			return true, nil
		case errors.As(err, &be):
			a.log.Debug("rune denies method", "method", method, "reason", be.Message)
			return false, nil
		default:
			return false, fmt.Errorf("checking rune: %w", err)
		}

		var resp struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return false, &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding checkrune: %w", err)}
		}
		return resp.Valid, nil
	}
}

const methodNotFound = -32601

var (
	_ lnunify.Adapter               = (*Adapter)(nil)
	_ lnunify.InvoicePayer          = (*Adapter)(nil)
	_ lnunify.KeysendSender         = (*Adapter)(nil)
	_ lnunify.ClosedChannelLister   = (*Adapter)(nil)
	_ lnunify.MessageVerifier       = (*Adapter)(nil)
	_ lnunify.OfferManager          = (*Adapter)(nil)
	_ lnunify.PaymentRequestDecoder = (*Adapter)(nil)
)
