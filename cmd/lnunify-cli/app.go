package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/clightningrest"
	"github.com/feelancer21/lnunify/backends/clnrest"
	"github.com/feelancer21/lnunify/backends/commando"
	"github.com/feelancer21/lnunify/backends/eclair"
	"github.com/feelancer21/lnunify/backends/lnc"
	"github.com/feelancer21/lnunify/backends/lnd"
	"github.com/feelancer21/lnunify/backends/lndhub"
	"github.com/feelancer21/lnunify/backends/nwc"
	"github.com/feelancer21/lnunify/backends/spark"
	"github.com/feelancer21/lnunify/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	shutdownTimeout = 5 * time.Second
)

type App struct {
	dispatcher *lnunify.Dispatcher
	config     *Config
	ctx        *cli.Context
	log        *slog.Logger

	logFile *lumberjack.Logger
	metrics *http.Server
}

func NewApp(c *cli.Context) (*App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		ctx:    c,
	}
	app.log, app.logFile = newLogger(cfg)

	m, err := app.startMetrics()
	if err != nil {
		app.Close()
		return nil, err
	}

	d, err := newDispatcher(cfg, app.log, m)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.dispatcher = d

	return app, nil
}

func newLogger(cfg *Config) (*slog.Logger, *lumberjack.Logger) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var (
		w       io.Writer = os.Stderr
		logFile *lumberjack.Logger
	)
	if cfg.LogFile != "" {
		logFile = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = logFile
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), logFile
	}
	return slog.New(slog.NewTextHandler(w, opts)), logFile
}

// startMetrics registers the cache collectors and serves them when a listen
// address is configured.
func (a *App) startMetrics() (*lnunify.CacheMetrics, error) {
	reg := prometheus.NewRegistry()
	m, err := lnunify.NewCacheMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	if a.config.MetricsListen == "" {
		return m, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{
		Addr:              a.config.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := a.metrics.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", a.config.MetricsListen)
	return m, nil
}

func newDispatcher(cfg *Config, log *slog.Logger, m *lnunify.CacheMetrics) (*lnunify.Dispatcher, error) {
	active, err := lnunify.ParseBackendKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var tor *transport.TorDialer
	if cfg.Tor != nil {
		tor = transport.NewTorDialer(cfg.Tor.SOCKS, nil)
	}
	torFor := func(enabled bool) *transport.TorDialer {
		if enabled {
			return tor
		}
		return nil
	}

	adapters := make(map[lnunify.BackendKind]lnunify.Adapter)
	add := func(kind lnunify.BackendKind, a lnunify.Adapter, err error) error {
		if err != nil {
			return fmt.Errorf("creating %s adapter: %w", kind, err)
		}
		adapters[kind] = a
		return nil
	}

	if c := cfg.LND; c != nil {
		mac, err := readMacaroon(c.Macaroon, c.MacaroonPath)
		if err != nil {
			return nil, err
		}
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := lnd.New(lnd.Config{
			Host:       c.Host,
			Port:       c.Port,
			Macaroon:   mac,
			TLSVerify:  c.TLSVerify,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, lnd.WithLogger(log), lnd.WithMetrics(m))
		if err := add(lnunify.KindLND, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.CLNRest; c != nil {
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := clnrest.New(clnrest.Config{
			Host:       c.Host,
			Port:       c.Port,
			Rune:       c.Rune,
			TLSVerify:  c.TLSVerify,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, clnrest.WithLogger(log), clnrest.WithMetrics(m))
		if err := add(lnunify.KindCLNRest, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.CLightningREST; c != nil {
		var mac string
		if c.Rune == "" {
			if mac, err = readMacaroon(c.Macaroon, c.MacaroonPath); err != nil {
				return nil, err
			}
		}
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := clightningrest.New(clightningrest.Config{
			Host:       c.Host,
			Port:       c.Port,
			Macaroon:   mac,
			Rune:       c.Rune,
			TLSVerify:  c.TLSVerify,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, clightningrest.WithLogger(log), clightningrest.WithMetrics(m))
		if err := add(lnunify.KindCLightningREST, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.Socket; c != nil {
		key, err := loadKey(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading identity: %w", err)
		}
		if key == "" {
			log.Warn("no identity key found, using a fresh one", "path", c.KeyPath)
		}
		a, err := commando.New(commando.Config{
			Host:       c.Host,
			Pubkey:     c.Pubkey,
			PrivateKey: key,
			Rune:       c.Rune,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, commando.WithLogger(log), commando.WithMetrics(m))
		if err := add(lnunify.KindLNSocket, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.Spark; c != nil {
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := spark.New(spark.Config{
			URL:        c.URL,
			AccessKey:  c.AccessKey,
			TLSVerify:  c.TLSVerify,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, spark.WithLogger(log), spark.WithMetrics(m))
		if err := add(lnunify.KindSpark, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.Eclair; c != nil {
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := eclair.New(eclair.Config{
			URL:        c.URL,
			Password:   c.Password,
			TLSVerify:  c.TLSVerify,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
			Timeout:    cfg.Timeout,
		}, eclair.WithLogger(log), eclair.WithMetrics(m))
		if err := add(lnunify.KindEclair, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.LndHub; c != nil {
		hub, err := lndHubConfig(c, cfg, torFor(c.Tor))
		if err != nil {
			return nil, err
		}
		a, err := lndhub.New(hub, lndhub.WithLogger(log), lndhub.WithMetrics(m))
		if err := add(lnunify.KindLndHub, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.LNC; c != nil {
		mac, err := readMacaroon(c.Macaroon, c.MacaroonPath)
		if err != nil {
			return nil, err
		}
		cert, err := readOptional(c.TLSCertPath)
		if err != nil {
			return nil, err
		}
		a, err := lnc.New(lnc.Config{
			Addr:       c.Addr,
			Macaroon:   mac,
			TLSCertPEM: cert,
			Tor:        torFor(c.Tor),
		}, lnc.WithLogger(log), lnc.WithMetrics(m))
		if err := add(lnunify.KindLNC, a, err); err != nil {
			return nil, err
		}
	}

	if c := cfg.NWC; c != nil {
		a, err := nwc.New(nwc.Config{
			URI:     c.URI,
			Timeout: cfg.Timeout,
		}, nwc.WithLogger(log), nwc.WithMetrics(m))
		if err := add(lnunify.KindNWC, a, err); err != nil {
			return nil, err
		}
	}

	return lnunify.NewDispatcher(adapters, active, lnunify.WithDispatcherLogger(log))
}

// lndHubConfig merges the exported secret with the explicit settings. An
// explicit url wins over the one in the secret.
func lndHubConfig(c *LndHubConfig, cfg *Config, tor *transport.TorDialer) (lndhub.Config, error) {
	hub := lndhub.Config{URL: c.URL, Login: c.Login, Password: c.Password}
	if c.Secret != "" {
		parsed, err := lndhub.ParseSecret(c.Secret)
		if err != nil {
			return lndhub.Config{}, err
		}
		if c.URL != "" {
			parsed.URL = c.URL
		}
		hub = parsed
	}

	cert, err := readOptional(c.TLSCertPath)
	if err != nil {
		return lndhub.Config{}, err
	}
	hub.TLSVerify = c.TLSVerify
	hub.TLSCertPEM = cert
	hub.Tor = tor
	hub.Timeout = cfg.Timeout
	return hub, nil
}

func (a *App) timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx.Context, a.config.Timeout)
}

func (a *App) GetInfo() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	info, err := a.dispatcher.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("getting node info: %w", err)
	}
	return printJSON(info)
}

func (a *App) GetBalance() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	b, err := a.dispatcher.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("getting balance: %w", err)
	}
	return printJSON(b)
}

func (a *App) ListChannels() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	var (
		channels []lnunify.Channel
		err      error
	)
	if a.ctx.Bool("closed") {
		channels, err = a.dispatcher.ListClosedChannels(ctx)
	} else {
		channels, err = a.dispatcher.ListChannels(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	return printSliceJSON(channels)
}

func (a *App) ListTransactions() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	txs, err := a.dispatcher.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}
	return printSliceJSON(txs)
}

func (a *App) ListInvoices() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	invoices, err := a.dispatcher.ListInvoices(ctx, lnunify.ListOptions{Limit: a.ctx.Int("limit")})
	if err != nil {
		return fmt.Errorf("listing invoices: %w", err)
	}
	return printSliceJSON(invoices)
}

func (a *App) ListPayments() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	payments, err := a.dispatcher.ListPayments(ctx, lnunify.ListOptions{Limit: a.ctx.Int("limit")})
	if err != nil {
		return fmt.Errorf("listing payments: %w", err)
	}
	return printSliceJSON(payments)
}

func (a *App) AddInvoice() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	inv, err := a.dispatcher.CreateInvoice(ctx, lnunify.CreateInvoiceRequest{
		ValueSat: a.ctx.Int64("amt"),
		Memo:     a.ctx.String("memo"),
		Expiry:   int64(a.ctx.Duration("expiry").Seconds()),
	})
	if err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	return printJSON(inv)
}

func (a *App) PayInvoice() error {
	payReq := a.ctx.Args().First()
	if payReq == "" {
		return errors.New("payment request missing")
	}

	ctx, cancel := a.timeoutCtx()
	defer cancel()

	p, err := a.dispatcher.PayInvoice(ctx, lnunify.PayInvoiceRequest{
		PaymentRequest: payReq,
		AmountSat:      a.ctx.Int64("amt"),
		FeeLimitSat:    a.ctx.Int64("fee-limit"),
		TimeoutSeconds: int32(a.config.Timeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("paying invoice: %w", err)
	}
	return printJSON(p)
}

func (a *App) SendKeysend() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	p, err := a.dispatcher.SendKeysend(ctx, lnunify.KeysendRequest{
		Destination: a.ctx.String("dest"),
		AmountSat:   a.ctx.Int64("amt"),
		FeeLimitSat: a.ctx.Int64("fee-limit"),
		Message:     a.ctx.String("message"),
	})
	if err != nil {
		return fmt.Errorf("sending keysend: %w", err)
	}
	return printJSON(p)
}

func (a *App) DecodePayReq() error {
	payReq := a.ctx.Args().First()
	if payReq == "" {
		return errors.New("payment request missing")
	}

	ctx, cancel := a.timeoutCtx()
	defer cancel()

	decoded, err := a.dispatcher.DecodePaymentRequest(ctx, payReq)
	if err != nil {
		return fmt.Errorf("decoding payment request: %w", err)
	}
	return printJSON(decoded)
}

func (a *App) NewAddress() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	addr, err := a.dispatcher.NewAddress(ctx, lnunify.NewAddressRequest{Type: a.ctx.String("type")})
	if err != nil {
		return fmt.Errorf("generating address: %w", err)
	}
	return printJSON(addr)
}

func (a *App) Capabilities() error {
	ctx, cancel := a.timeoutCtx()
	defer cancel()

	return printCapabilities(a.dispatcher.Kind(), a.dispatcher.Capabilities(ctx))
}

// Call invokes any operation by name. The arguments are the JSON encoded
// request, omitted for operations without one.
func (a *App) Call() error {
	op := lnunify.Operation(a.ctx.Args().Get(0))
	if op == "" {
		return errors.New("operation missing, see the operations command")
	}

	var args json.RawMessage
	if raw := a.ctx.Args().Get(1); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("arguments of %s are not valid JSON", op)
		}
		args = json.RawMessage(raw)
	}

	ctx, cancel := a.timeoutCtx()
	defer cancel()

	res, err := a.dispatcher.Call(ctx, op, args)
	if err != nil {
		return fmt.Errorf("calling %s: %w", op, err)
	}
	if res == nil {
		return printJSON(struct {
			Operation lnunify.Operation `json:"operation"`
			Done      bool              `json:"done"`
		}{op, true})
	}
	return printJSON(res)
}

// SubscribeInvoices prints invoice updates until interrupted.
func (a *App) SubscribeInvoices() error {
	sub, err := a.dispatcher.SubscribeInvoices(a.ctx.Context)
	if err != nil {
		return fmt.Errorf("subscribing to invoices: %w", err)
	}
	defer sub.Close()

	for update := range sub.Updates() {
		if err := printJSON(update); err != nil {
			return err
		}
	}
	return sub.Err()
}

func (a *App) Close() error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
