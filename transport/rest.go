package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second

	maxResponseSize = 32 << 20
)

// HeaderFunc adds the backend's authentication headers to a request.
type HeaderFunc func(req *http.Request) error

// BearerHeader authenticates with a bearer token.
func BearerHeader(token func() string) HeaderFunc {
	return func(req *http.Request) error {
		if t := token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
		return nil
	}
}

// StaticHeader sets a fixed header, e.g. lnd's Grpc-Metadata-macaroon or
// clnrest's Rune.
func StaticHeader(name, value string) HeaderFunc {
	return func(req *http.Request) error {
		req.Header.Set(name, value)
		return nil
	}
}

// RESTConfig describes how to reach a REST endpoint.
type RESTConfig struct {
	Host string
	Port string

	// TLSVerify enables certificate verification. Nodes commonly use self
	// signed certificates, so it is opt in unless a certificate is pinned.
	TLSVerify bool

	// TLSCertPEM pins the node certificate.
	TLSCertPEM []byte

	// Tor relays every request through the given dialer when set.
	Tor *TorDialer

	// Breaker enables a circuit breaker that fails fast after consecutive
	// connection failures.
	Breaker bool

	Timeout time.Duration
}

// Form marks a request body to be sent form encoded.
type Form url.Values

// RESTClient performs JSON requests against one node. Identical concurrent
// requests are coalesced by the cache the adapter passes in.
type RESTClient struct {
	cfg     RESTConfig
	http    *http.Client
	headers HeaderFunc
	cache   *lnunify.RequestCache
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
	log     *slog.Logger
}

type RESTOption func(*RESTClient)

func WithHeaders(h HeaderFunc) RESTOption {
	return func(c *RESTClient) { c.headers = h }
}

// WithCache coalesces requests through cache.
func WithCache(cache *lnunify.RequestCache) RESTOption {
	return func(c *RESTClient) { c.cache = cache }
}

func WithLogger(l *slog.Logger) RESTOption {
	return func(c *RESTClient) { c.log = l }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) RESTOption {
	return func(c *RESTClient) { c.http = h }
}

func NewRESTClient(cfg RESTConfig, opts ...RESTOption) (*RESTClient, error) {
	c := &RESTClient{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		h, err := newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		c.http = h
	}

	if cfg.Breaker {
		c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
			Name:        "rest:" + cfg.Host,
			MaxRequests: 1,
			Timeout:     defaultBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaultBreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn("circuit breaker state change", "breaker", name,
					"from", from.String(), "to", to.String())
			},
			// Only transport failures count, application errors
			// prove the node is reachable.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, lnunify.ErrConnection)
			},
		})
	}
	return c, nil
}

func newHTTPClient(cfg RESTConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.TLSVerify && len(cfg.TLSCertPEM) == 0}
	if len(cfg.TLSCertPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.TLSCertPEM) {
			return nil, errors.New("invalid TLS certificate")
		}
		tlsCfg.RootCAs = pool
	}

	tr := &http.Transport{
		TLSClientConfig:     tlsCfg,
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.Tor != nil {
		tr.Proxy = nil
		tr.DialContext = cfg.Tor.DialContext
	} else {
		tr.DialContext = (&net.Dialer{Timeout: 30 * time.Second}).DialContext
	}

	return &http.Client{Transport: tr, Timeout: cfg.Timeout}, nil
}

// HTTPClient returns the client requests are sent with, so websocket
// sessions to the same node share its TLS and proxy settings.
func (c *RESTClient) HTTPClient() *http.Client {
	return c.http
}

// URL resolves route against the configured host and port.
func (c *RESTClient) URL(route string) string {
	return BuildURL(c.cfg.Host, c.cfg.Port, route, false)
}

// WebSocketURL resolves route for a websocket connection.
func (c *RESTClient) WebSocketURL(route string) string {
	return BuildURL(c.cfg.Host, c.cfg.Port, route, true)
}

func (c *RESTClient) Get(ctx context.Context, route string, opts ...lnunify.CallOption) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, route, nil, opts...)
}

func (c *RESTClient) Post(ctx context.Context, route string, body any, opts ...lnunify.CallOption) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, route, body, opts...)
}

func (c *RESTClient) Delete(ctx context.Context, route string, opts ...lnunify.CallOption) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, route, nil, opts...)
}

// Request performs one exchange. When a cache is configured, concurrent
// requests with the same method, URL and body share one exchange.
func (c *RESTClient) Request(ctx context.Context, method, route string, body any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	target := c.URL(route)
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	do := func(ctx context.Context) (json.RawMessage, error) {
		if c.breaker == nil {
			return c.do(ctx, method, target, payload, contentType)
		}
		res, err := c.breaker.Execute(func() (json.RawMessage, error) {
			return c.do(ctx, method, target, payload, contentType)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &lnunify.ConnectionError{Target: target, Err: err}
		}
		return res, err
	}

	if c.cache == nil {
		return do(ctx)
	}
	fp, err := lnunify.NewFingerprint(method+" "+target, payload)
	if err != nil {
		return nil, err
	}
	return lnunify.Execute(ctx, c.cache, fp, do, opts...)
}

// Stream performs a request whose response is a sequence of newline
// delimited JSON objects and hands every object to fn until fn returns
// false, the body ends or ctx is done. Streams bypass the cache.
func (c *RESTClient) Stream(ctx context.Context, method, route string, body any,
	fn func(json.RawMessage) bool) error {

	target := c.URL(route)
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, method, target, payload, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_, err := ParseResponse(resp.StatusCode, b)
		return err
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return &lnunify.ProtocolError{Err: fmt.Errorf("decoding stream: %w", err)}
		}
		if !fn(msg) {
			return nil
		}
	}
}

func (c *RESTClient) do(ctx context.Context, method, target string, payload []byte,
	contentType string) (json.RawMessage, error) {

	resp, err := c.send(ctx, method, target, payload, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &lnunify.ConnectionError{Target: target, Err: fmt.Errorf("reading response: %w", err)}
	}
	return ParseResponse(resp.StatusCode, b)
}

func (c *RESTClient) send(ctx context.Context, method, target string, payload []byte,
	contentType string) (*http.Response, error) {

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		if err := c.headers(req); err != nil {
			return nil, fmt.Errorf("setting auth headers: %w", err)
		}
	}

	c.log.Debug("rest request", "method", method, "url", RedactURL(target))
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &lnunify.ConnectionError{Target: target, Err: err}
	}
	return resp, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case Form:
		return []byte(url.Values(v).Encode()), "application/x-www-form-urlencoded", nil
	case url.Values:
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
	case json.RawMessage:
		return v, "application/json", nil
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		return b, "application/json", nil
	}
}

// RedactURL strips credentials from u for logging.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.User = nil
	return strings.TrimSuffix(parsed.String(), "?")
}
