// Package commando speaks Core Lightning's commando protocol: JSON-RPC
// requests carried in custom peer messages over a BOLT 8 encrypted session.
package commando

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/brontide"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tor"
)

const (
	typeInit = 16
	typePing = 18

	TypeRequest       uint16 = 0x4c4f
	TypeReplyContinue uint16 = 0x594b
	TypeReplyTerm     uint16 = 0x594d

	DefaultPort    = "9735"
	defaultTimeout = 30 * time.Second

	headerLen = 2 + 8
)

var ErrClosed = errors.New("commando session closed")

// msgConn is the message oriented part of a brontide connection.
type msgConn interface {
	ReadNextMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Flush() (int, error)
	Close() error
}

var _ msgConn = (*brontide.Conn)(nil)

type Config struct {
	// Addr is host:port of the node. The port defaults to 9735.
	Addr string

	// Pubkey is the hex encoded node identity key.
	Pubkey string

	// PrivateKey is the hex encoded local identity. A fresh key is
	// generated when empty.
	PrivateKey string

	// Rune authorizes every request.
	Rune string

	// Dial opens the underlying TCP connection, e.g. a TorDialer.
	Dial tor.DialFunc

	Timeout time.Duration
}

// Client is a persistent commando session. Requests are multiplexed by
// request id and may be issued concurrently.
type Client struct {
	conn  msgConn
	token string
	log   *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*call
	err     error

	closed    chan struct{}
	closeOnce sync.Once
}

type call struct {
	buf  bytes.Buffer
	done chan struct{}
	res  json.RawMessage
	err  error
}

// Dial performs the noise handshake, exchanges init messages and starts
// reading replies.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	remote, err := parsePubkey(cfg.Pubkey)
	if err != nil {
		return nil, err
	}
	local, err := localKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		// Onion hosts cannot be resolved locally, the dialer does it.
		tcpAddr = &net.TCPAddr{}
	}
	netAddr := &lnwire.NetAddress{
		IdentityKey: remote,
		Address:     &hostAddr{TCPAddr: tcpAddr, addr: addr},
	}

	dial := cfg.Dial
	if dial == nil {
		dial = func(network, a string, timeout time.Duration) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, a)
		}
	}

	type dialed struct {
		conn *brontide.Conn
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := brontide.Dial(&keychain.PrivKeyECDH{PrivKey: local}, netAddr, cfg.Timeout, dial)
		ch <- dialed{conn, err}
	}()

	var conn *brontide.Conn
	select {
	case d := <-ch:
		if d.err != nil {
			return nil, &lnunify.ConnectionError{Target: addr, Err: d.err}
		}
		conn = d.conn
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.conn != nil {
				d.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	if err := handshake(conn, cfg.Timeout); err != nil {
		conn.Close()
		return nil, &lnunify.ConnectionError{Target: addr, Err: err}
	}

	log.Debug("commando session established", "addr", addr)
	return newClient(conn, cfg.Rune, log), nil
}

func handshake(conn *brontide.Conn, timeout time.Duration) error {
	var buf bytes.Buffer
	init := lnwire.NewInitMessage(lnwire.NewRawFeatureVector(), lnwire.NewRawFeatureVector())
	if _, err := lnwire.WriteMessage(&buf, init, 0); err != nil {
		return fmt.Errorf("encoding init: %w", err)
	}
	if err := conn.WriteMessage(buf.Bytes()); err != nil {
		return fmt.Errorf("sending init: %w", err)
	}
	if _, err := conn.Flush(); err != nil {
		return fmt.Errorf("sending init: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	b, err := conn.ReadNextMessage()
	if err != nil {
		return fmt.Errorf("reading init: %w", err)
	}
	if len(b) < 2 || binary.BigEndian.Uint16(b) != typeInit {
		return errors.New("peer did not send init")
	}
	return nil
}

func newClient(conn msgConn, token string, log *slog.Logger) *Client {
	c := &Client{
		conn:    conn,
		token:   token,
		log:     log,
		pending: make(map[uint64]*call),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends method with params and waits for the complete reply.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	cl := &call{done: make(chan struct{})}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = cl
	c.mu.Unlock()

	frame, err := EncodeRequest(id, method, params, c.token)
	if err != nil {
		c.forget(id)
		return nil, err
	}
	if err := c.write(frame); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-cl.done:
		return cl.res, cl.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(frame); err != nil {
		return &lnunify.ConnectionError{Target: "commando", Err: err}
	}
	if _, err := c.conn.Flush(); err != nil {
		return &lnunify.ConnectionError{Target: "commando", Err: err}
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		b, err := c.conn.ReadNextMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if err := c.handle(b); err != nil {
			c.log.Warn("commando message dropped", "error", err)
		}
	}
}

func (c *Client) handle(b []byte) error {
	if len(b) < 2 {
		return errors.New("short message")
	}

	switch typ := binary.BigEndian.Uint16(b); typ {
	case typePing:
		msg, err := lnwire.ReadMessage(bytes.NewReader(b), 0)
		if err != nil {
			return fmt.Errorf("decoding ping: %w", err)
		}
		ping, ok := msg.(*lnwire.Ping)
		if !ok {
			return fmt.Errorf("unexpected %T", msg)
		}
		var buf bytes.Buffer
		pong := lnwire.NewPong(make([]byte, ping.NumPongBytes))
		if _, err := lnwire.WriteMessage(&buf, pong, 0); err != nil {
			return err
		}
		return c.write(buf.Bytes())

	case TypeReplyContinue, TypeReplyTerm:
		if len(b) < headerLen {
			return errors.New("short reply")
		}
		id := binary.BigEndian.Uint64(b[2:headerLen])

		c.mu.Lock()
		cl, ok := c.pending[id]
		if ok {
			cl.buf.Write(b[headerLen:])
			if typ == TypeReplyTerm {
				delete(c.pending, id)
			}
		}
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("reply for unknown request %d", id)
		}

		if typ == TypeReplyTerm {
			cl.res, cl.err = DecodeReply(cl.buf.Bytes())
			close(cl.done)
		}
		return nil

	default:
		// init, gossip and other peer traffic.
		return nil
	}
}

func (c *Client) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = ErrClosed
	}
	err = &lnunify.ConnectionError{Target: "commando", Err: err}

	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[uint64]*call)
	c.mu.Unlock()

	for _, cl := range pending {
		cl.err = err
		close(cl.done)
	}
	c.closeOnce.Do(func() { close(c.closed) })
}

// Done is closed once the session ended.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close ends the session. Pending calls fail with ErrConnection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

// EncodeRequest builds a commando request frame.
func EncodeRequest(id uint64, method string, params any, token string) ([]byte, error) {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params"`
		Rune   string `json:"rune"`
	}{method, params, token})
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}

	frame := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint16(frame, TypeRequest)
	binary.BigEndian.PutUint64(frame[2:], id)
	return append(frame, body...), nil
}

// DecodeReply extracts the result of a JSON-RPC reply.
func DecodeReply(b []byte) (json.RawMessage, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &lnunify.ProtocolError{Body: b, Err: fmt.Errorf("decoding commando reply: %w", err)}
	}
	if env.Error != nil {
		return nil, lnunify.NewBackendError(env.Error.Code, env.Error.Message)
	}
	if len(env.Result) == 0 {
		return json.RawMessage("{}"), nil
	}
	return env.Result, nil
}

func parsePubkey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid node pubkey: %w", err)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid node pubkey: %w", err)
	}
	return pub, nil
}

func localKey(s string) (*btcec.PrivateKey, error) {
	if s == "" {
		return btcec.NewPrivateKey()
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, errors.New("invalid local private key")
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}

// hostAddr keeps the unresolved host:port for dialers which resolve on
// their own, e.g. through Tor.
type hostAddr struct {
	*net.TCPAddr
	addr string
}

func (h *hostAddr) String() string { return h.addr }
