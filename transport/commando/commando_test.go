package commando

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn feeds queued messages to the client and records its writes.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	mu     sync.Mutex
	staged [][]byte
	once   sync.Once
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) ReadNextMessage() ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(b []byte) error {
	p.mu.Lock()
	p.staged = append(p.staged, append([]byte(nil), b...))
	p.mu.Unlock()
	return nil
}

func (p *pipeConn) Flush() (int, error) {
	p.mu.Lock()
	staged := p.staged
	p.staged = nil
	p.mu.Unlock()

	n := 0
	for _, b := range staged {
		p.out <- b
		n += len(b)
	}
	return n, nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func reply(typ uint16, id uint64, chunk string) []byte {
	b := make([]byte, headerLen)
	binary.BigEndian.PutUint16(b, typ)
	binary.BigEndian.PutUint64(b[2:], id)
	return append(b, chunk...)
}

func readRequest(t *testing.T, p *pipeConn) (uint64, map[string]any) {
	t.Helper()
	select {
	case b := <-p.out:
		require.Equal(t, TypeRequest, binary.BigEndian.Uint16(b))
		var req map[string]any
		require.NoError(t, json.Unmarshal(b[headerLen:], &req))
		return binary.BigEndian.Uint64(b[2:headerLen]), req
	case <-time.After(time.Second):
		t.Fatal("no request written")
		return 0, nil
	}
}

func TestEncodeRequest(t *testing.T) {
	frame, err := EncodeRequest(7, "getinfo", nil, "r1")
	require.NoError(t, err)

	assert.Equal(t, TypeRequest, binary.BigEndian.Uint16(frame))
	assert.EqualValues(t, 7, binary.BigEndian.Uint64(frame[2:headerLen]))
	assert.JSONEq(t, `{"method":"getinfo","params":{},"rune":"r1"}`, string(frame[headerLen:]))
}

func TestDecodeReply(t *testing.T) {
	res, err := DecodeReply([]byte(`{"jsonrpc":"2.0","id":1,"result":{"id":"02ab"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"02ab"}`, string(res))

	_, err = DecodeReply([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"Not authorized"}}`))
	require.ErrorIs(t, err, lnunify.ErrBackend)
	assert.Equal(t, "Not authorized", err.Error())

	_, err = DecodeReply([]byte(`{"result":`))
	require.ErrorIs(t, err, lnunify.ErrProtocol)
}

func TestClientReassemblesReplies(t *testing.T) {
	p := newPipeConn()
	c := newClient(p, "r1", slog.Default())
	defer c.Close()

	type res struct {
		raw json.RawMessage
		err error
	}
	done := make(chan res, 1)
	go func() {
		raw, err := c.Call(context.Background(), "listfunds", map[string]any{})
		done <- res{raw, err}
	}()

	id, req := readRequest(t, p)
	assert.Equal(t, "listfunds", req["method"])
	assert.Equal(t, "r1", req["rune"])

	p.in <- reply(TypeReplyContinue, id, `{"result":{"outputs":`)
	p.in <- reply(TypeReplyTerm, id, `[]}}`)

	r := <-done
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"outputs":[]}`, string(r.raw))
}

func TestClientMultiplexesByID(t *testing.T) {
	p := newPipeConn()
	c := newClient(p, "", slog.Default())
	defer c.Close()

	results := make(map[string]chan json.RawMessage)
	for _, m := range []string{"a", "b"} {
		ch := make(chan json.RawMessage, 1)
		results[m] = ch
		go func(m string) {
			raw, err := c.Call(context.Background(), m, nil)
			assert.NoError(t, err)
			ch <- raw
		}(m)
	}

	ids := map[string]uint64{}
	for i := 0; i < 2; i++ {
		id, req := readRequest(t, p)
		ids[req["method"].(string)] = id
	}

	// Answer in reverse order.
	p.in <- reply(TypeReplyTerm, ids["b"], `{"result":"B"}`)
	p.in <- reply(TypeReplyTerm, ids["a"], `{"result":"A"}`)

	assert.JSONEq(t, `"A"`, string(<-results["a"]))
	assert.JSONEq(t, `"B"`, string(<-results["b"]))
}

func TestClientAnswersPing(t *testing.T) {
	p := newPipeConn()
	c := newClient(p, "", slog.Default())
	defer c.Close()

	var buf bytes.Buffer
	_, err := lnwire.WriteMessage(&buf, &lnwire.Ping{NumPongBytes: 4}, 0)
	require.NoError(t, err)
	p.in <- buf.Bytes()

	select {
	case b := <-p.out:
		msg, err := lnwire.ReadMessage(bytes.NewReader(b), 0)
		require.NoError(t, err)
		pong, ok := msg.(*lnwire.Pong)
		require.True(t, ok)
		assert.Len(t, pong.PongBytes, 4)
	case <-time.After(time.Second):
		t.Fatal("no pong")
	}
}

func TestClientCloseFailsPending(t *testing.T) {
	p := newPipeConn()
	c := newClient(p, "", slog.Default())

	errc := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "waitanyinvoice", nil)
		errc <- err
	}()
	readRequest(t, p)

	require.NoError(t, c.Close())
	err := <-errc
	require.ErrorIs(t, err, lnunify.ErrConnection)

	_, err = c.Call(context.Background(), "getinfo", nil)
	require.ErrorIs(t, err, lnunify.ErrConnection)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("session not done")
	}
}

func TestClientCallContext(t *testing.T) {
	p := newPipeConn()
	c := newClient(p, "", slog.Default())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "getinfo", nil)
		errc <- err
	}()
	readRequest(t, p)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}
