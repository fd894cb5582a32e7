package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/feelancer21/lnunify"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsReadLimit = 4 << 20

// Session is a websocket stream owned by the adapter that opened it.
type Session struct {
	conn *websocket.Conn
	url  string

	closeOnce sync.Once
	closeErr  error
}

// WSConfig carries what is needed to open a websocket session.
type WSConfig struct {
	Headers    http.Header
	HTTPClient *http.Client
}

// DialSession opens a websocket to url.
func DialSession(ctx context.Context, url string, cfg WSConfig) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: cfg.HTTPClient,
		HTTPHeader: cfg.Headers,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &lnunify.ConnectionError{Target: RedactURL(url), Err: err}
	}
	conn.SetReadLimit(wsReadLimit)
	return &Session{conn: conn, url: url}, nil
}

// Send writes v as a JSON text message.
func (s *Session) Send(ctx context.Context, v any) error {
	if err := wsjson.Write(ctx, s.conn, v); err != nil {
		return fmt.Errorf("writing websocket message: %w", err)
	}
	return nil
}

// Next blocks for the next message. Messages of the form {"result": x} are
// unwrapped to x, messages carrying an "error" member are returned as
// errors. io.EOF marks a normal close by the remote.
func (s *Session) Next(ctx context.Context) (json.RawMessage, error) {
	_, b, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &lnunify.ConnectionError{Target: RedactURL(s.url), Err: err}
	}
	return unwrapMessage(b)
}

func unwrapMessage(b []byte) (json.RawMessage, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &lnunify.ProtocolError{Body: b, Err: fmt.Errorf("decoding websocket message: %w", err)}
	}
	if len(env.Error) > 0 && string(env.Error) != "null" {
		msg := errorMessage(b)
		if msg == "" {
			msg = string(env.Error)
		}
		return nil, lnunify.NewBackendError(0, msg)
	}
	if len(env.Result) > 0 {
		return env.Result, nil
	}
	return json.RawMessage(b), nil
}

// Close closes the session with a normal closure. Safe to call repeatedly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
		var ce websocket.CloseError
		if errors.As(s.closeErr, &ce) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// Collect opens a session, sends initial if non-nil and reads until the
// remote closes. It returns the last message received.
func Collect(ctx context.Context, url string, cfg WSConfig, initial any) (json.RawMessage, error) {
	s, err := DialSession(ctx, url, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if initial != nil {
		if err := s.Send(ctx, initial); err != nil {
			return nil, err
		}
	}

	var last json.RawMessage
	for {
		msg, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			if last == nil {
				return nil, &lnunify.ProtocolError{Err: errors.New("stream closed without a message")}
			}
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last = msg
	}
}

// Sessions tracks the closable resources an adapter opened so they can be
// torn down together.
type Sessions struct {
	mu   sync.Mutex
	open map[io.Closer]struct{}
}

// Track registers c. The returned func unregisters it without closing.
func (s *Sessions) Track(c io.Closer) func() {
	s.mu.Lock()
	if s.open == nil {
		s.open = make(map[io.Closer]struct{})
	}
	s.open[c] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.open, c)
		s.mu.Unlock()
	}
}

// Len returns the number of tracked resources.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// CloseAll closes and forgets every tracked resource.
func (s *Sessions) CloseAll() error {
	s.mu.Lock()
	open := s.open
	s.open = nil
	s.mu.Unlock()

	var errs []error
	for c := range open {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
