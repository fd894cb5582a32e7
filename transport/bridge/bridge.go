// Package bridge talks to a node embedded in the host process. The host
// exposes the node's RPCs as named methods. An embedded lnd exchanges base64
// encoded protobuf messages, an embedded ldk-node JSON documents.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/feelancer21/lnunify"
	"google.golang.org/protobuf/proto"
)

// Event is one message of a native stream.
type Event struct {
	// Data is the base64 encoded protobuf message.
	Data string

	ErrorCode string
	ErrorDesc string
}

// Bridge is implemented by the host. Stream closes the returned channel
// when the stream ends or ctx is done.
type Bridge interface {
	Call(ctx context.Context, method string, payload string) (string, error)
	Stream(ctx context.Context, method string, payload string) (<-chan Event, error)
}

// Descriptions the native layer uses for a regular end of stream.
var eofDescriptions = map[string]struct{}{
	"EOF":                               {},
	"error reading from server: EOF":    {},
	"channel event store shutting down": {},
}

// Err returns io.EOF for a regular end of stream, a backend error for any
// other error event and nil for data events.
func (e Event) Err() error {
	if e.ErrorCode == "" && e.ErrorDesc == "" {
		return nil
	}
	if _, ok := eofDescriptions[e.ErrorDesc]; ok {
		return io.EOF
	}
	return lnunify.NewBackendError(0, e.ErrorDesc)
}

func encode(msg proto.Message) (string, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding %T: %w", msg, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(data string, msg proto.Message) error {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return &lnunify.ProtocolError{Body: []byte(data), Err: fmt.Errorf("decoding base64: %w", err)}
	}
	if err := proto.Unmarshal(b, msg); err != nil {
		return &lnunify.ProtocolError{Body: b, Err: fmt.Errorf("decoding %T: %w", msg, err)}
	}
	return nil
}

// Invoke performs a unary call and decodes the reply into resp.
func Invoke(ctx context.Context, b Bridge, method string, req, resp proto.Message) error {
	payload, err := encode(req)
	if err != nil {
		return err
	}
	data, err := b.Call(ctx, method, payload)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("calling %s: %w", method, err)
	}
	return decode(data, resp)
}

// CallJSON performs a unary call on a JSON bridge. args are the positional
// arguments of the native method. The reply is decoded into resp unless
// resp is nil or the method returned nothing.
func CallJSON(ctx context.Context, b Bridge, method string, args []any, resp any) error {
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s arguments: %w", method, err)
	}
	data, err := b.Call(ctx, method, string(payload))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if resp == nil || data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), resp); err != nil {
		return &lnunify.ProtocolError{Body: []byte(data), Err: fmt.Errorf("decoding %s: %w", method, err)}
	}
	return nil
}

// Stream starts a server stream and hands every decoded message to fn until
// fn returns false, the stream ends or ctx is done. A regular end of stream
// returns nil.
func Stream[T proto.Message](ctx context.Context, b Bridge, method string, req proto.Message,
	newMsg func() T, fn func(T) bool) error {

	payload, err := encode(req)
	if err != nil {
		return err
	}
	events, err := b.Stream(ctx, method, payload)
	if err != nil {
		return fmt.Errorf("starting %s: %w", method, err)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := ev.Err(); err != nil {
				if err == io.EOF {
					return nil
				}
				return fmt.Errorf("%s: %w", method, err)
			}
			msg := newMsg()
			if err := decode(ev.Data, msg); err != nil {
				return err
			}
			if !fn(msg) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// First returns the first message of a stream, e.g. the final state of a
// payment sent without in-flight updates.
func First[T proto.Message](ctx context.Context, b Bridge, method string, req proto.Message,
	newMsg func() T) (T, error) {

	var (
		first T
		got   bool
	)
	err := Stream(ctx, b, method, req, newMsg, func(msg T) bool {
		first, got = msg, true
		return false
	})
	if err != nil {
		return first, err
	}
	if !got {
		return first, &lnunify.ProtocolError{Err: fmt.Errorf("%s: stream ended without a message", method)}
	}
	return first, nil
}
