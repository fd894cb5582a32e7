// Package clncore implements the canonical operations for every backend
// that runs Core Lightning commands. The clnrest, commando and spark
// adapters only provide a Caller for their transport.
package clncore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/feelancer21/lnunify"
)

// Caller runs one Core Lightning command and returns its result object.
// Failures reported by the node are *lnunify.BackendError.
type Caller interface {
	Call(ctx context.Context, method string, params any, opts ...lnunify.CallOption) (json.RawMessage, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, method string, params any, opts ...lnunify.CallOption) (json.RawMessage, error)

func (f CallerFunc) Call(ctx context.Context, method string, params any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	return f(ctx, method, params, opts...)
}

type cachedCaller struct {
	next   Caller
	cache  *lnunify.RequestCache
	target string
}

// Cached coalesces identical concurrent commands through cache. target
// identifies the node, the method and params complete the fingerprint.
func Cached(next Caller, cache *lnunify.RequestCache, target string) Caller {
	return &cachedCaller{next: next, cache: cache, target: target}
}

func (c *cachedCaller) Call(ctx context.Context, method string, params any,
	opts ...lnunify.CallOption) (json.RawMessage, error) {

	fp, err := lnunify.NewFingerprint(c.target+" "+method, params)
	if err != nil {
		return nil, err
	}
	return lnunify.Execute(ctx, c.cache, fp, func(ctx context.Context) (json.RawMessage, error) {
		return c.next.Call(ctx, method, params)
	}, opts...)
}

// call runs method and decodes its result into T.
func call[T any](ctx context.Context, c Caller, method string, params any,
	opts ...lnunify.CallOption) (T, error) {

	var out T
	raw, err := c.Call(ctx, method, params, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &lnunify.ProtocolError{Body: raw, Err: fmt.Errorf("decoding %s: %w", method, err)}
	}
	return out, nil
}

// methodNotFound is the JSON-RPC code for unknown commands.
const methodNotFound = -32601

// isUnknownCommand reports whether the node lacks a command, which is how
// older nodes answer commands introduced later.
func isUnknownCommand(err error) bool {
	var be *lnunify.BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.Status == methodNotFound || strings.Contains(be.Message, "Unknown command")
}
