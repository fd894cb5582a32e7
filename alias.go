package lnunify

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Aliases resolves remote node aliases for display. Lookups are rate
// limited and remembered, a failed lookup yields an empty alias.
type Aliases struct {
	lookup  func(ctx context.Context, pubkey string) (string, error)
	limiter *rate.Limiter
	log     *slog.Logger

	mu    sync.Mutex
	names map[string]string
}

// NewAliases limits lookups to r per second with the given burst.
func NewAliases(lookup func(ctx context.Context, pubkey string) (string, error),
	r rate.Limit, burst int, log *slog.Logger) *Aliases {

	return &Aliases{
		lookup:  lookup,
		limiter: rate.NewLimiter(r, burst),
		log:     log,
		names:   make(map[string]string),
	}
}

// Resolve returns the alias of pubkey or an empty string.
func (a *Aliases) Resolve(ctx context.Context, pubkey string) string {
	if pubkey == "" {
		return ""
	}

	a.mu.Lock()
	alias, ok := a.names[pubkey]
	a.mu.Unlock()
	if ok {
		return alias
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return ""
	}
	alias, err := a.lookup(ctx, pubkey)
	if err != nil {
		// We can continue with an empty alias if it fails.
		a.log.Debug("resolving alias", "pubkey", pubkey, "error", err)
		return ""
	}

	a.mu.Lock()
	a.names[pubkey] = alias
	a.mu.Unlock()
	return alias
}

// Enrich fills in the missing aliases of channels in place.
func (a *Aliases) Enrich(ctx context.Context, channels []Channel) {
	for i := range channels {
		if channels[i].Alias != "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		channels[i].Alias = a.Resolve(ctx, channels[i].RemotePubkey)
	}
}

// Forget drops every remembered alias.
func (a *Aliases) Forget() {
	a.mu.Lock()
	a.names = make(map[string]string)
	a.mu.Unlock()
}
