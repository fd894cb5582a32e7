package nwc

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Relays publishes and receives events on a set of relays.
type Relays interface {
	// Publish succeeds when at least one relay accepted ev.
	Publish(ctx context.Context, urls []string, ev nostr.Event) error

	// Subscribe streams matching events until ctx is done.
	Subscribe(ctx context.Context, urls []string, filter nostr.Filter) <-chan *nostr.Event

	// FetchReplaceable returns the stored replaceable events matching
	// filter, one per author and kind.
	FetchReplaceable(ctx context.Context, urls []string, filter nostr.Filter) []*nostr.Event

	Close()
}

// pool implements Relays over a go-nostr SimplePool.
type pool struct {
	p *nostr.SimplePool
}

// NewPool returns Relays backed by a SimplePool living as long as ctx.
func NewPool(ctx context.Context) Relays {
	return &pool{p: nostr.NewSimplePool(ctx)}
}

func (p *pool) Publish(ctx context.Context, urls []string, ev nostr.Event) error {
	var errs []error
	for res := range p.p.PublishMany(ctx, urls, ev) {
		if res.Error == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.RelayURL, res.Error))
	}
	if len(errs) == 0 {
		return errors.New("no relay accepted the event")
	}
	return errors.Join(errs...)
}

func (p *pool) Subscribe(ctx context.Context, urls []string, filter nostr.Filter) <-chan *nostr.Event {
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for re := range p.p.SubscribeMany(ctx, urls, filter) {
			select {
			case out <- re.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (p *pool) FetchReplaceable(ctx context.Context, urls []string, filter nostr.Filter) []*nostr.Event {
	var events []*nostr.Event
	res := p.p.FetchManyReplaceable(ctx, urls, filter)
	res.Range(func(_ nostr.ReplaceableKey, ev *nostr.Event) bool {
		if ctx.Err() != nil {
			return false
		}
		events = append(events, ev)
		return true
	})
	return events
}

func (p *pool) Close() {
	p.p.Close("")
}
