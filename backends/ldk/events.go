package ldk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/normalize"
	"github.com/feelancer21/lnunify/transport/bridge"
)

// ldk-node keeps a single event queue. An event stays at the head until it
// is marked handled, so one pump reads the queue for every subscriber and
// runs only while somebody listens.

type follower struct {
	fn   func(normalize.LDKEvent) bool
	done chan struct{}
	err  error
}

type eventPump struct {
	b     bridge.Bridge
	retry time.Duration
	log   *slog.Logger

	mu        sync.Mutex
	followers map[*follower]struct{}
	cancel    context.CancelFunc
	stopped   chan struct{}
}

func newEventPump(b bridge.Bridge, retry time.Duration, log *slog.Logger) *eventPump {
	return &eventPump{
		b:         b,
		retry:     retry,
		log:       log,
		followers: make(map[*follower]struct{}),
	}
}

// follow passes every event to fn until ctx ends, fn returns false or the
// pump is closed.
func (p *eventPump) follow(ctx context.Context, fn func(normalize.LDKEvent) bool) error {
	f := &follower{fn: fn, done: make(chan struct{})}

	p.mu.Lock()
	p.followers[f] = struct{}{}
	if p.cancel == nil {
		p.start()
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.remove(f, nil)
		return nil
	case <-f.done:
		return f.err
	}
}

// start runs a new loop after the previous one has returned. The caller
// holds p.mu.
func (p *eventPump) start() {
	ctx, cancel := context.WithCancel(context.Background())
	prev := p.stopped
	stopped := make(chan struct{})
	p.cancel, p.stopped = cancel, stopped

	go func() {
		defer close(stopped)
		if prev != nil {
			<-prev
		}
		p.run(ctx)
	}()
}

// remove ends f. The loop stops with the last follower. The caller must
// not hold p.mu.
func (p *eventPump) remove(f *follower, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(f, err)
}

func (p *eventPump) removeLocked(f *follower, err error) {
	if _, ok := p.followers[f]; !ok {
		return
	}
	delete(p.followers, f)
	f.err = err
	close(f.done)
	if len(p.followers) == 0 && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// close ends every follower.
func (p *eventPump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for f := range p.followers {
		p.removeLocked(f, fmt.Errorf("%w: adapter closed", lnunify.ErrNotReady))
	}
}

func (p *eventPump) run(ctx context.Context) {
	for ctx.Err() == nil {
		var ev normalize.LDKEvent
		if err := bridge.CallJSON(ctx, p.b, methodWaitNextEvent, nil, &ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("waiting for node event", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retry):
			}
			continue
		}

		p.mu.Lock()
		followers := make([]*follower, 0, len(p.followers))
		for f := range p.followers {
			followers = append(followers, f)
		}
		p.mu.Unlock()

		for _, f := range followers {
			if !f.fn(ev) {
				p.remove(f, nil)
			}
		}

		if err := bridge.CallJSON(ctx, p.b, methodEventHandled, nil, nil); err != nil {
			p.log.Warn("marking node event handled", "type", ev.Type, "err", err)
		}
	}
}

// SubscribeInvoices reports received payments as settled invoices.
func (a *Adapter) SubscribeInvoices(ctx context.Context) (*lnunify.Subscription[lnunify.InvoiceUpdate], error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	return lnunify.NewSubscription(ctx, func(ctx context.Context, emit func(lnunify.InvoiceUpdate) bool) error {
		return a.events.follow(ctx, func(ev normalize.LDKEvent) bool {
			upd, ok := normalize.LDKInvoiceUpdate(ev)
			if !ok {
				return true
			}
			return emit(upd)
		})
	}), nil
}

// SubscribeChannelEvents reports channels becoming pending, ready and
// closed.
func (a *Adapter) SubscribeChannelEvents(ctx context.Context) (*lnunify.Subscription[lnunify.ChannelEvent], error) {
	if err := a.Ready(); err != nil {
		return nil, err
	}
	return lnunify.NewSubscription(ctx, func(ctx context.Context, emit func(lnunify.ChannelEvent) bool) error {
		return a.events.follow(ctx, func(ev normalize.LDKEvent) bool {
			ce, ok := normalize.LDKChannelEvent(ev)
			if !ok {
				return true
			}
			return emit(ce)
		})
	}), nil
}
