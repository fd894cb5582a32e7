package nwc

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// walletInfo is what the info event of the wallet service announces.
type walletInfo struct {
	createdAt     nostr.Timestamp
	methods       []string
	notifications []string
}

// infoStore keeps the newest info event of the wallet service.
type infoStore struct {
	mu   sync.RWMutex
	info walletInfo
}

// store replaces the known info unless ev is older or the same age.
func (s *infoStore) store(ev *nostr.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.createdAt >= ev.CreatedAt {
		return fmt.Errorf("existing info is newer or same: %d >= %d",
			s.info.createdAt, ev.CreatedAt)
	}
	methods, notifications := infoMethods(ev)
	s.info = walletInfo{
		createdAt:     ev.CreatedAt,
		methods:       methods,
		notifications: notifications,
	}
	return nil
}

func (s *infoStore) known() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.createdAt > 0
}

func (s *infoStore) supports(method string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.info.methods, method)
}

func (s *infoStore) notifies(typ string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.info.notifications, typ)
}

func (s *infoStore) reset() {
	s.mu.Lock()
	s.info = walletInfo{}
	s.mu.Unlock()
}

// router hands events from the shared relay subscription to the request
// waiting for them, or to the notification listeners.
type router struct {
	mu        sync.Mutex
	pending   map[string]chan *nostr.Event
	listeners map[int]chan *nostr.Event
	next      int
}

func newRouter() *router {
	return &router{
		pending:   make(map[string]chan *nostr.Event),
		listeners: make(map[int]chan *nostr.Event),
	}
}

// await registers a waiter for the response to request id. It must be
// called before the request is published.
func (r *router) await(id string) (<-chan *nostr.Event, func()) {
	ch := make(chan *nostr.Event, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}
}

// deliver routes a response by its "e" tag. Only the first response per
// request is kept.
func (r *router) deliver(ev *nostr.Event) bool {
	id := tagValue(ev, "e")

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	ch <- ev
	return true
}

// listen registers a notification listener.
func (r *router) listen() (<-chan *nostr.Event, func()) {
	ch := make(chan *nostr.Event, 16)
	r.mu.Lock()
	id := r.next
	r.next++
	r.listeners[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// notify fans ev out to the listeners. A listener that is not keeping up
// misses the event.
func (r *router) notify(ev *nostr.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sent := 0
	for _, ch := range r.listeners {
		select {
		case ch <- ev:
			sent++
		default:
		}
	}
	return sent
}
