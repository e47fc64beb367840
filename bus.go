package rtclient

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/usercast/rtclient/internal/xsync"
)

// Listener receives the payload of a published event.
// Returning an error or panicking is reported as a ListenerError
// and does not affect other listeners or the publisher.
type Listener func(payload any) error

// Subscription is the handle returned by Subscribe.
// The zero value is not subscribed to anything.
type Subscription struct {
	name string
	id   uint64
}

// Name returns the event name the subscription listens to.
func (s Subscription) Name() string {
	return s.name
}

type subscriber struct {
	id    uint64
	fn    Listener
	once  bool
	fired atomic.Bool
}

// BusOptions represents the options available to NewBus.
type BusOptions struct {
	// Logger receives listener errors. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnListenerError is called for every contained listener failure.
	OnListenerError func(*ListenerError)
}

// Bus is a publish/subscribe registry keyed by event name.
// It is safe for concurrent use. Listeners run on the publisher's
// goroutine in subscription order, without any bus lock held.
type Bus struct {
	logger  *zap.Logger
	onError func(*ListenerError)

	nextID atomic.Uint64

	mu   sync.RWMutex
	subs map[string][]*subscriber
}

// NewBus creates an empty Bus. opts may be nil.
func NewBus(opts *BusOptions) *Bus {
	if opts == nil {
		opts = &BusOptions{}
	}
	b := &Bus{
		logger:  opts.Logger,
		onError: opts.OnListenerError,
		subs:    make(map[string][]*subscriber),
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Subscribe registers fn for name. The same function may be registered
// several times and is then called once per registration.
func (b *Bus) Subscribe(name string, fn Listener) Subscription {
	return b.subscribe(name, fn, false)
}

// SubscribeOnce registers fn for the next delivery on name only.
// The subscription is removed after the delivery attempt, whether or not fn fails.
func (b *Bus) SubscribeOnce(name string, fn Listener) Subscription {
	return b.subscribe(name, fn, true)
}

func (b *Bus) subscribe(name string, fn Listener, once bool) Subscription {
	s := &subscriber{
		id:   b.nextID.Add(1),
		fn:   fn,
		once: once,
	}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], s)
	b.mu.Unlock()

	return Subscription{name: name, id: s.id}
}

// Unsubscribe removes the subscription. It reports whether it was still registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(sub.name, sub.id)
}

func (b *Bus) removeLocked(name string, id uint64) bool {
	subs := b.subs[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]*subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, name)
		} else {
			b.subs[name] = next
		}
		return true
	}
	return false
}

// UnsubscribeAll removes every listener of the given names,
// or every listener of every name when called without arguments.
func (b *Bus) UnsubscribeAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		b.subs = make(map[string][]*subscriber)
		return
	}
	for _, name := range names {
		delete(b.subs, name)
	}
}

// Publish delivers payload to every listener of name and reports
// whether there was at least one listener.
func (b *Bus) Publish(name string, payload any) bool {
	b.mu.RLock()
	subs := b.subs[name]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return false
	}

	// subs is never mutated in place so the snapshot stays valid.
	for _, s := range subs {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			b.mu.Lock()
			b.removeLocked(name, s.id)
			b.mu.Unlock()
		}
		b.deliver(name, s, payload)
	}
	return true
}

func (b *Bus) deliver(name string, s *subscriber, payload any) {
	err := xsync.Try(func() error {
		return s.fn(payload)
	})
	if err == nil {
		return
	}

	lerr := &ListenerError{Event: name, Err: err}
	b.logger.Error("listener failed",
		zap.String("event", name),
		zap.Uint64("subscription", s.id),
		zap.Error(err),
	)
	if b.onError != nil {
		b.onError(lerr)
	}
}

// ListenerCount returns the number of listeners registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[name])
}

// Names returns the sorted event names that have at least one listener.
func (b *Bus) Names() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	b.mu.RUnlock()

	sort.Strings(names)
	return names
}
