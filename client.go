package rtclient

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/usercast/rtclient/internal/errd"
)

// shared is the state injected into both channels of one Client.
type shared struct {
	id      string
	bus     *Bus
	corr    *correlator
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics
}

// route dispatches an inbound frame of channel ns.
//
// The frame is always published raw under rawEvent and EventMessage.
// A frame answering a pending call is then consumed by the correlator.
// Any other frame with a type is published with its Data as payload under
// <ns>:<type>, <type> and the alias of its kind.
func (st *shared) route(ns, rawEvent string, f *Frame) {
	st.bus.Publish(rawEvent, f)
	st.bus.Publish(EventMessage, f)

	if st.corr.resolve(f) {
		return
	}
	if f.Type == "" {
		return
	}
	st.bus.Publish(ns+":"+f.Type, f.Data)
	st.bus.Publish(f.Type, f.Data)
	if alias, ok := f.Kind().Alias(); ok {
		st.bus.Publish(alias, f.Data)
	}
}

// Client keeps a push channel and a duplex channel to one server and
// exposes both through a single event bus.
type Client struct {
	st     *shared
	push   *pushChannel
	duplex *duplexChannel
}

// New creates a Client. No connection is made until ConnectPush or
// ConnectDuplex is called.
func New(opts *Options) (_ *Client, err error) {
	defer errd.Wrap(&err, "failed to create client")

	opts, err = opts.cloneWithDefaults()
	if err != nil {
		return nil, err
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := opts.Logger.With(zap.String("client_id", id))
	onError := opts.OnListenerError
	st := &shared{
		id:    id,
		clock: opts.Clock,
		bus: NewBus(&BusOptions{
			Logger: logger.With(zap.String("component", "bus")),
			OnListenerError: func(lerr *ListenerError) {
				m.listenerError()
				if onError != nil {
					onError(lerr)
				}
			},
		}),
		logger:  logger,
		metrics: m,
	}

	var limiter *rate.Limiter
	if opts.CallRate > 0 {
		limiter = rate.NewLimiter(opts.CallRate, opts.CallBurst)
	}
	st.corr = newCorrelator(st, opts.RequestTimeout, limiter)

	push, err := newPushChannel(st, opts)
	if err != nil {
		return nil, err
	}
	duplex := newDuplexChannel(st, opts)
	st.corr.sender = duplex

	return &Client{
		st:     st,
		push:   push,
		duplex: duplex,
	}, nil
}

// ID returns the random identifier of this client instance.
// Every log line of the client carries it as client_id.
func (c *Client) ID() string {
	return c.st.id
}

// ConnectPush starts the push channel in the background.
// Progress is reported through the push:* events.
func (c *Client) ConnectPush() {
	c.push.connect()
}

// DisconnectPush closes the push channel and cancels a scheduled
// reconnection. Pending calls are not affected.
func (c *Client) DisconnectPush() {
	c.push.disconnect()
}

// PushState returns the state of the push channel.
func (c *Client) PushState() ChannelState {
	return c.push.State()
}

// ConnectDuplex performs the signaling exchange for the duplex channel.
// The data channel opens asynchronously afterwards; use WaitDuplexOpen
// or the datachannel:open event to know when calls can be made.
func (c *Client) ConnectDuplex(ctx context.Context) error {
	return c.duplex.connect(ctx)
}

// WaitDuplexOpen blocks until the data channel of the current connection
// attempt is open. It fails if the attempt fails or closes first.
func (c *Client) WaitDuplexOpen(ctx context.Context) error {
	return c.duplex.waitOpen(ctx)
}

// DisconnectDuplex closes the duplex channel and fails pending calls
// with ErrChannelClosed.
func (c *Client) DisconnectDuplex() {
	c.duplex.disconnect()
}

// DuplexState returns the state of the duplex channel.
func (c *Client) DuplexState() ChannelState {
	return c.duplex.State()
}

// Call sends a request over the duplex channel and waits for its response.
// body and query may be nil. Failures are returned as *CallError.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any, query map[string]string) (any, error) {
	return c.st.corr.call(ctx, method, endpoint, body, query)
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	return c.st.corr.Pending()
}

// Subscribe registers fn for the event name.
func (c *Client) Subscribe(name string, fn Listener) Subscription {
	return c.st.bus.Subscribe(name, fn)
}

// SubscribeOnce registers fn for the next event name only.
func (c *Client) SubscribeOnce(name string, fn Listener) Subscription {
	return c.st.bus.SubscribeOnce(name, fn)
}

// Unsubscribe removes sub.
func (c *Client) Unsubscribe(sub Subscription) bool {
	return c.st.bus.Unsubscribe(sub)
}

// UnsubscribeAll removes the listeners of names, or all listeners.
func (c *Client) UnsubscribeAll(names ...string) {
	c.st.bus.UnsubscribeAll(names...)
}

// Publish delivers payload to the listeners of name.
func (c *Client) Publish(name string, payload any) bool {
	return c.st.bus.Publish(name, payload)
}

// ListenerCount returns the number of listeners of name.
func (c *Client) ListenerCount(name string) int {
	return c.st.bus.ListenerCount(name)
}

// Names returns the event names with listeners.
func (c *Client) Names() []string {
	return c.st.bus.Names()
}

// Bus returns the event bus shared by both channels.
func (c *Client) Bus() *Bus {
	return c.st.bus
}

// Close disconnects both channels.
func (c *Client) Close() error {
	c.push.disconnect()
	c.duplex.disconnect()
	return nil
}
