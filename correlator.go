package rtclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// frameSender is the part of the duplex channel the correlator writes to.
type frameSender interface {
	isOpen() bool
	send(ctx context.Context, enc Encoding, b []byte) error
}

type callResult struct {
	data any
	err  error
}

type pendingRequest struct {
	id        string
	method    string
	endpoint  string
	createdAt time.Time
	timer     *clock.Timer

	// done receives exactly one result from whoever removes the
	// entry from the pending map.
	done chan callResult
}

// correlator matches responses to in flight calls by request id.
type correlator struct {
	bus     *Bus
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics
	timeout time.Duration
	limiter *rate.Limiter
	sender  frameSender

	counter atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newCorrelator(st *shared, timeout time.Duration, limiter *rate.Limiter) *correlator {
	return &correlator{
		bus:     st.bus,
		clock:   st.clock,
		logger:  st.logger.With(zap.String("component", "correlator")),
		metrics: st.metrics,
		timeout: timeout,
		limiter: limiter,
		pending: make(map[string]*pendingRequest),
	}
}

func (c *correlator) nextID() string {
	return fmt.Sprintf("req_%d_%d", c.counter.Add(1), c.clock.Now().UnixMilli())
}

// call sends a request frame and blocks until its response, the timeout,
// the loss of the duplex channel or ctx, whichever comes first.
func (c *correlator) call(ctx context.Context, method, endpoint string, body any, query map[string]string) (any, error) {
	if c.sender == nil || !c.sender.isOpen() {
		err := &CallError{Err: ErrNotConnected, Method: method, Endpoint: endpoint}
		c.metrics.call(outcomeNotReady)
		c.bus.Publish(EventAPIError, APIEvent{Method: method, Endpoint: endpoint, Err: err})
		return nil, err
	}

	if c.limiter != nil {
		err := c.limiter.Wait(ctx)
		if err != nil {
			c.metrics.call(outcomeCanceled)
			return nil, &CallError{Err: fmt.Errorf("failed to wait for call rate: %w", err), Method: method, Endpoint: endpoint}
		}
	}

	id := c.nextID()
	b, err := Encode(EncodingBinary, Request{
		RequestID: id,
		Method:    method,
		Endpoint:  endpoint,
		Body:      body,
		Query:     query,
	})
	if err != nil {
		return nil, &CallError{Err: err, RequestID: id, Method: method, Endpoint: endpoint}
	}

	p := &pendingRequest{
		id:        id,
		method:    method,
		endpoint:  endpoint,
		createdAt: c.clock.Now(),
		done:      make(chan callResult, 1),
	}

	c.mu.Lock()
	if _, ok := c.pending[id]; ok {
		c.mu.Unlock()
		return nil, &CallError{Err: fmt.Errorf("duplicate request id"), RequestID: id, Method: method, Endpoint: endpoint}
	}
	c.pending[id] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() {
		c.expire(id)
	})
	c.metrics.setPending(len(c.pending))
	c.mu.Unlock()

	c.logger.Debug("sending request",
		zap.String("request_id", id),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)
	c.bus.Publish(EventAPIRequest, APIEvent{RequestID: id, Method: method, Endpoint: endpoint})

	err = c.sender.send(ctx, EncodingBinary, b)
	if err != nil {
		if c.remove(p) {
			c.metrics.call(outcomeSendFailed)
			err = &CallError{Err: err, RequestID: id, Method: method, Endpoint: endpoint}
			c.bus.Publish(EventAPIError, APIEvent{RequestID: id, Method: method, Endpoint: endpoint, Err: err})
			return nil, err
		}
		// Settled concurrently, report that instead.
		r := <-p.done
		return r.data, r.err
	}

	select {
	case r := <-p.done:
		return r.data, r.err
	case <-ctx.Done():
		if !c.remove(p) {
			r := <-p.done
			return r.data, r.err
		}
		c.metrics.call(outcomeCanceled)
		return nil, &CallError{Err: ctx.Err(), RequestID: id, Method: method, Endpoint: endpoint}
	}
}

// remove drops p without settling it. It reports whether p was still pending.
func (c *correlator) remove(p *pendingRequest) bool {
	c.mu.Lock()
	cur, ok := c.pending[p.id]
	if !ok || cur != p {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, p.id)
	p.timer.Stop()
	c.metrics.setPending(len(c.pending))
	c.mu.Unlock()

	return true
}

// resolve settles the pending call f answers. It reports whether f was
// claimed; frames without a matching pending id are left to the caller.
func (c *correlator) resolve(f *Frame) bool {
	if f.RequestID == "" {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[f.RequestID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, f.RequestID)
	p.timer.Stop()

	var r callResult
	if f.Error != "" {
		r.err = &CallError{
			Err:        ErrRemote,
			RequestID:  p.id,
			Method:     p.method,
			Endpoint:   p.endpoint,
			StatusCode: f.StatusCode,
			Message:    f.Error,
		}
	} else {
		r.data = f.Data
	}
	c.metrics.setPending(len(c.pending))
	if r.err != nil {
		c.metrics.call(outcomeRemote)
	} else {
		c.metrics.call(outcomeOK)
	}
	p.done <- r
	c.mu.Unlock()

	ev := APIEvent{RequestID: p.id, Method: p.method, Endpoint: p.endpoint, Data: r.data, Err: r.err}
	if r.err != nil {
		c.bus.Publish(EventAPIError, ev)
	} else {
		c.bus.Publish(EventAPIResponse, ev)
	}
	c.logger.Debug("request settled",
		zap.String("request_id", p.id),
		zap.Duration("elapsed", c.clock.Since(p.createdAt)),
		zap.Error(r.err),
	)
	return true
}

func (c *correlator) expire(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	err := &CallError{Err: ErrRequestTimeout, RequestID: id, Method: p.method, Endpoint: p.endpoint}
	c.metrics.setPending(len(c.pending))
	c.metrics.call(outcomeTimeout)
	p.done <- callResult{err: err}
	c.mu.Unlock()

	c.logger.Warn("request timed out",
		zap.String("request_id", id),
		zap.String("method", p.method),
		zap.String("endpoint", p.endpoint),
		zap.Duration("timeout", c.timeout),
	)
	c.bus.Publish(EventAPITimeout, APIEvent{RequestID: id, Method: p.method, Endpoint: p.endpoint, Err: err})
}

// failAll settles every pending call with cause.
func (c *correlator) failAll(cause error) {
	c.mu.Lock()
	failed := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		delete(c.pending, id)
		p.timer.Stop()
		c.metrics.call(outcomeClosed)
		failed = append(failed, p)
	}
	c.metrics.setPending(0)
	for _, p := range failed {
		p.done <- callResult{err: &CallError{Err: cause, RequestID: p.id, Method: p.method, Endpoint: p.endpoint}}
	}
	c.mu.Unlock()

	if len(failed) > 0 {
		c.logger.Info("failed pending requests", zap.Int("count", len(failed)), zap.Error(cause))
	}
}

// Pending returns the number of calls waiting for a response.
func (c *correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// HasPending reports whether id is waiting for a response.
func (c *correlator) HasPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pending[id]
	return ok
}
