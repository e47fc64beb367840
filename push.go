package rtclient

import (
	"context"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// pushChannel keeps the one way server push stream alive.
//
// Every connection attempt gets a generation number. Callbacks from an
// attempt that has since been disconnected or replaced compare their
// generation and drop out, so a stale stream never changes state.
type pushChannel struct {
	st     *shared
	hc     *http.Client
	url    string
	policy *Backoff
	logger *zap.Logger

	mu     sync.Mutex
	state  ChannelState
	gen    uint64
	cancel context.CancelFunc
	timer  *clock.Timer
}

func newPushChannel(st *shared, opts *Options) (*pushChannel, error) {
	u, err := opts.pushURL()
	if err != nil {
		return nil, err
	}
	return &pushChannel{
		st:     st,
		hc:     opts.HTTPClient,
		url:    u,
		policy: NewBackoff(opts.ReconnectDelay, opts.ReconnectGrowth, opts.MaxReconnectDelay),
		logger: st.logger.With(zap.String("component", pushNamespace)),
	}, nil
}

func (p *pushChannel) State() ChannelState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// connect starts connecting in the background. It is a no-op while a
// connection is open or being established.
func (p *pushChannel) connect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.active() {
		return
	}
	p.stopTimerLocked()
	p.startLocked()
}

func (p *pushChannel) startLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = StateConnecting

	p.logger.Info("connecting", zap.Uint64("attempt", gen))
	go p.run(ctx, gen)
}

func (p *pushChannel) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *pushChannel) run(ctx context.Context, gen uint64) {
	s, err := dialStream(ctx, p.hc, p.url)
	if err != nil {
		p.fail(gen, err)
		return
	}
	defer s.close()

	if !p.opened(gen) {
		return
	}

	for {
		enc, b, err := s.next()
		if err != nil {
			p.fail(gen, err)
			return
		}
		if !p.current(gen) {
			return
		}
		p.handle(enc, b)
	}
}

func (p *pushChannel) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return gen == p.gen
}

func (p *pushChannel) opened(gen uint64) bool {
	p.mu.Lock()
	if gen != p.gen || p.state != StateConnecting {
		p.mu.Unlock()
		return false
	}
	p.state = StateOpen
	p.mu.Unlock()

	p.policy.OnConnectSuccess()
	p.logger.Info("connected")
	p.st.bus.Publish(EventPushConnected, nil)
	return true
}

// fail handles a transport error of attempt gen and schedules the
// next attempt when the policy allows it.
func (p *pushChannel) fail(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.gen || !p.state.active() {
		p.mu.Unlock()
		return
	}
	p.state = StateFailed
	p.cancel()
	p.cancel = nil
	p.mu.Unlock()

	terr := &TransportError{Channel: pushNamespace, Err: err}
	p.logger.Warn("transport failed", zap.Error(err))
	p.st.bus.Publish(EventPushError, terr)

	if !p.policy.Enabled() {
		return
	}

	p.mu.Lock()
	// A listener may have disconnected or reconnected in the meantime.
	if gen != p.gen || p.state != StateFailed {
		p.mu.Unlock()
		return
	}
	delay := p.policy.OnConnectFailure()
	p.timer = p.st.clock.AfterFunc(delay, func() {
		p.retry(gen)
	})
	p.mu.Unlock()

	p.st.metrics.reconnect()
	p.logger.Info("reconnecting", zap.Duration("delay", delay))
	p.st.bus.Publish(EventPushReconnecting, delay)
}

func (p *pushChannel) retry(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.state != StateFailed {
		return
	}
	p.timer = nil
	p.startLocked()
}

func (p *pushChannel) handle(enc Encoding, b []byte) {
	f, err := DecodeFrame(enc, b)
	if err != nil {
		p.logger.Warn("dropping undecodable frame", zap.Error(err), zap.Int("size", len(b)))
		return
	}
	p.logger.Debug("received frame", zap.String("type", f.Type), zap.String("request_id", f.RequestID))
	p.st.route(pushNamespace, EventPushMessage, f)
}

// disconnect stops the stream and any scheduled reconnection.
// It publishes push:disconnected only if a connection had been started.
func (p *pushChannel) disconnect() {
	p.mu.Lock()
	p.stopTimerLocked()
	had := p.state != StateIdle && p.state != StateClosed
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if had {
		p.state = StateClosed
	}
	p.mu.Unlock()

	if !had {
		return
	}
	p.logger.Info("disconnected")
	p.st.bus.Publish(EventPushDisconnected, nil)
}

