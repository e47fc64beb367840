package rtclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var errReplaced = errors.New("connection attempt replaced")

// duplexChannel owns the peer connection and the server created data
// channel. It never reconnects on its own.
//
// Like the push channel it numbers connection attempts; pion callbacks
// belonging to an older attempt are ignored.
type duplexChannel struct {
	st      *shared
	sig     *signaler
	newPeer peerFactory
	config  webrtc.Configuration
	logger  *zap.Logger

	mu    sync.Mutex
	state ChannelState
	gen   uint64
	pc    peerConn
	dc    dataChannel
	// ready is closed once the current attempt opens, fails or closes.
	ready chan struct{}
}

func newDuplexChannel(st *shared, opts *Options) *duplexChannel {
	return &duplexChannel{
		st:      st,
		sig:     newSignaler(opts),
		newPeer: opts.newPeer,
		config: webrtc.Configuration{
			ICEServers: opts.ICEServers,
		},
		logger: st.logger.With(zap.String("component", roomNamespace)),
	}
}

func (d *duplexChannel) State() ChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

func (d *duplexChannel) isOpen() bool {
	return d.State() == StateOpen
}

func (d *duplexChannel) settleLocked() {
	if d.ready != nil {
		close(d.ready)
		d.ready = nil
	}
}

func (d *duplexChannel) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return gen == d.gen
}

// connect runs the offer/answer exchange. It returns once the answer is
// accepted by the server; the channel opens asynchronously afterwards.
// An existing connection is replaced.
func (d *duplexChannel) connect(ctx context.Context) error {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	oldPC, oldDC := d.pc, d.dc
	d.pc, d.dc = nil, nil
	d.settleLocked()
	d.ready = make(chan struct{})
	d.state = StateConnecting
	d.mu.Unlock()

	if oldPC != nil || oldDC != nil {
		closePeer(oldPC, oldDC)
		d.st.corr.failAll(ErrChannelClosed)
	}

	d.logger.Info("connecting", zap.Uint64("attempt", gen))
	d.st.bus.Publish(EventRoomConnecting, nil)

	step, err := d.handshake(ctx, gen)
	if err == nil {
		d.logger.Info("signaling complete")
		return nil
	}

	d.mu.Lock()
	var pc peerConn
	var dc dataChannel
	if gen == d.gen {
		d.state = StateFailed
		pc, dc = d.pc, d.dc
		d.pc, d.dc = nil, nil
		d.settleLocked()
	}
	d.mu.Unlock()
	closePeer(pc, dc)

	serr := &SignalingError{Step: step, Err: err}
	d.logger.Warn("signaling failed", zap.String("step", step), zap.Error(err))
	d.st.bus.Publish(EventRoomError, serr)
	return serr
}

func (d *duplexChannel) handshake(ctx context.Context, gen uint64) (string, error) {
	pc, err := d.newPeer(d.config)
	if err != nil {
		return StepPeer, err
	}

	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		pc.Close()
		return StepPeer, errReplaced
	}
	d.pc = pc
	d.mu.Unlock()
	d.watch(pc, gen)

	offer, err := d.sig.offer(ctx)
	if err != nil {
		return StepOffer, err
	}
	err = pc.SetRemoteDescription(offer)
	if err != nil {
		return StepRemote, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return StepAnswer, err
	}
	gathered := pc.GatheringComplete()
	err = pc.SetLocalDescription(answer)
	if err != nil {
		return StepLocal, err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return StepGather, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		return StepGather, fmt.Errorf("no local description after gathering")
	}

	err = d.sig.answer(ctx, *local)
	if err != nil {
		return StepSend, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return StepSend, errReplaced
	}
	if !d.state.active() {
		return StepSend, fmt.Errorf("peer connection %v during signaling", d.state)
	}
	return "", nil
}

// lost tears attempt gen down after its peer connection failed or was
// closed underneath it. pion leaves the data channel open in that case,
// so pending calls are failed here.
func (d *duplexChannel) lost(gen uint64, s webrtc.PeerConnectionState) {
	d.mu.Lock()
	if gen != d.gen || !d.state.active() {
		d.mu.Unlock()
		return
	}
	d.state = StateFailed
	pc, dc := d.pc, d.dc
	d.pc, d.dc = nil, nil
	d.settleLocked()
	d.mu.Unlock()

	closePeer(pc, dc)
	d.st.corr.failAll(ErrChannelClosed)

	d.logger.Warn("peer connection lost", zap.Stringer("state", s))
	d.st.bus.Publish(EventRoomError, &TransportError{
		Channel: roomNamespace,
		Err:     fmt.Errorf("peer connection %v", s),
	})
}

func (d *duplexChannel) watch(pc peerConn, gen uint64) {
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !d.current(gen) {
			return
		}
		d.logger.Debug("peer connection state", zap.Stringer("state", s))
		d.st.bus.Publish(EventRoomConnectionState, s.String())

		switch s {
		case webrtc.PeerConnectionStateConnected:
			d.st.bus.Publish(EventRoomConnected, nil)
		case webrtc.PeerConnectionStateDisconnected:
			d.st.bus.Publish(EventRoomDisconnected, nil)
		case webrtc.PeerConnectionStateFailed:
			d.lost(gen, s)
			d.st.bus.Publish(EventRoomFailed, nil)
		case webrtc.PeerConnectionStateClosed:
			d.lost(gen, s)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || !d.current(gen) {
			return
		}
		d.st.bus.Publish(EventRoomICECandidate, c)
	})

	pc.OnDataChannel(func(dc dataChannel) {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			dc.Close()
			return
		}
		d.dc = dc
		d.mu.Unlock()

		d.logger.Info("data channel received", zap.String("label", dc.Label()))
		d.setupChannel(dc, gen)
		d.st.bus.Publish(EventRoomDataChannelOpened, dc.Label())

		// pion may have opened it before the handlers were set.
		if dc.ReadyState() == webrtc.DataChannelStateOpen {
			d.opened(dc, gen)
		}
	})
}

func (d *duplexChannel) setupChannel(dc dataChannel, gen uint64) {
	dc.OnOpen(func() {
		d.opened(dc, gen)
	})

	dc.OnClose(func() {
		d.mu.Lock()
		if gen != d.gen || d.dc != dc {
			d.mu.Unlock()
			return
		}
		d.dc = nil
		d.state = StateClosed
		d.settleLocked()
		d.mu.Unlock()

		d.logger.Info("data channel closed")
		d.st.bus.Publish(EventChannelClose, nil)
		d.st.corr.failAll(ErrChannelClosed)
	})

	dc.OnError(func(err error) {
		if !d.current(gen) {
			return
		}
		d.logger.Warn("data channel error", zap.Error(err))
		d.st.bus.Publish(EventChannelError, &TransportError{Channel: roomNamespace, Err: err})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !d.current(gen) {
			return
		}
		enc := EncodingBinary
		if msg.IsString {
			enc = EncodingText
		}
		d.handle(enc, msg.Data)
	})
}

func (d *duplexChannel) opened(dc dataChannel, gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.dc != dc || d.state == StateOpen {
		d.mu.Unlock()
		return
	}
	d.state = StateOpen
	d.settleLocked()
	d.mu.Unlock()

	d.logger.Info("data channel open")
	d.st.bus.Publish(EventChannelOpen, nil)
}

func (d *duplexChannel) handle(enc Encoding, b []byte) {
	f, err := DecodeFrame(enc, b)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", zap.Stringer("encoding", enc), zap.Error(err))
		return
	}
	d.logger.Debug("received frame", zap.String("type", f.Type), zap.String("request_id", f.RequestID))
	d.st.route(roomNamespace, EventChannelMessage, f)
}

// waitOpen blocks until the current attempt opens the data channel.
func (d *duplexChannel) waitOpen(ctx context.Context) error {
	d.mu.Lock()
	ready := d.ready
	st := d.state
	d.mu.Unlock()

	if st == StateOpen {
		return nil
	}
	if ready == nil {
		return fmt.Errorf("duplex channel is %v: %w", st, ErrChannelNotReady)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	st = d.State()
	if st != StateOpen {
		return fmt.Errorf("duplex channel is %v: %w", st, ErrChannelNotReady)
	}
	return nil
}

// send writes one frame. It never drops data silently: a channel that
// is not open is an error.
func (d *duplexChannel) send(ctx context.Context, enc Encoding, b []byte) error {
	d.mu.Lock()
	dc := d.dc
	st := d.state
	d.mu.Unlock()

	if st != StateOpen || dc == nil {
		return fmt.Errorf("duplex channel is %v: %w", st, ErrChannelNotReady)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if enc == EncodingText {
		err = dc.SendText(string(b))
	} else {
		err = dc.Send(b)
	}
	if err != nil {
		return &TransportError{Channel: roomNamespace, Err: err}
	}
	return nil
}

// disconnect closes the data channel and the peer connection and fails
// pending calls. room:disconnected is published on every call.
func (d *duplexChannel) disconnect() {
	d.mu.Lock()
	d.gen++
	pc, dc := d.pc, d.dc
	d.pc, d.dc = nil, nil
	if d.state != StateIdle || pc != nil {
		d.state = StateClosed
	}
	d.settleLocked()
	d.mu.Unlock()

	closePeer(pc, dc)
	d.st.corr.failAll(ErrChannelClosed)

	d.logger.Info("disconnected")
	d.st.bus.Publish(EventRoomDisconnected, nil)
}

func closePeer(pc peerConn, dc dataChannel) {
	if dc != nil {
		dc.Close()
	}
	if pc != nil {
		pc.Close()
	}
}
