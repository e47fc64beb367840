package rtclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/usercast/rtclient/internal/test/assert"
)

type test struct {
	t   *testing.T
	ctx context.Context

	clock  *clock.Mock
	logger *zap.Logger
	logs   *observer.ObservedLogs

	doneFuncs []func()
}

func newTest(t *testing.T) *test {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	core, logs := observer.New(zap.DebugLevel)
	tt := &test{
		t:     t,
		ctx:   ctx,
		clock: clock.NewMock(),
		logs:  logs,
	}
	tt.clock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tt.appendDone(cancel)
	tt.logger = zap.New(core)
	return tt
}

func (tt *test) appendDone(f func()) {
	tt.doneFuncs = append(tt.doneFuncs, f)
}

func (tt *test) done() {
	for i := len(tt.doneFuncs) - 1; i >= 0; i-- {
		tt.doneFuncs[i]()
	}
}

func (tt *test) success(err error) {
	tt.t.Helper()
	if err != nil {
		tt.t.Fatal(err)
	}
}

func (tt *test) errIs(err, target error) {
	tt.t.Helper()
	if !errors.Is(err, target) {
		tt.t.Fatalf("expected %v but got %v", target, err)
	}
}

func (tt *test) errContains(err error, sub string) {
	tt.t.Helper()
	if err == nil || !strings.Contains(err.Error(), sub) {
		tt.t.Fatalf("error does not contain %q: %v", sub, err)
	}
}

func (tt *test) eq(exp, act interface{}) {
	tt.t.Helper()
	assert.Equal(tt.t, "value", exp, act)
}

// record subscribes to name and returns a channel of received payloads.
func (tt *test) record(bus *Bus, name string) <-chan any {
	ch := make(chan any, 64)
	bus.Subscribe(name, func(payload any) error {
		ch <- payload
		return nil
	})
	return ch
}

func (tt *test) recv(ch <-chan any) any {
	tt.t.Helper()
	return assert.Receive(tt.t, 10*time.Second, ch)
}

func (tt *test) none(ch <-chan any) {
	tt.t.Helper()
	select {
	case v := <-ch:
		tt.t.Fatalf("unexpected event: %#v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// shared builds client state around the mock clock with no channels.
func (tt *test) shared(timeout time.Duration) *shared {
	st := &shared{
		id:     "test",
		bus:    NewBus(&BusOptions{Logger: tt.logger}),
		clock:  tt.clock,
		logger: tt.logger,
	}
	st.corr = newCorrelator(st, timeout, nil)
	return st
}

// fakeSender stands in for the duplex channel under the correlator.
type fakeSender struct {
	mu   sync.Mutex
	open bool
	err  error
	sent chan []byte
}

func newFakeSender(open bool) *fakeSender {
	return &fakeSender{
		open: open,
		sent: make(chan []byte, 16),
	}
}

func (s *fakeSender) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open
}

func (s *fakeSender) send(ctx context.Context, enc Encoding, b []byte) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.sent <- b
	return nil
}

// fakeDataChannel is driven by the test instead of SCTP.
type fakeDataChannel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	onOpen    func()
	onClose   func()
	onError   func(error)
	onMessage func(webrtc.DataChannelMessage)
	sendErr   error
	sent      chan webrtc.DataChannelMessage
}

var _ dataChannel = &fakeDataChannel{}

func newFakeDataChannel() *fakeDataChannel {
	return &fakeDataChannel{
		label: "api",
		state: webrtc.DataChannelStateConnecting,
		sent:  make(chan webrtc.DataChannelMessage, 16),
	}
}

func (dc *fakeDataChannel) Label() string { return dc.label }

func (dc *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.state
}

func (dc *fakeDataChannel) OnOpen(f func()) {
	dc.mu.Lock()
	dc.onOpen = f
	dc.mu.Unlock()
}

func (dc *fakeDataChannel) OnClose(f func()) {
	dc.mu.Lock()
	dc.onClose = f
	dc.mu.Unlock()
}

func (dc *fakeDataChannel) OnError(f func(error)) {
	dc.mu.Lock()
	dc.onError = f
	dc.mu.Unlock()
}

func (dc *fakeDataChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	dc.mu.Lock()
	dc.onMessage = f
	dc.mu.Unlock()
}

func (dc *fakeDataChannel) Send(b []byte) error {
	dc.mu.Lock()
	err := dc.sendErr
	dc.mu.Unlock()
	if err != nil {
		return err
	}
	dc.sent <- webrtc.DataChannelMessage{Data: append([]byte(nil), b...)}
	return nil
}

func (dc *fakeDataChannel) SendText(s string) error {
	dc.sent <- webrtc.DataChannelMessage{IsString: true, Data: []byte(s)}
	return nil
}

func (dc *fakeDataChannel) Close() error {
	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateClosed
	dc.mu.Unlock()
	return nil
}

func (dc *fakeDataChannel) open() {
	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateOpen
	f := dc.onOpen
	dc.mu.Unlock()
	f()
}

func (dc *fakeDataChannel) remoteClose() {
	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateClosed
	f := dc.onClose
	dc.mu.Unlock()
	f()
}

func (dc *fakeDataChannel) fail(err error) {
	dc.mu.Lock()
	f := dc.onError
	dc.mu.Unlock()
	f(err)
}

func (dc *fakeDataChannel) deliver(enc Encoding, v any) error {
	b, err := Encode(enc, v)
	if err != nil {
		return err
	}
	dc.mu.Lock()
	f := dc.onMessage
	dc.mu.Unlock()
	f(webrtc.DataChannelMessage{IsString: enc == EncodingText, Data: b})
	return nil
}

// fakePeer accepts any description and hands out its data channel on demand.
type fakePeer struct {
	mu        sync.Mutex
	remote    *webrtc.SessionDescription
	local     *webrtc.SessionDescription
	remoteErr error
	closed    bool

	onDataChannel func(dataChannel)
	onState       func(webrtc.PeerConnectionState)
	onCandidate   func(*webrtc.ICECandidate)
}

var _ peerConn = &fakePeer{}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &desc
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) GatheringComplete() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (p *fakePeer) OnDataChannel(f func(dataChannel)) {
	p.mu.Lock()
	p.onDataChannel = f
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = f
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) announce(dc dataChannel) {
	p.mu.Lock()
	f := p.onDataChannel
	p.mu.Unlock()
	f(dc)
}

func (p *fakePeer) setState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(s)
}

// fakePeers records every peer created by the client.
type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakePeers) factory(webrtc.Configuration) (peerConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}
