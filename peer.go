package rtclient

import (
	"github.com/pion/webrtc/v4"
)

// dataChannel is the subset of *webrtc.DataChannel the duplex channel uses.
type dataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	OnOpen(f func())
	OnClose(f func())
	OnError(f func(err error))
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Send(b []byte) error
	SendText(s string) error
	Close() error
}

// peerConn is the subset of *webrtc.PeerConnection the duplex channel uses.
type peerConn interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer(opts *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	GatheringComplete() <-chan struct{}
	OnDataChannel(f func(dataChannel))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICECandidate(f func(*webrtc.ICECandidate))
	Close() error
}

type peerFactory func(cfg webrtc.Configuration) (peerConn, error)

type pionPeer struct {
	*webrtc.PeerConnection
}

var _ peerConn = pionPeer{}

func newPionPeer(api *webrtc.API) peerFactory {
	return func(cfg webrtc.Configuration) (peerConn, error) {
		var (
			pc  *webrtc.PeerConnection
			err error
		)
		if api != nil {
			pc, err = api.NewPeerConnection(cfg)
		} else {
			pc, err = webrtc.NewPeerConnection(cfg)
		}
		if err != nil {
			return nil, err
		}
		return pionPeer{pc}, nil
	}
}

// GatheringComplete must be called before SetLocalDescription to observe
// the end of gathering for that description.
func (p pionPeer) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.PeerConnection)
}

func (p pionPeer) OnDataChannel(f func(dataChannel)) {
	p.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(dc)
	})
}
