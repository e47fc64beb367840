package rtclient

import (
	"errors"
	"fmt"
)

// Error conditions reported by the client. Use errors.Is to test for them;
// the concrete error usually carries more context.
var (
	// ErrTransport is a connection level failure. On the push channel it
	// triggers the reconnection policy.
	ErrTransport = errors.New("transport error")

	// ErrChannelNotReady is returned when a send or call is attempted
	// before the duplex channel is open.
	ErrChannelNotReady = errors.New("channel not ready")

	// ErrRequestTimeout is returned when no response arrives before the deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrSignaling is returned when a step of the duplex handshake fails.
	ErrSignaling = errors.New("signaling failure")

	// ErrListener marks an error returned or panicked by a bus listener.
	ErrListener = errors.New("listener error")

	// ErrRemote is returned when the server answers a call with an error.
	ErrRemote = errors.New("remote error")

	// ErrChannelClosed fails pending calls when the duplex channel goes away.
	ErrChannelClosed = fmt.Errorf("duplex channel closed: %w", ErrTransport)
)

// ErrNotConnected is the name the call path uses for ErrChannelNotReady.
var ErrNotConnected = ErrChannelNotReady

// TransportError describes a push or duplex transport failure.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SignalingError describes which step of the offer/answer exchange failed.
type SignalingError struct {
	Step string
	Err  error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling failed at %v: %v", e.Step, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

func (e *SignalingError) Is(target error) bool { return target == ErrSignaling }

// CallError is returned by Call. Err is one of ErrChannelNotReady,
// ErrRequestTimeout, ErrRemote, ErrChannelClosed or a context/send error.
type CallError struct {
	Err       error
	RequestID string
	Method    string
	Endpoint  string

	// StatusCode and Message are set when the server answered with an error.
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	s := fmt.Sprintf("call %v %v", e.Method, e.Endpoint)
	if e.RequestID != "" {
		s += fmt.Sprintf(" [%v]", e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("%v: %v (status %d): %v", s, e.Err, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %v", s, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ListenerError is reported when a listener returns an error or panics.
// It never reaches the publisher.
type ListenerError struct {
	Event string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q failed: %v", e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

func (e *ListenerError) Is(target error) bool { return target == ErrListener }
