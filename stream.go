package rtclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/usercast/rtclient/internal/errd"
	"github.com/usercast/rtclient/internal/sse"
)

// stream is an open push transport yielding one encoded frame per call.
type stream interface {
	next() (Encoding, []byte, error)
	close() error
}

// dialStream opens the push endpoint u. http and https URLs are read as
// server-sent events, ws and wss URLs as a WebSocket of JSON text messages.
// Cancelling ctx tears the stream down.
func dialStream(ctx context.Context, hc *http.Client, u string) (_ stream, err error) {
	defer errd.Wrap(&err, "failed to open push stream")

	pu, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	switch pu.Scheme {
	case "http", "https":
		return dialSSE(ctx, hc, u)
	case "ws", "wss":
		return dialWebSocket(ctx, u)
	default:
		return nil, fmt.Errorf("unexpected url scheme %q", pu.Scheme)
	}
}

type sseStream struct {
	body io.ReadCloser
	r    *sse.Reader
}

func dialSSE(ctx context.Context, hc *http.Client, u string) (stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %v", resp.Status)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	return &sseStream{
		body: resp.Body,
		r:    sse.NewReader(resp.Body),
	}, nil
}

func (s *sseStream) next() (Encoding, []byte, error) {
	ev, err := s.r.Next()
	if err != nil {
		return 0, nil, err
	}
	return EncodingText, []byte(ev.Data), nil
}

func (s *sseStream) close() error {
	err := s.body.Close()
	s.r.Release()
	return err
}

type wsStream struct {
	c    *websocket.Conn
	stop func() bool
}

func dialWebSocket(ctx context.Context, u string) (stream, error) {
	d := *websocket.DefaultDialer
	c, resp, err := d.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %v)", err, resp.Status)
		}
		return nil, err
	}
	return &wsStream{
		c: c,
		stop: context.AfterFunc(ctx, func() {
			c.Close()
		}),
	}, nil
}

func (s *wsStream) next() (Encoding, []byte, error) {
	for {
		typ, b, err := s.c.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch typ {
		case websocket.TextMessage:
			return EncodingText, b, nil
		case websocket.BinaryMessage:
			return EncodingBinary, b, nil
		}
	}
}

func (s *wsStream) close() error {
	s.stop()
	return s.c.Close()
}
