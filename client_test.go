package rtclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/usercast/rtclient/internal/test/assert"
	"github.com/usercast/rtclient/internal/test/fakeserver"
)

func TestClient(t *testing.T) {
	t.Parallel()

	t.Run("options", func(t *testing.T) {
		t.Parallel()

		for _, tc := range []struct {
			name string
			opts *Options
			err  string
		}{
			{"nil", nil, "base url is required"},
			{"scheme", &Options{BaseURL: "ftp://example.com"}, `unexpected base url scheme "ftp"`},
			{"pushScheme", &Options{BaseURL: "http://example.com", PushURL: "tcp://example.com"}, `unexpected push url scheme "tcp"`},
			{"rate", &Options{BaseURL: "http://example.com", CallRate: -1}, "negative call rate"},
		} {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				_, err := New(tc.opts)
				if err == nil {
					t.Fatal("expected error")
				}
				if got := err.Error(); !strings.Contains(got, tc.err) {
					t.Fatalf("error %q does not contain %q", got, tc.err)
				}
			})
		}
	})

	t.Run("defaults", func(t *testing.T) {
		tt := newTest(t)
		defer tt.done()

		opts, err := (&Options{BaseURL: "https://example.com/api/user/", Token: "a b"}).cloneWithDefaults()
		tt.success(err)
		tt.eq("https://example.com/api/user", opts.BaseURL)
		tt.eq(DefaultRequestTimeout, opts.RequestTimeout)
		tt.eq([]webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}}, opts.ICEServers)

		u, err := opts.pushURL()
		tt.success(err)
		tt.eq("https://example.com/api/user/sse?token=a+b", u)

		c := tt.client(&Options{BaseURL: "http://example.com"})
		tt.eq(36, len(c.ID()))
		tt.eq(StateIdle, c.PushState())
		tt.eq(StateIdle, c.DuplexState())
	})

	t.Run("pushResolvesCall", func(t *testing.T) {
		tt := newTest(t)
		defer tt.done()

		st := tt.shared(DefaultRequestTimeout)
		s := newFakeSender(true)
		st.corr.sender = s
		typed := tt.record(st.bus, "push:notification")
		raw := tt.record(st.bus, EventPushMessage)

		res := tt.goCall(st.corr, "POST", "/posts", map[string]any{"content": "hi"})
		req := tt.sentRequest(s)

		st.route(pushNamespace, EventPushMessage, &Frame{Type: "notification", RequestID: req.RequestID, Data: "created"})
		r := <-res
		tt.success(r.err)
		tt.eq("created", r.v)
		tt.recv(raw)
		tt.none(typed)

		// Without a pending call the same frame is an ordinary event.
		st.route(pushNamespace, EventPushMessage, &Frame{Type: "notification", RequestID: req.RequestID, Data: "created"})
		tt.eq("created", tt.recv(typed))
	})

	t.Run("listenerErrors", func(t *testing.T) {
		tt := newTest(t)
		defer tt.done()

		reg := prometheus.NewRegistry()
		reported := make(chan *ListenerError, 1)
		c := tt.client(&Options{
			BaseURL:    "http://example.com",
			Registerer: reg,
			OnListenerError: func(err *ListenerError) {
				reported <- err
			},
		})

		c.Subscribe("welcome", func(any) error {
			return errors.New("listener broke")
		})
		tt.eq(true, c.Publish("welcome", nil))

		lerr := <-reported
		tt.errIs(lerr, ErrListener)
		tt.eq(1.0, testutil.ToFloat64(c.st.metrics.listenerErrors))

		entries := tt.logs.FilterMessage("listener failed").All()
		tt.eq(1, len(entries))
		tt.eq(c.ID(), entries[0].ContextMap()["client_id"])
	})

	t.Run("subscriptions", func(t *testing.T) {
		tt := newTest(t)
		defer tt.done()

		c := tt.client(&Options{BaseURL: "http://example.com"})
		var calls int
		sub := c.Subscribe("location:update", func(any) error {
			calls++
			return nil
		})
		c.SubscribeOnce("location:update", func(any) error {
			calls++
			return nil
		})
		tt.eq(2, c.ListenerCount("location:update"))
		tt.eq([]string{"location:update"}, c.Names())

		c.Publish("location:update", nil)
		c.Publish("location:update", nil)
		tt.eq(3, calls)

		tt.eq(true, c.Unsubscribe(sub))
		c.Subscribe("geo:event", func(any) error { return nil })
		c.UnsubscribeAll()
		tt.eq(0, len(c.Names()))
	})

	t.Run("endToEnd", func(t *testing.T) {
		if testing.Short() {
			t.Skip("uses real peer connections")
		}

		tt := newTest(t)
		defer tt.done()

		s := tt.server(&fakeserver.Options{
			Token: "secret",
			Handler: func(req fakeserver.Request) (any, int, error) {
				switch req.Endpoint {
				case "/articles":
					return map[string]any{"articles": []any{}}, http.StatusOK, nil
				default:
					return nil, http.StatusNotFound, fmt.Errorf("endpoint not found: %v", req.Endpoint)
				}
			},
		})
		reg := prometheus.NewRegistry()
		c := tt.client(&Options{
			BaseURL:    s.URL,
			Token:      "secret",
			WebRTC:     s.API(),
			ICEServers: []webrtc.ICEServer{},
			Registerer: reg,
		})
		pushConnected := tt.record(c.Bus(), EventPushConnected)
		welcome := tt.record(c.Bus(), "room:welcome")
		notifications := tt.record(c.Bus(), "notification")
		closed := tt.record(c.Bus(), EventChannelClose)

		c.ConnectPush()
		tt.recv(pushConnected)

		tt.success(c.ConnectDuplex(tt.ctx))
		tt.success(c.WaitDuplexOpen(tt.ctx))
		tt.eq(map[string]any{"message": "Connected to your dedicated room"}, tt.recv(welcome))

		v, err := c.Call(tt.ctx, "GET", "/articles", nil, map[string]string{"page": "1"})
		tt.success(err)
		tt.eq(map[string]any{"articles": []any{}}, v)

		reqs := s.Requests()
		tt.eq(1, len(reqs))
		tt.eq(map[string]string{"page": "1"}, reqs[0].Query)

		_, err = c.Call(tt.ctx, "DELETE", "/nope", nil, nil)
		tt.errIs(err, ErrRemote)
		var cerr *CallError
		tt.eq(true, errors.As(err, &cerr))
		tt.eq(http.StatusNotFound, cerr.StatusCode)
		tt.eq("endpoint not found: /nope", cerr.Message)

		tt.success(s.SendRoom(fakeserver.Frame{Type: "notification", Data: map[string]any{"title": "room"}}))
		tt.eq(map[string]any{"title": "room"}, tt.recv(notifications))
		tt.success(s.Push(fakeserver.Frame{Type: "notification", Data: map[string]any{"title": "push"}}))
		tt.eq(map[string]any{"title": "push"}, tt.recv(notifications))

		tt.eq(1.0, testutil.ToFloat64(c.st.metrics.calls.WithLabelValues(outcomeOK)))
		tt.eq(1.0, testutil.ToFloat64(c.st.metrics.calls.WithLabelValues(outcomeRemote)))

		tt.success(s.CloseRoom())
		assert.Eventually(t, 10*time.Second, func() bool {
			return c.DuplexState() == StateClosed
		}, "data channel did not close")
		tt.recv(closed)

		_, err = c.Call(tt.ctx, "GET", "/articles", nil, nil)
		tt.errIs(err, ErrChannelNotReady)
	})
}
