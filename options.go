package rtclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults for Options.
const (
	DefaultSSEPath        = "/sse"
	DefaultConnectPath    = "/connect"
	DefaultAnswerPath     = "/answer"
	DefaultRequestTimeout = 30 * time.Second
	DefaultSTUNServer     = "stun:stun.l.google.com:19302"
)

// Options represents the options available to New.
// Only BaseURL is required.
type Options struct {
	// BaseURL is the http or https root all endpoints are relative to.
	BaseURL string

	// Token is sent as the token query parameter of the push stream
	// and as a bearer token on signaling requests.
	Token string

	// HTTPClient is used for the push stream and for signaling.
	// It must not set a overall Timeout as the push stream is long lived.
	// Defaults to a client without timeout.
	HTTPClient *http.Client

	// PushURL overrides BaseURL+SSEPath for the push stream.
	// A ws or wss scheme selects the WebSocket stream instead of
	// server-sent events.
	PushURL string

	// SSEPath, ConnectPath and AnswerPath default to
	// DefaultSSEPath, DefaultConnectPath and DefaultAnswerPath.
	SSEPath     string
	ConnectPath string
	AnswerPath  string

	// ICEServers used by the peer connection.
	// Defaults to DefaultSTUNServer when nil. An empty slice gathers
	// host candidates only.
	ICEServers []webrtc.ICEServer

	// WebRTC builds peer connections. Defaults to the pion default API.
	// Set it to customize the pion SettingEngine.
	WebRTC *webrtc.API

	// ReconnectDelay is the base delay of the push reconnection policy.
	// Zero means DefaultReconnectDelay; a negative value disables reconnection.
	ReconnectDelay time.Duration
	// ReconnectGrowth is the factor the delay grows by after each failure.
	// Zero means DefaultReconnectGrowth; a negative value keeps the delay
	// fixed at ReconnectDelay.
	ReconnectGrowth float64
	// MaxReconnectDelay caps the delay. Zero leaves it unbounded.
	MaxReconnectDelay time.Duration

	// RequestTimeout bounds every Call. Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// CallRate limits outbound calls per second with a burst of CallBurst.
	// Zero disables limiting.
	CallRate  rate.Limit
	CallBurst int

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Clock drives request timeouts and reconnection timers.
	// Defaults to the wall clock; tests use clock.NewMock.
	Clock clock.Clock

	// Registerer receives the client metrics when set.
	Registerer prometheus.Registerer

	// OnListenerError is called for every contained listener failure.
	OnListenerError func(*ListenerError)

	// newPeer replaces the pion peer connection factory in tests.
	newPeer peerFactory
}

func (o *Options) cloneWithDefaults() (*Options, error) {
	var opts Options
	if o != nil {
		opts = *o
	}

	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unexpected base url scheme %q", u.Scheme)
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	if opts.PushURL != "" {
		u, err := url.Parse(opts.PushURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse push url: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return nil, fmt.Errorf("unexpected push url scheme %q", u.Scheme)
		}
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.SSEPath == "" {
		opts.SSEPath = DefaultSSEPath
	}
	if opts.ConnectPath == "" {
		opts.ConnectPath = DefaultConnectPath
	}
	if opts.AnswerPath == "" {
		opts.AnswerPath = DefaultAnswerPath
	}
	if opts.ICEServers == nil {
		opts.ICEServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.CallRate < 0 {
		return nil, fmt.Errorf("negative call rate %v", opts.CallRate)
	}
	if opts.CallRate > 0 && opts.CallBurst <= 0 {
		opts.CallBurst = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.newPeer == nil {
		opts.newPeer = newPionPeer(opts.WebRTC)
	}
	return &opts, nil
}

// pushURL returns the push endpoint with the token attached.
func (o *Options) pushURL() (string, error) {
	raw := o.PushURL
	if raw == "" {
		raw = o.BaseURL + o.SSEPath
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse push url: %w", err)
	}
	if o.Token != "" {
		q := u.Query()
		q.Set("token", o.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
