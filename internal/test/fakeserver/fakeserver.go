// Package fakeserver is an in process server speaking the client's wire
// protocol: an SSE and WebSocket push endpoint plus HTTP signaling for a
// pion peer whose "api" data channel answers MessagePack requests.
package fakeserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Request is an API request received over the data channel.
type Request struct {
	RequestID string            `msgpack:"request_id"`
	Method    string            `msgpack:"method"`
	Endpoint  string            `msgpack:"endpoint"`
	Body      any               `msgpack:"body"`
	Query     map[string]string `msgpack:"query"`
}

type response struct {
	RequestID  string `msgpack:"request_id"`
	StatusCode int    `msgpack:"status_code"`
	Data       any    `msgpack:"data"`
	Error      string `msgpack:"error,omitempty"`
	Timestamp  int64  `msgpack:"timestamp"`
}

// Frame is a push or data channel event frame.
type Frame struct {
	Type      string `json:"type" msgpack:"type"`
	Data      any    `json:"data" msgpack:"data"`
	RequestID string `json:"request_id,omitempty" msgpack:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

// Handler answers one API request. A non nil error is sent back as the
// response error with status.
type Handler func(req Request) (data any, status int, err error)

// Options configures a Server.
type Options struct {
	// Token is required on every endpoint when set.
	Token string

	// Handler answers data channel requests. Defaults to a 404 for every endpoint.
	Handler Handler

	// ConnectStatus makes /connect fail with the given status.
	ConnectStatus int
}

// Server is a running fake server.
type Server struct {
	URL string

	opts *Options
	srv  *httptest.Server
	api  *webrtc.API

	mu       sync.Mutex
	streams  map[*pushStream]struct{}
	connects int
	answers  []webrtc.SessionDescription
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	requests []Request
}

type pushStream struct {
	frames chan []byte
	kill   chan struct{}
	once   sync.Once
}

func (p *pushStream) close() {
	p.once.Do(func() {
		close(p.kill)
	})
}

// New starts a Server. Close must be called when done.
func New(opts *Options) *Server {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Handler == nil {
		opts.Handler = func(req Request) (any, int, error) {
			return nil, http.StatusNotFound, fmt.Errorf("endpoint not found: %v", req.Endpoint)
		}
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	s := &Server{
		opts:    opts,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		streams: make(map[*pushStream]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.auth)
	r.GET("/sse", s.handleSSE)
	r.GET("/ws", s.handleWebSocket)
	r.POST("/connect", s.handleConnect)
	r.POST("/answer", s.handleAnswer)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	return s
}

// API returns a pion API with loopback candidates enabled, usable by
// the client side of a test.
func (s *Server) API() *webrtc.API {
	return s.api
}

// WebSocketURL returns the ws:// URL of the push endpoint.
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Close stops the server and every peer.
func (s *Server) Close() {
	s.DropPush()
	s.mu.Lock()
	pc := s.pc
	s.pc, s.dc = nil, nil
	s.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
	s.srv.CloseClientConnections()
	s.srv.Close()
}

func (s *Server) auth(c *gin.Context) {
	if s.opts.Token == "" {
		c.Next()
		return
	}
	tok := c.Query("token")
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	if tok != s.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

func (s *Server) register() *pushStream {
	p := &pushStream{
		frames: make(chan []byte, 16),
		kill:   make(chan struct{}),
	}
	s.mu.Lock()
	s.streams[p] = struct{}{}
	s.connects++
	s.mu.Unlock()
	return p
}

func (s *Server) unregister(p *pushStream) {
	s.mu.Lock()
	delete(s.streams, p)
	s.mu.Unlock()
}

// PushConnects returns the number of push connections accepted so far.
func (s *Server) PushConnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connects
}

// Push sends f as JSON to every open push stream.
func (s *Server) Push(f Frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().Unix()
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.PushRaw(b)
}

// PushRaw sends b unmodified to every open push stream.
func (s *Server) PushRaw(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.streams) == 0 {
		return fmt.Errorf("no push stream")
	}
	for p := range s.streams {
		p.frames <- b
	}
	return nil
}

// DropPush ends every open push stream.
func (s *Server) DropPush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := range s.streams {
		p.close()
	}
}

func connectedFrame() []byte {
	b, _ := json.Marshal(map[string]any{
		"type":    "connected",
		"message": "SSE channel ready",
	})
	return b
}

func (s *Server) handleSSE(c *gin.Context) {
	p := s.register()
	defer s.unregister(p)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("message", string(connectedFrame()))
	c.Writer.Flush()

	for {
		select {
		case b := <-p.frames:
			c.SSEvent("message", string(b))
			c.Writer.Flush()
		case <-p.kill:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		return
	}
	defer conn.Close()

	p := s.register()
	defer s.unregister(p)

	go func() {
		// Reads only to notice the client going away.
		for {
			_, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				p.close()
				return
			}
		}
	}()

	err = wsutil.WriteServerText(conn, connectedFrame())
	if err != nil {
		return
	}
	for {
		select {
		case b := <-p.frames:
			err = wsutil.WriteServerText(conn, b)
			if err != nil {
				return
			}
		case <-p.kill:
			return
		}
	}
}

func (s *Server) handleConnect(c *gin.Context) {
	if s.opts.ConnectStatus != 0 {
		c.JSON(s.opts.ConnectStatus, gin.H{"error": "connect refused"})
		return
	}

	offer, err := s.newPeer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": "fake",
		"sdp":     offer,
	})
}

func (s *Server) newPeer() (*webrtc.SessionDescription, error) {
	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	dc, err := pc.CreateDataChannel("api", nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	dc.OnOpen(func() {
		s.send(dc, Frame{
			Type: "welcome",
			Data: map[string]any{"message": "Connected to your dedicated room"},
		})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.serve(dc, msg.Data)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	err = pc.SetLocalDescription(offer)
	if err != nil {
		pc.Close()
		return nil, err
	}
	<-gathered

	s.mu.Lock()
	old := s.pc
	s.pc, s.dc = pc, dc
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return pc.LocalDescription(), nil
}

func (s *Server) handleAnswer(c *gin.Context) {
	var answer webrtc.SessionDescription
	err := c.BindJSON(&answer)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid SDP"})
		return
	}

	s.mu.Lock()
	s.answers = append(s.answers, answer)
	pc := s.pc
	s.mu.Unlock()

	if pc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user room not found"})
		return
	}
	err = pc.SetRemoteDescription(answer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// Answers returns the answers received on /answer.
func (s *Server) Answers() []webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]webrtc.SessionDescription(nil), s.answers...)
}

// Requests returns the API requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// SendRoom sends f over the data channel as MessagePack.
func (s *Server) SendRoom(f Frame) error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("no data channel")
	}
	return s.send(dc, f)
}

// CloseRoom closes the server side of the data channel.
func (s *Server) CloseRoom() error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("no data channel")
	}
	return dc.Close()
}

func (s *Server) send(dc *webrtc.DataChannel, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return dc.Send(b)
}

func (s *Server) serve(dc *webrtc.DataChannel, b []byte) {
	var req Request
	d := msgpack.NewDecoder(bytes.NewReader(b))
	d.UseLooseInterfaceDecoding(true)
	err := d.Decode(&req)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	resp := response{
		RequestID: req.RequestID,
		Timestamp: time.Now().Unix(),
	}
	data, status, err := s.opts.Handler(req)
	resp.StatusCode = status
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Data = data
	}
	s.send(dc, resp)
}
