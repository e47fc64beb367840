package rtclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/usercast/rtclient/internal/errd"
)

// Signaling steps reported in SignalingError.Step.
const (
	StepPeer   = "peer"
	StepOffer  = "offer"
	StepRemote = "remote-description"
	StepAnswer = "answer"
	StepLocal  = "local-description"
	StepGather = "ice-gathering"
	StepSend   = "send-answer"
)

// maxSignalBody bounds signaling response bodies.
const maxSignalBody = 1 << 20

// offerResponse is the body returned by the connect endpoint.
type offerResponse struct {
	UserID string                     `json:"user_id"`
	SDP    *webrtc.SessionDescription `json:"sdp"`
}

// signaler performs the single offer/answer exchange over HTTP.
type signaler struct {
	hc         *http.Client
	connectURL string
	answerURL  string
	token      string
}

func newSignaler(opts *Options) *signaler {
	return &signaler{
		hc:         opts.HTTPClient,
		connectURL: opts.BaseURL + opts.ConnectPath,
		answerURL:  opts.BaseURL + opts.AnswerPath,
		token:      opts.Token,
	}
}

// offer asks the server to create a peer with a data channel and
// returns its session description.
func (s *signaler) offer(ctx context.Context) (_ webrtc.SessionDescription, err error) {
	defer errd.Wrap(&err, "failed to get offer")

	var resp offerResponse
	err = s.post(ctx, s.connectURL, nil, &resp)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if resp.SDP == nil || resp.SDP.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("response has no sdp")
	}
	return *resp.SDP, nil
}

// answer posts the local answer back to the server.
func (s *signaler) answer(ctx context.Context, desc webrtc.SessionDescription) (err error) {
	defer errd.Wrap(&err, "failed to send answer")

	return s.post(ctx, s.answerURL, desc, nil)
}

func (s *signaler) post(ctx context.Context, u string, body, v any) error {
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSignalBody))
	if err != nil {
		return errd.Wrapf(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("unexpected status %v: %v", resp.Status, e.Error)
		}
		return fmt.Errorf("unexpected status %v", resp.Status)
	}
	if v == nil {
		return nil
	}
	err = json.Unmarshal(b, v)
	if err != nil {
		return errd.Wrapf(err, "failed to decode response")
	}
	return nil
}
