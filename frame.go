package rtclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is one decoded unit of wire traffic.
//
// Push frames carry Type, Data and optionally RequestID. Responses on the
// duplex channel carry RequestID, Data and, on failure, Error and StatusCode.
type Frame struct {
	Type       string `json:"type" msgpack:"type"`
	Data       any    `json:"data" msgpack:"data"`
	RequestID  string `json:"request_id,omitempty" msgpack:"request_id,omitempty"`
	StatusCode int    `json:"status_code,omitempty" msgpack:"status_code,omitempty"`
	Error      string `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// Kind returns the frame type as a Kind.
func (f *Frame) Kind() Kind {
	return Kind(f.Type)
}

// Request is the frame written for every Call.
type Request struct {
	RequestID string            `json:"request_id" msgpack:"request_id"`
	Method    string            `json:"method" msgpack:"method"`
	Endpoint  string            `json:"endpoint" msgpack:"endpoint"`
	Body      any               `json:"body" msgpack:"body"`
	Query     map[string]string `json:"query" msgpack:"query"`
}

// Encoding selects the wire representation of a message.
type Encoding int

// Encoding constants.
const (
	// EncodingText is JSON. The push channel only carries text.
	EncodingText Encoding = iota + 1
	// EncodingBinary is MessagePack. Duplex requests are always binary.
	EncodingBinary
)

func (e Encoding) String() string {
	switch e {
	case EncodingText:
		return "text"
	case EncodingBinary:
		return "binary"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Encode marshals v with the given encoding.
func Encode(enc Encoding, v any) ([]byte, error) {
	switch enc {
	case EncodingText:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return b, nil
	case EncodingBinary:
		var buf bytes.Buffer
		e := msgpack.NewEncoder(&buf)
		e.SetCustomStructTag("msgpack")
		err := e.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown encoding: %v", enc)
	}
}

// DecodeFrame unmarshals b into a Frame. Numbers inside Data decode
// as float64 for JSON and as int64, uint64 or float64 for MessagePack.
func DecodeFrame(enc Encoding, b []byte) (*Frame, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty %v frame", enc)
	}

	var f Frame
	switch enc {
	case EncodingText:
		err := json.Unmarshal(b, &f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode json frame: %w", err)
		}
	case EncodingBinary:
		d := msgpack.NewDecoder(bytes.NewReader(b))
		d.UseLooseInterfaceDecoding(true)
		err := d.Decode(&f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode msgpack frame: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown encoding: %v", enc)
	}
	return &f, nil
}
