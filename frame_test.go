package rtclient

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/usercast/rtclient/internal/test/assert"
)

func TestFrame(t *testing.T) {
	t.Parallel()

	t.Run("pushJSON", func(t *testing.T) {
		t.Parallel()

		f, err := DecodeFrame(EncodingText, []byte(`{"type":"post_liked","data":{"post_id":"p1","count":3},"timestamp":1700000000}`))
		assert.Success(t, err)
		assert.Equal(t, "frame", &Frame{
			Type:      "post_liked",
			Data:      map[string]any{"post_id": "p1", "count": 3.0},
			Timestamp: 1700000000,
		}, f)
		assert.Equal(t, "kind", KindPostLiked, f.Kind())
	})

	t.Run("serverResponse", func(t *testing.T) {
		t.Parallel()

		// Responses have no type field.
		b, err := msgpack.Marshal(map[string]any{
			"request_id":  "req_1_1700000000000",
			"status_code": 404,
			"data":        nil,
			"error":       "endpoint not found: /nope",
			"timestamp":   1700000000,
		})
		assert.Success(t, err)

		f, err := DecodeFrame(EncodingBinary, b)
		assert.Success(t, err)
		assert.Equal(t, "frame", &Frame{
			RequestID:  "req_1_1700000000000",
			StatusCode: 404,
			Error:      "endpoint not found: /nope",
			Timestamp:  1700000000,
		}, f)
	})

	t.Run("request", func(t *testing.T) {
		t.Parallel()

		b, err := Encode(EncodingBinary, Request{
			RequestID: "req_2_1700000000000",
			Method:    "GET",
			Endpoint:  "/articles",
			Query:     map[string]string{"page": "1"},
		})
		assert.Success(t, err)

		var got map[string]any
		err = msgpack.Unmarshal(b, &got)
		assert.Success(t, err)
		assert.Equal(t, "request", map[string]any{
			"request_id": "req_2_1700000000000",
			"method":     "GET",
			"endpoint":   "/articles",
			"body":       nil,
			"query":      map[string]any{"page": "1"},
		}, got)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeFrame(EncodingText, nil)
		assert.Contains(t, err, "empty text frame")

		_, err = DecodeFrame(EncodingText, []byte("{not json"))
		assert.Contains(t, err, "failed to decode json frame")

		_, err = DecodeFrame(EncodingBinary, []byte{0xc1})
		assert.Contains(t, err, "failed to decode msgpack frame")

		_, err = Encode(Encoding(9), nil)
		assert.Contains(t, err, "unknown encoding: Encoding(9)")
	})

	t.Run("aliases", func(t *testing.T) {
		t.Parallel()

		for kind, exp := range map[Kind]string{
			KindPostLiked:      "post:liked",
			KindPostCommented:  "post:commented",
			KindLocationUpdate: "location:update",
			KindGeoEvent:       "geo:event",
			KindPresenceChange: "presence:change",
		} {
			alias, ok := kind.Alias()
			assert.Equal(t, "ok", true, ok)
			assert.Equal(t, string(kind), exp, alias)
		}
		_, ok := KindNotification.Alias()
		assert.Equal(t, "notification alias", false, ok)
	})
}
