// Package rtclient is a realtime client that keeps two channels to a server.
//
// The push channel is a long lived server-sent event stream (or a
// WebSocket) the server uses to notify the client. It reconnects on its own
// with a slowly growing delay, see Backoff.
//
// The duplex channel is a WebRTC data channel created by the server after
// a single offer/answer exchange over HTTP. Call sends MessagePack encoded
// requests over it and matches responses by request id.
//
// Everything that arrives on either channel, and every lifecycle change,
// is published on one Bus. Frames are published raw under "message" and
// under their type, bare and namespaced:
//
//	c.Subscribe("notification", func(payload any) error {
//		log.Println(payload)
//		return nil
//	})
package rtclient
