package rtclient

// Event names published on the bus. Business frames are additionally
// published under their type, both bare and prefixed with the channel
// namespace (push:<type>, room:<type>).
const (
	EventMessage = "message"

	EventPushConnected    = "push:connected"
	EventPushDisconnected = "push:disconnected"
	EventPushError        = "push:error"
	EventPushReconnecting = "push:reconnecting"
	EventPushMessage      = "push:message"

	EventRoomConnecting        = "room:connecting"
	EventRoomConnected         = "room:connected"
	EventRoomDisconnected      = "room:disconnected"
	EventRoomFailed            = "room:failed"
	EventRoomError             = "room:error"
	EventRoomConnectionState   = "room:connection-state"
	EventRoomICECandidate      = "room:ice-candidate"
	EventRoomDataChannelOpened = "room:datachannel-received"

	EventChannelOpen    = "datachannel:open"
	EventChannelClose   = "datachannel:close"
	EventChannelError   = "datachannel:error"
	EventChannelMessage = "datachannel:message"

	EventAPIRequest  = "api:request"
	EventAPIResponse = "api:response"
	EventAPIError    = "api:error"
	EventAPITimeout  = "api:timeout"
)

const (
	pushNamespace = "push"
	roomNamespace = "room"
)

// Kind is the type tag of a known business frame.
type Kind string

// Known frame kinds. Frames of any other type are still delivered under
// their bare and namespaced names.
const (
	KindConnected      Kind = "connected"
	KindWelcome        Kind = "welcome"
	KindNotification   Kind = "notification"
	KindPostLiked      Kind = "post_liked"
	KindPostCommented  Kind = "post_commented"
	KindLocationUpdate Kind = "location_update"
	KindGeoEvent       Kind = "geo_event"
	KindPresenceChange Kind = "presence_change"
)

// kindAliases maps known kinds to the extra event they raise.
var kindAliases = map[Kind]string{
	KindPostLiked:      "post:liked",
	KindPostCommented:  "post:commented",
	KindLocationUpdate: "location:update",
	KindGeoEvent:       "geo:event",
	KindPresenceChange: "presence:change",
}

// Alias returns the extra event name published for k, if any.
func (k Kind) Alias() (string, bool) {
	name, ok := kindAliases[k]
	return name, ok
}

// APIEvent is the payload of the api:* events.
type APIEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Data      any
	Err       error
}
