package rtclient

import (
	"fmt"
)

// ChannelState is the lifecycle state of one channel.
type ChannelState int

// ChannelState constants.
const (
	StateIdle ChannelState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// active reports whether a connection exists or is being established.
func (s ChannelState) active() bool {
	return s == StateConnecting || s == StateOpen
}
