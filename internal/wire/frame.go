package wire

import (
	"encoding/json"

	"realtime-service/internal/event"
)

type Op string

const (
	OpJoin  Op = "join"
	OpLeave Op = "leave"
	OpRelay Op = "relay"

	OpHello Op = "hello"
	OpEvent Op = "event"
)

// Frame is one websocket text message in either direction.
type Frame struct {
	Op           Op                 `json:"op"`
	PostID       string             `json:"postId,omitempty"`
	ConnectionID string             `json:"connectionId,omitempty"`
	Event        *event.FanOutEvent `json:"event,omitempty"`
}

func Join(postID string) Frame  { return Frame{Op: OpJoin, PostID: postID} }
func Leave(postID string) Frame { return Frame{Op: OpLeave, PostID: postID} }

func Relay(postID string, e event.FanOutEvent) Frame {
	return Frame{Op: OpRelay, PostID: postID, Event: &e}
}

func Hello(connID string) Frame { return Frame{Op: OpHello, ConnectionID: connID} }

func Deliver(e event.FanOutEvent) Frame { return Frame{Op: OpEvent, Event: &e} }

func Encode(f Frame) ([]byte, error) { return json.Marshal(f) }
