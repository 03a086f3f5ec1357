package ntfy

import (
	"encoding/json"
	"errors"
	"fmt"

	"ntfy2tg/pkg/bus"
)

// ErrDecode marks a frame that could not be turned into a notification. It is recoverable:
// the frame is skipped and the connection stays open.
var ErrDecode = errors.New("decode frame")

var (
	errMissingEvent = fmt.Errorf("%w: missing event field", ErrDecode)
	errMissingTopic = fmt.Errorf("%w: message without topic", ErrDecode)
)

// Decode parses one websocket frame.
//
// Control events (open, keepalive, poll_request) decode successfully and are filtered by the caller.
func Decode(frame []byte) (bus.Notification, error) {
	var n bus.Notification
	if err := json.Unmarshal(frame, &n); err != nil {
		return bus.Notification{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if n.Event == "" {
		return bus.Notification{}, errMissingEvent
	}

	if n.Event == bus.EventKindMessage && n.Topic == "" {
		return bus.Notification{}, errMissingTopic
	}

	return n, nil
}
