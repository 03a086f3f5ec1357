package source

import (
	"context"

	"ntfy2tg/pkg/bus"
)

// Handler forwards one push notification. It is called synchronously, so a source does not
// read its next frame until the previous notification has been handled.
type Handler func(context.Context, bus.Notification) error

// Source is a long-lived subscription to one topic (for example an ntfy websocket).
//
// Run blocks until ctx is canceled and returns nil in that case. Any other return is unexpected.
type Source interface {
	Name() string
	Run(context.Context, Handler) error
}
