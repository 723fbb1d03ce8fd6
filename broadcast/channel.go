package broadcast

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned when posting on a channel that was already closed.
var ErrClosed = errors.New("broadcast: channel closed")

// Message is the envelope exchanged over a [Channel].
//
// Kind and Sender are set by the protocol layer. Target is empty for broadcasts
// and carries the recipient id for unicast messages on a shared channel.
type Message struct {
	Kind    string          `json:"kind"`
	Sender  string          `json:"sender,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives messages delivered to a channel. Handlers run on the
// channel's delivery goroutine, one message at a time.
type Handler func(Message)

// Channel is one participant's view of a named broadcast bus.
type Channel interface {
	// Name returns the channel name the participant opened.
	Name() string
	// Post publishes msg to every other channel with the same name.
	Post(ctx context.Context, msg Message) error
	// OnMessage installs the delivery handler, replacing any previous one.
	OnMessage(h Handler)
	// Close stops delivery and releases transport resources.
	Close() error
}

// Opener creates channels by name.
type Opener interface {
	Open(name string) (Channel, error)
}

// OpenerFunc adapts a function to the [Opener] interface.
type OpenerFunc func(name string) (Channel, error)

// Open calls f(name).
func (f OpenerFunc) Open(name string) (Channel, error) {
	return f(name)
}
