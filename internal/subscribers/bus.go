package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrEthical07/goAuthSync/broadcast"
	"github.com/MrEthical07/goAuthSync/session"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// KindEvent is the broadcast message kind for session events.
const KindEvent = "auth.event"

// Callback observes a session event. snap is nil for SIGNED_OUT.
type Callback func(ctx context.Context, event session.Event, snap *session.Snapshot) error

type envelope struct {
	Event   session.Event     `json:"event"`
	Session *session.Snapshot `json:"session"`
}

// Options configures a [Bus].
type Options struct {
	// Channel carries events to other contexts. Nil keeps the bus local.
	Channel broadcast.Channel
	Logger  *zap.Logger

	OnCallbackError func(err error)
	OnBroadcast     func(event session.Event)
	OnReceive       func(event session.Event)
}

// Bus holds subscriber callbacks in registration order.
type Bus struct {
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	order []uuid.UUID
	subs  map[uuid.UUID]Callback
}

// New returns a bus and starts listening on opts.Channel if set.
func New(opts Options) *Bus {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		opts: opts,
		log:  log,
		subs: make(map[uuid.UUID]Callback),
	}
	if opts.Channel != nil {
		opts.Channel.OnMessage(b.receive)
	}
	return b
}

// Subscription is the handle returned by Register.
type Subscription struct {
	ID  uuid.UUID
	bus *Bus
}

// Unsubscribe removes the callback. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.ID)
}

// Register adds cb and returns its subscription.
func (b *Bus) Register(cb Callback) *Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.subs[id] = cb
	b.order = append(b.order, id)
	b.mu.Unlock()
	return &Subscription{ID: id, bus: b}
}

func (b *Bus) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered callbacks.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Notify delivers event to every callback. A failing callback does not stop
// the others; each failure is logged and the first one is returned after all
// callbacks ran. With broadcast set, the event is also posted to the channel.
func (b *Bus) Notify(ctx context.Context, event session.Event, snap *session.Snapshot, broadcast bool) error {
	if broadcast && b.opts.Channel != nil {
		b.post(ctx, event, snap)
	}

	b.mu.RLock()
	callbacks := make([]Callback, 0, len(b.order))
	for _, id := range b.order {
		callbacks = append(callbacks, b.subs[id])
	}
	b.mu.RUnlock()

	var errs error
	for _, cb := range callbacks {
		errs = multierr.Append(errs, b.invoke(ctx, cb, event, snap))
	}
	if errs == nil {
		return nil
	}
	return multierr.Errors(errs)[0]
}

// NotifyOne delivers event to a single subscriber, if still registered.
func (b *Bus) NotifyOne(ctx context.Context, id uuid.UUID, event session.Event, snap *session.Snapshot) error {
	b.mu.RLock()
	cb, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.invoke(ctx, cb, event, snap)
}

func (b *Bus) invoke(ctx context.Context, cb Callback, event session.Event, snap *session.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscribers: callback panic: %v", r)
		}
		if err != nil {
			b.log.Error("subscribers: callback failed", zap.String("event", string(event)), zap.Error(err))
			if b.opts.OnCallbackError != nil {
				b.opts.OnCallbackError(err)
			}
		}
	}()
	return cb(ctx, event, snap)
}

func (b *Bus) post(ctx context.Context, event session.Event, snap *session.Snapshot) {
	payload, err := json.Marshal(envelope{Event: event, Session: snap})
	if err != nil {
		b.log.Warn("subscribers: encode event failed", zap.Error(err))
		return
	}
	err = b.opts.Channel.Post(ctx, broadcast.Message{Kind: KindEvent, Payload: payload})
	if err != nil {
		b.log.Warn("subscribers: broadcast failed", zap.String("event", string(event)), zap.Error(err))
		return
	}
	if b.opts.OnBroadcast != nil {
		b.opts.OnBroadcast(event)
	}
}

func (b *Bus) receive(msg broadcast.Message) {
	if msg.Kind != KindEvent {
		return
	}
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		b.log.Warn("subscribers: decode broadcast failed", zap.Error(err))
		return
	}
	if b.opts.OnReceive != nil {
		b.opts.OnReceive(env.Event)
	}
	_ = b.Notify(context.Background(), env.Event, env.Session, false)
}

// Close stops listening and closes the channel.
func (b *Bus) Close() error {
	if b.opts.Channel == nil {
		return nil
	}
	return b.opts.Channel.Close()
}
