package broadcast

import (
	"context"
	"sync"
)

// Hub connects channels opened inside the same process.
//
// Each channel owns a delivery goroutine and an unbounded queue, so Post never
// blocks on a slow handler.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*hubChannel]struct{}
}

// NewHub returns an empty in-process hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubChannel]struct{})}
}

// Open registers a new participant on name.
func (h *Hub) Open(name string) (Channel, error) {
	c := &hubChannel{
		hub:  h,
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	peers, ok := h.channels[name]
	if !ok {
		peers = make(map[*hubChannel]struct{})
		h.channels[name] = peers
	}
	peers[c] = struct{}{}
	h.mu.Unlock()

	go c.run()
	return c, nil
}

// Participants reports how many open channels share name.
func (h *Hub) Participants(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[name])
}

func (h *Hub) peers(from *hubChannel) []*hubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.channels[from.name]
	out := make([]*hubChannel, 0, len(set))
	for c := range set {
		if c != from {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) remove(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.channels[c.name]
	delete(set, c)
	if len(set) == 0 {
		delete(h.channels, c.name)
	}
}

type hubChannel struct {
	hub  *Hub
	name string

	mu      sync.Mutex
	handler Handler
	pending []Message
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *hubChannel) Name() string { return c.name }

func (c *hubChannel) Post(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, peer := range c.hub.peers(c) {
		peer.enqueue(msg)
	}
	return nil
}

func (c *hubChannel) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *hubChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = nil
		c.mu.Unlock()
		c.hub.remove(c)
		close(c.done)
	})
	return nil
}

func (c *hubChannel) enqueue(msg Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *hubChannel) run() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			batch := c.pending
			c.pending = nil
			h := c.handler
			c.mu.Unlock()

			for _, msg := range batch {
				if h != nil {
					h(msg)
				}
			}
		}
	}
}
