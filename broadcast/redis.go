package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces Pub/Sub topics opened by [Redis].
const DefaultRedisPrefix = "goauth:bc:"

// Redis opens channels backed by Redis Pub/Sub so that separate processes
// sharing one Redis deployment can coordinate.
type Redis struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
}

// NewRedis creates a Pub/Sub opener. An empty prefix selects [DefaultRedisPrefix].
func NewRedis(client redis.UniversalClient, prefix string, log *zap.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, log: log}
}

type redisEnvelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// Open subscribes to the topic for name and waits for the subscription to be
// confirmed, so messages posted after Open returns are observed.
func (r *Redis) Open(name string) (Channel, error) {
	ctx := context.Background()
	topic := r.prefix + name

	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast: subscribe %s: %w", topic, err)
	}

	c := &redisChannel{
		client: r.client,
		pubsub: ps,
		msgs:   ps.Channel(),
		name:   name,
		topic:  topic,
		origin: uuid.NewString(),
		log:    r.log.With(zap.String("channel", name)),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

type redisChannel struct {
	client redis.UniversalClient
	pubsub *redis.PubSub
	msgs   <-chan *redis.Message
	name   string
	topic  string
	origin string
	log    *zap.Logger

	mu      sync.RWMutex
	handler Handler

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (c *redisChannel) Name() string { return c.name }

func (c *redisChannel) Post(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(redisEnvelope{Origin: c.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("broadcast: encode message: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", c.topic, err)
	}
	return nil
}

func (c *redisChannel) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *redisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
		c.wg.Wait()
	})
	return err
}

func (c *redisChannel) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case raw, ok := <-c.msgs:
			if !ok {
				return
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
				c.log.Warn("broadcast: dropping undecodable message", zap.Error(err))
				continue
			}
			if env.Origin == c.origin {
				continue
			}

			c.mu.RLock()
			h := c.handler
			c.mu.RUnlock()
			if h != nil {
				h(env.Message)
			}
		}
	}
}
