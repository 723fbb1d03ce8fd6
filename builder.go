package goAuthSync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goAuthSync/broadcast"
	internalaudit "github.com/MrEthical07/goAuthSync/internal/audit"
	"github.com/MrEthical07/goAuthSync/internal/flows"
	internalmetrics "github.com/MrEthical07/goAuthSync/internal/metrics"
	"github.com/MrEthical07/goAuthSync/internal/subscribers"
	"github.com/MrEthical07/goAuthSync/jwt"
	"github.com/MrEthical07/goAuthSync/lock"
	"github.com/MrEthical07/goAuthSync/session"
	"github.com/MrEthical07/goAuthSync/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a [Client]. It is single-use.
type Builder struct {
	config Config

	adapter    storage.Adapter
	opener     broadcast.Opener
	redis      redis.UniversalClient
	requester  Requester
	httpClient *http.Client
	logger     *zap.Logger
	auditSink  AuditSink

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage sets the session adapter. Wrap it with [storage.MarkServer]
// for server-side storage.
func (b *Builder) WithStorage(adapter storage.Adapter) *Builder {
	b.adapter = adapter
	return b
}

// WithBroadcast sets the channel factory used by the session lock and by
// cross-context events. Without one, the lock is process-local and events
// stay in this client.
func (b *Builder) WithBroadcast(opener broadcast.Opener) *Builder {
	b.opener = opener
	return b
}

// WithRedis backs both storage and broadcast with client unless they were
// set explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithRequester(r Requester) *Builder {
	b.requester = r
	return b
}

// WithHTTPClient customizes the default [HTTPRequester]. Ignored when a
// Requester is set.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithAuditSink enables auditing into sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the client and starts
// initialization in the background. Call [Client.Initialize] to wait for it.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	parser, err := jwt.NewParser(cfg.jwtConfig())
	if err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}
	instance := nextInstanceID()
	log = log.With(zap.Uint64("client_instance", instance), zap.String("storage_key", cfg.StorageKey))

	adapter := b.adapter
	if adapter == nil && b.redis != nil {
		adapter = storage.NewRedis(b.redis, storage.DefaultRedisPrefix, 0)
	}
	if adapter == nil || !cfg.PersistSession {
		adapter = storage.NewMemory()
	}

	opener := b.opener
	if opener == nil && b.redis != nil {
		opener = broadcast.NewRedis(b.redis, broadcast.DefaultRedisPrefix, log.Named("broadcast"))
	}

	requester := b.requester
	if requester == nil {
		requester = NewHTTPRequester(cfg.URL, b.httpClient, cfg.Headers)
	}

	m := internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Metrics.Enabled,
		EnableLatency: cfg.Metrics.EnableLatencyHistograms,
	})

	var dispatcher *internalaudit.Dispatcher
	if cfg.Audit.Enabled {
		dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	var underlying lock.Locker = lock.NewProcess()
	if cfg.Lock.Enabled && opener != nil {
		underlying = lock.NewDistributed(opener, lock.Options{
			Wait:               cfg.Lock.Wait,
			MaxBackoffExponent: cfg.Lock.MaxBackoffExponent,
			Logger:             log.Named("lock"),
		})
	}

	var eventChannel broadcast.Channel
	if cfg.Broadcast.Enabled && opener != nil {
		eventChannel, err = opener.Open(cfg.eventChannel())
		if err != nil {
			dispatcher.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:    cfg,
		instance:  instance,
		log:       log,
		requester: requester,
		store:     session.NewStore(adapter, cfg.StorageKey, log.Named("session")),
		parser:    parser,
		audit:     dispatcher,
		metrics:   m,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		initDone:  make(chan struct{}),
	}
	c.queue = lock.NewLocalQueue(underlying, cfg.lockName(), lock.OnQueued(func() {
		m.Inc(MetricLockQueued)
	}))
	c.bus = subscribers.New(subscribers.Options{
		Channel:         eventChannel,
		Logger:          log.Named("subscribers"),
		OnCallbackError: func(error) { m.Inc(MetricSubscriberError) },
		OnBroadcast:     func(session.Event) { m.Inc(MetricEventBroadcast) },
		OnReceive:       func(session.Event) { m.Inc(MetricEventReceived) },
	})

	deps := c.flowDeps()
	c.refresher = flows.NewCoordinator(deps.Refresh)
	c.auto = flows.NewAutoRefresher(deps.AutoRefresh)

	b.built = true

	go c.runInitialize()
	return c, nil
}

func (c *Client) flowDeps() flows.Deps {
	return flows.Deps{
		Refresh: flows.RefreshDeps{
			Call:         c.refreshGrant,
			Retryable:    IsRetryable,
			Save:         c.saveSession,
			Remove:       c.removeSession,
			Notify:       c.notifyBroadcast,
			TickDuration: c.config.Refresh.TickDuration,
			BaseBackoff:  c.config.Refresh.BaseBackoff,
			Logger:       c.log.Named("refresh"),
			OnRetry: func(int, time.Duration, error) {
				c.metrics.Inc(MetricRefreshRetry)
			},
			OnSettled: c.refreshSettled,
		},
		AutoRefresh: flows.AutoRefreshDeps{
			TryLock: func(ctx context.Context, fn lock.Func) error {
				if err := c.awaitInit(ctx); err != nil {
					return err
				}
				return c.withLock(ctx, 0, fn)
			},
			Load:         c.store.Get,
			Refresh:      c.refresh,
			TickDuration: c.config.Refresh.TickDuration,
			Threshold:    c.config.Refresh.TickThreshold,
			Now:          func() time.Time { return c.now() },
			Logger:       c.log.Named("autorefresh"),
			OnTick: func(o flows.TickOutcome) {
				c.metrics.Inc(MetricAutoRefreshTick)
				if o == flows.TickSkipped {
					c.metrics.Inc(MetricAutoRefreshSkipped)
				}
			},
		},
	}
}
