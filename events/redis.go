package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type RedisBusConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	Password      string        `json:"password"`
	DB            int           `json:"db"`
	ChannelPrefix string        `json:"channel_prefix"`
	DialTimeout   time.Duration `json:"dial_timeout"`
}

// RedisBus distributes events across sessions through redis pub/sub.
// PSUBSCRIBE backs pattern subscriptions, so glob semantics match the
// in-process bus exactly.
type RedisBus struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	config  *RedisBusConfig
	client  *redis.Client
	subs    map[string]*redisSubscription
	mu      sync.Mutex
	wg      sync.WaitGroup
	running int32
}

type redisSubscription struct {
	sub    *types.Subscription
	pubsub *redis.PubSub
}

func NewRedisBus(ctx context.Context, logger types.Logger, config *types.EventsConfig) (types.EventBus, error) {
	busConfig := &RedisBusConfig{
		Host:          "localhost",
		Port:          6379,
		ChannelPrefix: "chrono-sync",
		DialTimeout:   5 * time.Second,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, busConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis bus config")
		}
	}

	busCtx, cancel := context.WithCancel(ctx)

	bus := &RedisBus{
		ctx:    busCtx,
		cancel: cancel,
		logger: logger,
		config: busConfig,
		subs:   make(map[string]*redisSubscription),
	}

	bus.client = redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", busConfig.Host, busConfig.Port),
		Password:    busConfig.Password,
		DB:          busConfig.DB,
		DialTimeout: busConfig.DialTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(busCtx, 5*time.Second)
	defer pingCancel()

	if err := bus.client.Ping(pingCtx).Err(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to connect to redis bus")
	}

	return bus, nil
}

func (b *RedisBus) Publish(channel string, event *types.Event) error {
	if !b.IsRunning() {
		return types.ErrBusNotRunning
	}
	if channel == "" {
		return types.ErrBusChannelEmpty
	}

	event.Channel = channel

	payload, err := utils.Marshal(event)
	if err != nil {
		return types.WrapError(err, "failed to marshal event")
	}

	if err := b.client.Publish(b.ctx, b.fullChannel(channel), payload).Err(); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("channel", channel),
			zap.Error(err))
		return types.WrapError(err, "failed to publish event")
	}

	return nil
}

func (b *RedisBus) Subscribe(channel string, handler types.EventHandler) (*types.Subscription, error) {
	return b.subscribe(channel, handler, false)
}

func (b *RedisBus) SubscribePattern(pattern string, handler types.EventHandler) (*types.Subscription, error) {
	return b.subscribe(pattern, handler, true)
}

func (b *RedisBus) subscribe(channel string, handler types.EventHandler, pattern bool) (*types.Subscription, error) {
	if !b.IsRunning() {
		return nil, types.ErrBusNotRunning
	}
	if channel == "" {
		return nil, types.ErrBusChannelEmpty
	}
	if handler == nil {
		return nil, types.ErrBusHandlerIsNil
	}

	var pubsub *redis.PubSub
	if pattern {
		pubsub = b.client.PSubscribe(b.ctx, b.fullChannel(channel))
	} else {
		pubsub = b.client.Subscribe(b.ctx, b.fullChannel(channel))
	}

	sub := &types.Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		Pattern: pattern,
	}

	b.mu.Lock()
	b.subs[sub.ID] = &redisSubscription{sub: sub, pubsub: pubsub}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(sub, pubsub, handler)

	return sub, nil
}

func (b *RedisBus) consume(sub *types.Subscription, pubsub *redis.PubSub, handler types.EventHandler) {
	defer b.wg.Done()

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event types.Event
			if err := utils.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("Failed to decode bus event",
					zap.String("channel", sub.Channel),
					zap.Error(err))
				continue
			}

			b.deliver(sub, &event, handler)
		}
	}
}

func (b *RedisBus) deliver(sub *types.Subscription, event *types.Event, handler types.EventHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Event handler panicked",
				zap.String("channel", event.Channel),
				zap.String("subscription", sub.ID),
				zap.Any("panic", rec))
		}
	}()

	if err := handler(event); err != nil {
		b.logger.Error("Event handler failed",
			zap.String("channel", event.Channel),
			zap.String("subscription", sub.ID),
			zap.Error(err))
	}
}

func (b *RedisBus) Unsubscribe(sub *types.Subscription) error {
	if sub == nil {
		return types.ErrSubscriptionIsNil
	}

	b.mu.Lock()
	entry, exists := b.subs[sub.ID]
	if exists {
		delete(b.subs, sub.ID)
	}
	b.mu.Unlock()

	if !exists {
		return nil
	}

	if err := entry.pubsub.Close(); err != nil {
		return types.WrapError(err, "failed to close subscription")
	}
	return nil
}

func (b *RedisBus) Start() error {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	b.logger.Info("Redis bus started",
		zap.String("prefix", b.config.ChannelPrefix))
	return nil
}

func (b *RedisBus) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	b.cancel()

	b.mu.Lock()
	for id, entry := range b.subs {
		if err := entry.pubsub.Close(); err != nil {
			b.logger.Warn("Failed to close subscription during shutdown",
				zap.String("subscription", id),
				zap.Error(err))
		}
	}
	b.subs = make(map[string]*redisSubscription)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("Redis bus consumer shutdown timeout")
	}

	if err := b.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis bus client")
	}

	b.logger.Info("Redis bus stopped")
	return nil
}

func (b *RedisBus) IsRunning() bool {
	return atomic.LoadInt32(&b.running) == 1
}

func (b *RedisBus) fullChannel(channel string) string {
	if b.config.ChannelPrefix == "" {
		return channel
	}
	return fmt.Sprintf("%s:%s", b.config.ChannelPrefix, channel)
}
