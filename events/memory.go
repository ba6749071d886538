package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type subscriber struct {
	sub     *types.Subscription
	handler types.EventHandler
}

// ChannelBus is the in-process EventBus. Delivery is at-most-once to the
// listeners subscribed at publish time; events are never persisted. A
// handler failing or panicking never blocks delivery to its siblings.
type ChannelBus struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	exact    map[string][]*subscriber
	patterns []*subscriber
	mu       sync.RWMutex
	running  int32
}

func NewChannelBus(ctx context.Context, logger types.Logger) (types.EventBus, error) {
	busCtx, cancel := context.WithCancel(ctx)

	return &ChannelBus{
		ctx:    busCtx,
		cancel: cancel,
		logger: logger,
		exact:  make(map[string][]*subscriber),
	}, nil
}

func (b *ChannelBus) Publish(channel string, event *types.Event) error {
	if !b.IsRunning() {
		return types.ErrBusNotRunning
	}
	if channel == "" {
		return types.ErrBusChannelEmpty
	}

	event.Channel = channel

	b.mu.RLock()
	targets := make([]*subscriber, 0, 4)
	targets = append(targets, b.exact[channel]...)
	for _, sub := range b.patterns {
		if utils.GlobMatch(sub.sub.Channel, channel) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			b.deliver(s, event)
		}(target)
	}
	wg.Wait()

	return nil
}

func (b *ChannelBus) deliver(s *subscriber, event *types.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Event handler panicked",
				zap.String("channel", event.Channel),
				zap.String("subscription", s.sub.ID),
				zap.Any("panic", rec))
		}
	}()

	if err := s.handler(event); err != nil {
		b.logger.Error("Event handler failed",
			zap.String("channel", event.Channel),
			zap.String("subscription", s.sub.ID),
			zap.Error(err))
	}
}

func (b *ChannelBus) Subscribe(channel string, handler types.EventHandler) (*types.Subscription, error) {
	return b.subscribe(channel, handler, false)
}

func (b *ChannelBus) SubscribePattern(pattern string, handler types.EventHandler) (*types.Subscription, error) {
	return b.subscribe(pattern, handler, true)
}

func (b *ChannelBus) subscribe(channel string, handler types.EventHandler, pattern bool) (*types.Subscription, error) {
	if !b.IsRunning() {
		return nil, types.ErrBusNotRunning
	}
	if channel == "" {
		return nil, types.ErrBusChannelEmpty
	}
	if handler == nil {
		return nil, types.ErrBusHandlerIsNil
	}

	sub := &types.Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		Pattern: pattern,
	}

	entry := &subscriber{sub: sub, handler: handler}

	b.mu.Lock()
	if pattern {
		b.patterns = append(b.patterns, entry)
	} else {
		b.exact[channel] = append(b.exact[channel], entry)
	}
	b.mu.Unlock()

	return sub, nil
}

func (b *ChannelBus) Unsubscribe(sub *types.Subscription) error {
	if sub == nil {
		return types.ErrSubscriptionIsNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.Pattern {
		for i, entry := range b.patterns {
			if entry.sub.ID == sub.ID {
				b.patterns = append(b.patterns[:i], b.patterns[i+1:]...)
				return nil
			}
		}
		return nil
	}

	entries := b.exact[sub.Channel]
	for i, entry := range entries {
		if entry.sub.ID == sub.ID {
			b.exact[sub.Channel] = append(entries[:i], entries[i+1:]...)
			if len(b.exact[sub.Channel]) == 0 {
				delete(b.exact, sub.Channel)
			}
			return nil
		}
	}
	return nil
}

func (b *ChannelBus) Start() error {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	b.logger.Info("Channel bus started")
	return nil
}

func (b *ChannelBus) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	b.cancel()

	b.mu.Lock()
	b.exact = make(map[string][]*subscriber)
	b.patterns = nil
	b.mu.Unlock()

	b.logger.Info("Channel bus stopped")
	return nil
}

func (b *ChannelBus) IsRunning() bool {
	return atomic.LoadInt32(&b.running) == 1
}
