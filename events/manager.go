package events

import (
	"context"
	"time"

	"github.com/chronodo/chrono-sync/types"
)

var customBusCreators = make(map[string]types.EventBusCreator)

func RegisterEventBus(name string, creator types.EventBusCreator) {
	customBusCreators[name] = creator
}

func NewEventBus(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.EventBus, error) {
	eventsConfig := config.GetConfig().Events

	if !eventsConfig.Enabled {
		return nil, types.NewErrorf("event bus is disabled")
	}

	var impl types.EventBus
	var err error

	switch eventsConfig.Type {
	case "memory", "":
		impl, err = NewChannelBus(ctx, logger)
	case "redis":
		impl, err = NewRedisBus(ctx, logger, eventsConfig)
	default:
		if creator, exists := customBusCreators[eventsConfig.Type]; exists {
			impl, err = creator(eventsConfig.Config)
		} else {
			return nil, types.Errorf(types.ErrBusTypeUnknown, "type: %s", eventsConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedEventBus(metrics, impl), nil
}

type instrumentedEventBus struct {
	impl    types.EventBus
	metrics types.MetricsManager
}

func newInstrumentedEventBus(metrics types.MetricsManager, impl types.EventBus) types.EventBus {
	return &instrumentedEventBus{
		impl:    impl,
		metrics: metrics,
	}
}

func (ieb *instrumentedEventBus) Publish(channel string, event *types.Event) error {
	start := time.Now()
	err := ieb.impl.Publish(channel, event)

	result := "success"
	if err != nil {
		result = "error"
	}

	ieb.recordMetric("publish", result, time.Since(start))
	return err
}

func (ieb *instrumentedEventBus) Subscribe(channel string, handler types.EventHandler) (*types.Subscription, error) {
	return ieb.impl.Subscribe(channel, ieb.wrapHandler(channel, handler))
}

func (ieb *instrumentedEventBus) SubscribePattern(pattern string, handler types.EventHandler) (*types.Subscription, error) {
	return ieb.impl.SubscribePattern(pattern, ieb.wrapHandler(pattern, handler))
}

func (ieb *instrumentedEventBus) Unsubscribe(sub *types.Subscription) error {
	return ieb.impl.Unsubscribe(sub)
}

func (ieb *instrumentedEventBus) Start() error {
	return ieb.impl.Start()
}

func (ieb *instrumentedEventBus) Stop() error {
	return ieb.impl.Stop()
}

func (ieb *instrumentedEventBus) IsRunning() bool {
	return ieb.impl.IsRunning()
}

func (ieb *instrumentedEventBus) wrapHandler(channel string, handler types.EventHandler) types.EventHandler {
	return func(event *types.Event) error {
		start := time.Now()
		err := handler(event)

		result := "success"
		if err != nil {
			result = "error"
		}

		ieb.metrics.Counter("event_handler_total", map[string]string{
			"channel": channel,
			"result":  result,
		}).Inc()
		ieb.metrics.Histogram("event_handler_duration_seconds",
			[]float64{0.001, 0.01, 0.1, 1.0},
			map[string]string{"channel": channel},
		).Observe(time.Since(start).Seconds())

		return err
	}
}

func (ieb *instrumentedEventBus) recordMetric(operation, result string, duration time.Duration) {
	ieb.metrics.Counter("event_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	ieb.metrics.Histogram("event_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}
