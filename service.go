package chronosync

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chronodo/chrono-sync/cache"
	"github.com/chronodo/chrono-sync/client"
	"github.com/chronodo/chrono-sync/config"
	"github.com/chronodo/chrono-sync/cron"
	"github.com/chronodo/chrono-sync/events"
	"github.com/chronodo/chrono-sync/health"
	"github.com/chronodo/chrono-sync/localstore"
	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/metrics"
	"github.com/chronodo/chrono-sync/ratelimit"
	"github.com/chronodo/chrono-sync/syncengine"
	"github.com/chronodo/chrono-sync/types"
)

// Service wires the full synchronization stack: config, logger, metrics,
// health, cache, rate limiter, event bus, websocket fanout, backend
// client, local store, sync engine and the cron-driven cache evictor.
// Construction is explicit dependency injection; nothing is global.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	Config  types.ConfigManager
	Logger  types.Logger
	Metrics types.MetricsManager
	Health  *health.Manager
	Cache   types.CacheClient
	Limiter *ratelimit.FixedWindowLimiter
	Bus     types.EventBus
	Fanout  *events.WebSocketFanout
	Backend *client.HTTPBackend
	Local   types.LocalStore
	Engine  *syncengine.Engine
	Cron    *cron.Manager
	Evictor *cache.Evictor

	done    chan struct{}
	wg      sync.WaitGroup
	running int32
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:    serviceCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := service.build(configPath); err != nil {
		cancel()
		return nil, err
	}

	return service, nil
}

func (s *Service) build(configPath string) error {
	configManager, err := config.NewConfigurationManager(s.ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to build config manager")
	}
	s.Config = configManager
	serviceConfig := configManager.GetConfig()

	s.Logger, err = logger.NewDefaultLogger(serviceConfig.Logger)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}

	if serviceConfig.Metrics != nil && serviceConfig.Metrics.Enabled {
		prom, err := metrics.NewPrometheusMetrics(s.ctx, s.Logger, serviceConfig.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build metrics")
		}
		s.Metrics = prom
	}

	if serviceConfig.Health != nil && serviceConfig.Health.Enabled {
		s.Health, err = health.NewManager(s.ctx, s.Logger, serviceConfig.Health)
		if err != nil {
			return types.WrapError(err, "failed to build health manager")
		}
	}

	s.Cache, err = cache.NewCacheClient(s.ctx, configManager, s.Logger, s.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to build cache client")
	}

	s.Limiter = ratelimit.NewFixedWindowLimiter(s.Cache, s.Logger, s.Metrics, serviceConfig.RateLimit)

	if serviceConfig.Events != nil && serviceConfig.Events.Enabled {
		s.Bus, err = events.NewEventBus(s.ctx, configManager, s.Logger, s.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build event bus")
		}

		if serviceConfig.Events.Fanout != nil && serviceConfig.Events.Fanout.Enabled {
			s.Fanout, err = events.NewWebSocketFanout(s.ctx, s.Logger, s.Bus, serviceConfig.Events.Fanout)
			if err != nil {
				return types.WrapError(err, "failed to build websocket fanout")
			}
		}
	}

	s.Backend, err = client.NewHTTPBackend(s.ctx, s.Logger, serviceConfig.Backend, serviceConfig.Sync, s.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to build backend client")
	}

	if serviceConfig.LocalStore != nil && serviceConfig.LocalStore.Enabled {
		s.Local, err = localstore.NewCloverStore(s.ctx, s.Logger, serviceConfig.LocalStore)
		if err != nil {
			return types.WrapError(err, "failed to build local store")
		}
	}

	s.Engine, err = syncengine.NewEngine(s.ctx, s.Logger, serviceConfig, s.Backend, s.Cache, s.Limiter, s.Bus, s.Local, s.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to build sync engine")
	}

	if serviceConfig.Cron != nil && serviceConfig.Cron.Enabled {
		s.Cron, err = cron.NewManager(s.ctx, s.Logger, s.Metrics, serviceConfig.Cron)
		if err != nil {
			return types.WrapError(err, "failed to build cron manager")
		}

		eviction := (*types.EvictionConfig)(nil)
		if serviceConfig.Cache != nil {
			eviction = serviceConfig.Cache.Eviction
		}
		if eviction != nil && eviction.Enabled {
			s.Evictor = cache.NewEvictor(s.Cache, s.Logger, s.Metrics, eviction)
		}
	}

	s.registerHealthCheckers()
	return nil
}

func (s *Service) registerHealthCheckers() {
	if s.Health == nil {
		return
	}

	s.Health.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		if s.Cache == nil || !s.Cache.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "cache client not running"}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	s.Health.RegisterChecker("backend", func(ctx context.Context) types.HealthCheck {
		switch s.Backend.BreakerState() {
		case client.BreakerOpen:
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "circuit breaker open"}
		case client.BreakerHalfOpen:
			return types.HealthCheck{Status: types.StatusHealthy, Message: "circuit breaker probing"}
		default:
			return types.HealthCheck{Status: types.StatusHealthy}
		}
	})

	s.Health.RegisterChecker("engine", func(ctx context.Context) types.HealthCheck {
		if !s.Engine.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "sync engine not running"}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	})
}

// Start brings components up in dependency order and blocks until the
// service is shut down by signal or by Stop.
func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	if err := s.startComponents(); err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.Logger.Info("Service started",
		zap.String("name", s.Config.GetConfig().Name),
		zap.String("version", s.Config.GetConfig().Version))

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.Logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	atomic.StoreInt32(&s.running, 0)

	s.Logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) startComponents() error {
	if s.Metrics != nil {
		if err := s.Metrics.Start(); err != nil {
			return types.WrapError(err, "failed to start metrics")
		}
	}

	if s.Health != nil {
		if err := s.Health.Start(); err != nil {
			return types.WrapError(err, "failed to start health manager")
		}
	}

	if err := s.Cache.Start(); err != nil {
		return types.WrapError(err, "failed to start cache client")
	}

	if s.Bus != nil {
		if err := s.Bus.Start(); err != nil {
			return types.WrapError(err, "failed to start event bus")
		}
	}

	if s.Fanout != nil {
		if err := s.Fanout.Start(); err != nil {
			return types.WrapError(err, "failed to start websocket fanout")
		}
	}

	if s.Local != nil {
		if err := s.Local.Start(); err != nil {
			return types.WrapError(err, "failed to start local store")
		}
	}

	if err := s.Engine.Start(); err != nil {
		return types.WrapError(err, "failed to start sync engine")
	}

	if s.Cron != nil {
		if s.Evictor != nil {
			if err := s.Evictor.Schedule(s.ctx, s.Cron); err != nil {
				return types.WrapError(err, "failed to schedule cache evictor")
			}
		}
		if err := s.Cron.Start(); err != nil {
			return types.WrapError(err, "failed to start cron manager")
		}
	}

	s.Logger.Info("All components started")
	return nil
}

// stopComponents shuts down in reverse order: producers before the
// infrastructure they write to. Independent leaves stop concurrently.
func (s *Service) stopComponents() error {
	s.Logger.Info("Stopping service components")

	var shutdownErrors []error

	if s.Cron != nil {
		if err := s.Cron.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}

	if err := s.Engine.Stop(); err != nil {
		shutdownErrors = append(shutdownErrors, err)
	}

	if s.Fanout != nil {
		if err := s.Fanout.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	if s.Bus != nil {
		g.Go(func() error { return s.Bus.Stop() })
	}
	if s.Local != nil {
		g.Go(func() error { return s.Local.Stop() })
	}
	g.Go(func() error { return s.Cache.Stop() })

	if err := g.Wait(); err != nil {
		shutdownErrors = append(shutdownErrors, err)
	}

	if s.Health != nil {
		if err := s.Health.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}

	if s.Metrics != nil {
		if err := s.Metrics.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}

	if len(shutdownErrors) > 0 {
		return types.NewErrorf("errors during shutdown: %v", shutdownErrors)
	}

	s.Logger.Info("All components stopped")
	return nil
}

func (s *Service) Stop() error {
	if atomic.LoadInt32(&s.running) == 0 {
		return types.ErrServerNotRunning
	}

	s.Logger.Info("Stopping service")
	s.cancel()
	return nil
}

func (s *Service) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.Logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			s.cancel()
		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	if types.IsError(s.ctx.Err(), context.Canceled) {
		s.Logger.Info("Service shutdown: context cancelled")
	} else {
		s.Logger.Warn("Service shutdown: context done", zap.Error(s.ctx.Err()))
	}
}
