package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chronodo/chrono-sync/types"
)

// Manager runs registered checkers on an interval and keeps the latest
// report. Checkers run concurrently under a shared timeout so one stuck
// dependency cannot hide the state of the rest.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *types.HealthConfig
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	checkTimeout time.Duration
	mu           sync.RWMutex
	wg           sync.WaitGroup
	running      int32
}

func NewManager(ctx context.Context, logger types.Logger, config *types.HealthConfig) (*Manager, error) {
	if config == nil {
		config = &types.HealthConfig{Enabled: true, Interval: 30 * time.Second}
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}

	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		config:       config,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		checkTimeout: 5 * time.Second,
	}, nil
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(checkCtx)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(gCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		hm.logger.Warn("Health check round incomplete", zap.Error(err))
	}

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return hm.buildReport(results)
}

// LastReport returns the report from the most recent completed round
// without running the checkers again.
func (hm *Manager) LastReport() types.HealthReport {
	hm.mu.RLock()
	results := make(map[string]types.HealthCheck, len(hm.results))
	for name, result := range hm.results {
		results[name] = result
	}
	hm.mu.RUnlock()

	return hm.buildReport(results)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) (result types.HealthCheck) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			hm.logger.Error("Health checker panicked",
				zap.String("checker", name),
				zap.Any("panic", rec))
			result.Status = types.StatusUnhealthy
			result.Message = "checker panicked"
		}

		result.Name = name
		result.LastCheck = start
		result.Duration = time.Since(start)
		if result.Status == "" {
			result.Status = types.StatusUnknown
		}
	}()

	result = checker(ctx)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	status := types.StatusHealthy
	for _, result := range results {
		if result.Status == types.StatusUnhealthy {
			status = types.StatusUnhealthy
			break
		}
	}
	if len(results) == 0 {
		status = types.StatusUnknown
	}

	return types.HealthReport{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Checks:    results,
	}
}

func (hm *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&hm.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()

	hm.wg.Add(1)
	go hm.loop()

	hm.logger.Info("Health manager started",
		zap.Duration("interval", hm.config.Interval))
	return nil
}

func (hm *Manager) loop() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			report := hm.Check(hm.ctx)
			if report.Status == types.StatusUnhealthy {
				hm.logger.Warn("Health degraded",
					zap.Int("checks", len(report.Checks)))
			}
		}
	}
}

func (hm *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&hm.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.wg.Wait()

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return atomic.LoadInt32(&hm.running) == 1
}
