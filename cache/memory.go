package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxTTL     = 24 * time.Hour
	DefaultTTL = 5 * time.Minute
)

type MemoryConfig struct {
	MaxEntries      int    `json:"max_entries"`
	CleanupInterval string `json:"cleanup_interval"`
	BudgetBytes     uint64 `json:"budget_bytes"`
}

// MemoryCache is the in-process CacheClient. It doubles as the test and
// fallback implementation when no redis is reachable; selection happens
// once in the factory, never at call sites.
type MemoryCache struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      *MemoryConfig
	logger      types.Logger
	data        map[string]*types.CacheEntry
	counters    map[string]*memCounter
	hits        uint64
	misses      uint64
	evictions   uint64
	mu          sync.RWMutex
	counterMu   sync.Mutex
	state       atomic.Value
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type memCounter struct {
	value     int64
	expiresAt time.Time
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheClient, error) {
	memConfig := &MemoryConfig{
		MaxEntries:      10000,
		CleanupInterval: "1m",
		BudgetBytes:     50 << 20,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:         cacheCtx,
		cancel:      cancel,
		logger:      logger,
		config:      memConfig,
		data:        make(map[string]*types.CacheEntry),
		counters:    make(map[string]*memCounter),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	now := time.Now()

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
		m.mu.Lock()
		if entry, exists := m.data[key]; exists && now.After(entry.ExpiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	payload, ok := decodeEntry(entry, now)
	if !ok {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&m.hits, 1)

	result := make([]byte, len(payload))
	copy(result, payload)
	return result, true
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	entry, oversized, err := buildEntry(key, value, ttl)
	if err != nil {
		return err
	}

	if oversized {
		m.logger.Warn("Cache value exceeds soft size threshold",
			zap.String("key", key),
			zap.Int("size", len(entry.Value)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOldestUnsafe()
		}
	}

	m.data[key] = entry
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.data, key)
	}
	m.mu.Unlock()

	m.counterMu.Lock()
	for _, key := range keys {
		delete(m.counters, key)
	}
	m.counterMu.Unlock()

	return nil
}

func (m *MemoryCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	deleted := 0
	for key := range m.data {
		if utils.GlobMatch(pattern, key) {
			delete(m.data, key)
			deleted++
		}
	}
	m.mu.Unlock()

	m.counterMu.Lock()
	for key := range m.counters {
		if utils.GlobMatch(pattern, key) {
			delete(m.counters, key)
			deleted++
		}
	}
	m.counterMu.Unlock()

	return deleted, nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) bool {
	now := time.Now()

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if exists && (entry.ExpiresAt.IsZero() || now.Before(entry.ExpiresAt)) {
		return true
	}

	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	counter, ok := m.counters[key]
	return ok && (counter.expiresAt.IsZero() || now.Before(counter.expiresAt))
}

func (m *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	if key == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	now := time.Now()

	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	counter, exists := m.counters[key]
	if exists && !counter.expiresAt.IsZero() && now.After(counter.expiresAt) {
		delete(m.counters, key)
		exists = false
	}

	if !exists {
		m.counters[key] = &memCounter{value: 1}
		return 1, nil
	}

	counter.value++
	return counter.value, nil
}

func (m *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()

	if counter, exists := m.counters[key]; exists {
		counter.expiresAt = time.Now().Add(ttl)
	}
	return nil
}

func (m *MemoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	now := time.Now()

	m.counterMu.Lock()
	if counter, exists := m.counters[key]; exists {
		if counter.expiresAt.IsZero() {
			m.counterMu.Unlock()
			return -1, nil
		}
		remaining := counter.expiresAt.Sub(now)
		m.counterMu.Unlock()
		if remaining < 0 {
			return 0, nil
		}
		return remaining, nil
	}
	m.counterMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, exists := m.data[key]; exists {
		if entry.ExpiresAt.IsZero() {
			return -1, nil
		}
		if remaining := entry.ExpiresAt.Sub(now); remaining > 0 {
			return remaining, nil
		}
	}
	return 0, nil
}

func (m *MemoryCache) Usage(_ context.Context) (types.CacheUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var used uint64
	for key, entry := range m.data {
		used += entrySize(key, entry)
	}

	return types.CacheUsage{
		UsedBytes:   used,
		BudgetBytes: m.config.BudgetBytes,
		KeyCount:    len(m.data),
	}, nil
}

func (m *MemoryCache) KeysByAge(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()

	type keyAge struct {
		key       string
		createdAt time.Time
	}

	matched := make([]keyAge, 0, 32)
	for key, entry := range m.data {
		if utils.GlobMatch(pattern, key) {
			matched = append(matched, keyAge{key: key, createdAt: entry.CreatedAt})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].createdAt.Before(matched[j].createdAt)
	})

	keys := make([]string, len(matched))
	for i, ka := range matched {
		keys[i] = ka.key
	}
	return keys, nil
}

func (m *MemoryCache) Start() error {
	if !m.state.CompareAndSwap(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrServerAlreadyRunning
	}

	go m.startCleanupRoutine()

	m.state.Store(MemoryStateRunning)
	m.logger.Info("Memory cache started")
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.state.CompareAndSwap(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.state.Store(MemoryStateStopped)

	m.cancel()

	select {
	case m.stopCleanup <- struct{}{}:
	case <-time.After(time.Second):
	}

	select {
	case <-m.cleanupDone:
		m.logger.Debug("Cleanup routine stopped")
	case <-time.After(5 * time.Second):
		m.logger.Warn("Cleanup routine stop timeout")
	}

	m.mu.Lock()
	entriesCount := len(m.data)
	m.data = make(map[string]*types.CacheEntry)
	m.mu.Unlock()

	m.counterMu.Lock()
	m.counters = make(map[string]*memCounter)
	m.counterMu.Unlock()

	m.logger.Info("Memory cache stopped",
		zap.Int("cleared_entries", entriesCount),
		zap.Uint64("hits", atomic.LoadUint64(&m.hits)),
		zap.Uint64("misses", atomic.LoadUint64(&m.misses)))
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.state.Load().(MemoryState) == MemoryStateRunning
}

func (m *MemoryCache) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 1m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryCache) cleanup() {
	now := time.Now()

	m.mu.Lock()
	expired := 0
	for key, entry := range m.data {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			delete(m.data, key)
			expired++
		}
	}
	m.mu.Unlock()

	m.counterMu.Lock()
	for key, counter := range m.counters {
		if !counter.expiresAt.IsZero() && now.After(counter.expiresAt) {
			delete(m.counters, key)
		}
	}
	m.counterMu.Unlock()

	if expired > 0 {
		m.logger.Debug("Cache cleanup completed", zap.Int("expired_entries", expired))
	}
}

func (m *MemoryCache) evictOldestUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}
