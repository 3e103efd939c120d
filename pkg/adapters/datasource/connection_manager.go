package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

const (
	DefaultConnectionTTL   = 5 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute
	DefaultMaxPools        = 50
	DefaultPoolMaxConns    = 10
	DefaultPoolMinConns    = 1

	healthCheckTimeout = 5 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxPools        int
	PoolMaxConns    int32
	PoolMinConns    int32
}

// ConnectionManager caches connection pools by connection key with TTL-based
// eviction. Pools are shared by every client opened for the same config.
type ConnectionManager struct {
	mu           sync.RWMutex
	connections  map[string]*managedPool // key: ConnectionConfig.Key()
	leases       map[string]int          // in-flight operations per key
	ttl          time.Duration
	interval     time.Duration
	maxPools     int
	poolMaxConns int32
	poolMinConns int32
	stopped      bool
	stopChan     chan struct{}
	logger       *zap.Logger
}

type managedPool struct {
	pool     PoolConnector
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConnectionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections:  make(map[string]*managedPool),
		leases:       make(map[string]int),
		ttl:          cfg.TTL,
		interval:     cfg.CleanupInterval,
		maxPools:     cfg.MaxPools,
		poolMaxConns: cfg.PoolMaxConns,
		poolMinConns: cfg.PoolMinConns,
		stopChan:     make(chan struct{}),
		logger:       logger.Named("pools"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// PoolMaxConns is the per-pool connection ceiling adapters should apply.
func (m *ConnectionManager) PoolMaxConns() int32 { return m.poolMaxConns }

// PoolMinConns is the per-pool idle floor adapters should apply.
func (m *ConnectionManager) PoolMinConns() int32 { return m.poolMinConns }

// TTL is how long an unused pool survives.
func (m *ConnectionManager) TTL() time.Duration { return m.ttl }

// GetOrCreate returns the live pool stored under key, or builds one with create.
// An existing pool that fails its health check is closed and rebuilt.
func (m *ConnectionManager) GetOrCreate(ctx context.Context, key string, create func(ctx context.Context) (PoolConnector, error)) (PoolConnector, error) {
	m.mu.RLock()
	managed, exists := m.connections[key]
	stopped := m.stopped
	m.mu.RUnlock()

	if stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})
		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.Remove(key)
			return m.createPool(ctx, key, create)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createPool(ctx, key, create)
}

// Lease marks the pool under key as in use until release is called. Leased
// pools are never evicted, however long the operation holding them runs.
// Releasing counts as a use for TTL purposes. The key may be leased before
// its pool exists.
func (m *ConnectionManager) Lease(key string) (release func()) {
	m.mu.Lock()
	m.leases[key]++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			if m.leases[key] <= 1 {
				delete(m.leases, key)
			} else {
				m.leases[key]--
			}
			if managed, ok := m.connections[key]; ok && managed != nil {
				managed.mu.Lock()
				managed.lastUsed = time.Now()
				managed.mu.Unlock()
			}
		})
	}
}

// createPool acquires the write lock; callers must not hold any lock.
func (m *ConnectionManager) createPool(ctx context.Context, key string, create func(ctx context.Context) (PoolConnector, error)) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have won the race.
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	if len(m.connections) >= m.maxPools {
		m.logger.Warn("reached max pools limit",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxPools),
		)
		return nil, fmt.Errorf("maximum number of connection pools reached (%d)", m.maxPools)
	}

	pool, err := create(ctx)
	if err != nil {
		m.logger.Error("failed to create pool",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	m.connections[key] = &managedPool{
		pool:     pool,
		lastUsed: time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("key", key),
		zap.String("type", pool.GetType()),
		zap.Int("totalPools", len(m.connections)),
	)

	return pool, nil
}

// Remove closes and forgets the pool stored under key.
func (m *ConnectionManager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		m.closePool(key, managed)
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

func (m *ConnectionManager) closePool(key string, managed *managedPool) {
	if managed.pool == nil {
		return
	}
	if err := managed.pool.Close(); err != nil {
		m.logger.Warn("failed to close pool",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes unleased pools unused for longer than the TTL.
// Lock order: manager lock, then pool lock.
func (m *ConnectionManager) performCleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	var expiredKeys []string
	for key, managed := range m.connections {
		if managed == nil || m.leases[key] > 0 {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		m.closePool(key, m.connections[key])
		delete(m.connections, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes every pool and stops the cleanup goroutine. Safe to call twice.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for key, managed := range m.connections {
		if managed != nil {
			m.closePool(key, managed)
		}
	}

	m.connections = make(map[string]*managedPool)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		MaxPools:          m.maxPools,
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
	}
	for _, n := range m.leases {
		stats.ActiveLeases += n
	}

	for key, managed := range m.connections {
		// Key format: "{type}:{name}:{hash}"
		if typ, _, ok := strings.Cut(key, ":"); ok {
			stats.ConnectionsByType[typ]++
		}
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	MaxPools          int            `json:"max_pools"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
	ActiveLeases      int            `json:"active_leases"`
}
