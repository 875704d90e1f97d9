package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PSocial/data/database/mgo/mongoutil"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second
	failThresh  = 3 // 连续 ping 失败次数，达到后断开重连
)

// Manager 在后台维持 Mongo 连接：首次连上时关闭 ready，掉线后自动重连。
type Manager struct {
	cfg *mongoutil.Config
	log *zap.Logger

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{}
	readyOnce sync.Once
	healthy   atomic.Bool
	lastErr   atomic.Value // error
	done      chan struct{}
}

func NewManager(cfg *mongoutil.Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log, readyCh: make(chan struct{}), done: make(chan struct{})}
}

// StartAsync runs until ctx is done. Done() is closed after the loop exits
// and the client is disconnected.
func (m *Manager) StartAsync(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			if !m.connect(ctx) {
				return
			}
			if !m.watch(ctx) {
				return
			}
		}
	}()
}

func (m *Manager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.healthy.Store(true)
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected", zap.String("database", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoffFor(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 返回 false 表示 ctx 结束；true 表示掉线需要重连
func (m *Manager) watch(ctx context.Context) bool {
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err == nil {
				fail = 0
				m.healthy.Store(true)
				continue
			}
			fail++
			m.lastErr.Store(err)
			m.healthy.Store(false)
			if fail >= failThresh {
				m.log.Warn("mongo unreachable, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy.Store(false)
	if m.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.client.Close(ctx)
		cancel()
		m.client = nil
	}
}

func backoffFor(attempt int) time.Duration {
	backoff := baseBackoff << attempt
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff / 5))) // 0~20%
	return backoff - jitter/2
}

// Ready is closed on the first successful connection.
func (m *Manager) Ready() <-chan struct{} { return m.readyCh }

// Done is closed once StartAsync has stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) Healthy() bool { return m.healthy.Load() }

func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
