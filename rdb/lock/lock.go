// Package lock 对象组锁
//
// 锁绑定在 context 上：Lock 返回的 context 携带当前持有的键集合，
// 用这个 context 再次加锁时只允许锁已覆盖的键，避免循环等待。
package lock

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hatlonely/goxdb/cfg"
	"github.com/hatlonely/goxdb/log"
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/pkg/errors"
)

var (
	// ErrNestedLock 嵌套加锁的键不在外层锁范围内
	ErrNestedLock = errors.New("nested lock not covered by outer lock")
	// ErrTimeout 等待超时
	ErrTimeout = errors.New("lock wait timeout")
	// ErrClosed 锁管理器已关闭
	ErrClosed = errors.New("lock manager closed")
)

type Options struct {
	// Timeout 等待锁的最长时间
	Timeout time.Duration `cfg:"timeout" def:"30s" validate:"gt=0"`
	// MaxAge 持有超过该时长的锁视为被遗弃，可被其他调用者回收
	MaxAge time.Duration `cfg:"maxAge" def:"10m" validate:"gt=0"`

	Logger *logger.SLogOptions `cfg:"logger"`
}

// Transaction 一次加锁持有的键集合
type Transaction struct {
	id       int64
	keys     map[string]struct{}
	acquired time.Time
}

// Keys 持有的键，已排序
func (t *Transaction) Keys() []string {
	keys := make([]string, 0, len(t.keys))
	for k := range t.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Transaction) covers(keys []string) bool {
	for _, k := range keys {
		if _, ok := t.keys[k]; !ok {
			return false
		}
	}
	return true
}

type ctxKey struct{}

// FromContext 取出 context 上的锁
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Transaction)
	return tx, ok
}

type Manager struct {
	options Options
	logger  logger.Logger

	mu      sync.Mutex
	held    map[string]*Transaction
	changed chan struct{}
	closed  bool
	seq     atomic.Int64
}

func NewManagerWithOptions(options *Options) (*Manager, error) {
	if options == nil {
		options = &Options{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.Validate failed")
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}

	return &Manager{
		options: *options,
		logger:  l.WithGroup("lock"),
		held:    map[string]*Transaction{},
		changed: make(chan struct{}),
	}, nil
}

// Lock 锁住一组键，返回携带锁的 context 和解锁函数
//
// ctx 已持有锁时，keys 必须全部被已持有的锁覆盖，此时不会再次加锁，
// 返回的解锁函数什么都不做。
func (m *Manager) Lock(ctx context.Context, keys ...string) (context.Context, func(), error) {
	keys = dedup(keys)

	if outer, ok := FromContext(ctx); ok {
		if !outer.covers(keys) {
			return ctx, nil, errors.Wrapf(ErrNestedLock, "held: %v, requested: %v", outer.Keys(), keys)
		}
		return ctx, func() {}, nil
	}

	tx := &Transaction{id: m.seq.Add(1), keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		tx.keys[k] = struct{}{}
	}

	timer := time.NewTimer(m.options.Timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ctx, nil, ErrClosed
		}
		m.evict(time.Now())
		if m.free(keys) {
			tx.acquired = time.Now()
			for _, k := range keys {
				m.held[k] = tx
			}
			m.mu.Unlock()
			return context.WithValue(ctx, ctxKey{}, tx), func() { m.unlock(tx) }, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return ctx, nil, errors.Wrapf(ErrTimeout, "keys: %v, timeout: %v", keys, m.options.Timeout)
		case <-ctx.Done():
			return ctx, nil, errors.Wrap(ctx.Err(), "wait lock canceled")
		}
	}
}

// Held 当前被锁住的键数量
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Close 释放所有锁并唤醒等待者
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.held = map[string]*Transaction{}
	m.notify()
	return nil
}

func (m *Manager) unlock(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range tx.keys {
		if m.held[k] == tx {
			delete(m.held, k)
		}
	}
	m.notify()
}

func (m *Manager) free(keys []string) bool {
	for _, k := range keys {
		if _, ok := m.held[k]; ok {
			return false
		}
	}
	return true
}

// evict 回收超过 MaxAge 的锁，调用方持有 mu
func (m *Manager) evict(now time.Time) {
	evicted := false
	for k, tx := range m.held {
		if now.Sub(tx.acquired) > m.options.MaxAge {
			m.logger.Warn("evict abandoned lock", "key", k, "lockId", tx.id, "heldFor", now.Sub(tx.acquired).String())
			delete(m.held, k)
			evicted = true
		}
	}
	if evicted {
		m.notify()
	}
}

// notify 唤醒所有等待者，调用方持有 mu
func (m *Manager) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func dedup(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
