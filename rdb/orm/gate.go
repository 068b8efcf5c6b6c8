package orm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type gateToken struct {
	op string
}

type gateKey struct{}

// gate 初始化闸门
//
// 连接、重连、断开期间闸门关闭，其他调用等待闸门打开或超时；
// 关闭闸门的调用链在 context 上携带令牌，持有令牌的调用直接通过，迁移中可以调用 CRUD。
type gate struct {
	mu     sync.Mutex
	owner  *gateToken
	opened chan struct{}
}

func newGate() *gate {
	g := &gate{opened: make(chan struct{})}
	close(g.opened)
	return g
}

func (g *gate) holds(ctx context.Context) (*gateToken, bool) {
	token, _ := ctx.Value(gateKey{}).(*gateToken)
	return token, token != nil && token == g.owner
}

// wait 等待直到 ready 返回 true，ready 在锁内调用
func (g *gate) wait(ctx context.Context, timeout time.Duration, ready func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		g.mu.Lock()
		if ready() {
			g.mu.Unlock()
			return nil
		}
		opened := g.opened
		g.mu.Unlock()

		select {
		case <-opened:
		case <-timer.C:
			return errors.Wrapf(ErrGateTimeout, "waited %v", timeout)
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait gate canceled")
		}
	}
}

// pass 等待闸门打开
func (g *gate) pass(ctx context.Context, timeout time.Duration) error {
	return g.wait(ctx, timeout, func() bool {
		_, owned := g.holds(ctx)
		return g.owner == nil || owned
	})
}

// enter 关闭闸门，返回携带令牌的 context，release 重新打开闸门；已持有令牌时直接返回
func (g *gate) enter(ctx context.Context, op string, timeout time.Duration) (context.Context, func(), error) {
	var token *gateToken
	reentrant := false
	err := g.wait(ctx, timeout, func() bool {
		if _, owned := g.holds(ctx); owned {
			reentrant = true
			return true
		}
		if g.owner != nil {
			return false
		}
		token = &gateToken{op: op}
		g.owner = token
		g.opened = make(chan struct{})
		return true
	})
	if err != nil {
		return ctx, func() {}, err
	}
	if reentrant {
		return ctx, func() {}, nil
	}

	var once sync.Once
	return context.WithValue(ctx, gateKey{}, token), func() {
		once.Do(func() {
			g.mu.Lock()
			g.owner = nil
			close(g.opened)
			g.mu.Unlock()
		})
	}, nil
}
