package database

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Connection 租用连接的代理
//
// 首条语句执行时惰性开启事务，Commit/Rollback 结束当前事务；
// Release 之后所有调用返回 ErrReleased。
type Connection struct {
	pool     *Pool
	pc       *pooledConn
	released atomic.Bool

	mu sync.Mutex
	tx *sql.Tx
}

// Driver 返回驱动名
func (c *Connection) Driver() string {
	return c.pool.driver
}

// ID 物理连接编号
func (c *Connection) ID() int64 {
	return c.pc.id
}

// CreateStatement 解析 $name$ 参数，生成当前驱动的占位符形式
func (c *Connection) CreateStatement(text string) (*Statement, error) {
	if c.released.Load() {
		return nil, ErrReleased
	}
	query, names := parseStatement(text, c.pool.driver)
	return &Statement{conn: c, text: text, query: query, names: names}, nil
}

// Exec 直接执行不带命名参数的 SQL，主要用于 DDL
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tx, err := c.transaction(ctx)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "exec failed, sql: [%s]", query)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Query 直接执行不带命名参数的查询，主要用于元数据读取
func (c *Connection) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	tx, err := c.transaction(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query failed, sql: [%s]", query)
	}
	return newResult(rows)
}

func (c *Connection) transaction(ctx context.Context) (*sql.Tx, error) {
	if c.released.Load() {
		return nil, ErrReleased
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return c.tx, nil
	}
	tx, err := c.pc.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "BeginTx failed")
	}
	c.tx = tx
	return tx, nil
}

// InTransaction 当前是否有未结束的事务
func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// Commit 提交当前事务，没有事务时为空操作
func (c *Connection) Commit() error {
	if c.released.Load() {
		return ErrReleased
	}
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "tx.Commit failed")
	}
	return nil
}

// Rollback 回滚当前事务，没有事务时为空操作
func (c *Connection) Rollback() error {
	if c.released.Load() {
		return ErrReleased
	}
	return c.rollback()
}

func (c *Connection) rollback() error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "tx.Rollback failed")
	}
	return nil
}

// Released 是否已归还
func (c *Connection) Released() bool {
	return c.released.Load()
}

// Release 回滚未提交的事务并把连接归还连接池，重复调用返回 ErrReleased
func (c *Connection) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if err := c.rollback(); err != nil {
		c.pool.logger.Warn("rollback on release failed", "id", c.pc.id, "error", err)
	}
	c.pool.put(c.pc)
	return nil
}
