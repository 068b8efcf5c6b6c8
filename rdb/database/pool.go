package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/hatlonely/goxdb/cfg"
	"github.com/hatlonely/goxdb/log"
	"github.com/hatlonely/goxdb/log/logger"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// pooledConn 池中的一条物理连接
type pooledConn struct {
	id       int64
	conn     *sql.Conn
	created  time.Time
	lastUsed time.Time
	leasedAt time.Time
	used     bool
	leaked   bool
}

// Pool 有界、按需增长的连接池
//
// 每次租用返回一个 Connection 代理，代理归还后立即失效；
// 后台清理协程定期关闭空闲或过期的连接，并对租用过久的连接告警。
type Pool struct {
	db      *sql.DB
	driver  string
	options PoolOptions

	sem    *semaphore.Weighted
	mu     sync.Mutex
	idle   []*pooledConn
	leased map[*pooledConn]struct{}
	nextID int64
	closed bool

	done chan struct{}
	wg   sync.WaitGroup

	logger  logger.Logger
	metrics *poolMetrics
}

func NewPoolWithOptions(options *PoolOptions) (*Pool, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.Validate failed")
	}

	dsn, err := options.FormatDSN()
	if err != nil {
		return nil, errors.WithMessage(err, "FormatDSN failed")
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}

	driverName := options.DriverName
	if driverName == "" {
		driverName = options.Driver
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open failed, driver: [%s]", driverName)
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxConns)
	if options.MaxLifetime > 0 {
		db.SetConnMaxLifetime(options.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "db.Ping failed, driver: [%s]", options.Driver)
	}

	p := &Pool{
		db:      db,
		driver:  options.Driver,
		options: *options,
		sem:     semaphore.NewWeighted(int64(options.MaxConns)),
		leased:  map[*pooledConn]struct{}{},
		done:    make(chan struct{}),
		logger:  l.WithGroup("pool").With("driver", options.Driver),
	}

	if options.EnableMetrics {
		metrics, err := newPoolMetrics(options.Name, options.Registerer)
		if err != nil {
			_ = db.Close()
			return nil, errors.WithMessage(err, "newPoolMetrics failed")
		}
		p.metrics = metrics
	}

	p.wg.Add(1)
	go p.sweepLoop()

	return p, nil
}

// Driver 返回驱动名
func (p *Pool) Driver() string {
	return p.driver
}

// DB 返回底层 *sql.DB，仅用于测试和诊断
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Acquire 租用一条连接，优先复用未过期的空闲连接，否则新建
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	if p.options.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.AcquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire connection slot failed")
	}

	pc, err := p.take(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.metrics.incLeases()
	return &Connection{pool: p, pc: pc}, nil
}

func (p *Pool) take(ctx context.Context) (*pooledConn, error) {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var pc *pooledConn
	var expired []*pooledConn
	for len(p.idle) > 0 && pc == nil {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expired(last, now) {
			expired = append(expired, last)
			continue
		}
		pc = last
	}
	if pc != nil {
		pc.used = true
		pc.leasedAt = now
		pc.leaked = false
		p.leased[pc] = struct{}{}
	}
	p.updateGauges()
	p.mu.Unlock()

	p.closeConns(expired)
	if pc != nil {
		return pc, nil
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "db.Conn failed")
	}
	p.metrics.incCreated()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	p.nextID++
	pc = &pooledConn{
		id:       p.nextID,
		conn:     conn,
		created:  now,
		lastUsed: now,
		leasedAt: now,
		used:     true,
	}
	p.leased[pc] = struct{}{}
	p.updateGauges()
	p.logger.Debug("connection created", "id", pc.id)
	return pc, nil
}

// put 归还连接，池已关闭或连接已过期时直接关闭
func (p *Pool) put(pc *pooledConn) {
	now := time.Now()

	p.mu.Lock()
	delete(p.leased, pc)
	pc.used = false
	pc.lastUsed = now
	discard := p.closed || p.expired(pc, now)
	if !discard {
		p.idle = append(p.idle, pc)
	}
	p.updateGauges()
	p.mu.Unlock()

	if discard {
		p.closeConns([]*pooledConn{pc})
	}
	p.sem.Release(1)
}

func (p *Pool) expired(pc *pooledConn, now time.Time) bool {
	if p.options.MaxLifetime > 0 && now.Sub(pc.created) > p.options.MaxLifetime {
		return true
	}
	if p.options.MaxIdleTime > 0 && now.Sub(pc.lastUsed) > p.options.MaxIdleTime {
		return true
	}
	return false
}

func (p *Pool) closeConns(conns []*pooledConn) {
	for _, pc := range conns {
		if err := pc.conn.Close(); err != nil {
			p.logger.Warn("close connection failed", "id", pc.id, "error", err)
		}
	}
}

func (p *Pool) updateGauges() {
	p.metrics.setConnections(len(p.idle), len(p.leased))
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats 空闲和租出的连接数
func (p *Pool) Stats() (idle int, leased int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.leased)
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.options.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.done:
			return
		}
	}
}

// Sweep 关闭空闲或过期的连接，并对租用超时的连接告警
func (p *Pool) Sweep() {
	now := time.Now()

	p.mu.Lock()
	var expired []*pooledConn
	kept := p.idle[:0]
	for _, pc := range p.idle {
		if p.expired(pc, now) {
			expired = append(expired, pc)
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept

	var leaked []*pooledConn
	if p.options.LeakThreshold > 0 {
		for pc := range p.leased {
			if !pc.leaked && now.Sub(pc.leasedAt) > p.options.LeakThreshold {
				pc.leaked = true
				leaked = append(leaked, pc)
			}
		}
	}
	p.updateGauges()
	p.mu.Unlock()

	for _, pc := range leaked {
		p.metrics.incLeaks()
		p.logger.Warn("connection leak suspected", "id", pc.id, "inUse", now.Sub(pc.leasedAt).String())
	}
	if len(expired) > 0 {
		p.logger.Debug("sweep idle connections", "count", len(expired))
	}
	p.closeConns(expired)
}

// Close 停止后台清理，关闭空闲连接和底层 *sql.DB；租出的连接在归还时关闭
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.updateGauges()
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	p.closeConns(idle)
	if err := p.db.Close(); err != nil {
		return errors.Wrap(err, "db.Close failed")
	}
	return nil
}
