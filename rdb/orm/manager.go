// Package orm 对象关系映射：实体到表的绑定、对象的增删改查和连接生命周期
//
// Manager 在 Connect 时为 Schema 中的每个实体初始化一张 Table 并同步表结构，
// 之后所有操作都通过初始化闸门，按操作类型从读写或只读连接池借用连接。
package orm

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hatlonely/goxdb/cfg"
	"github.com/hatlonely/goxdb/log"
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
	"github.com/hatlonely/goxdb/rdb/lock"
	"github.com/hatlonely/goxdb/ref"
	"github.com/hatlonely/goxdb/uid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "github.com/hatlonely/goxdb/rdb/orm"

// ManagerVersion 写入 db.manager.version 的管理器版本
const ManagerVersion = "1"

const (
	propVersion        = "db.version"
	propCreated        = "db.created"
	propManagerVersion = "db.manager.version"
)

// RegisterPermissionManager 注册权限管理器构造函数，ManagerOptions.Permission 按类型名引用
func RegisterPermissionManager(typ string, fn any) error {
	return ref.Register(namespace, typ, fn)
}

type ManagerOptions struct {
	// ReadWrite 读写连接池，写操作和没有只读池时的读操作使用
	ReadWrite database.PoolOptions `cfg:"readWrite"`
	// ReadOnly 只读连接池，为空时读操作也使用读写池
	ReadOnly *database.PoolOptions `cfg:"readOnly"`

	// Cleanup 同步表结构时删除实体中已不存在的列和索引
	Cleanup bool `cfg:"cleanup"`
	// GateTimeout 等待初始化闸门的最长时间
	GateTimeout time.Duration `cfg:"gateTimeout" def:"10m" validate:"gt=0"`

	Lock lock.Options `cfg:"lock"`

	// Permission 权限管理器，Namespace 为空时使用 RegisterPermissionManager 注册的类型
	Permission *ref.TypeOptions `cfg:"permission"`
	// StrKeyGenerator auto=uuid 字段的生成器，缺省为 v7 UUID
	StrKeyGenerator *ref.TypeOptions `cfg:"strKeyGenerator"`
	// IntKeyGenerator auto=snowflake 字段的生成器，缺省为 SnowflakeGenerator
	IntKeyGenerator *ref.TypeOptions `cfg:"intKeyGenerator"`

	// WatchFieldFiles 字段定义文件变化时自动重连
	WatchFieldFiles bool `cfg:"watchFieldFiles"`

	// Name 指标名前缀和 tracer 名
	Name          string `cfg:"name" def:"goxdb"`
	EnableMetrics bool   `cfg:"enableMetrics"`
	EnableTracing bool   `cfg:"enableTracing"`
	// Registerer 指标注册器，为空时使用 prometheus 默认注册器
	Registerer prometheus.Registerer `cfg:"-"`

	Logger *logger.SLogOptions `cfg:"logger"`
}

// State 管理器连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Manager 对象管理器
type Manager struct {
	options ManagerOptions
	schema  Schema
	dialect dialect.Dialect
	bundle  *dialect.MetadataBundle
	locks   *lock.Manager
	strKeys uid.StrGenerator
	intKeys uid.IntGenerator

	logger  logger.Logger
	metrics *managerMetrics
	tracer  trace.Tracer

	gate  *gate
	state atomic.Int32
	reg   atomic.Pointer[registry]

	mu         sync.Mutex
	rw         *database.Pool
	ro         *database.Pool
	permission PermissionManager
	watcher    *cfg.Watcher
	closed     bool
}

func NewManagerWithOptions(schema Schema, options *ManagerOptions) (*Manager, error) {
	if schema == nil {
		return nil, errors.New("schema is nil")
	}
	if options == nil {
		return nil, errors.New("options is nil")
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
	l = l.WithGroup("orm").With("schema", schema.Name())

	d, err := dialect.New(options.ReadWrite.Driver, l)
	if err != nil {
		return nil, errors.WithMessage(err, "dialect.New failed")
	}

	lockOptions := options.Lock
	if lockOptions.Logger == nil {
		lockOptions.Logger = options.Logger
	}
	locks, err := lock.NewManagerWithOptions(&lockOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "lock.NewManagerWithOptions failed")
	}

	m := &Manager{
		options: *options,
		schema:  schema,
		dialect: d,
		bundle:  dialect.NewMetadataBundle(),
		locks:   locks,
		logger:  l,
		gate:    newGate(),
	}

	if options.StrKeyGenerator != nil {
		if m.strKeys, err = uid.NewStrGeneratorWithOptions(options.StrKeyGenerator); err != nil {
			return nil, errors.WithMessage(err, "uid.NewStrGeneratorWithOptions failed")
		}
	} else {
		m.strKeys = uid.NewUUIDGeneratorWithOptions(nil)
	}
	if options.IntKeyGenerator != nil {
		if m.intKeys, err = uid.NewIntGeneratorWithOptions(options.IntKeyGenerator); err != nil {
			return nil, errors.WithMessage(err, "uid.NewIntGeneratorWithOptions failed")
		}
	} else {
		m.intKeys = uid.NewSnowflakeGeneratorWithOptions(nil)
	}

	if options.Permission != nil {
		opts := *options.Permission
		if opts.Namespace == "" {
			opts.Namespace = namespace
		}
		if m.permission, err = ref.NewWithOptions[PermissionManager](&opts); err != nil {
			return nil, errors.WithMessage(err, "create permission manager failed")
		}
	}

	if options.EnableMetrics {
		if m.metrics, err = newManagerMetrics(options.Name, options.Registerer); err != nil {
			return nil, errors.WithMessage(err, "newManagerMetrics failed")
		}
	}
	if options.EnableTracing {
		m.tracer = otel.Tracer("orm." + options.Name)
	}

	return m, nil
}

func (m *Manager) Schema() Schema {
	return m.schema
}

func (m *Manager) Dialect() dialect.Dialect {
	return m.dialect
}

// Metadata 最近一次同步后的物理表结构
func (m *Manager) Metadata() *dialect.MetadataBundle {
	return m.bundle
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// PermissionManager 当前的权限管理器，没有时为 nil
func (m *Manager) PermissionManager() PermissionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

// SetPermissionManager 替换权限管理器，下次连接或重连时生效
func (m *Manager) SetPermissionManager(pm PermissionManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permission = pm
}

// Connect 打开连接池、同步表结构并执行版本迁移，已连接时为空操作
func (m *Manager) Connect(ctx context.Context) error {
	return m.observe(ctx, "Connect", func(ctx context.Context) error {
		ctx, release, err := m.gate.enter(ctx, "Connect", m.options.GateTimeout)
		if err != nil {
			return err
		}
		defer release()

		if m.State() == StateConnected {
			return nil
		}
		return m.connect(ctx)
	})
}

// Reconnect 重新初始化所有表，失败时保留原来的表
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.observe(ctx, "Reconnect", func(ctx context.Context) error {
		ctx, release, err := m.gate.enter(ctx, "Reconnect", m.options.GateTimeout)
		if err != nil {
			return err
		}
		defer release()

		m.schema.ResetObjectTypes()
		return m.connect(ctx)
	})
}

// Disconnect 停止文件监听，丢弃所有表并关闭连接池
func (m *Manager) Disconnect(ctx context.Context) error {
	// 监听回调会进入闸门，不能在持有闸门时关闭监听
	m.stopWatcher()
	err := m.observe(ctx, "Disconnect", func(ctx context.Context) error {
		_, release, err := m.gate.enter(ctx, "Disconnect", m.options.GateTimeout)
		if err != nil {
			return err
		}
		defer release()

		m.reg.Store(nil)
		m.closePools()
		m.state.Store(int32(StateDisconnected))
		return nil
	})
	// 进行中的回调可能已经重连并启动了新的监听
	m.stopWatcher()
	return err
}

// Close 断开连接并关闭锁管理器，之后的 Connect 返回 ErrClosed
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.Disconnect(context.Background()); err != nil {
		m.logger.Warn("disconnect on close failed", "error", err.Error())
	}
	return m.locks.Close()
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	previous, previousReg := m.State(), m.reg.Load()
	m.state.Store(int32(StateConnecting))
	fail := func(err error) error {
		if previous == StateConnected && previousReg != nil {
			m.reg.Store(previousReg)
			m.state.Store(int32(StateConnected))
		} else {
			m.reg.Store(nil)
			m.closePools()
			m.state.Store(int32(StateDisconnected))
		}
		return err
	}

	if err := m.openPools(); err != nil {
		return fail(err)
	}
	reg, err := m.build(ctx)
	if err != nil {
		return fail(err)
	}
	m.reg.Store(reg)

	if err := m.migrate(ctx); err != nil {
		return fail(errors.WithMessage(err, "migrate failed"))
	}

	m.state.Store(int32(StateConnected))
	m.startWatcher()
	m.logger.InfoContext(ctx, "manager connected", "tables", len(reg.tables))
	return nil
}

func (m *Manager) openPools() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rw == nil {
		rw, err := database.NewPoolWithOptions(&m.options.ReadWrite)
		if err != nil {
			return errors.WithMessage(err, "create read-write pool failed")
		}
		m.rw = rw
	}
	if m.ro == nil && m.options.ReadOnly != nil {
		ro, err := database.NewPoolWithOptions(m.options.ReadOnly)
		if err != nil {
			return errors.WithMessage(err, "create read-only pool failed")
		}
		m.ro = ro
	}
	return nil
}

func (m *Manager) closePools() {
	m.mu.Lock()
	rw, ro := m.rw, m.ro
	m.rw, m.ro = nil, nil
	m.mu.Unlock()

	for _, p := range []*database.Pool{rw, ro} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			m.logger.Warn("close pool failed", "driver", p.Driver(), "error", err.Error())
		}
	}
}

// build 初始化所有表并同步表结构，返回新的注册表
func (m *Manager) build(ctx context.Context) (*registry, error) {
	conn, _, release, err := m.acquire(ctx, true, nil)
	if err != nil {
		return nil, err
	}
	defer release()

	properties := m.propertiesDecl()
	if _, err := m.dialect.CreateStructure(ctx, &dialect.Declaration{Tables: []dialect.TableDecl{properties}}, conn, nil, false); err != nil {
		return nil, errors.WithMessage(err, "sync properties table failed")
	}

	reg := newRegistry()
	decl := &dialect.Declaration{Tables: []dialect.TableDecl{properties}}
	for _, e := range m.schema.FindObjectTypes() {
		t := newTable(m, e)
		ddl, err := t.InitDatabase(ctx, conn, m.options.Cleanup)
		if err != nil {
			return nil, errors.WithMessagef(err, "init table [%s] failed", e.name)
		}
		if err := conn.Commit(); err != nil {
			return nil, errors.WithMessagef(err, "commit table [%s] failed", e.name)
		}
		if len(ddl) > 0 {
			m.logger.InfoContext(ctx, "table synchronized", "table", t.physical, "ddl", ddl)
		}
		if err := reg.add(t); err != nil {
			return nil, err
		}
		decl.Tables = append(decl.Tables, t.Declaration())
	}

	for _, step := range m.schema.DataSteps() {
		resolved, err := reg.resolveStep(step)
		if err != nil {
			m.logger.WarnContext(ctx, "skip data step", "step", step.Name, "error", err.Error())
			continue
		}
		decl.Data = append(decl.Data, resolved)
	}
	m.dialect.CreateData(ctx, decl, conn)

	live, err := m.dialect.ReadSchema(ctx, conn)
	if err != nil {
		m.logger.WarnContext(ctx, "read schema for metadata failed", "error", err.Error())
	} else {
		m.bundle.Rebuild(decl, live)
	}
	if err := conn.Commit(); err != nil {
		return nil, errors.WithMessage(err, "commit failed")
	}
	return reg, nil
}

// resolveStep 解析数据步骤语句中的名称占位符
func (r *registry) resolveStep(step dialect.DataStep) (dialect.DataStep, error) {
	var err error
	if step.Select != "" {
		if step.Select, err = r.resolve(step.Select); err != nil {
			return step, err
		}
	}
	for _, list := range []*[]string{&step.OnFound, &step.OnNotFound, &step.OnError} {
		resolved := make([]string, 0, len(*list))
		for _, text := range *list {
			s, err := r.resolve(text)
			if err != nil {
				return step, err
			}
			resolved = append(resolved, s)
		}
		*list = resolved
	}
	return step, nil
}

// migrate 首次建库写入版本号 0 并初始化默认数据，之后按库中的版本号迁移
func (m *Manager) migrate(ctx context.Context) error {
	conn, _, release, err := m.acquire(ctx, true, nil)
	if err != nil {
		return err
	}
	defer release()

	stored, found, err := m.property(ctx, conn, propVersion)
	if err != nil {
		return err
	}

	version := 0
	if !found {
		for _, kv := range [][2]string{
			{propVersion, "0"},
			{propCreated, time.Now().UTC().Format(time.RFC3339)},
			{propManagerVersion, ManagerVersion},
		} {
			if err := m.setProperty(ctx, conn, kv[0], kv[1]); err != nil {
				return err
			}
		}
		if err := conn.Commit(); err != nil {
			return errors.WithMessage(err, "commit properties failed")
		}
		m.logger.InfoContext(ctx, "database initialized")
		if err := m.schema.InitDefaults(ctx, m, conn); err != nil {
			return errors.WithMessage(err, "schema.InitDefaults failed")
		}
		if err := conn.Commit(); err != nil {
			return errors.WithMessage(err, "commit defaults failed")
		}
	} else if version, err = strconv.Atoi(stored); err != nil {
		return errors.Wrapf(err, "invalid %s [%s]", propVersion, stored)
	}

	if err := m.schema.Migrate(ctx, m, conn, version); err != nil {
		return errors.WithMessagef(err, "schema.Migrate from version %d failed", version)
	}
	return errors.WithMessage(conn.Commit(), "commit migration failed")
}

func (m *Manager) startWatcher() {
	if !m.options.WatchFieldFiles {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.watcher != nil {
		return
	}

	var paths []string
	for _, e := range m.schema.FindObjectTypes() {
		if p, ok := e.provider.(interface{ Paths() []string }); ok {
			paths = append(paths, p.Paths()...)
		}
	}
	if len(paths) == 0 {
		return
	}

	w, err := cfg.WatchWithLogger(m.logger, m.onFieldFileChanged, paths...)
	if err != nil {
		m.logger.Warn("watch field files failed", "paths", paths, "error", err.Error())
		return
	}
	m.watcher = w
}

// onFieldFileChanged 只在已连接时重连，断开后到达的事件直接丢弃
func (m *Manager) onFieldFileChanged(path string) {
	ctx, release, err := m.gate.enter(context.Background(), "WatchFieldFiles", m.options.GateTimeout)
	if err != nil {
		m.logger.Warn("reconnect after field file change failed", "path", path, "error", err.Error())
		return
	}
	defer release()

	if m.State() != StateConnected {
		m.logger.Info("field file changed while disconnected, ignored", "path", path)
		return
	}
	m.logger.Info("field file changed, reconnecting", "path", path)
	if err := m.Reconnect(ctx); err != nil {
		m.logger.Warn("reconnect after field file change failed", "path", path, "error", err.Error())
	}
}

func (m *Manager) stopWatcher() {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			m.logger.Warn("close watcher failed", "error", err.Error())
		}
	}
}
