package orm

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/hatlonely/goxdb/rdb/sqlparse"
	"github.com/pkg/errors"
)

type callOptions struct {
	conn *database.Connection
}

// CallOption 单次调用的选项
type CallOption func(*callOptions)

// WithConnection 使用调用方的连接，管理器不提交也不归还
func WithConnection(conn *database.Connection) CallOption {
	return func(o *callOptions) {
		o.conn = conn
	}
}

// Key 联合主键的值，顺序与 Table.Keys 一致
type Key []any

// acquire 返回调用方的连接或从连接池借用一条，release 只归还借用的连接
func (m *Manager) acquire(ctx context.Context, write bool, opts []CallOption) (*database.Connection, bool, func(), error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.conn != nil {
		return o.conn, false, func() {}, nil
	}

	m.mu.Lock()
	pool := m.rw
	if !write && m.ro != nil {
		pool = m.ro
	}
	m.mu.Unlock()
	if pool == nil {
		return nil, false, nil, ErrNotConnected
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, nil, errors.WithMessage(err, "acquire connection failed")
	}
	return conn, true, func() {
		if err := conn.Release(); err != nil {
			m.logger.WarnContext(ctx, "release connection failed", "error", err.Error())
		}
	}, nil
}

// Connection 借用一条连接，调用方负责提交或回滚并 Release，配合 WithConnection 在一个事务中执行多个操作
func (m *Manager) Connection(ctx context.Context, write bool) (*database.Connection, error) {
	if err := m.gate.pass(ctx, m.options.GateTimeout); err != nil {
		return nil, err
	}
	conn, _, _, err := m.acquire(ctx, write, nil)
	return conn, err
}

// run 通过闸门后执行 fn，借用的连接在成功时提交，失败时回滚
func (m *Manager) run(ctx context.Context, op string, write bool, opts []CallOption, fn func(c *Call, reg *registry) error) error {
	return m.observe(ctx, op, func(ctx context.Context) error {
		if err := m.gate.pass(ctx, m.options.GateTimeout); err != nil {
			return err
		}
		reg := m.reg.Load()
		if reg == nil {
			return ErrNotConnected
		}

		conn, borrowed, release, err := m.acquire(ctx, write, opts)
		if err != nil {
			return err
		}
		defer release()

		if err := fn(&Call{Ctx: ctx, Manager: m, Conn: conn}, reg); err != nil {
			return err
		}
		if borrowed {
			return conn.Commit()
		}
		return nil
	})
}

func (m *Manager) runOn(ctx context.Context, op string, write bool, obj any, opts []CallOption, fn func(c *Call, t *Table) error) error {
	return m.run(ctx, op, write, opts, func(c *Call, reg *registry) error {
		t, err := reg.tableFor(obj)
		if err != nil {
			return err
		}
		return fn(c, t)
	})
}

func (m *Manager) registry() (*registry, error) {
	reg := m.reg.Load()
	if reg == nil {
		return nil, ErrNotConnected
	}
	return reg, nil
}

// passRegistry 等待闸门打开后取当前注册表，重连期间不会拿到迁移中的表
func (m *Manager) passRegistry(ctx context.Context) (*registry, error) {
	if err := m.gate.pass(ctx, m.options.GateTimeout); err != nil {
		return nil, err
	}
	return m.registry()
}

// tableFor 不等待闸门，供已经在操作内部的调用使用
func (m *Manager) tableFor(obj any) (*Table, error) {
	reg, err := m.registry()
	if err != nil {
		return nil, err
	}
	return reg.tableFor(obj)
}

// Table 按注册名或物理表名查找
// 连接、重连期间等待闸门，InitDefaults/Migrate 中不要调用
func (m *Manager) Table(name string) (*Table, error) {
	reg, err := m.passRegistry(context.Background())
	if err != nil {
		return nil, err
	}
	return reg.table(name)
}

// TableFor 对象所属的表
func (m *Manager) TableFor(obj any) (*Table, error) {
	reg, err := m.passRegistry(context.Background())
	if err != nil {
		return nil, err
	}
	return reg.tableFor(obj)
}

// Tables 当前所有表，顺序与 Schema 中实体的顺序一致
func (m *Manager) Tables() []*Table {
	reg, err := m.passRegistry(context.Background())
	if err != nil {
		return nil
	}
	return append([]*Table(nil), reg.tables...)
}

// ResolveNames 把 SQL 中的 $db.<entity>$、$db.<entity>.<field>$ 替换为物理名
func (m *Manager) ResolveNames(sql string) (string, error) {
	reg, err := m.passRegistry(context.Background())
	if err != nil {
		return "", err
	}
	return reg.resolve(sql)
}

func (m *Manager) CreateObject(ctx context.Context, obj any, opts ...CallOption) error {
	return m.runOn(ctx, "CreateObject", true, obj, opts, func(c *Call, t *Table) error {
		return t.CreateObject(c, obj)
	})
}

func (m *Manager) SaveObject(ctx context.Context, obj any, opts ...CallOption) error {
	return m.runOn(ctx, "SaveObject", true, obj, opts, func(c *Call, t *Table) error {
		return t.SaveObject(c, obj)
	})
}

func (m *Manager) SaveObjectForce(ctx context.Context, obj any, opts ...CallOption) error {
	return m.runOn(ctx, "SaveObjectForce", true, obj, opts, func(c *Call, t *Table) error {
		return t.SaveObjectForce(c, obj)
	})
}

// UpdateAttributes 只更新 attrs 指定的属性
func (m *Manager) UpdateAttributes(ctx context.Context, obj any, attrs []string, opts ...CallOption) error {
	return m.runOn(ctx, "UpdateAttributes", true, obj, opts, func(c *Call, t *Table) error {
		return t.UpdateAttributes(c, obj, attrs...)
	})
}

func (m *Manager) DeleteObject(ctx context.Context, obj any, opts ...CallOption) error {
	return m.runOn(ctx, "DeleteObject", true, obj, opts, func(c *Call, t *Table) error {
		return t.DeleteObject(c, obj)
	})
}

// GetObject 按对象上的主键加载，记录不存在时返回 false
func (m *Manager) GetObject(ctx context.Context, obj any, opts ...CallOption) (bool, error) {
	var found bool
	err := m.runOn(ctx, "GetObject", false, obj, opts, func(c *Call, t *Table) error {
		var err error
		found, err = t.GetObject(c, obj)
		return err
	})
	return found, err
}

// ReloadObject 重新加载，记录不存在时返回 ErrNotFound
func (m *Manager) ReloadObject(ctx context.Context, obj any, opts ...CallOption) error {
	return m.runOn(ctx, "ReloadObject", false, obj, opts, func(c *Call, t *Table) error {
		return t.ReloadObject(c, obj)
	})
}

func (m *Manager) ExistsObject(ctx context.Context, obj any, opts ...CallOption) (bool, error) {
	var exists bool
	err := m.runOn(ctx, "ExistsObject", false, obj, opts, func(c *Call, t *Table) error {
		var err error
		exists, err = t.ExistsObject(c, obj)
		return err
	})
	return exists, err
}

// ObjectChanged 对象与数据库中的记录是否不同
func (m *Manager) ObjectChanged(ctx context.Context, obj any, opts ...CallOption) (bool, error) {
	var changed bool
	err := m.runOn(ctx, "ObjectChanged", false, obj, opts, func(c *Call, t *Table) error {
		var err error
		changed, err = t.ObjectChanged(c, obj)
		return err
	})
	return changed, err
}

// GetByKey 按注册名和主键加载对象，联合主键传 Key，记录不存在时返回 nil
func (m *Manager) GetByKey(ctx context.Context, entity string, key any, opts ...CallOption) (any, error) {
	var out any
	err := m.run(ctx, "GetByKey", false, opts, func(c *Call, reg *registry) error {
		t, err := reg.table(entity)
		if err != nil {
			return err
		}
		obj := t.New()
		found, err := t.getByKey(c, obj, key)
		if found {
			out = obj
		}
		return err
	})
	return out, err
}

// Get 按主键加载 T，联合主键传 Key，记录不存在时返回 nil, nil
func Get[T any](ctx context.Context, m *Manager, key any, opts ...CallOption) (*T, error) {
	var out *T
	err := m.run(ctx, "Get", false, opts, func(c *Call, reg *registry) error {
		obj := new(T)
		t, err := reg.tableFor(obj)
		if err != nil {
			return err
		}
		found, err := t.getByKey(c, obj, key)
		if found {
			out = obj
		}
		return err
	})
	return out, err
}

func (t *Table) getByKey(c *Call, obj any, key any) (bool, error) {
	keys, ok := key.(Key)
	if !ok {
		keys = Key{key}
	}
	if err := t.SetKey(obj, keys...); err != nil {
		return false, err
	}
	return t.GetObject(c, obj)
}

// Query 执行查询，返回的 ResultSet 需要 Close
func (m *Manager) Query(ctx context.Context, q *query.AQuery, opts ...CallOption) (*ResultSet, error) {
	compiled, err := m.dialect.CreateQuery(q)
	if err != nil {
		return nil, errors.WithMessagef(err, "compile query on [%s] failed", q.Entity())
	}
	return m.GetByQualification(ctx, q.Entity(), compiled.Qualification(), compiled.Params, opts...)
}

// GetByQualification 按 where 之后的条件查询，条件中可以使用名称占位符和 $name$ 参数
func (m *Manager) GetByQualification(ctx context.Context, entity string, qualification string, params map[string]any, opts ...CallOption) (*ResultSet, error) {
	var rs *ResultSet
	err := m.observe(ctx, "Query", func(ctx context.Context) error {
		if err := m.gate.pass(ctx, m.options.GateTimeout); err != nil {
			return err
		}
		reg, err := m.registry()
		if err != nil {
			return err
		}
		t, err := reg.table(entity)
		if err != nil {
			return err
		}
		sql, err := reg.resolve(t.SelectSQL(qualification))
		if err != nil {
			return err
		}

		conn, borrowed, release, err := m.acquire(ctx, false, opts)
		if err != nil {
			return err
		}
		c := &Call{Ctx: ctx, Manager: m, Conn: conn}
		rows, err := t.queryRows(c, sql, params)
		if err != nil {
			release()
			return errors.WithMessagef(err, "query [%s] failed", t.name)
		}
		rs = &ResultSet{table: t, call: c, rows: rows, borrowed: borrowed, release: release}
		return nil
	})
	return rs, err
}

// QueryBySQL 执行单表 SELECT，args 依次绑定 ? 参数，投影列被忽略，总是返回完整对象
func (m *Manager) QueryBySQL(ctx context.Context, sql string, args []any, opts ...CallOption) (*ResultSet, error) {
	tr, err := sqlparse.Translate(sql, args...)
	if err != nil {
		return nil, err
	}
	qualification := tr.Qualification()
	if tr.HasLimit() {
		qualification += " " + m.dialect.LimitClause(tr.Offset, tr.Count)
	}
	return m.GetByQualification(ctx, tr.Entity, qualification, tr.Params, opts...)
}

// Find 执行查询并收集所有对象
func Find[T any](ctx context.Context, m *Manager, q *query.AQuery, opts ...CallOption) ([]*T, error) {
	rs, err := m.Query(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []*T
	for rs.Next() {
		obj, ok := rs.Object().(*T)
		if !ok {
			return nil, errors.Wrapf(ErrReflect, "[%s] objects are %T", rs.table.name, rs.Object())
		}
		out = append(out, obj)
	}
	return out, rs.Err()
}

// LockObjects 锁住一组对象，锁键由 Schema.LockKey 决定；返回的 context 用于嵌套加锁
func (m *Manager) LockObjects(ctx context.Context, objs ...any) (context.Context, func(), error) {
	reg, err := m.passRegistry(ctx)
	if err != nil {
		return ctx, func() {}, err
	}
	keys := make([]string, 0, len(objs))
	for _, obj := range objs {
		t, err := reg.tableFor(obj)
		if err != nil {
			return ctx, func() {}, err
		}
		key, err := m.schema.LockKey(t, obj)
		if err != nil {
			return ctx, func() {}, errors.WithMessagef(err, "lock key of [%s]", t.name)
		}
		keys = append(keys, key)
	}
	return m.locks.Lock(ctx, keys...)
}

// Property 读取属性表，不存在时返回空字符串和 false
func (m *Manager) Property(ctx context.Context, name string, opts ...CallOption) (string, bool, error) {
	var value string
	var found bool
	err := m.run(ctx, "Property", false, opts, func(c *Call, reg *registry) error {
		var err error
		value, found, err = m.property(c.Ctx, c.Conn, name)
		return err
	})
	return value, found, err
}

func (m *Manager) SetProperty(ctx context.Context, name string, value string, opts ...CallOption) error {
	return m.run(ctx, "SetProperty", true, opts, func(c *Call, reg *registry) error {
		return m.setProperty(c.Ctx, c.Conn, name, value)
	})
}

// SchemaVersion 库中记录的 schema 版本号
func (m *Manager) SchemaVersion(ctx context.Context, opts ...CallOption) (int, error) {
	value, found, err := m.Property(ctx, propVersion, opts...)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s [%s]", propVersion, value)
	}
	return n, nil
}

// SetSchemaVersion 迁移完成后记录新的版本号
func (m *Manager) SetSchemaVersion(ctx context.Context, version int, opts ...CallOption) error {
	return m.SetProperty(ctx, propVersion, strconv.Itoa(version), opts...)
}
