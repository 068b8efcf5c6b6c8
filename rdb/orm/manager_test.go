package orm

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hatlonely/goxdb/log/logger"
	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
	"github.com/hatlonely/goxdb/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type Profile struct {
	City    string
	Hobbies []string
	Scores  map[string]int
}

type Group struct {
	ID      string         `rdb:"id,primary,size=36,auto=uuid"`
	Name    string         `rdb:"name,size=40,unique"`
	Members RelMulti[User] `rdb:"rel=groupID"`
}

type User struct {
	ID        string           `rdb:"id,primary,size=36,auto=uuid"`
	Name      string           `rdb:"name,size=10"`
	Age       int              `rdb:"age,default=18"`
	Email     *string          `rdb:"email,size=120"`
	Color     Color            `rdb:"color,default=red"`
	Level     Level            `rdb:"level"`
	Profile   Profile          `rdb:"profile"`
	GroupID   string           `rdb:"group_id,size=36,index"`
	Group     RelSingle[Group] `rdb:"rel=groupID"`
	Version   int64            `rdb:"version,vstamp"`
	Nick      string           `rdb:"nick,virtual"`
	Remark    string           `rdb:"remark,technical"`
	CreatedAt time.Time        `rdb:"created_at,auto=now,readonly"`
}

type OrderLine struct {
	OrderID string `rdb:"order_id,primary,size=36"`
	LineNo  int    `rdb:"line_no,primary"`
	Sku     string `rdb:"sku,size=40,index=idx_sku_qty"`
	Qty     int    `rdb:"qty,index=idx_sku_qty"`
}

type Ticket struct {
	ID    int64            `rdb:"id,primary,auto=snowflake"`
	Title string           `rdb:"title,type=text"`
	Attrs *structpb.Struct `rdb:"attrs"`
}

func testEntities() []*EntityType {
	return []*EntityType{
		Entity[Group](),
		Entity[User](),
		Entity[OrderLine](),
		Entity[Ticket](),
		DynamicEntity("AuditLog", StaticFields{
			{Name: "id", Type: "string", Size: 36, Primary: true, Auto: "uuid"},
			{Name: "action", Type: "string", Size: 40, Index: "-"},
			{Name: "status", Enum: []string{"ok", "failed"}},
			{Name: "amount", Type: "float"},
			{Name: "note", Type: "text", Nullable: true},
		}),
	}
}

func testSchema() *BaseSchema {
	s := NewSchema("test", testEntities()...)
	s.Prefix = "app_"
	return s
}

func testOptions(t *testing.T) *ManagerOptions {
	return &ManagerOptions{
		ReadWrite: database.PoolOptions{
			Driver:   database.DriverSQLite3,
			Database: filepath.Join(t.TempDir(), "orm.db"),
			Params:   map[string]string{"_busy_timeout": "5000", "_journal_mode": "WAL"},
			MaxConns: 4,
		},
		GateTimeout: 5 * time.Second,
		Logger:      &logger.SLogOptions{Level: "error", Output: "discard"},
	}
}

func newTestManager(t *testing.T, schema Schema, modify func(options *ManagerOptions)) *Manager {
	options := testOptions(t)
	if modify != nil {
		modify(options)
	}
	m, err := NewManagerWithOptions(schema, options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func connectTestManager(t *testing.T, schema Schema, modify func(options *ManagerOptions)) *Manager {
	m := newTestManager(t, schema, modify)
	require.NoError(t, m.Connect(context.Background()))
	return m
}

// versionedSchema 记录 InitDefaults 和 Migrate 的调用
type versionedSchema struct {
	*BaseSchema
	target     int
	defaults   int
	migrations []int
	failWith   error
}

func (s *versionedSchema) InitDefaults(ctx context.Context, m *Manager, conn *database.Connection) error {
	s.defaults++
	return m.CreateObject(ctx, &Group{ID: "g-default", Name: "default"}, WithConnection(conn))
}

func (s *versionedSchema) Migrate(ctx context.Context, m *Manager, conn *database.Connection, version int) error {
	s.migrations = append(s.migrations, version)
	if s.failWith != nil {
		return s.failWith
	}
	if version < s.target {
		return m.SetSchemaVersion(ctx, s.target, WithConnection(conn))
	}
	return nil
}

// blockingSchema 在 Migrate 中等待放行
type blockingSchema struct {
	*BaseSchema
	started chan struct{}
	proceed chan struct{}
	inside  error
}

func (s *blockingSchema) Migrate(ctx context.Context, m *Manager, conn *database.Connection, version int) error {
	close(s.started)
	<-s.proceed
	s.inside = m.CreateObject(ctx, &Group{ID: "g-migrate", Name: "migrate"}, WithConnection(conn))
	return s.inside
}

func TestManagerOptions(t *testing.T) {
	Convey("构造管理器", t, func() {
		Convey("参数检查", func() {
			_, err := NewManagerWithOptions(nil, testOptions(t))
			So(err, ShouldNotBeNil)

			_, err = NewManagerWithOptions(testSchema(), nil)
			So(err, ShouldNotBeNil)

			options := testOptions(t)
			options.ReadWrite.Driver = "oracle"
			_, err = NewManagerWithOptions(testSchema(), options)
			So(err, ShouldNotBeNil)
		})

		Convey("缺省值", func() {
			options := testOptions(t)
			options.GateTimeout = 0
			m, err := NewManagerWithOptions(testSchema(), options)
			So(err, ShouldBeNil)
			defer m.Close()

			So(m.options.GateTimeout, ShouldEqual, 10*time.Minute)
			So(m.options.Name, ShouldEqual, "goxdb")
			So(m.State(), ShouldEqual, StateDisconnected)
			So(m.Dialect().Name(), ShouldEqual, database.DriverSQLite3)
			So(m.Tables(), ShouldBeNil)
		})

		Convey("按类型名创建主键生成器", func() {
			m := newTestManager(t, testSchema(), func(options *ManagerOptions) {
				options.StrKeyGenerator = &ref.TypeOptions{Type: "UUIDGenerator", Options: map[string]any{"version": "v4", "withoutHyphens": true}}
				options.IntKeyGenerator = &ref.TypeOptions{Type: "SnowflakeGenerator", Options: map[string]any{"machineID": 7}}
			})
			So(m.strKeys.Generate(), ShouldHaveLength, 32)
			So((m.intKeys.Generate()>>12)&0x3ff, ShouldEqual, 7)

			_, err := NewManagerWithOptions(testSchema(), func() *ManagerOptions {
				options := testOptions(t)
				options.StrKeyGenerator = &ref.TypeOptions{Type: "NotExists"}
				return options
			}())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("连接生命周期", t, func() {
		m := newTestManager(t, testSchema(), nil)

		Convey("连接前的操作返回 ErrNotConnected", func() {
			err := m.CreateObject(ctx, &Group{Name: "dev"})
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
			_, err = m.Table("User")
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
		})

		Convey("连接后可以按注册名和物理名查找表", func() {
			So(m.Connect(ctx), ShouldBeNil)
			So(m.State(), ShouldEqual, StateConnected)
			So(m.State().String(), ShouldEqual, "connected")
			So(m.Connect(ctx), ShouldBeNil)

			So(len(m.Tables()), ShouldEqual, 5)
			table, err := m.Table("user")
			So(err, ShouldBeNil)
			So(table.Name(), ShouldEqual, "User")
			So(table.OriginalName(), ShouldEqual, "app_user")
			So(table.PhysicalName(), ShouldEqual, "app_user")

			byPhysical, err := m.Table("app_user")
			So(err, ShouldBeNil)
			So(byPhysical, ShouldEqual, table)

			byObject, err := m.TableFor(&User{})
			So(err, ShouldBeNil)
			So(byObject, ShouldEqual, table)

			_, err = m.Table("Order")
			So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)
			_, err = m.TableFor(&Profile{})
			So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)

			So(m.Metadata().Table("app_properties"), ShouldNotBeEmpty)
			meta, ok := m.Metadata().Column("app_user", "id")
			So(ok, ShouldBeTrue)
			So(meta.Is(dialect.CategoryPrimary), ShouldBeTrue)
			meta, ok = m.Metadata().Column("app_user", "group_id")
			So(ok, ShouldBeTrue)
			So(meta.Is(dialect.CategoryIndexed), ShouldBeTrue)
			meta, ok = m.Metadata().Column("app_group", "name")
			So(ok, ShouldBeTrue)
			So(meta.Is(dialect.CategoryUnique), ShouldBeTrue)
			_, ok = m.Metadata().Column("app_user", "nick")
			So(ok, ShouldBeFalse)
		})

		Convey("断开后操作失败，再次连接恢复", func() {
			So(m.Connect(ctx), ShouldBeNil)
			g := &Group{Name: "dev"}
			So(m.CreateObject(ctx, g), ShouldBeNil)

			So(m.Disconnect(ctx), ShouldBeNil)
			So(m.State(), ShouldEqual, StateDisconnected)
			_, err := Get[Group](ctx, m, g.ID)
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)

			So(m.Connect(ctx), ShouldBeNil)
			got, err := Get[Group](ctx, m, g.ID)
			So(err, ShouldBeNil)
			So(got.Name, ShouldEqual, "dev")
		})

		Convey("关闭后不能再连接", func() {
			So(m.Connect(ctx), ShouldBeNil)
			So(m.Close(), ShouldBeNil)
			So(m.Close(), ShouldBeNil)
			So(errors.Is(m.Connect(ctx), ErrClosed), ShouldBeTrue)
		})

		Convey("重连重新读取实体列表", func() {
			var calls atomic.Int32
			s := &BaseSchema{SchemaName: "test", Prefix: "app_", Entities: func() []*EntityType {
				calls.Add(1)
				return testEntities()
			}}
			m := connectTestManager(t, s, nil)
			So(calls.Load(), ShouldEqual, 1)

			before, err := m.Table("User")
			So(err, ShouldBeNil)
			So(m.Reconnect(ctx), ShouldBeNil)
			So(calls.Load(), ShouldEqual, 2)

			after, err := m.Table("User")
			So(err, ShouldBeNil)
			So(after == before, ShouldBeFalse)
		})
	})

	Convey("实体定义错误时连接失败", t, func() {
		type noKey struct {
			Name string `rdb:"name"`
		}
		type badAuto struct {
			ID  string `rdb:"id,primary"`
			Seq string `rdb:"seq,auto=snowflake"`
		}
		type virtualKey struct {
			ID string `rdb:"id,primary,virtual"`
		}
		type missingRel struct {
			ID    string           `rdb:"id,primary"`
			Group RelSingle[Group] `rdb:"rel=groupID"`
		}

		for _, e := range []*EntityType{Entity[noKey](), Entity[badAuto](), Entity[virtualKey](), Entity[missingRel]()} {
			m := newTestManager(t, NewSchema("bad", Entity[Group](), Entity[User](), e), nil)
			err := m.Connect(ctx)
			So(errors.Is(err, ErrInvalidEntity), ShouldBeTrue)
			So(m.State(), ShouldEqual, StateDisconnected)
			So(m.Tables(), ShouldBeNil)
		}

		m := newTestManager(t, NewSchema("dup", Entity[Group](), Entity[Group](WithTable("group2"))), nil)
		So(errors.Is(m.Connect(ctx), ErrInvalidEntity), ShouldBeTrue)
	})
}

func TestMigration(t *testing.T) {
	ctx := context.Background()

	Convey("版本迁移", t, func() {
		path := filepath.Join(t.TempDir(), "migrate.db")
		usePath := func(options *ManagerOptions) {
			options.ReadWrite.Database = path
		}
		s := &versionedSchema{BaseSchema: testSchema(), target: 2}

		m := connectTestManager(t, s, usePath)
		So(s.defaults, ShouldEqual, 1)
		So(s.migrations, ShouldResemble, []int{0})

		version, err := m.SchemaVersion(ctx)
		So(err, ShouldBeNil)
		So(version, ShouldEqual, 2)

		managerVersion, found, err := m.Property(ctx, "db.manager.version")
		So(err, ShouldBeNil)
		So(found, ShouldBeTrue)
		So(managerVersion, ShouldEqual, ManagerVersion)

		created, found, err := m.Property(ctx, "db.created")
		So(err, ShouldBeNil)
		So(found, ShouldBeTrue)
		_, err = time.Parse(time.RFC3339, created)
		So(err, ShouldBeNil)

		_, found, err = m.Property(ctx, "not.exists")
		So(err, ShouldBeNil)
		So(found, ShouldBeFalse)

		g, err := Get[Group](ctx, m, "g-default")
		So(err, ShouldBeNil)
		So(g.Name, ShouldEqual, "default")

		Convey("已有库不再初始化默认数据", func() {
			So(m.Close(), ShouldBeNil)

			s.target = 3
			m2 := connectTestManager(t, s, usePath)
			So(s.defaults, ShouldEqual, 1)
			So(s.migrations, ShouldResemble, []int{0, 2})

			version, err := m2.SchemaVersion(ctx)
			So(err, ShouldBeNil)
			So(version, ShouldEqual, 3)
		})

		Convey("属性可以覆盖", func() {
			So(m.SetProperty(ctx, "app.owner", "tom"), ShouldBeNil)
			So(m.SetProperty(ctx, "app.owner", "jerry"), ShouldBeNil)
			owner, _, err := m.Property(ctx, "app.owner")
			So(err, ShouldBeNil)
			So(owner, ShouldEqual, "jerry")
		})

		Convey("迁移失败时重连保留原来的表", func() {
			before, err := m.Table("User")
			So(err, ShouldBeNil)

			s.failWith = errors.New("broken migration")
			err = m.Reconnect(ctx)
			So(err, ShouldNotBeNil)
			So(m.State(), ShouldEqual, StateConnected)

			after, err := m.Table("User")
			So(err, ShouldBeNil)
			So(after, ShouldEqual, before)
			s.failWith = nil
		})
	})

	Convey("首次连接迁移失败", t, func() {
		s := &versionedSchema{BaseSchema: testSchema(), failWith: errors.New("broken migration")}
		m := newTestManager(t, s, nil)
		So(m.Connect(ctx), ShouldNotBeNil)
		So(m.State(), ShouldEqual, StateDisconnected)
		So(m.Tables(), ShouldBeNil)
	})
}

func TestInitializationGate(t *testing.T) {
	ctx := context.Background()

	Convey("迁移期间其他调用等待闸门", t, func() {
		s := &blockingSchema{BaseSchema: testSchema(), started: make(chan struct{}), proceed: make(chan struct{})}
		m := newTestManager(t, s, nil)

		connected := make(chan error, 1)
		go func() {
			connected <- m.Connect(ctx)
		}()
		<-s.started
		So(m.State(), ShouldEqual, StateConnecting)

		fetched := make(chan error, 1)
		go func() {
			g, err := Get[Group](ctx, m, "g-migrate")
			if err == nil && g == nil {
				err = errors.New("group created in migration not visible")
			}
			fetched <- err
		}()

		early := false
		select {
		case err := <-fetched:
			early = true
			fetched <- err
		case <-time.After(100 * time.Millisecond):
		}
		So(early, ShouldBeFalse)

		close(s.proceed)
		So(<-connected, ShouldBeNil)
		So(s.inside, ShouldBeNil)
		So(<-fetched, ShouldBeNil)
	})

	Convey("等待闸门超时", t, func() {
		s := &blockingSchema{BaseSchema: testSchema(), started: make(chan struct{}), proceed: make(chan struct{})}
		m := newTestManager(t, s, func(options *ManagerOptions) {
			options.GateTimeout = 50 * time.Millisecond
		})

		connected := make(chan error, 1)
		go func() {
			connected <- m.Connect(ctx)
		}()
		<-s.started

		_, err := Get[Group](ctx, m, "g-migrate")
		So(errors.Is(err, ErrGateTimeout), ShouldBeTrue)

		close(s.proceed)
		So(<-connected, ShouldBeNil)
	})

	Convey("查表和对象锁同样等待闸门", t, func() {
		m := connectTestManager(t, testSchema(), func(options *ManagerOptions) {
			options.GateTimeout = 50 * time.Millisecond
		})
		tom := &User{Name: "tom"}
		So(m.CreateObject(ctx, tom), ShouldBeNil)

		_, release, err := m.gate.enter(ctx, "Reconnect", time.Second)
		So(err, ShouldBeNil)

		_, err = m.Table("User")
		So(errors.Is(err, ErrGateTimeout), ShouldBeTrue)
		_, err = m.TableFor(tom)
		So(errors.Is(err, ErrGateTimeout), ShouldBeTrue)
		_, err = m.ResolveNames("select * from $db.User$")
		So(errors.Is(err, ErrGateTimeout), ShouldBeTrue)
		So(m.Tables(), ShouldBeNil)
		_, _, err = m.LockObjects(ctx, tom)
		So(errors.Is(err, ErrGateTimeout), ShouldBeTrue)

		release()
		_, err = m.Table("User")
		So(err, ShouldBeNil)
		So(m.Tables(), ShouldNotBeEmpty)
		_, unlock, err := m.LockObjects(ctx, tom)
		So(err, ShouldBeNil)
		unlock()
	})
}

func TestDataSteps(t *testing.T) {
	ctx := context.Background()

	Convey("初始化数据步骤解析名称占位符", t, func() {
		s := testSchema()
		s.Data = []dialect.DataStep{
			{
				Name:       "admin group",
				Select:     "select 1 from $db.Group$ where $db.Group.name$ = 'admin'",
				OnNotFound: []string{"insert into $db.Group$ ($db.Group.id$, $db.Group.name$) values ('g-admin', 'admin')"},
			},
			{
				Name:       "unknown entity",
				OnNotFound: []string{"insert into $db.Order$ (id) values ('x')"},
			},
		}
		m := connectTestManager(t, s, nil)

		g, err := Get[Group](ctx, m, "g-admin")
		So(err, ShouldBeNil)
		So(g, ShouldNotBeNil)
		So(g.Name, ShouldEqual, "admin")

		update, err := m.ResolveNames("update $db.Group$ set $db.Group.name$ = $name$ where $db.Group.id$ = 'g-admin'")
		So(err, ShouldBeNil)
		So(update, ShouldEqual, `update "app_group" set "name" = $name$ where "id" = 'g-admin'`)
		for _, name := range []string{"root", "admin"} {
			conn, err := m.Connection(ctx, true)
			So(err, ShouldBeNil)
			n, err := conn.Exec(ctx, strings.Replace(update, "$name$", "'"+name+"'", 1))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(conn.Commit(), ShouldBeNil)
			So(conn.Release(), ShouldBeNil)
			So(m.ReloadObject(ctx, g), ShouldBeNil)
			So(g.Name, ShouldEqual, name)
		}

		So(m.Reconnect(ctx), ShouldBeNil)
		rs, err := m.GetByQualification(ctx, "Group", "$db.Group.name$ = $name$", map[string]any{"name": "admin"})
		So(err, ShouldBeNil)
		defer rs.Close()
		So(rs.Len(), ShouldEqual, 1)
	})
}

func TestManagerMetrics(t *testing.T) {
	ctx := context.Background()

	Convey("操作指标", t, func() {
		registry := prometheus.NewRegistry()
		m := connectTestManager(t, testSchema(), func(options *ManagerOptions) {
			options.Name = "ormtest"
			options.EnableMetrics = true
			options.EnableTracing = true
			options.Registerer = registry
		})

		So(m.CreateObject(ctx, &Group{Name: "dev"}), ShouldBeNil)
		_, err := Get[Group](ctx, m, "not-exists")
		So(err, ShouldBeNil)
		So(m.SaveObject(ctx, &Group{ID: "not-exists", Name: "x"}), ShouldNotBeNil)

		So(testutil.ToFloat64(m.metrics.operationCounter.WithLabelValues("Connect", "success")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.metrics.operationCounter.WithLabelValues("CreateObject", "success")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.metrics.operationCounter.WithLabelValues("Get", "success")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.metrics.operationCounter.WithLabelValues("SaveObject", "error")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.metrics.activeOperations.WithLabelValues("CreateObject")), ShouldEqual, 0)

		Convey("同名指标复用已注册的收集器", func() {
			m2 := newTestManager(t, testSchema(), func(options *ManagerOptions) {
				options.Name = "ormtest"
				options.EnableMetrics = true
				options.Registerer = registry
			})
			So(m2.metrics.operationCounter, ShouldEqual, m.metrics.operationCounter)
		})
	})
}
