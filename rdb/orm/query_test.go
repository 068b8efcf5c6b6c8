package orm

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/lock"
	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/hatlonely/goxdb/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func (m *Manager) watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher != nil
}

func createUsers(t *testing.T, m *Manager, users ...*User) {
	for _, u := range users {
		require.NoError(t, m.CreateObject(context.Background(), u))
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	Convey("查询", t, func() {
		m := connectTestManager(t, testSchema(), nil)
		createUsers(t, m,
			&User{Name: "tom", Age: 18},
			&User{Name: "jerry", Age: 25},
			&User{Name: "spike", Age: 30, Color: "blue"},
			&User{Name: "tyke", Age: 40},
		)

		Convey("Find 按条件和排序收集对象", func() {
			users, err := Find[User](ctx, m, query.New("User", query.Ge("age", 20), query.Asc("age")))
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 3)
			So(users[0].Name, ShouldEqual, "jerry")
			So(users[2].Name, ShouldEqual, "tyke")
			So(users[1].Color, ShouldEqual, Color("blue"))
		})

		Convey("组合条件和分页", func() {
			q := query.New("User",
				query.AnyOf(query.Eq("name", "tom"), query.Gt("age", 35)),
				query.Desc("age"),
			)
			users, err := Find[User](ctx, m, q)
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 2)
			So(users[0].Name, ShouldEqual, "tyke")

			q = query.New("User", query.Negate(query.InValues("name", "tom", "jerry")), query.Asc("name"), query.LimitTo(1, 1))
			users, err = Find[User](ctx, m, q)
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 1)
			So(users[0].Name, ShouldEqual, "tyke")

			users, err = Find[User](ctx, m, query.New("User", query.Null("email")))
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 4)
		})

		Convey("ResultSet 逐行填充", func() {
			rs, err := m.Query(ctx, query.New("User", query.Lt("age", 26), query.Asc("name")))
			So(err, ShouldBeNil)
			So(rs.Len(), ShouldEqual, 2)
			So(rs.Table().Name(), ShouldEqual, "User")

			var names []string
			for rs.Next() {
				names = append(names, rs.Object().(*User).Name)
			}
			So(rs.Err(), ShouldBeNil)
			So(names, ShouldResemble, []string{"jerry", "tom"})
			So(rs.Close(), ShouldBeNil)
			So(rs.Close(), ShouldBeNil)
			So(rs.Next(), ShouldBeFalse)
		})

		Convey("SQL 查询", func() {
			rs, err := m.QueryBySQL(ctx, "select name from User where age >= ? order by age desc limit 2", []any{20})
			So(err, ShouldBeNil)
			defer rs.Close()

			var users []*User
			for rs.Next() {
				users = append(users, rs.Object().(*User))
			}
			So(users, ShouldHaveLength, 2)
			So(users[0].Name, ShouldEqual, "tyke")
			So(users[1].Name, ShouldEqual, "spike")
			// 投影被忽略，返回完整对象
			So(users[1].Age, ShouldEqual, 30)
		})

		Convey("按条件字符串查询", func() {
			rs, err := m.GetByQualification(ctx, "user", "$db.User.age$ between $low$ and $high$ order by $db.User.name$", map[string]any{
				"low": 20, "high": 30,
			})
			So(err, ShouldBeNil)
			defer rs.Close()
			So(rs.Len(), ShouldEqual, 2)

			_, err = m.GetByQualification(ctx, "User", "$db.User.unknown$ = 1", nil)
			So(errors.Is(err, ErrUnresolvedName), ShouldBeTrue)

			_, err = m.GetByQualification(ctx, "Order", "1=1", nil)
			So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)
		})

		Convey("对象类型不符", func() {
			_, err := Find[Group](ctx, m, query.New("User"))
			So(errors.Is(err, ErrReflect), ShouldBeTrue)
		})
	})
}

type denyPermissionOptions struct {
	Entity string `cfg:"entity"`
	Name   string `cfg:"name"`
}

// denyPermission 拒绝读取和修改指定名字的对象
type denyPermission struct {
	options *denyPermissionOptions
}

func newDenyPermission(options *denyPermissionOptions) PermissionManager {
	return &denyPermission{options: options}
}

func (p *denyPermission) HasPermission(ctx context.Context, m *Manager, t *Table, conn *database.Connection, obj any, right Right) (bool, error) {
	if t.Name() != p.options.Entity || right == RightCreate || right == RightDelete {
		return true, nil
	}
	f, ok := t.Field("name")
	if !ok {
		return true, nil
	}
	name, err := f.Get(obj)
	if err != nil {
		return false, err
	}
	return name != p.options.Name, nil
}

func TestPermission(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, RegisterPermissionManager("denyPermission", newDenyPermission))

	Convey("权限管理器", t, func() {
		promRegistry := prometheus.NewRegistry()
		m := connectTestManager(t, testSchema(), func(options *ManagerOptions) {
			options.Permission = &ref.TypeOptions{
				Type:    "denyPermission",
				Options: &denyPermissionOptions{Entity: "User", Name: "secret"},
			}
			options.EnableMetrics = true
			options.Registerer = promRegistry
		})
		So(m.PermissionManager(), ShouldNotBeNil)

		alice := &User{Name: "alice", Age: 20}
		secret := &User{Name: "secret", Age: 30}
		createUsers(t, m, alice, secret)

		Convey("单个对象读取返回权限错误", func() {
			_, err := Get[User](ctx, m, secret.ID)
			So(IsAccessDenied(err), ShouldBeTrue)

			var denied *AccessDeniedError
			So(errors.As(err, &denied), ShouldBeTrue)
			So(denied.Right, ShouldEqual, RightRead)
			So(denied.Table, ShouldEqual, "User")

			u, err := Get[User](ctx, m, alice.ID)
			So(err, ShouldBeNil)
			So(u.Name, ShouldEqual, "alice")
		})

		Convey("查询跳过没有权限的行", func() {
			rs, err := m.Query(ctx, query.New("User", query.Asc("age")))
			So(err, ShouldBeNil)
			defer rs.Close()

			var names []string
			for rs.Next() {
				names = append(names, rs.Object().(*User).Name)
			}
			So(rs.Err(), ShouldBeNil)
			So(names, ShouldResemble, []string{"alice"})
			So(rs.Len(), ShouldEqual, 2)
			So(rs.Skipped(), ShouldEqual, 1)
			So(testutil.ToFloat64(m.metrics.deniedRows), ShouldEqual, 1)
		})

		Convey("保存被拒绝时版本号不变", func() {
			So(secret.Version, ShouldEqual, 1)
			secret.Age = 31
			err := m.SaveObject(ctx, secret)
			So(IsAccessDenied(err), ShouldBeTrue)
			So(secret.Version, ShouldEqual, 1)

			So(m.DeleteObject(ctx, secret), ShouldBeNil)
		})

		Convey("替换权限管理器在重连后生效", func() {
			m.SetPermissionManager(nil)
			So(m.Reconnect(ctx), ShouldBeNil)
			u, err := Get[User](ctx, m, secret.ID)
			So(err, ShouldBeNil)
			So(u.Age, ShouldEqual, 30)
		})
	})

	Convey("未注册的权限管理器", t, func() {
		_, err := NewManagerWithOptions(testSchema(), &ManagerOptions{
			ReadWrite:  database.PoolOptions{Driver: database.DriverSQLite3, Database: filepath.Join(t.TempDir(), "orm.db")},
			Permission: &ref.TypeOptions{Type: "notExists"},
		})
		So(errors.Is(err, ref.ErrNotRegistered), ShouldBeTrue)
	})
}

func TestRelations(t *testing.T) {
	ctx := context.Background()

	Convey("关系属性", t, func() {
		m := connectTestManager(t, testSchema(), nil)

		g := &Group{Name: "dev"}
		g.Members.Add(&User{Name: "tom"}, &User{Name: "jerry"})
		changed, err := m.ObjectChanged(ctx, g)
		So(err, ShouldBeNil)
		So(changed, ShouldBeTrue)
		So(m.CreateObject(ctx, g), ShouldBeNil)
		So(g.ID, ShouldNotBeEmpty)

		Convey("创建时写入多值关系", func() {
			members, err := g.Members.Get(ctx)
			So(err, ShouldBeNil)
			So(members, ShouldHaveLength, 2)
			for _, u := range members {
				So(u.GroupID, ShouldEqual, g.ID)
			}

			changed, err := m.ObjectChanged(ctx, g)
			So(err, ShouldBeNil)
			So(changed, ShouldBeFalse)
		})

		Convey("保存时追加成员", func() {
			g.Members.Add(&User{Name: "spike"})
			changed, err := m.ObjectChanged(ctx, g)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)

			members, err := g.Members.Get(ctx)
			So(err, ShouldBeNil)
			So(members, ShouldHaveLength, 3)

			So(m.SaveObject(ctx, g), ShouldBeNil)
			loaded, err := Get[Group](ctx, m, g.ID)
			So(err, ShouldBeNil)
			members, err = loaded.Members.Get(ctx)
			So(err, ShouldBeNil)
			So(members, ShouldHaveLength, 3)
		})

		Convey("单值关系按外键加载", func() {
			users, err := Find[User](ctx, m, query.New("User", query.Eq("name", "tom")))
			So(err, ShouldBeNil)
			So(users, ShouldHaveLength, 1)
			So(users[0].Group.Key(), ShouldEqual, g.ID)

			group, err := users[0].Group.Get(ctx)
			So(err, ShouldBeNil)
			So(group.Name, ShouldEqual, "dev")
		})

		Convey("设置单值关系写入外键", func() {
			ops := &Group{Name: "ops"}
			So(m.CreateObject(ctx, ops), ShouldBeNil)

			u := &User{Name: "tyke"}
			u.Group.Set(ops)
			So(u.Group.IsChanged(), ShouldBeTrue)
			So(m.CreateObject(ctx, u), ShouldBeNil)
			So(u.GroupID, ShouldEqual, ops.ID)
			So(u.Group.Key(), ShouldEqual, ops.ID)
			So(u.Group.IsChanged(), ShouldBeFalse)

			u.Group.Set(nil)
			So(m.SaveObject(ctx, u), ShouldBeNil)
			So(u.GroupID, ShouldBeEmpty)

			loaded, err := Get[User](ctx, m, u.ID)
			So(err, ShouldBeNil)
			group, err := loaded.Group.Get(ctx)
			So(err, ShouldBeNil)
			So(group, ShouldBeNil)
		})
	})
}

func writeFieldFile(t *testing.T, path string, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const tagFields = `
fields:
  - name: id
    type: string
    size: 36
    primary: true
    auto: uuid
  - name: label
    type: string
    size: 40
    index: idx_label
`

const tagFieldsWithWeight = tagFields + `  - name: weight
    type: int
`

func TestDynamicEntity(t *testing.T) {
	ctx := context.Background()

	Convey("动态实体", t, func() {
		m := connectTestManager(t, testSchema(), nil)

		log := NewDynamicObject("AuditLog").
			Set("action", "login").
			Set("status", "failed").
			Set("amount", 12.5)
		So(m.CreateObject(ctx, log), ShouldBeNil)
		id, ok := log.Get("id").(string)
		So(ok, ShouldBeTrue)
		So(id, ShouldNotBeEmpty)

		obj, err := m.GetByKey(ctx, "AuditLog", id)
		So(err, ShouldBeNil)
		loaded := obj.(*DynamicObject)
		So(loaded.Get("action"), ShouldEqual, "login")
		So(loaded.Get("status"), ShouldEqual, "failed")
		So(loaded.Get("amount"), ShouldEqual, 12.5)
		So(loaded.Get("note"), ShouldBeNil)

		changed, err := m.ObjectChanged(ctx, loaded)
		So(err, ShouldBeNil)
		So(changed, ShouldBeFalse)

		loaded.Set("note", "retry later")
		So(m.SaveObject(ctx, loaded), ShouldBeNil)
		rs, err := m.Query(ctx, query.New("AuditLog", query.NotNull("note")))
		So(err, ShouldBeNil)
		So(rs.Next(), ShouldBeTrue)
		So(rs.Object().(*DynamicObject).Get("note"), ShouldEqual, "retry later")
		So(rs.Close(), ShouldBeNil)

		loaded.Set("status", "unknown")
		So(errors.Is(m.SaveObject(ctx, loaded), ErrEnumOrdinal), ShouldBeTrue)

		obj, err = m.GetByKey(ctx, "AuditLog", "not-exists")
		So(err, ShouldBeNil)
		So(obj, ShouldBeNil)

		So(errors.Is(m.CreateObject(ctx, NewDynamicObject("Unknown")), ErrUnknownEntity), ShouldBeTrue)
	})

	Convey("字段定义文件", t, func() {
		path := filepath.Join(t.TempDir(), "tag.yaml")
		writeFieldFile(t, path, tagFields)

		schema := NewSchema("tags", DynamicEntity("Tag", &FileFieldProvider{Path: path}))
		m := connectTestManager(t, schema, nil)

		table, err := m.Table("Tag")
		So(err, ShouldBeNil)
		So(table.Fields(), ShouldHaveLength, 2)
		label, ok := table.Field("label")
		So(ok, ShouldBeTrue)
		So(label.Size(), ShouldEqual, 40)

		tag := NewDynamicObject("Tag").Set("label", "go")
		So(m.CreateObject(ctx, tag), ShouldBeNil)

		Convey("重连后读取新字段", func() {
			writeFieldFile(t, path, tagFieldsWithWeight)
			So(m.Reconnect(ctx), ShouldBeNil)

			table, err := m.Table("Tag")
			So(err, ShouldBeNil)
			So(table.Fields(), ShouldHaveLength, 3)
			_, ok := m.Metadata().Column(table.PhysicalName(), "weight")
			So(ok, ShouldBeTrue)

			obj, err := m.GetByKey(ctx, "Tag", tag.Get("id"))
			So(err, ShouldBeNil)
			So(obj.(*DynamicObject).Get("weight"), ShouldEqual, 0)

			heavy := NewDynamicObject("Tag").Set("label", "rust").Set("weight", 3)
			So(m.CreateObject(ctx, heavy), ShouldBeNil)
			obj, err = m.GetByKey(ctx, "Tag", heavy.Get("id"))
			So(err, ShouldBeNil)
			So(obj.(*DynamicObject).Get("weight"), ShouldEqual, 3)
		})

		Convey("定义文件错误时保留原来的表", func() {
			writeFieldFile(t, path, "fields:\n  - type: int\n")
			So(m.Reconnect(ctx), ShouldNotBeNil)
			So(m.State(), ShouldEqual, StateConnected)
			table, err := m.Table("Tag")
			So(err, ShouldBeNil)
			So(table.Fields(), ShouldHaveLength, 2)
		})
	})

	Convey("监听字段定义文件", t, func() {
		path := filepath.Join(t.TempDir(), "tag.yaml")
		writeFieldFile(t, path, tagFields)

		schema := NewSchema("tags", DynamicEntity("Tag", &FileFieldProvider{Path: path}))
		m := connectTestManager(t, schema, func(options *ManagerOptions) {
			options.WatchFieldFiles = true
		})

		writeFieldFile(t, path, tagFieldsWithWeight)
		var n int
		for i := 0; i < 50; i++ {
			if table, err := m.Table("Tag"); err == nil {
				if n = len(table.Fields()); n == 3 {
					break
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
		So(n, ShouldEqual, 3)
	})

	Convey("断开后不再监听字段定义文件", t, func() {
		path := filepath.Join(t.TempDir(), "tag.yaml")
		writeFieldFile(t, path, tagFields)

		schema := NewSchema("tags", DynamicEntity("Tag", &FileFieldProvider{Path: path}))
		m := connectTestManager(t, schema, func(options *ManagerOptions) {
			options.WatchFieldFiles = true
		})
		So(m.watching(), ShouldBeTrue)

		for i := 0; i < 10; i++ {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.onFieldFileChanged(path)
			}()
			So(m.Disconnect(ctx), ShouldBeNil)
			wg.Wait()
			So(m.State(), ShouldEqual, StateDisconnected)
			So(m.watching(), ShouldBeFalse)

			So(m.Connect(ctx), ShouldBeNil)
			So(m.watching(), ShouldBeTrue)
		}

		So(m.Close(), ShouldBeNil)
		So(m.watching(), ShouldBeFalse)
		m.onFieldFileChanged(path)
		So(m.State(), ShouldEqual, StateDisconnected)
		So(m.watching(), ShouldBeFalse)
	})
}

func TestLockObjects(t *testing.T) {
	ctx := context.Background()

	Convey("对象锁", t, func() {
		m := connectTestManager(t, testSchema(), func(options *ManagerOptions) {
			options.Lock = lock.Options{Timeout: 100 * time.Millisecond}
		})
		tom := &User{Name: "tom"}
		jerry := &User{Name: "jerry"}
		createUsers(t, m, tom, jerry)

		locked, unlock, err := m.LockObjects(ctx, tom, jerry)
		So(err, ShouldBeNil)

		Convey("其他调用者等待超时", func() {
			_, _, err := m.LockObjects(ctx, jerry)
			So(errors.Is(err, lock.ErrTimeout), ShouldBeTrue)
			unlock()

			_, again, err := m.LockObjects(ctx, jerry)
			So(err, ShouldBeNil)
			again()
		})

		Convey("嵌套加锁必须在外层范围内", func() {
			_, inner, err := m.LockObjects(locked, tom)
			So(err, ShouldBeNil)
			inner()

			_, _, err = m.LockObjects(locked, &Group{ID: "g1"})
			So(errors.Is(err, lock.ErrNestedLock), ShouldBeTrue)
			unlock()
		})

		Convey("未注册的对象", func() {
			_, _, err := m.LockObjects(ctx, &Profile{})
			So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)
			unlock()
		})
	})
}

func TestReadOnlyPool(t *testing.T) {
	ctx := context.Background()

	Convey("读操作使用只读连接池", t, func() {
		m := connectTestManager(t, testSchema(), func(options *ManagerOptions) {
			ro := options.ReadWrite
			ro.MaxConns = 2
			options.ReadOnly = &ro
		})
		So(m.ro, ShouldNotBeNil)

		u := &User{Name: "tom", Age: 21}
		So(m.CreateObject(ctx, u), ShouldBeNil)

		conn, err := m.Connection(ctx, false)
		So(err, ShouldBeNil)
		loaded, err := Get[User](ctx, m, u.ID, WithConnection(conn))
		So(err, ShouldBeNil)
		So(loaded.Age, ShouldEqual, 21)
		So(conn.Commit(), ShouldBeNil)
		So(conn.Release(), ShouldBeNil)

		users, err := Find[User](ctx, m, query.New("User"))
		So(err, ShouldBeNil)
		So(users, ShouldHaveLength, 1)
	})
}
