package dialect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hatlonely/goxdb/rdb/database"
	. "github.com/smartystreets/goconvey/convey"
)

func newSQLiteConnection(t *testing.T) *database.Connection {
	pool, err := database.NewPoolWithOptions(&database.PoolOptions{
		Driver:   database.DriverSQLite3,
		Database: filepath.Join(t.TempDir(), "dialect.db"),
		Params:   map[string]string{"_busy_timeout": "5000"},
		MaxConns: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = conn.Release()
		_ = pool.Close()
	})
	return conn
}

func userDeclaration() *Declaration {
	return &Declaration{
		Tables: []TableDecl{{
			Name: "user",
			Columns: []ColumnDecl{
				{Name: "name", Type: TypeString, Size: 80, Primary: true},
				{Name: "age", Type: TypeInt, Default: 0},
				{Name: "email", Type: TypeString, Size: 120, Nullable: true},
				{Name: "nick", Type: TypeString, Size: 20, Virtual: true},
			},
			Indexes: []IndexDecl{
				{Name: "user_email", Columns: []string{"email"}, Unique: true},
			},
		}},
	}
}

func countRows(t *testing.T, conn *database.Connection, sql string) int64 {
	res, err := conn.Query(context.Background(), sql)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if !res.Next() {
		t.Fatal("no rows")
	}
	n, err := res.GetInt64("n")
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestSQLiteCreateStructure(t *testing.T) {
	Convey("SQLite 表结构同步", t, func() {
		ctx := context.Background()
		conn := newSQLiteConnection(t)
		d, err := New("sqlite3", nil)
		So(err, ShouldBeNil)
		bundle := NewMetadataBundle()

		executed, err := d.CreateStructure(ctx, userDeclaration(), conn, bundle, false)
		So(err, ShouldBeNil)
		So(executed, ShouldResemble, []string{
			`create table "user" ("name" varchar(80) not null, "age" integer default 0 not null, "email" varchar(120), primary key ("name"))`,
			`create unique index "user_email" on "user" ("email")`,
		})

		Convey("重复同步不再执行任何 DDL", func() {
			executed, err := d.CreateStructure(ctx, userDeclaration(), conn, bundle, true)
			So(err, ShouldBeNil)
			So(executed, ShouldBeEmpty)
		})

		Convey("元数据镜像", func() {
			So(bundle.Tables(), ShouldResemble, []string{"user"})
			name, ok := bundle.Column("user", "name")
			So(ok, ShouldBeTrue)
			So(name.Is(CategoryPrimary), ShouldBeTrue)
			So(name.Type, ShouldEqual, "varchar")
			So(name.Size, ShouldEqual, 80)
			email, ok := bundle.Column("USER", "email")
			So(ok, ShouldBeTrue)
			So(email.Is(CategoryUnique), ShouldBeTrue)
			So(email.Is(CategoryNullable), ShouldBeTrue)
			_, ok = bundle.Column("user", "nick")
			So(ok, ShouldBeFalse)
		})

		Convey("新增列和删除多余的列", func() {
			decl := userDeclaration()
			decl.Tables[0].Columns = append(decl.Tables[0].Columns,
				ColumnDecl{Name: "score", Type: TypeFloat},
				ColumnDecl{Name: "level", Type: TypeInt, Default: 1},
			)
			executed, err := d.CreateTables(ctx, decl, conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldResemble, []string{
				`alter table "user" add column "score" real`,
				`alter table "user" add column "level" integer default 1 not null`,
			})

			executed, err = d.CreateTables(ctx, userDeclaration(), conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldBeEmpty)

			executed, err = d.CreateTables(ctx, userDeclaration(), conn, true)
			So(err, ShouldBeNil)
			So(executed, ShouldResemble, []string{
				`alter table "user" drop column "score"`,
				`alter table "user" drop column "level"`,
			})
		})

		Convey("类型、默认值和主键的变化被跳过", func() {
			decl := userDeclaration()
			decl.Tables[0].Columns[1] = ColumnDecl{Name: "age", Type: TypeLong, Default: 5}
			decl.Tables[0].Columns[2].Primary = true
			executed, err := d.CreateTables(ctx, decl, conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldBeEmpty)
		})

		Convey("索引唯一性变化和列变化时重建", func() {
			decl := userDeclaration()
			decl.Tables[0].Indexes[0].Unique = false
			executed, err := d.CreateIndexes(ctx, decl, conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldResemble, []string{
				`drop index "user_email"`,
				`create index "user_email" on "user" ("email")`,
			})

			decl.Tables[0].Indexes[0].Columns = []string{"email", "age"}
			executed, err = d.CreateIndexes(ctx, decl, conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldResemble, []string{
				`drop index "user_email"`,
				`create index "user_email" on "user" ("email", "age")`,
			})

			decl.Tables[0].Indexes = append(decl.Tables[0].Indexes, IndexDecl{Name: "user_age", Columns: []string{"age"}})
			executed, err = d.CreateIndexes(ctx, decl, conn, false)
			So(err, ShouldBeNil)
			So(executed, ShouldResemble, []string{`create index "user_age" on "user" ("age")`})

			executed, err = d.CreateIndexes(ctx, userDeclaration(), conn, true)
			So(err, ShouldBeNil)
			So(executed, ShouldContain, `drop index "user_age"`)
		})

		Convey("初始化数据失败只记录日志", func() {
			decl := userDeclaration()
			decl.Data = []DataStep{
				{
					Name:       "admin",
					Select:     `select 1 from "user" where "name" = $name$`,
					Params:     map[string]any{"name": "admin"},
					OnNotFound: []string{`insert into "user" ("name", "age") values ($name$, 30)`},
				},
				{
					Name:    "broken",
					Select:  `select * from "missing"`,
					OnError: []string{`insert into "missing" values (1)`, `insert into "user" ("name") values ('fallback')`},
				},
			}
			d.CreateData(ctx, decl, conn)
			d.CreateData(ctx, decl, conn)
			So(conn.Commit(), ShouldBeNil)

			So(countRows(t, conn, `select count(*) as n from "user" where "name" = 'admin'`), ShouldEqual, 1)
			So(countRows(t, conn, `select count(*) as n from "user" where "name" = 'fallback'`), ShouldEqual, 1)
		})
	})
}
