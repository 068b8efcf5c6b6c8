package dialect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/stretchr/testify/require"
)

var (
	mysqlColumnHeader = []string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "CHARACTER_MAXIMUM_LENGTH", "IS_NULLABLE", "COLUMN_DEFAULT"}
	mysqlIndexHeader  = []string{"TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "COLUMN_NAME"}
)

func newMockConnection(t *testing.T, dsn string, driver string) (*database.Connection, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	pool, err := database.NewPoolWithOptions(&database.PoolOptions{
		Driver:     driver,
		DriverName: "sqlmock",
		DSN:        dsn,
		MaxConns:   1,
	})
	require.NoError(t, err)

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Release()
		_ = pool.Close()
		_ = db.Close()
	})
	return conn, mock
}

func TestMySQLCreateTables(t *testing.T) {
	ctx := context.Background()
	decl := &Declaration{Tables: []TableDecl{{
		Name: "user",
		Columns: []ColumnDecl{
			{Name: "name", Type: TypeString, Size: 80, Primary: true},
			{Name: "tenant", Type: TypeLong, Primary: true},
			{Name: "age", Type: TypeInt, Default: 18},
			{Name: "bio", Type: TypeText, Nullable: true},
		},
	}}}

	t.Run("create", func(t *testing.T) {
		conn, mock := newMockConnection(t, "mysql_create", database.DriverMySQL)
		mock.ExpectBegin()
		mock.ExpectQuery(mysqlColumnsSQL).WillReturnRows(sqlmock.NewRows(mysqlColumnHeader))
		mock.ExpectQuery(mysqlIndexesSQL).WillReturnRows(sqlmock.NewRows(mysqlIndexHeader))
		mock.ExpectExec("create table `user` (`name` varchar(80) not null, `tenant` bigint not null, `age` int default 18 not null, `bio` longtext)").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` add primary key (`name`, `tenant`)").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		d, err := New(database.DriverMySQL, nil)
		require.NoError(t, err)
		executed, err := d.CreateTables(ctx, decl, conn, false)
		require.NoError(t, err)
		require.Len(t, executed, 2)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("converged", func(t *testing.T) {
		conn, mock := newMockConnection(t, "mysql_converged", database.DriverMySQL)
		mock.ExpectBegin()
		mock.ExpectQuery(mysqlColumnsSQL).WillReturnRows(sqlmock.NewRows(mysqlColumnHeader).
			AddRow("user", "name", "varchar", 80, "NO", nil).
			AddRow("user", "tenant", "bigint", nil, "NO", nil).
			AddRow("user", "age", "int", nil, "NO", "18").
			AddRow("user", "bio", "longtext", 4294967295, "YES", nil))
		mock.ExpectQuery(mysqlIndexesSQL).WillReturnRows(sqlmock.NewRows(mysqlIndexHeader).
			AddRow("user", "PRIMARY", 0, "tenant").
			AddRow("user", "PRIMARY", 0, "name"))
		mock.ExpectCommit()

		d, err := New(database.DriverMySQL, nil)
		require.NoError(t, err)
		executed, err := d.CreateTables(ctx, decl, conn, true)
		require.NoError(t, err)
		require.Empty(t, executed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("alter", func(t *testing.T) {
		conn, mock := newMockConnection(t, "mysql_alter", database.DriverMySQL)
		mock.ExpectBegin()
		mock.ExpectQuery(mysqlColumnsSQL).WillReturnRows(sqlmock.NewRows(mysqlColumnHeader).
			AddRow("user", "name", "varchar", 40, "NO", nil).
			AddRow("user", "age", "int", nil, "NO", "0").
			AddRow("user", "legacy", "int", nil, "YES", nil))
		mock.ExpectQuery(mysqlIndexesSQL).WillReturnRows(sqlmock.NewRows(mysqlIndexHeader).
			AddRow("user", "PRIMARY", 0, "name"))
		mock.ExpectExec("alter table `user` modify column `name` varchar(80) not null").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` add column `tenant` bigint not null").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` alter column `age` set default 18").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` add column `bio` longtext").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` drop column `legacy`").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` drop primary key").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("alter table `user` add primary key (`name`, `tenant`)").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		d, err := New(database.DriverMySQL, nil)
		require.NoError(t, err)
		executed, err := d.CreateTables(ctx, decl, conn, true)
		require.NoError(t, err)
		require.Len(t, executed, 7)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresIndexes(t *testing.T) {
	ctx := context.Background()
	conn, mock := newMockConnection(t, "postgres_indexes", database.DriverPostgres)

	decl := &Declaration{Tables: []TableDecl{{
		Name:    "user",
		Columns: []ColumnDecl{{Name: "name", Type: TypeString, Size: 80, Primary: true}, {Name: "email", Type: TypeString}},
		Indexes: []IndexDecl{{Name: "user_email", Columns: []string{"email"}, Unique: true}},
	}}}

	mock.ExpectBegin()
	mock.ExpectQuery(postgresTablesSQL).WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("user"))
	mock.ExpectQuery(postgresColumnsSQL).WillReturnRows(sqlmock.NewRows(
		[]string{"table_name", "column_name", "udt_name", "character_maximum_length", "is_nullable", "column_default"}).
		AddRow("user", "name", "varchar", 80, "NO", nil).
		AddRow("user", "email", "varchar", 255, "NO", nil))
	mock.ExpectQuery(postgresIndexesSQL).WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "index_name", "is_unique", "is_primary", "column_name"}).
			AddRow("user", "user_pkey", true, true, "name").
			AddRow("user", "user_email", false, false, "email"))
	mock.ExpectExec(`drop index "user_email"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create unique index "user_email" on "user" ("email")`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	d, err := New(database.DriverPostgres, nil)
	require.NoError(t, err)
	executed, err := d.CreateIndexes(ctx, decl, conn, false)
	require.NoError(t, err)
	require.Equal(t, []string{`drop index "user_email"`, `create unique index "user_email" on "user" ("email")`}, executed)
	require.NoError(t, mock.ExpectationsWereMet())
}
