// Package dialect 数据库方言：表结构同步和查询编译
//
// 同步算法在 Base 中实现一次，各数据库只提供 Vendor 钩子：类型映射、
// 元数据读取和 DDL 语句形式。
package dialect

import (
	"context"

	"github.com/hatlonely/goxdb/log"
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/hatlonely/goxdb/ref"
	"github.com/pkg/errors"
)

// ErrUnsupported 没有渲染规则的查询节点或数据库不支持的结构变更
var ErrUnsupported = errors.New("unsupported by dialect")

// Dialect 方言
type Dialect interface {
	Name() string
	NormalizeName(name string) string
	Quote(identifier string) string
	ColumnType(column ColumnDecl) TypeSpec
	Literal(value any) string
	LimitClause(offset, count int) string

	// CreateStructure 依次执行 CreateTables、CreateIndexes、CreateData，返回执行过的 DDL
	CreateStructure(ctx context.Context, decl *Declaration, conn *database.Connection, bundle *MetadataBundle, cleanup bool) ([]string, error)
	CreateTables(ctx context.Context, decl *Declaration, conn *database.Connection, cleanup bool) ([]string, error)
	CreateIndexes(ctx context.Context, decl *Declaration, conn *database.Connection, cleanup bool) ([]string, error)
	CreateData(ctx context.Context, decl *Declaration, conn *database.Connection)
	ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error)

	// CreateQuery 把查询编译为带占位符的条件
	CreateQuery(q *query.AQuery) (*Compiled, error)
}

// Vendor 各数据库的差异部分
type Vendor interface {
	Name() string
	Quote(identifier string) string
	MaxNameLength() int
	ColumnType(column ColumnDecl) TypeSpec
	Literal(value any) string
	LimitClause(offset, count int) string
	Concat(parts []string) string

	// ReadSchema 读取当前库中所有表，键为小写表名
	ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error)

	// InlinePrimaryKey 为 true 时主键写在 CREATE TABLE 中
	InlinePrimaryKey() bool
	// 以下返回 nil 表示不支持该变更
	AddColumn(table string, column ColumnDecl, definition string) []string
	AlterColumnType(table string, column ColumnDecl, definition string) []string
	AlterColumnDefault(table string, column ColumnDecl, defaultLiteral *string) []string
	DropColumn(table string, column string) []string
	AddPrimaryKey(table string, columns []string) []string
	DropPrimaryKey(table string, live *LiveTable) []string
	DropIndex(table string, index string) []string
}

const namespace = "github.com/hatlonely/goxdb/rdb/dialect"

func init() {
	ref.MustRegister(namespace, database.DriverMySQL, NewMySQL)
	ref.MustRegister(namespace, database.DriverPostgres, NewPostgres)
	ref.MustRegister(namespace, database.DriverSQLite3, NewSQLite)
}

// Register 注册新的数据库厂商
func Register(name string, newVendor func() Vendor) error {
	return ref.Register(namespace, name, newVendor)
}

// New 按驱动名创建方言
func New(name string, l logger.Logger) (Dialect, error) {
	vendor, err := ref.NewWithOptions[Vendor](&ref.TypeOptions{Namespace: namespace, Type: name})
	if err != nil {
		return nil, errors.WithMessagef(err, "unknown dialect [%s]", name)
	}
	return NewBase(vendor, l), nil
}

// NewBase 用厂商钩子构造通用方言
func NewBase(vendor Vendor, l logger.Logger) *Base {
	if l == nil {
		l = log.Default()
	}
	return &Base{
		vendor: vendor,
		logger: l.WithGroup("dialect").With("vendor", vendor.Name()),
	}
}
