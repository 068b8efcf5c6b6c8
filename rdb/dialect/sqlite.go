package dialect

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/database"
)

// SQLite 厂商钩子
//
// SQLite 不能原地修改列类型、默认值和主键，这几类差异只记录日志。
type SQLite struct{}

func NewSQLite() *SQLite {
	return &SQLite{}
}

func (*SQLite) Name() string       { return database.DriverSQLite3 }
func (*SQLite) MaxNameLength() int { return 0 }

func (*SQLite) Quote(identifier string) string {
	return quoteIdentifier(identifier, `"`)
}

func (*SQLite) ColumnType(column ColumnDecl) TypeSpec {
	switch column.Type {
	case TypeString:
		size := column.Size
		if size <= 0 {
			size = 255
		}
		return TypeSpec{Name: "varchar", Size: size, SQL: "varchar(" + strconv.Itoa(size) + ")"}
	case TypeText:
		return TypeSpec{Name: "text", SQL: "text"}
	case TypeInt:
		return TypeSpec{Name: "integer", SQL: "integer"}
	case TypeLong:
		return TypeSpec{Name: "bigint", SQL: "bigint"}
	case TypeFloat:
		return TypeSpec{Name: "real", SQL: "real"}
	case TypeBool:
		return TypeSpec{Name: "boolean", SQL: "boolean"}
	case TypeTime:
		return TypeSpec{Name: "datetime", SQL: "datetime"}
	}
	return TypeSpec{Name: "blob", SQL: "blob"}
}

func (*SQLite) Literal(value any) string {
	return literal(value, numericBool, hexBinary)
}

func (*SQLite) LimitClause(offset, count int) string {
	return "limit " + strconv.Itoa(count) + " offset " + strconv.Itoa(offset)
}

func (*SQLite) Concat(parts []string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (*SQLite) InlinePrimaryKey() bool { return true }

// AddColumn 没有默认值的非空列无法追加，降级为可空列
func (s *SQLite) AddColumn(table string, column ColumnDecl, definition string) []string {
	if column.Primary {
		return nil
	}
	if !column.Nullable && column.Default == nil {
		definition = strings.TrimSuffix(definition, " not null")
	}
	return []string{"alter table " + s.Quote(table) + " add column " + definition}
}

func (*SQLite) AlterColumnType(string, ColumnDecl, string) []string     { return nil }
func (*SQLite) AlterColumnDefault(string, ColumnDecl, *string) []string { return nil }
func (*SQLite) AddPrimaryKey(string, []string) []string                 { return nil }
func (*SQLite) DropPrimaryKey(string, *LiveTable) []string              { return nil }

func (s *SQLite) DropColumn(table string, column string) []string {
	return []string{"alter table " + s.Quote(table) + " drop column " + s.Quote(column)}
}

func (s *SQLite) DropIndex(table string, index string) []string {
	return []string{"drop index " + s.Quote(index)}
}

func (s *SQLite) ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error) {
	res, err := conn.Query(ctx, "select name from sqlite_master where type = 'table' and name not like 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	rows, err := res.All()
	if err != nil {
		return nil, err
	}

	tables := map[string]*LiveTable{}
	for _, row := range rows {
		name := database.ToString(row["name"])
		table, err := s.readTable(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		tables[strings.ToLower(name)] = table
	}
	return tables, nil
}

func (s *SQLite) readTable(ctx context.Context, conn *database.Connection, name string) (*LiveTable, error) {
	table := newLiveTable(strings.ToLower(name))

	res, err := conn.Query(ctx, "pragma table_info("+s.Quote(name)+")")
	if err != nil {
		return nil, err
	}
	rows, err := res.All()
	if err != nil {
		return nil, err
	}
	keys := map[int64]string{}
	for _, row := range rows {
		typ, size := splitType(database.ToString(row["type"]))
		notNull, _ := database.ToBool(row["notnull"])
		column := &LiveColumn{
			Name:     database.ToString(row["name"]),
			Type:     typ,
			Size:     size,
			Nullable: !notNull,
		}
		if row["dflt_value"] != nil {
			def := database.ToString(row["dflt_value"])
			column.Default = &def
		}
		table.Columns = append(table.Columns, column)
		if pk, _ := database.ToInt64(row["pk"]); pk > 0 {
			keys[pk] = column.Name
		}
	}
	for i := int64(1); i <= int64(len(keys)); i++ {
		table.PrimaryKey = append(table.PrimaryKey, keys[i])
	}

	res, err = conn.Query(ctx, "pragma index_list("+s.Quote(name)+")")
	if err != nil {
		return nil, err
	}
	rows, err = res.All()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		// 只保留 create index 创建的索引，主键和唯一约束自动生成的索引跳过
		if database.ToString(row["origin"]) != "c" {
			continue
		}
		indexName := database.ToString(row["name"])
		unique, _ := database.ToBool(row["unique"])
		index := &LiveIndex{Name: indexName, Unique: unique}

		infoRes, err := conn.Query(ctx, "pragma index_info("+s.Quote(indexName)+")")
		if err != nil {
			return nil, err
		}
		infoRows, err := infoRes.All()
		if err != nil {
			return nil, err
		}
		for _, info := range infoRows {
			index.Columns = append(index.Columns, database.ToString(info["name"]))
		}
		table.Indexes[indexName] = index
	}
	return table, nil
}
