package dialect

import (
	"context"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/pkg/errors"
)

// MySQL 厂商钩子
type MySQL struct{}

func NewMySQL() *MySQL {
	return &MySQL{}
}

func (*MySQL) Name() string       { return database.DriverMySQL }
func (*MySQL) MaxNameLength() int { return 64 }

func (*MySQL) Quote(identifier string) string {
	return quoteIdentifier(identifier, "`")
}

func (*MySQL) ColumnType(column ColumnDecl) TypeSpec {
	switch column.Type {
	case TypeString:
		size := column.Size
		if size <= 0 {
			size = 255
		}
		return TypeSpec{Name: "varchar", Size: size, SQL: "varchar(" + strconv.Itoa(size) + ")"}
	case TypeText:
		return TypeSpec{Name: "longtext", SQL: "longtext"}
	case TypeInt:
		return TypeSpec{Name: "int", SQL: "int"}
	case TypeLong:
		return TypeSpec{Name: "bigint", SQL: "bigint"}
	case TypeFloat:
		return TypeSpec{Name: "double", SQL: "double"}
	case TypeBool:
		return TypeSpec{Name: "tinyint", SQL: "tinyint(1)"}
	case TypeTime:
		return TypeSpec{Name: "datetime", SQL: "datetime(6)"}
	}
	return TypeSpec{Name: "longblob", SQL: "longblob"}
}

func (*MySQL) Literal(value any) string {
	return literal(value, numericBool, hexBinary)
}

func (*MySQL) LimitClause(offset, count int) string {
	return "limit " + strconv.Itoa(offset) + "," + strconv.Itoa(count)
}

func (*MySQL) Concat(parts []string) string {
	return "concat(" + strings.Join(parts, ", ") + ")"
}

func (*MySQL) InlinePrimaryKey() bool { return false }

func (m *MySQL) AddColumn(table string, column ColumnDecl, definition string) []string {
	return []string{"alter table " + m.Quote(table) + " add column " + definition}
}

func (m *MySQL) AlterColumnType(table string, column ColumnDecl, definition string) []string {
	return []string{"alter table " + m.Quote(table) + " modify column " + definition}
}

func (m *MySQL) AlterColumnDefault(table string, column ColumnDecl, defaultLiteral *string) []string {
	prefix := "alter table " + m.Quote(table) + " alter column " + m.Quote(column.Name)
	if defaultLiteral == nil {
		return []string{prefix + " drop default"}
	}
	return []string{prefix + " set default " + *defaultLiteral}
}

func (m *MySQL) DropColumn(table string, column string) []string {
	return []string{"alter table " + m.Quote(table) + " drop column " + m.Quote(column)}
}

func (m *MySQL) AddPrimaryKey(table string, columns []string) []string {
	return []string{"alter table " + m.Quote(table) + " add primary key (" + m.quoteAll(columns) + ")"}
}

func (m *MySQL) DropPrimaryKey(table string, live *LiveTable) []string {
	return []string{"alter table " + m.Quote(table) + " drop primary key"}
}

func (m *MySQL) DropIndex(table string, index string) []string {
	return []string{"drop index " + m.Quote(index) + " on " + m.Quote(table)}
}

func (m *MySQL) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = m.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

const (
	mysqlColumnsSQL = "select table_name, column_name, data_type, character_maximum_length, is_nullable, column_default " +
		"from information_schema.columns where table_schema = database() order by table_name, ordinal_position"
	mysqlIndexesSQL = "select table_name, index_name, non_unique, column_name " +
		"from information_schema.statistics where table_schema = database() order by table_name, index_name, seq_in_index"
)

func (*MySQL) ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error) {
	tables := map[string]*LiveTable{}

	res, err := conn.Query(ctx, mysqlColumnsSQL)
	if err != nil {
		return nil, err
	}
	rows, err := res.All()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		name := strings.ToLower(database.ToString(row["table_name"]))
		table, ok := tables[name]
		if !ok {
			table = newLiveTable(name)
			tables[name] = table
		}
		size, _ := database.ToInt64(row["character_maximum_length"])
		column := &LiveColumn{
			Name:     database.ToString(row["column_name"]),
			Type:     strings.ToLower(database.ToString(row["data_type"])),
			Size:     int(size),
			Nullable: strings.EqualFold(database.ToString(row["is_nullable"]), "YES"),
		}
		if row["column_default"] != nil {
			def := database.ToString(row["column_default"])
			column.Default = &def
		}
		table.Columns = append(table.Columns, column)
	}

	res, err = conn.Query(ctx, mysqlIndexesSQL)
	if err != nil {
		return nil, err
	}
	rows, err = res.All()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		table := tables[strings.ToLower(database.ToString(row["table_name"]))]
		if table == nil {
			continue
		}
		indexName := database.ToString(row["index_name"])
		column := database.ToString(row["column_name"])
		if indexName == "PRIMARY" {
			table.PrimaryKey = append(table.PrimaryKey, column)
			table.PrimaryKeyName = indexName
			continue
		}
		nonUnique, err := database.ToInt64(row["non_unique"])
		if err != nil {
			return nil, errors.WithMessage(err, "parse non_unique failed")
		}
		index, ok := table.Indexes[indexName]
		if !ok {
			index = &LiveIndex{Name: indexName, Unique: nonUnique == 0}
			table.Indexes[indexName] = index
		}
		index.Columns = append(index.Columns, column)
	}
	return tables, nil
}
