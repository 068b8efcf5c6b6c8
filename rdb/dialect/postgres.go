package dialect

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/database"
)

// Postgres 厂商钩子
type Postgres struct{}

func NewPostgres() *Postgres {
	return &Postgres{}
}

func (*Postgres) Name() string       { return database.DriverPostgres }
func (*Postgres) MaxNameLength() int { return 63 }

func (*Postgres) Quote(identifier string) string {
	return quoteIdentifier(identifier, `"`)
}

func (*Postgres) ColumnType(column ColumnDecl) TypeSpec {
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
		return TypeSpec{Name: "int4", SQL: "integer"}
	case TypeLong:
		return TypeSpec{Name: "int8", SQL: "bigint"}
	case TypeFloat:
		return TypeSpec{Name: "float8", SQL: "double precision"}
	case TypeBool:
		return TypeSpec{Name: "bool", SQL: "boolean"}
	case TypeTime:
		return TypeSpec{Name: "timestamp", SQL: "timestamp"}
	}
	return TypeSpec{Name: "bytea", SQL: "bytea"}
}

func (*Postgres) Literal(value any) string {
	return literal(value, strconv.FormatBool, func(b []byte) string {
		return `'\x` + hex.EncodeToString(b) + `'`
	})
}

func (*Postgres) LimitClause(offset, count int) string {
	return "limit " + strconv.Itoa(count) + " offset " + strconv.Itoa(offset)
}

func (*Postgres) Concat(parts []string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (*Postgres) InlinePrimaryKey() bool { return false }

func (p *Postgres) AddColumn(table string, column ColumnDecl, definition string) []string {
	return []string{"alter table " + p.Quote(table) + " add column " + definition}
}

func (p *Postgres) AlterColumnType(table string, column ColumnDecl, definition string) []string {
	spec := p.ColumnType(column)
	return []string{"alter table " + p.Quote(table) + " alter column " + p.Quote(column.Name) +
		" set data type " + spec.SQL + " using " + p.Quote(column.Name) + "::" + spec.SQL}
}

func (p *Postgres) AlterColumnDefault(table string, column ColumnDecl, defaultLiteral *string) []string {
	prefix := "alter table " + p.Quote(table) + " alter column " + p.Quote(column.Name)
	if defaultLiteral == nil {
		return []string{prefix + " drop default"}
	}
	return []string{prefix + " set default " + *defaultLiteral}
}

func (p *Postgres) DropColumn(table string, column string) []string {
	return []string{"alter table " + p.Quote(table) + " drop column " + p.Quote(column)}
}

func (p *Postgres) AddPrimaryKey(table string, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = p.Quote(c)
	}
	return []string{"alter table " + p.Quote(table) + " add primary key (" + strings.Join(quoted, ", ") + ")"}
}

func (p *Postgres) DropPrimaryKey(table string, live *LiveTable) []string {
	name := live.PrimaryKeyName
	if name == "" {
		name = table + "_pkey"
	}
	return []string{"alter table " + p.Quote(table) + " drop constraint " + p.Quote(name)}
}

func (p *Postgres) DropIndex(table string, index string) []string {
	return []string{"drop index " + p.Quote(index)}
}

const (
	postgresTablesSQL = "select table_name from information_schema.tables " +
		"where table_schema = current_schema() and table_type = 'BASE TABLE'"
	postgresColumnsSQL = "select table_name, column_name, udt_name, character_maximum_length, is_nullable, column_default " +
		"from information_schema.columns where table_schema = current_schema() order by table_name, ordinal_position"
	postgresIndexesSQL = "select t.relname as table_name, i.relname as index_name, ix.indisunique as is_unique, " +
		"ix.indisprimary as is_primary, a.attname as column_name " +
		"from pg_index ix " +
		"join pg_class t on t.oid = ix.indrelid " +
		"join pg_class i on i.oid = ix.indexrelid " +
		"join pg_namespace n on n.oid = t.relnamespace " +
		"join pg_attribute a on a.attrelid = t.oid and a.attnum = any(ix.indkey) " +
		"where n.nspname = current_schema() " +
		"order by t.relname, i.relname, array_position(ix.indkey::int2[], a.attnum)"
)

func (*Postgres) ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error) {
	tables := map[string]*LiveTable{}

	res, err := conn.Query(ctx, postgresTablesSQL)
	if err != nil {
		return nil, err
	}
	rows, err := res.All()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		name := strings.ToLower(database.ToString(row["table_name"]))
		tables[name] = newLiveTable(name)
	}

	res, err = conn.Query(ctx, postgresColumnsSQL)
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
		size, _ := database.ToInt64(row["character_maximum_length"])
		column := &LiveColumn{
			Name:     database.ToString(row["column_name"]),
			Type:     strings.ToLower(database.ToString(row["udt_name"])),
			Size:     int(size),
			Nullable: strings.EqualFold(database.ToString(row["is_nullable"]), "YES"),
		}
		if row["column_default"] != nil {
			def := database.ToString(row["column_default"])
			column.Default = &def
		}
		table.Columns = append(table.Columns, column)
	}

	res, err = conn.Query(ctx, postgresIndexesSQL)
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
		primary, _ := database.ToBool(row["is_primary"])
		if primary {
			table.PrimaryKey = append(table.PrimaryKey, column)
			table.PrimaryKeyName = indexName
			continue
		}
		unique, _ := database.ToBool(row["is_unique"])
		index, ok := table.Indexes[indexName]
		if !ok {
			index = &LiveIndex{Name: indexName, Unique: unique}
			table.Indexes[indexName] = index
		}
		index.Columns = append(index.Columns, column)
	}
	return tables, nil
}
