package dialect

import (
	"context"
	"strings"

	"github.com/hatlonely/goxdb/log/logger"
	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/pkg/errors"
)

// Base 通用方言，同步算法与数据库无关
type Base struct {
	vendor Vendor
	logger logger.Logger
}

func (b *Base) Name() string {
	return b.vendor.Name()
}

func (b *Base) Vendor() Vendor {
	return b.vendor
}

// NormalizeName 物理名统一为小写并按数据库限制截断
func (b *Base) NormalizeName(name string) string {
	name = strings.ToLower(name)
	if n := b.vendor.MaxNameLength(); n > 0 && len(name) > n {
		name = name[:n]
	}
	return name
}

func (b *Base) Quote(identifier string) string {
	return b.vendor.Quote(identifier)
}

func (b *Base) ColumnType(column ColumnDecl) TypeSpec {
	return b.vendor.ColumnType(column)
}

func (b *Base) Literal(value any) string {
	return b.vendor.Literal(value)
}

func (b *Base) LimitClause(offset, count int) string {
	return b.vendor.LimitClause(offset, count)
}

func (b *Base) ReadSchema(ctx context.Context, conn *database.Connection) (map[string]*LiveTable, error) {
	tables, err := b.vendor.ReadSchema(ctx, conn)
	if err != nil {
		return nil, errors.WithMessage(err, "read schema failed")
	}
	return tables, nil
}

func (b *Base) CreateStructure(ctx context.Context, decl *Declaration, conn *database.Connection, bundle *MetadataBundle, cleanup bool) ([]string, error) {
	tableDDL, err := b.CreateTables(ctx, decl, conn, cleanup)
	if err != nil {
		return tableDDL, err
	}
	indexDDL, err := b.CreateIndexes(ctx, decl, conn, cleanup)
	executed := append(tableDDL, indexDDL...)
	if err != nil {
		return executed, err
	}
	b.CreateData(ctx, decl, conn)

	if bundle != nil {
		live, err := b.ReadSchema(ctx, conn)
		if err != nil {
			return executed, err
		}
		bundle.Rebuild(decl, live)
		if err := conn.Commit(); err != nil {
			return executed, err
		}
	}
	return executed, nil
}

// columnDefinition 列定义：名称、类型、默认值、非空约束
func (b *Base) columnDefinition(column ColumnDecl) string {
	var buf strings.Builder
	buf.WriteString(b.vendor.Quote(column.Name))
	buf.WriteString(" ")
	buf.WriteString(b.vendor.ColumnType(column).SQL)
	if lit := b.defaultLiteral(column); lit != nil {
		buf.WriteString(" default ")
		buf.WriteString(*lit)
	}
	if !column.Nullable || column.Primary {
		buf.WriteString(" not null")
	}
	return buf.String()
}

func (b *Base) defaultLiteral(column ColumnDecl) *string {
	if column.Default == nil {
		return nil
	}
	lit := b.vendor.Literal(column.Default)
	return &lit
}

func (b *Base) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = b.vendor.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func (b *Base) exec(ctx context.Context, conn *database.Connection, executed *[]string, statements ...string) error {
	for _, stmt := range statements {
		b.logger.InfoContext(ctx, "execute ddl", "sql", stmt)
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
		*executed = append(*executed, stmt)
	}
	return nil
}

// CreateTables 建表或按列比对补齐差异，每张表处理完提交一次
func (b *Base) CreateTables(ctx context.Context, decl *Declaration, conn *database.Connection, cleanup bool) ([]string, error) {
	live, err := b.ReadSchema(ctx, conn)
	if err != nil {
		return nil, err
	}

	var executed []string
	for i := range decl.Tables {
		table := &decl.Tables[i]
		var err error
		if current, ok := live[strings.ToLower(table.Name)]; ok {
			err = b.alterTable(ctx, conn, table, current, cleanup, &executed)
		} else {
			err = b.createTable(ctx, conn, table, &executed)
		}
		if err != nil {
			return executed, errors.WithMessagef(err, "sync table [%s] failed", table.Name)
		}
		if err := conn.Commit(); err != nil {
			return executed, errors.WithMessagef(err, "commit table [%s] failed", table.Name)
		}
	}
	return executed, nil
}

func (b *Base) createTable(ctx context.Context, conn *database.Connection, table *TableDecl, executed *[]string) error {
	var defs []string
	for _, column := range table.Columns {
		if column.Virtual {
			continue
		}
		defs = append(defs, b.columnDefinition(column))
	}
	keys := table.PrimaryKey()
	if len(keys) > 0 && b.vendor.InlinePrimaryKey() {
		defs = append(defs, "primary key ("+b.quoteAll(keys)+")")
	}

	stmt := "create table " + b.vendor.Quote(table.Name) + " (" + strings.Join(defs, ", ") + ")"
	if err := b.exec(ctx, conn, executed, stmt); err != nil {
		return err
	}
	if len(keys) > 0 && !b.vendor.InlinePrimaryKey() {
		return b.exec(ctx, conn, executed, b.vendor.AddPrimaryKey(table.Name, keys)...)
	}
	return nil
}

func (b *Base) alterTable(ctx context.Context, conn *database.Connection, table *TableDecl, current *LiveTable, cleanup bool, executed *[]string) error {
	declared := map[string]bool{}
	for _, column := range table.Columns {
		if column.Virtual {
			continue
		}
		declared[strings.ToLower(column.Name)] = true

		definition := b.columnDefinition(column)
		liveColumn := current.Column(column.Name)
		if liveColumn == nil {
			if err := b.apply(ctx, conn, executed, "add column", table.Name, column.Name,
				b.vendor.AddColumn(table.Name, column, definition)); err != nil {
				return err
			}
			continue
		}

		if !b.vendor.ColumnType(column).matches(liveColumn) {
			if err := b.apply(ctx, conn, executed, "alter column type", table.Name, column.Name,
				b.vendor.AlterColumnType(table.Name, column, definition)); err != nil {
				return err
			}
		}

		lit := b.defaultLiteral(column)
		if !sameDefault(lit, liveColumn.Default) {
			if err := b.apply(ctx, conn, executed, "alter column default", table.Name, column.Name,
				b.vendor.AlterColumnDefault(table.Name, column, lit)); err != nil {
				return err
			}
		}
	}

	if cleanup {
		for _, liveColumn := range current.Columns {
			if declared[strings.ToLower(liveColumn.Name)] {
				continue
			}
			if err := b.apply(ctx, conn, executed, "drop column", table.Name, liveColumn.Name,
				b.vendor.DropColumn(table.Name, liveColumn.Name)); err != nil {
				return err
			}
		}
	}

	return b.syncPrimaryKey(ctx, conn, table, current, executed)
}

// apply 执行变更，数据库不支持时记录日志并跳过
func (b *Base) apply(ctx context.Context, conn *database.Connection, executed *[]string, action, table, column string, statements []string) error {
	if statements == nil {
		b.logger.WarnContext(ctx, "change not supported, skipped", "action", action, "table", table, "column", column)
		return nil
	}
	return b.exec(ctx, conn, executed, statements...)
}

func (b *Base) syncPrimaryKey(ctx context.Context, conn *database.Connection, table *TableDecl, current *LiveTable, executed *[]string) error {
	keys := table.PrimaryKey()
	if sameSet(keys, current.PrimaryKey) {
		return nil
	}

	var statements []string
	supported := true
	if len(current.PrimaryKey) > 0 {
		drop := b.vendor.DropPrimaryKey(table.Name, current)
		supported = drop != nil
		statements = append(statements, drop...)
	}
	if len(keys) > 0 && supported {
		add := b.vendor.AddPrimaryKey(table.Name, keys)
		supported = add != nil
		statements = append(statements, add...)
	}
	if !supported {
		statements = nil
	}
	return b.apply(ctx, conn, executed, "change primary key", table.Name, strings.Join(keys, ","), statements)
}

// CreateIndexes 建立缺失的索引，列或唯一性不一致时删除重建
func (b *Base) CreateIndexes(ctx context.Context, decl *Declaration, conn *database.Connection, cleanup bool) ([]string, error) {
	live, err := b.ReadSchema(ctx, conn)
	if err != nil {
		return nil, err
	}

	var executed []string
	for i := range decl.Tables {
		table := &decl.Tables[i]
		current := live[strings.ToLower(table.Name)]
		if current == nil {
			return executed, errors.Errorf("table [%s] missing while creating indexes", table.Name)
		}

		declared := map[string]bool{}
		for _, index := range table.Indexes {
			declared[strings.ToLower(index.Name)] = true

			var statements []string
			existing := current.Index(index.Name)
			switch {
			case existing == nil:
			case existing.Unique != index.Unique:
				statements = append(statements, b.vendor.DropIndex(table.Name, existing.Name)...)
			case !sameSet(existing.Columns, index.Columns):
				statements = append(statements, b.vendor.DropIndex(table.Name, existing.Name)...)
			default:
				continue
			}
			statements = append(statements, b.createIndex(table.Name, index))

			if err := b.exec(ctx, conn, &executed, statements...); err != nil {
				return executed, errors.WithMessagef(err, "sync index [%s] failed", index.Name)
			}
			if err := conn.Commit(); err != nil {
				return executed, errors.WithMessagef(err, "commit index [%s] failed", index.Name)
			}
		}

		if !cleanup {
			continue
		}
		for name, index := range current.Indexes {
			if declared[strings.ToLower(name)] {
				continue
			}
			if err := b.exec(ctx, conn, &executed, b.vendor.DropIndex(table.Name, index.Name)...); err != nil {
				return executed, errors.WithMessagef(err, "drop index [%s] failed", index.Name)
			}
			if err := conn.Commit(); err != nil {
				return executed, errors.WithMessagef(err, "commit index [%s] failed", index.Name)
			}
		}
	}
	return executed, nil
}

func (b *Base) createIndex(table string, index IndexDecl) string {
	kind := "index"
	if index.Unique {
		kind = "unique index"
	}
	return "create " + kind + " " + b.vendor.Quote(index.Name) + " on " + b.vendor.Quote(table) + " (" + b.quoteAll(index.Columns) + ")"
}

// CreateData 执行初始化数据步骤，任何失败只记录日志
func (b *Base) CreateData(ctx context.Context, decl *Declaration, conn *database.Connection) {
	for _, step := range decl.Data {
		l := b.logger.With("step", step.Name)

		found, err := b.probe(ctx, conn, step)
		statements := step.OnNotFound
		if err != nil {
			l.WarnContext(ctx, "data step select failed", "error", err)
			if rerr := conn.Rollback(); rerr != nil {
				l.WarnContext(ctx, "rollback failed", "error", rerr)
			}
			statements = step.OnError
		} else if found {
			statements = step.OnFound
		}

		for _, text := range statements {
			if err := b.execData(ctx, conn, text, step.Params); err != nil {
				l.WarnContext(ctx, "data step statement failed", "sql", text, "error", err)
				if rerr := conn.Rollback(); rerr != nil {
					l.WarnContext(ctx, "rollback failed", "error", rerr)
				}
				continue
			}
			if err := conn.Commit(); err != nil {
				l.WarnContext(ctx, "commit failed", "sql", text, "error", err)
			}
		}
	}
}

func (b *Base) probe(ctx context.Context, conn *database.Connection, step DataStep) (bool, error) {
	if step.Select == "" {
		return false, nil
	}
	stmt, err := conn.CreateStatement(step.Select)
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecuteQuery(ctx, step.Params)
	if err != nil {
		return false, err
	}
	defer res.Close()
	found := res.Next()
	return found, res.Err()
}

func (b *Base) execData(ctx context.Context, conn *database.Connection, text string, params map[string]any) error {
	stmt, err := conn.CreateStatement(text)
	if err != nil {
		return err
	}
	return stmt.Execute(ctx, params)
}
