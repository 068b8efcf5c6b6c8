package orm

import (
	"context"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
	"github.com/pkg/errors"
)

// propertiesDecl 保留的属性表，记录 schema 版本号和建库信息
func (m *Manager) propertiesDecl() dialect.TableDecl {
	return dialect.TableDecl{
		Name: m.propertiesTable(),
		Columns: []dialect.ColumnDecl{
			{Name: "name", Type: dialect.TypeString, Size: 120, Primary: true},
			{Name: "value", Type: dialect.TypeString, Size: 4000, Nullable: true},
		},
	}
}

func (m *Manager) propertiesTable() string {
	return m.dialect.NormalizeName(m.schema.TablePrefix() + "properties")
}

func (m *Manager) property(ctx context.Context, conn *database.Connection, name string) (string, bool, error) {
	stmt, err := conn.CreateStatement("select value from " + m.dialect.Quote(m.propertiesTable()) + " where name = $name$")
	if err != nil {
		return "", false, err
	}
	res, err := stmt.ExecuteQuery(ctx, map[string]any{"name": name})
	if err != nil {
		return "", false, errors.WithMessagef(err, "read property [%s] failed", name)
	}
	defer res.Close()
	if !res.Next() {
		return "", false, res.Err()
	}
	value, err := res.GetString("value")
	return value, err == nil, err
}

// setProperty 先更新，没有记录时插入
func (m *Manager) setProperty(ctx context.Context, conn *database.Connection, name string, value string) error {
	table := m.dialect.Quote(m.propertiesTable())
	params := map[string]any{"name": name, "value": value}

	stmt, err := conn.CreateStatement("update " + table + " set value = $value$ where name = $name$")
	if err != nil {
		return err
	}
	n, err := stmt.ExecuteUpdate(ctx, params)
	if err != nil {
		return errors.WithMessagef(err, "update property [%s] failed", name)
	}
	if n > 0 {
		return nil
	}

	if stmt, err = conn.CreateStatement("insert into " + table + " (name, value) values ($name$, $value$)"); err != nil {
		return err
	}
	return errors.WithMessagef(stmt.Execute(ctx, params), "insert property [%s] failed", name)
}
