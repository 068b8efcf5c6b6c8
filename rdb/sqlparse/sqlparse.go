// Package sqlparse 把单表 SELECT 语句翻译为带占位符的查询条件
//
// 字段翻译为 $db.<entity>.<field>$，字面量和 ? 参数翻译为绑定参数 $pN$。
// 只支持单表查询；连接、函数、子查询、分组等没有对应翻译的结构返回 ErrNotSupported。
package sqlparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
	"github.com/pkg/errors"
)

// ErrNotSupported 没有对应翻译的 SQL 结构
var ErrNotSupported = errors.New("sql construct not supported")

// Translation 翻译结果
type Translation struct {
	// Entity 查询的实体名，即 FROM 后的表名
	Entity string
	// Columns 投影列，SELECT * 时为空
	Columns []string
	Where   string
	Order   string
	// Offset/Count 分页，Count 小于 0 表示没有 limit
	Offset int
	Count  int
	Params map[string]any
}

// Qualification where 之后的条件和排序，不含分页
func (t *Translation) Qualification() string {
	where := t.Where
	if where == "" {
		where = "1=1"
	}
	if t.Order != "" {
		return where + " order by " + t.Order
	}
	return where
}

// HasLimit 是否带有 limit
func (t *Translation) HasLimit() bool {
	return t.Count >= 0
}

// Translate 翻译 SQL，args 依次绑定语句中的 ? 参数
func Translate(sql string, args ...any) (*Translation, error) {
	stmts, _, err := parser.New().Parse(sql, "", "")
	if err != nil {
		return nil, errors.Wrapf(err, "parse sql failed, sql: [%s]", sql)
	}
	if len(stmts) != 1 {
		return nil, errors.Wrapf(ErrNotSupported, "expect exactly one statement, got %d", len(stmts))
	}
	stmt, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return nil, errors.Wrapf(ErrNotSupported, "only select is supported, got %T", stmts[0])
	}

	t := &translator{args: args, params: map[string]any{}}
	result, err := t.selectStmt(stmt)
	if err != nil {
		return nil, err
	}
	if t.argIndex != len(args) {
		return nil, errors.Errorf("sql has %d parameters, got %d arguments", t.argIndex, len(args))
	}
	return result, nil
}

type translator struct {
	entity   string
	args     []any
	argIndex int
	params   map[string]any
}

func (t *translator) selectStmt(stmt *ast.SelectStmt) (*Translation, error) {
	switch {
	case stmt.With != nil:
		return nil, errors.Wrap(ErrNotSupported, "with clause")
	case stmt.Distinct:
		return nil, errors.Wrap(ErrNotSupported, "distinct")
	case stmt.GroupBy != nil:
		return nil, errors.Wrap(ErrNotSupported, "group by")
	case stmt.Having != nil:
		return nil, errors.Wrap(ErrNotSupported, "having")
	case stmt.LockInfo != nil && stmt.LockInfo.LockType != ast.SelectLockNone:
		return nil, errors.Wrap(ErrNotSupported, "locking read")
	}

	entity, err := fromEntity(stmt.From)
	if err != nil {
		return nil, err
	}
	t.entity = entity

	result := &Translation{Entity: entity, Count: -1}

	if stmt.Fields != nil {
		for _, f := range stmt.Fields.Fields {
			if f.WildCard != nil {
				if f.WildCard.Table.L != "" && f.WildCard.Table.L != strings.ToLower(entity) {
					return nil, errors.Wrapf(ErrNotSupported, "wildcard of table [%s]", f.WildCard.Table.O)
				}
				continue
			}
			col, ok := f.Expr.(*ast.ColumnNameExpr)
			if !ok {
				return nil, errors.Wrapf(ErrNotSupported, "projection %T", f.Expr)
			}
			if _, err := t.column(col); err != nil {
				return nil, err
			}
			result.Columns = append(result.Columns, col.Name.Name.O)
		}
	}

	if stmt.Where != nil {
		if result.Where, err = t.expr(stmt.Where); err != nil {
			return nil, err
		}
	}

	if stmt.OrderBy != nil {
		var items []string
		for _, item := range stmt.OrderBy.Items {
			col, ok := item.Expr.(*ast.ColumnNameExpr)
			if !ok {
				return nil, errors.Wrapf(ErrNotSupported, "order by %T", item.Expr)
			}
			s, err := t.column(col)
			if err != nil {
				return nil, err
			}
			if item.Desc {
				s += " desc"
			}
			items = append(items, s)
		}
		result.Order = strings.Join(items, ", ")
	}

	if stmt.Limit != nil {
		if result.Count, err = t.integer(stmt.Limit.Count); err != nil {
			return nil, err
		}
		if stmt.Limit.Offset != nil {
			if result.Offset, err = t.integer(stmt.Limit.Offset); err != nil {
				return nil, err
			}
		}
	}

	result.Params = t.params
	return result, nil
}

func fromEntity(from *ast.TableRefsClause) (string, error) {
	if from == nil || from.TableRefs == nil {
		return "", errors.Wrap(ErrNotSupported, "select without from")
	}
	join := from.TableRefs
	if join.Right != nil {
		return "", errors.Wrap(ErrNotSupported, "join")
	}
	ts, ok := join.Left.(*ast.TableSource)
	if !ok {
		return "", errors.Wrapf(ErrNotSupported, "from %T", join.Left)
	}
	tn, ok := ts.Source.(*ast.TableName)
	if !ok {
		return "", errors.Wrapf(ErrNotSupported, "from %T", ts.Source)
	}
	if tn.Schema.O != "" {
		return "", errors.Wrap(ErrNotSupported, "schema qualified table")
	}
	return tn.Name.O, nil
}

func (t *translator) expr(node ast.ExprNode) (string, error) {
	switch e := node.(type) {
	case *ast.BinaryOperationExpr:
		return t.binary(e)
	case *ast.UnaryOperationExpr:
		if e.Op != opcode.Not {
			return "", errors.Wrapf(ErrNotSupported, "unary operator %s", e.Op)
		}
		s, err := t.expr(e.V)
		if err != nil {
			return "", err
		}
		return "not " + s, nil
	case *ast.ParenthesesExpr:
		s, err := t.expr(e.Expr)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			return s, nil
		}
		return "(" + s + ")", nil
	case *ast.PatternLikeOrIlikeExpr:
		if !e.IsLike {
			return "", errors.Wrap(ErrNotSupported, "ilike")
		}
		return t.pair(e.Expr, e.Pattern, notPrefix(e.Not)+"like")
	case *ast.PatternInExpr:
		return t.in(e)
	case *ast.IsNullExpr:
		s, err := t.expr(e.Expr)
		if err != nil {
			return "", err
		}
		if e.Not {
			return s + " is not null", nil
		}
		return s + " is null", nil
	case *ast.BetweenExpr:
		s, err := t.expr(e.Expr)
		if err != nil {
			return "", err
		}
		l, err := t.expr(e.Left)
		if err != nil {
			return "", err
		}
		r, err := t.expr(e.Right)
		if err != nil {
			return "", err
		}
		between := fmt.Sprintf("(%s >= %s and %s <= %s)", s, l, s, r)
		if e.Not {
			return "not " + between, nil
		}
		return between, nil
	case *ast.ColumnNameExpr:
		return t.column(e)
	case ast.ParamMarkerExpr:
		if t.argIndex >= len(t.args) {
			return "", errors.Errorf("not enough arguments for parameter %d", t.argIndex+1)
		}
		v := t.args[t.argIndex]
		t.argIndex++
		return t.bind(v), nil
	case ast.ValueExpr:
		return t.bind(literalValue(e)), nil
	}
	return "", errors.Wrapf(ErrNotSupported, "expression %T", node)
}

var binaryOperators = map[opcode.Op]string{
	opcode.EQ: "=",
	opcode.NE: "<>",
	opcode.LT: "<",
	opcode.LE: "<=",
	opcode.GT: ">",
	opcode.GE: ">=",
}

func (t *translator) binary(e *ast.BinaryOperationExpr) (string, error) {
	switch e.Op {
	case opcode.LogicAnd, opcode.LogicOr:
		l, err := t.expr(e.L)
		if err != nil {
			return "", err
		}
		r, err := t.expr(e.R)
		if err != nil {
			return "", err
		}
		sep := " and "
		if e.Op == opcode.LogicOr {
			sep = " or "
		}
		return "(" + l + sep + r + ")", nil
	}
	op, ok := binaryOperators[e.Op]
	if !ok {
		return "", errors.Wrapf(ErrNotSupported, "operator %s", e.Op)
	}
	return t.pair(e.L, e.R, op)
}

func (t *translator) pair(left, right ast.ExprNode, op string) (string, error) {
	l, err := t.expr(left)
	if err != nil {
		return "", err
	}
	r, err := t.expr(right)
	if err != nil {
		return "", err
	}
	return l + " " + op + " " + r, nil
}

func (t *translator) in(e *ast.PatternInExpr) (string, error) {
	if e.Sel != nil {
		return "", errors.Wrap(ErrNotSupported, "in sub query")
	}
	left, err := t.expr(e.Expr)
	if err != nil {
		return "", err
	}
	items := make([]string, 0, len(e.List))
	for _, item := range e.List {
		s, err := t.expr(item)
		if err != nil {
			return "", err
		}
		items = append(items, s)
	}
	return left + " " + notPrefix(e.Not) + "in (" + strings.Join(items, ", ") + ")", nil
}

func (t *translator) column(e *ast.ColumnNameExpr) (string, error) {
	name := e.Name
	if name.Schema.O != "" {
		return "", errors.Wrap(ErrNotSupported, "schema qualified column")
	}
	if name.Table.O != "" && !strings.EqualFold(name.Table.O, t.entity) {
		return "", errors.Wrapf(ErrNotSupported, "column of table [%s]", name.Table.O)
	}
	return "$db." + t.entity + "." + name.Name.O + "$", nil
}

func (t *translator) bind(v any) string {
	name := query.NextBindingName()
	t.params[name] = v
	return "$" + name + "$"
}

func (t *translator) integer(node ast.ExprNode) (int, error) {
	var v any
	switch e := node.(type) {
	case ast.ParamMarkerExpr:
		if t.argIndex >= len(t.args) {
			return 0, errors.Errorf("not enough arguments for parameter %d", t.argIndex+1)
		}
		v = t.args[t.argIndex]
		t.argIndex++
	case ast.ValueExpr:
		v = literalValue(e)
	default:
		return 0, errors.Wrapf(ErrNotSupported, "limit %T", node)
	}
	n, err := strconv.Atoi(fmt.Sprint(v))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid limit [%v]", v)
	}
	return n, nil
}

func literalValue(e ast.ValueExpr) any {
	switch v := e.GetValue().(type) {
	case nil, int64, uint64, float64, string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		// decimal
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

func notPrefix(not bool) string {
	if not {
		return "not "
	}
	return ""
}
