package dialect

import (
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/pkg/errors"
)

// Compiled 编译结果，字段写作 $db.<entity>.<field>$，绑定值写作 $<name>$
type Compiled struct {
	Where  string
	Order  string
	Limit  string
	Params map[string]any
}

// Qualification where 之后的完整条件，包括排序和分页
func (c *Compiled) Qualification() string {
	var buf strings.Builder
	if c.Where == "" {
		buf.WriteString("1=1")
	} else {
		buf.WriteString(c.Where)
	}
	if c.Order != "" {
		buf.WriteString(" order by ")
		buf.WriteString(c.Order)
	}
	if c.Limit != "" {
		buf.WriteString(" ")
		buf.WriteString(c.Limit)
	}
	return buf.String()
}

// EntityPlaceholder 实体占位符
func EntityPlaceholder(entity string) string {
	return "$db." + entity + "$"
}

// FieldPlaceholder 字段占位符
func FieldPlaceholder(entity, field string) string {
	return "$db." + entity + "." + field + "$"
}

var compareOperators = map[query.CompareOp]string{
	query.EQ:   "=",
	query.NE:   "<>",
	query.LT:   "<",
	query.LE:   "<=",
	query.GT:   ">",
	query.GE:   ">=",
	query.LIKE: "like",
}

func (b *Base) CreateQuery(q *query.AQuery) (*Compiled, error) {
	c := &compiler{vendor: b.vendor}
	where, err := c.where(q)
	if err != nil {
		return nil, err
	}

	var orders []string
	for _, o := range q.Orders() {
		attr, err := c.attribute(q.Entity(), o.Attribute)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			attr += " desc"
		}
		orders = append(orders, attr)
	}

	compiled := &Compiled{
		Where:  where,
		Order:  strings.Join(orders, ", "),
		Params: q.Params(),
	}
	if limit, ok := q.LimitOf(); ok {
		compiled.Limit = b.vendor.LimitClause(limit.Offset, limit.Count)
	}
	return compiled, nil
}

type compiler struct {
	vendor Vendor
}

func (c *compiler) where(q *query.AQuery) (string, error) {
	predicates := q.Predicates()
	switch len(predicates) {
	case 0:
		return "", nil
	case 1:
		return c.operation(q.Entity(), predicates[0])
	}
	return c.operation(q.Entity(), query.And{Operations: predicates})
}

func (c *compiler) operation(entity string, op query.Operation) (string, error) {
	switch o := op.(type) {
	case query.And:
		return c.junction(entity, o.Operations, " and ", "1=1")
	case query.Or:
		return c.junction(entity, o.Operations, " or ", "1=0")
	case query.Not:
		inner, err := c.operation(entity, o.Operation)
		if err != nil {
			return "", err
		}
		return "not " + inner, nil
	case query.Compare:
		operator, ok := compareOperators[o.Op]
		if !ok {
			return "", errors.Wrapf(ErrUnsupported, "compare operator %v", o.Op)
		}
		left, err := c.attribute(entity, o.Left)
		if err != nil {
			return "", err
		}
		right, err := c.attribute(entity, o.Right)
		if err != nil {
			return "", err
		}
		return left + " " + operator + " " + right, nil
	case query.In:
		if len(o.List.Items) == 0 {
			return "1=0", nil
		}
		left, err := c.attribute(entity, o.Left)
		if err != nil {
			return "", err
		}
		list, err := c.attribute(entity, o.List)
		if err != nil {
			return "", err
		}
		return left + " in " + list, nil
	case query.InSubQuery:
		return c.subQuery(entity, o)
	case query.IsNull:
		attr, err := c.attribute(entity, o.Attribute)
		if err != nil {
			return "", err
		}
		if o.Not {
			return attr + " is not null", nil
		}
		return attr + " is null", nil
	}
	return "", errors.Wrapf(ErrUnsupported, "operation %T", op)
}

func (c *compiler) junction(entity string, ops []query.Operation, sep string, empty string) (string, error) {
	if len(ops) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		part, err := c.operation(entity, op)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *compiler) subQuery(entity string, o query.InSubQuery) (string, error) {
	if o.Query == nil {
		return "", errors.Wrap(ErrUnsupported, "nil sub query")
	}
	left, err := c.attribute(entity, o.Left)
	if err != nil {
		return "", err
	}
	where, err := c.where(o.Query)
	if err != nil {
		return "", err
	}
	if where == "" {
		where = "1=1"
	}
	sub := o.Query.Entity()
	return left + " in (select distinct " + FieldPlaceholder(sub, o.Projection) +
		" from " + EntityPlaceholder(sub) + " where " + where + ")", nil
}

func (c *compiler) attribute(entity string, attr query.Attribute) (string, error) {
	switch a := attr.(type) {
	case query.Field:
		if a.Entity != "" {
			entity = a.Entity
		}
		return FieldPlaceholder(entity, a.Name), nil
	case query.Value:
		return "$" + a.Name + "$", nil
	case query.Fixed:
		return c.vendor.Literal(a.Value), nil
	case query.EnumValue:
		return strconv.FormatInt(a.Ordinal, 10), nil
	case query.Concat:
		parts := make([]string, 0, len(a.Parts))
		for _, p := range a.Parts {
			part, err := c.attribute(entity, p)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return c.vendor.Concat(parts), nil
	case query.List:
		items := make([]string, 0, len(a.Items))
		for _, i := range a.Items {
			item, err := c.attribute(entity, i)
			if err != nil {
				return "", err
			}
			items = append(items, item)
		}
		return "(" + strings.Join(items, ", ") + ")", nil
	}
	return "", errors.Wrapf(ErrUnsupported, "attribute %T", attr)
}
