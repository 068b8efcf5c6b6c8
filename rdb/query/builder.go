package query

// F 引用字段，entity 为空时指查询自身的实体
func F(entity, name string) Field {
	return Field{Entity: entity, Name: name}
}

// V 创建绑定值，自动生成参数名
func V(value any) Value {
	return Value{Name: NextBindingName(), Value: value}
}

// Fix 创建字面量
func Fix(value any) Fixed {
	return Fixed{Value: value}
}

// Enum 创建枚举序号字面量
func Enum(ordinal int64) EnumValue {
	return EnumValue{Ordinal: ordinal}
}

// Cat 拼接
func Cat(parts ...any) Concat {
	attrs := make([]Attribute, 0, len(parts))
	for _, p := range parts {
		attrs = append(attrs, value(p))
	}
	return Concat{Parts: attrs}
}

// field string 视为字段名，Attribute 原样使用
func field(v any) Attribute {
	switch a := v.(type) {
	case Attribute:
		return a
	case string:
		return Field{Name: a}
	}
	return V(v)
}

// value Attribute 原样使用，其它值视为绑定值
func value(v any) Attribute {
	if a, ok := v.(Attribute); ok {
		return a
	}
	return V(v)
}

func compare(op CompareOp, left, right any) Compare {
	return Compare{Op: op, Left: field(left), Right: value(right)}
}

func Eq(left, right any) Compare   { return compare(EQ, left, right) }
func Ne(left, right any) Compare   { return compare(NE, left, right) }
func Lt(left, right any) Compare   { return compare(LT, left, right) }
func Le(left, right any) Compare   { return compare(LE, left, right) }
func Gt(left, right any) Compare   { return compare(GT, left, right) }
func Ge(left, right any) Compare   { return compare(GE, left, right) }
func Like(left, right any) Compare { return compare(LIKE, left, right) }

// In left in (values...)
func InValues(left any, values ...any) In {
	items := make([]Attribute, 0, len(values))
	for _, v := range values {
		items = append(items, value(v))
	}
	return In{Left: field(left), List: List{Items: items}}
}

// InSub left in (select distinct projection from sub ...)
func InSub(left any, projection string, sub *AQuery) InSubQuery {
	return InSubQuery{Left: field(left), Projection: projection, Query: sub}
}

func Null(attr any) IsNull    { return IsNull{Attribute: field(attr)} }
func NotNull(attr any) IsNull { return IsNull{Attribute: field(attr), Not: true} }

func AllOf(ops ...Operation) And { return And{Operations: ops} }
func AnyOf(ops ...Operation) Or  { return Or{Operations: ops} }
func Negate(op Operation) Not    { return Not{Operation: op} }

func Asc(attr any) Order  { return Order{Attribute: field(attr)} }
func Desc(attr any) Order { return Order{Attribute: field(attr), Desc: true} }

func LimitTo(offset, count int) Limit {
	return Limit{Offset: offset, Count: count}
}
