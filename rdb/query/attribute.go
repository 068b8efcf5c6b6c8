package query

// Attribute 操作数，封闭接口
type Attribute interface {
	attribute()
}

// Field 字段引用，Entity 为空时指查询自身的实体
type Field struct {
	Entity string
	Name   string
}

// Value 绑定值，以 Name 作为语句参数名
type Value struct {
	Name  string
	Value any
}

// Fixed 直接写入 SQL 的字面量
type Fixed struct {
	Value any
}

// EnumValue 枚举序号字面量
type EnumValue struct {
	Ordinal int64
}

// Concat 字符串拼接
type Concat struct {
	Parts []Attribute
}

// List in 操作的值列表
type List struct {
	Items []Attribute
}

func (Field) attribute()     {}
func (Value) attribute()     {}
func (Fixed) attribute()     {}
func (EnumValue) attribute() {}
func (Concat) attribute()    {}
func (List) attribute()      {}
