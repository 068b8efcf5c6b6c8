package orm

import (
	"bytes"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
	"github.com/pkg/errors"
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// accessor 读写对象上的属性，值的类型为属性的 Go 类型
type accessor interface {
	get(obj any) (reflect.Value, error)
	set(obj any, v reflect.Value) error
}

type structAccessor struct {
	owner reflect.Type
	index []int
	name  string
}

func (a *structAccessor) value(obj any) (reflect.Value, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != a.owner {
		return reflect.Value{}, errors.Wrapf(ErrReflect, "expect *%v, got %T", a.owner, obj)
	}
	return rv.Elem().FieldByIndex(a.index), nil
}

func (a *structAccessor) get(obj any) (reflect.Value, error) {
	return a.value(obj)
}

func (a *structAccessor) set(obj any, v reflect.Value) error {
	fv, err := a.value(obj)
	if err != nil {
		return err
	}
	if !v.Type().AssignableTo(fv.Type()) {
		return errors.Wrapf(ErrReflect, "field [%s] expect %v, got %v", a.name, fv.Type(), v.Type())
	}
	fv.Set(v)
	return nil
}

// dynamicAccessor 可空字段的 nil 用无效的 reflect.Value 表示
type dynamicAccessor struct {
	entity   string
	key      string
	goType   reflect.Type
	nullable bool
}

func (a *dynamicAccessor) object(obj any) (*DynamicObject, error) {
	o, ok := obj.(*DynamicObject)
	if !ok || o == nil || !strings.EqualFold(o.entity, a.entity) {
		return nil, errors.Wrapf(ErrReflect, "expect *DynamicObject of [%s], got %T", a.entity, obj)
	}
	return o, nil
}

func (a *dynamicAccessor) get(obj any) (reflect.Value, error) {
	o, err := a.object(obj)
	if err != nil {
		return reflect.Value{}, err
	}
	v, ok := o.values[a.key]
	if !ok || v == nil {
		if a.nullable {
			return reflect.Value{}, nil
		}
		return reflect.Zero(a.goType), nil
	}
	return reflect.ValueOf(v), nil
}

func (a *dynamicAccessor) set(obj any, v reflect.Value) error {
	o, err := a.object(obj)
	if err != nil {
		return err
	}
	if !v.IsValid() {
		o.values[a.key] = nil
		return nil
	}
	o.values[a.key] = v.Interface()
	return nil
}

// Field 属性和列的绑定
//
// Get 把属性值转为列值：枚举转序号、对象序列化，再依次经过属性特性和表特性；
// Set 反向经过同样的链，再转换为属性的 Go 类型写回对象。
type Field struct {
	table *Table
	index int

	name       string
	column     string
	quoted     string
	colType    dialect.ColumnType
	size       int
	primary    bool
	readOnly   bool
	nullable   bool
	persistent bool
	technical  bool
	vstamp     bool
	auto       string
	def        any
	indexName  string
	uniqueName string

	goType   reflect.Type
	enum     *enumInfo
	codec    codec
	acc      accessor
	features []AttributeFeature
}

func (f *Field) Table() *Table {
	return f.table
}

// Name 属性名
func (f *Field) Name() string {
	return f.name
}

// Column 规范化后的物理列名
func (f *Field) Column() string {
	return f.column
}

func (f *Field) Type() dialect.ColumnType {
	return f.colType
}

func (f *Field) Size() int {
	return f.size
}

func (f *Field) Primary() bool {
	return f.primary
}

func (f *Field) ReadOnly() bool {
	return f.readOnly
}

func (f *Field) Nullable() bool {
	return f.nullable
}

// Persistent 是否落库，virtual 字段为 false
func (f *Field) Persistent() bool {
	return f.persistent
}

func (f *Field) Technical() bool {
	return f.technical
}

func (f *Field) Vstamp() bool {
	return f.vstamp
}

// Auto 创建时自动填充方式
func (f *Field) Auto() string {
	return f.auto
}

func (f *Field) Enum() bool {
	return f.enum != nil
}

// EnumValues 枚举值列表，序号即下标
func (f *Field) EnumValues() []string {
	if f.enum == nil {
		return nil
	}
	return f.enum.values
}

func (f *Field) GoType() reflect.Type {
	return f.goType
}

// IsText 列是否为字符串类型
func (f *Field) IsText() bool {
	return f.enum == nil && (f.colType == dialect.TypeString || f.colType == dialect.TypeText)
}

func (f *Field) param() string {
	return "f" + strconv.Itoa(f.index)
}

// Get 读取列值
func (f *Field) Get(obj any) (any, error) {
	rv, err := f.acc.get(obj)
	if err != nil {
		return nil, err
	}
	value, err := f.toColumn(rv)
	if err != nil {
		return nil, errors.WithMessagef(err, "field [%s.%s]", f.table.name, f.name)
	}
	for _, af := range f.features {
		if value, err = af.Get(f, obj, value); err != nil {
			return nil, err
		}
	}
	for _, tf := range f.table.features {
		if value, err = tf.GetValue(f, obj, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// Set 写入列值，value 可以是数据库返回的任意驱动类型
func (f *Field) Set(obj any, value any) error {
	var err error
	for _, af := range f.features {
		if value, err = af.Set(f, obj, value); err != nil {
			return err
		}
	}
	for _, tf := range f.table.features {
		if value, err = tf.SetValue(f, obj, value); err != nil {
			return err
		}
	}
	rv, err := f.fromColumn(value)
	if err != nil {
		return errors.WithMessagef(err, "field [%s.%s]", f.table.name, f.name)
	}
	return f.acc.set(obj, rv)
}

// Different 候选列值和对象当前的列值是否不同，两边都先规范化再比较
func (f *Field) Different(obj any, candidate any) (bool, error) {
	current, err := f.Get(obj)
	if err != nil {
		return false, err
	}
	if f.codec != nil {
		a, err := f.fromColumn(current)
		if err != nil {
			return false, err
		}
		b, err := f.fromColumn(candidate)
		if err != nil {
			return false, err
		}
		return !f.codec.equal(a, b), nil
	}
	a, err := f.normalize(current)
	if err != nil {
		return false, err
	}
	b, err := f.normalize(candidate)
	if err != nil {
		return false, err
	}
	return !equalColumn(a, b), nil
}

// FillNameMapping 注册 db.<table>.<field> 占位符，属性名和列名都可以引用
// 替换成不带表名的列名，insert/update 的列清单不接受 "table"."column"
func (f *Field) FillNameMapping(mapping map[string]string) {
	target := f.quoted
	mapping["db."+strings.ToLower(f.table.name)+"."+strings.ToLower(f.name)] = target
	mapping["db."+strings.ToLower(f.table.name)+"."+f.column] = target
}

func (f *Field) normalize(value any) (any, error) {
	rv, err := f.fromColumn(value)
	if err != nil {
		return nil, err
	}
	return f.toColumn(rv)
}

func (f *Field) columnDecl() dialect.ColumnDecl {
	return dialect.ColumnDecl{
		Name:     f.column,
		Type:     f.colType,
		Size:     f.size,
		Nullable: f.nullable,
		Default:  f.def,
		Primary:  f.primary,
		Virtual:  !f.persistent,
	}
}

// toColumn 属性值转为列值：字符串、int64、float64、bool、time.Time、[]byte 或 nil
func (f *Field) toColumn(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if f.codec != nil {
		return f.codec.encode(v)
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if f.enum != nil {
		return f.enum.ordinal(v)
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Slice:
		if v.IsNil() && f.nullable {
			return nil, nil
		}
		b := make([]byte, v.Len())
		copy(b, v.Bytes())
		return b, nil
	case reflect.Struct:
		if v.Type().ConvertibleTo(timeType) {
			return v.Convert(timeType).Interface(), nil
		}
	}
	return nil, errors.Wrapf(ErrReflect, "unsupported type %v", v.Type())
}

// fromColumn 列值转为属性的 Go 类型
func (f *Field) fromColumn(value any) (reflect.Value, error) {
	t := f.goType
	if f.codec != nil {
		if value == nil {
			return reflect.Zero(t), nil
		}
		b, ok := value.([]byte)
		if !ok {
			b = []byte(database.ToString(value))
		}
		return f.codec.decode(b, t)
	}
	if value == nil {
		if _, ok := f.acc.(*dynamicAccessor); ok && f.nullable {
			return reflect.Value{}, nil
		}
		return reflect.Zero(t), nil
	}

	base := t
	if t.Kind() == reflect.Ptr {
		base = t.Elem()
	}

	var v reflect.Value
	if f.enum != nil {
		n, err := database.ToInt64(value)
		if err != nil {
			return reflect.Value{}, err
		}
		if v, err = f.enum.constant(n, base); err != nil {
			return reflect.Value{}, err
		}
	} else {
		v = reflect.New(base).Elem()
		if err := assign(v, value); err != nil {
			return reflect.Value{}, err
		}
	}

	if t.Kind() == reflect.Ptr {
		p := reflect.New(base)
		p.Elem().Set(v)
		return p, nil
	}
	return v, nil
}

func assign(v reflect.Value, value any) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(database.ToString(value))
	case reflect.Bool:
		b, err := database.ToBool(value)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := database.ToInt64(value)
		if err != nil {
			return err
		}
		if v.OverflowInt(n) {
			return errors.Errorf("value %d overflows %v", n, v.Type())
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := database.ToInt64(value)
		if err != nil {
			return err
		}
		if n < 0 || v.OverflowUint(uint64(n)) {
			return errors.Errorf("value %d overflows %v", n, v.Type())
		}
		v.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		n, err := database.ToFloat64(value)
		if err != nil {
			return err
		}
		v.SetFloat(n)
	case reflect.Slice:
		switch b := value.(type) {
		case []byte:
			v.SetBytes(append([]byte(nil), b...))
		case string:
			v.SetBytes([]byte(b))
		default:
			return errors.Errorf("cannot assign %T to %v", value, v.Type())
		}
	case reflect.Struct:
		if !v.Type().ConvertibleTo(timeType) {
			return errors.Errorf("cannot assign %T to %v", value, v.Type())
		}
		t, err := database.ToTime(value)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(t).Convert(v.Type()))
	default:
		return errors.Wrapf(ErrReflect, "unsupported type %v", v.Type())
	}
	return nil
}

func equalColumn(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		// 各数据库最多保存到微秒
		return ok && x.Truncate(time.Microsecond).Equal(y.Truncate(time.Microsecond))
	}
	return a == b
}
