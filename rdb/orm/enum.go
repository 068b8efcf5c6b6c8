package orm

import (
	"reflect"

	"github.com/pkg/errors"
)

// Enum 枚举类型，按 EnumValues 中的序号存储
//
// 字符串枚举的序号是值在列表中的位置，空字符串按序号 0 存储；整数枚举的序号就是值本身：
//
//	type Color string
//
//	func (Color) EnumValues() []string { return []string{"red", "green", "blue"} }
type Enum interface {
	EnumValues() []string
}

var enumType = reflect.TypeOf((*Enum)(nil)).Elem()

type enumInfo struct {
	values []string
}

func newEnumInfo(t reflect.Type) (*enumInfo, error) {
	if !t.Implements(enumType) {
		return nil, errors.Wrapf(ErrInvalidEntity, "type [%v] does not implement Enum", t)
	}
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return nil, errors.Wrapf(ErrInvalidEntity, "enum type [%v] must be a string or integer kind", t)
	}
	values := reflect.Zero(t).Interface().(Enum).EnumValues()
	if len(values) == 0 {
		return nil, errors.Wrapf(ErrInvalidEntity, "enum type [%v] has no values", t)
	}
	return &enumInfo{values: values}, nil
}

// ordinal 枚举值到序号
func (e *enumInfo) ordinal(v reflect.Value) (int64, error) {
	var n int64
	switch v.Kind() {
	case reflect.String:
		// 零值对应第一个枚举值，和整数枚举一致
		if v.String() == "" {
			return 0, nil
		}
		n = -1
		for i, s := range e.values {
			if s == v.String() {
				n = int64(i)
				break
			}
		}
		if n < 0 {
			return 0, errors.Wrapf(ErrEnumOrdinal, "unknown enum value [%s]", v.String())
		}
		return n, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = v.Int()
	default:
		n = int64(v.Uint())
	}
	if n < 0 || n >= int64(len(e.values)) {
		return 0, errors.Wrapf(ErrEnumOrdinal, "ordinal %d not in [0, %d)", n, len(e.values))
	}
	return n, nil
}

// constant 序号到枚举值，越界返回 ErrEnumOrdinal
func (e *enumInfo) constant(ordinal int64, t reflect.Type) (reflect.Value, error) {
	if ordinal < 0 || ordinal >= int64(len(e.values)) {
		return reflect.Value{}, errors.Wrapf(ErrEnumOrdinal, "ordinal %d not in [0, %d)", ordinal, len(e.values))
	}
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(e.values[ordinal])
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(ordinal)
	default:
		v.SetUint(uint64(ordinal))
	}
	return v, nil
}

// parse 默认值可以写枚举名或序号
func (e *enumInfo) parse(s string) (int64, bool) {
	for i, v := range e.values {
		if v == s {
			return int64(i), true
		}
	}
	return 0, false
}
