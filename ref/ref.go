// Package ref 按名称注册和调用构造函数
//
// 构造函数形如 func() T、func() (T, error)、func(*Options) T 或 func(*Options) (T, error)；
// 配置文件解码出的 map 会先经 cfg.ConvertTo 转换为构造函数的参数类型。
package ref

import (
	"reflect"
	"sync"

	"github.com/hatlonely/goxdb/cfg"
	"github.com/pkg/errors"
)

// ErrNotRegistered 名称未注册
var ErrNotRegistered = errors.New("constructor not registered")

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// TypeOptions 通过注册名构造对象的配置
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type" validate:"required"`
	Options   any    `cfg:"options"`
}

type constructor struct {
	fn           reflect.Value
	hasOptions   bool
	returnsError bool
}

var constructors sync.Map

func newConstructor(fn any) (*constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, errors.Errorf("constructor must be a function, got %T", fn)
	}
	t := v.Type()
	if t.NumIn() > 1 {
		return nil, errors.Errorf("constructor must have 0 or 1 parameters, got %d", t.NumIn())
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return nil, errors.Errorf("constructor must have 1 or 2 return values, got %d", t.NumOut())
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be error")
	}
	return &constructor{fn: v, hasOptions: t.NumIn() == 1, returnsError: t.NumOut() == 2}, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		arg, err := c.argument(options)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	results := c.fn.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// argument 把 options 转为构造函数参数：类型匹配直接使用，否则走 cfg.ConvertTo
func (c *constructor) argument(options any) (reflect.Value, error) {
	paramType := c.fn.Type().In(0)
	if options == nil {
		return reflect.Zero(paramType), nil
	}
	if v := reflect.ValueOf(options); v.Type().AssignableTo(paramType) {
		return v, nil
	}

	target := paramType
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	value := reflect.New(target)
	if err := cfg.ConvertTo(options, value.Interface()); err != nil {
		return reflect.Value{}, errors.WithMessagef(err, "convert options to %v failed", paramType)
	}
	if paramType.Kind() == reflect.Ptr {
		return value, nil
	}
	return value.Elem(), nil
}

func key(namespace, typ string) string {
	return namespace + ":" + typ
}

// Register 注册构造函数，同名重复注册同一函数时忽略，不同函数返回错误
func Register(namespace string, typ string, fn any) error {
	c, err := newConstructor(fn)
	if err != nil {
		return errors.WithMessagef(err, "register [%s] failed", key(namespace, typ))
	}
	if existing, loaded := constructors.LoadOrStore(key(namespace, typ), c); loaded {
		if existing.(*constructor).fn.Pointer() != c.fn.Pointer() {
			return errors.Errorf("[%s] already registered with a different constructor", key(namespace, typ))
		}
	}
	return nil
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// New 调用注册的构造函数
func New(namespace string, typ string, options any) (any, error) {
	v, ok := constructors.Load(key(namespace, typ))
	if !ok {
		return nil, errors.Wrapf(ErrNotRegistered, "[%s]", key(namespace, typ))
	}
	obj, err := v.(*constructor).call(options)
	if err != nil {
		return nil, errors.WithMessagef(err, "new [%s] failed", key(namespace, typ))
	}
	return obj, nil
}

// NewWithOptions 按 TypeOptions 构造对象并断言为 T
func NewWithOptions[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, errors.New("options is nil")
	}
	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("[%s] created %T, not %T", key(options.Namespace, options.Type), obj, zero)
	}
	return t, nil
}
