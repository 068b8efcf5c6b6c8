package orm

import (
	"reflect"
	"strings"
	"unicode"
)

// EntityType 实体描述
//
// 两种实体：Entity[T] 由结构体 tag 声明字段，DynamicEntity 的字段由 FieldProvider 在运行时提供，
// 对象为 *DynamicObject。
type EntityType struct {
	name     string
	table    string
	goType   reflect.Type
	provider FieldProvider
}

type EntityOption func(*EntityType)

// WithName 注册名，缺省为结构体类型名
func WithName(name string) EntityOption {
	return func(e *EntityType) {
		e.name = name
	}
}

// WithTable 表名（不含前缀），缺省为注册名的蛇形形式
func WithTable(table string) EntityOption {
	return func(e *EntityType) {
		e.table = table
	}
}

type tabler interface {
	TableName() string
}

// Entity 结构体实体，对象为 *T
//
// 表名优先取 *T 的 TableName() 方法，字段由 rdb tag 声明：
//
//	rdb:"column,primary,size=80,readonly,nullable,default=x,index=name,unique=name,type=text,auto=uuid,vstamp,technical,virtual,rel=fk"
func Entity[T any](opts ...EntityOption) *EntityType {
	rt := reflect.TypeFor[T]()
	e := &EntityType{name: rt.Name(), goType: rt}
	if t, ok := reflect.New(rt).Interface().(tabler); ok {
		e.table = t.TableName()
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.table == "" {
		e.table = snakeCase(e.name)
	}
	return e
}

// DynamicEntity 动态实体，字段定义在每次连接时从 provider 读取
func DynamicEntity(name string, provider FieldProvider, opts ...EntityOption) *EntityType {
	e := &EntityType{name: name, provider: provider}
	for _, opt := range opts {
		opt(e)
	}
	if e.table == "" {
		e.table = snakeCase(e.name)
	}
	return e
}

func (e *EntityType) Name() string {
	return e.name
}

func (e *EntityType) TableName() string {
	return e.table
}

// GoType 结构体类型，动态实体为 nil
func (e *EntityType) GoType() reflect.Type {
	return e.goType
}

func (e *EntityType) Dynamic() bool {
	return e.goType == nil
}

func (e *EntityType) Provider() FieldProvider {
	return e.provider
}

// New 创建空对象
func (e *EntityType) New() any {
	if e.Dynamic() {
		return NewDynamicObject(e.name)
	}
	return reflect.New(e.goType).Interface()
}

// DynamicObject 动态实体的对象，属性名不区分大小写
type DynamicObject struct {
	entity string
	values map[string]any
}

func NewDynamicObject(entity string) *DynamicObject {
	return &DynamicObject{entity: entity, values: map[string]any{}}
}

func (o *DynamicObject) Entity() string {
	return o.entity
}

func (o *DynamicObject) Get(name string) any {
	return o.values[strings.ToLower(name)]
}

func (o *DynamicObject) Set(name string, value any) *DynamicObject {
	o.values[strings.ToLower(name)] = value
	return o
}

// Values 所有属性的拷贝
func (o *DynamicObject) Values() map[string]any {
	values := make(map[string]any, len(o.values))
	for k, v := range o.values {
		values[k] = v
	}
	return values
}

// snakeCase GroupID -> group_id, URLPath -> url_path
func snakeCase(name string) string {
	runes := []rune(name)
	var buf strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				buf.WriteByte('_')
			}
			buf.WriteRune(unicode.ToLower(r))
			continue
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

// attributeName GroupID -> groupID, URLPath -> urlPath, ID -> id
func attributeName(name string) string {
	runes := []rune(name)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return name
	case n == len(runes):
		return strings.ToLower(name)
	case n > 1:
		// 连续大写的最后一个属于下一个单词
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
