package orm

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// registry 一次连接初始化出的所有表，重连时整体替换
type registry struct {
	tables     []*Table
	byName     map[string]*Table
	byPhysical map[string]*Table
	byType     map[reflect.Type]*Table
	names      map[string]string
}

func newRegistry() *registry {
	return &registry{
		byName:     map[string]*Table{},
		byPhysical: map[string]*Table{},
		byType:     map[reflect.Type]*Table{},
		names:      map[string]string{},
	}
}

func (r *registry) add(t *Table) error {
	name := strings.ToLower(t.name)
	if _, ok := r.byName[name]; ok {
		return errors.Wrapf(ErrInvalidEntity, "duplicate entity name [%s]", t.name)
	}
	if other, ok := r.byPhysical[t.physical]; ok {
		return errors.Wrapf(ErrInvalidEntity, "[%s] and [%s] map to the same table [%s]", other.name, t.name, t.physical)
	}
	r.tables = append(r.tables, t)
	r.byName[name] = t
	r.byPhysical[t.physical] = t
	if !t.entity.Dynamic() {
		r.byType[t.entity.goType] = t
	}
	t.FillNameMapping(r.names)
	return nil
}

// table 按注册名或物理表名查找
func (r *registry) table(name string) (*Table, error) {
	name = strings.ToLower(name)
	if t, ok := r.byName[name]; ok {
		return t, nil
	}
	if t, ok := r.byPhysical[name]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownEntity, "[%s]", name)
}

func (r *registry) tableFor(obj any) (*Table, error) {
	if o, ok := obj.(*DynamicObject); ok {
		if o == nil {
			return nil, errors.Wrap(ErrReflect, "nil object")
		}
		return r.table(o.entity)
	}
	rt := reflect.TypeOf(obj)
	if rt == nil || rt.Kind() != reflect.Ptr {
		return nil, errors.Wrapf(ErrReflect, "expect a pointer to entity, got %T", obj)
	}
	if t, ok := r.byType[rt.Elem()]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownEntity, "%v", rt.Elem())
}

// resolve 把 $db.<entity>$、$db.<entity>.<field>$ 替换为加引号的物理名
//
// 单引号内的文本不处理；其他 $name$ 是绑定参数，原样保留。
func (r *registry) resolve(sql string) (string, error) {
	var buf strings.Builder
	buf.Grow(len(sql))
	quoted := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			quoted = !quoted
			buf.WriteByte(ch)
			continue
		}
		if quoted || ch != '$' {
			buf.WriteByte(ch)
			continue
		}
		end := i + 1
		for end < len(sql) && isNameChar(sql[end]) {
			end++
		}
		if end == i+1 || end >= len(sql) || sql[end] != '$' {
			buf.WriteByte(ch)
			continue
		}
		name := sql[i+1 : end]
		if !strings.HasPrefix(strings.ToLower(name), "db.") {
			buf.WriteString(sql[i : end+1])
			i = end
			continue
		}
		target, ok := r.names[strings.ToLower(name)]
		if !ok {
			return "", errors.Wrapf(ErrUnresolvedName, "[$%s$] in [%s]", name, sql)
		}
		buf.WriteString(target)
		i = end
	}
	return buf.String(), nil
}

func isNameChar(ch byte) bool {
	return ch == '_' || ch == '.' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
