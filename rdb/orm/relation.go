package orm

import (
	"context"
	"reflect"

	"github.com/hatlonely/goxdb/rdb/query"
	"github.com/pkg/errors"
)

// FieldRelation 关系属性，生命周期回调跟随所属对象
//
// prepareCreate 在所属对象写入前调用，created/saved/loaded 在写入或加载成功后调用。
type FieldRelation interface {
	IsChanged() bool

	// ownsKey 外键是否在所属对象上
	ownsKey() bool
	prepareCreate(rc *relationCall) error
	created(rc *relationCall) error
	loaded(rc *relationCall) error
	saved(rc *relationCall) error
}

var fieldRelationType = reflect.TypeOf((*FieldRelation)(nil)).Elem()

// relationField 表上的关系属性
type relationField struct {
	name  string
	index []int
	// rel 单值关系为所属对象上的外键属性，多值关系为目标对象上引用所属对象主键的属性
	rel string
	fk  *Field
}

func (r *relationField) helper(obj any) FieldRelation {
	return reflect.ValueOf(obj).Elem().FieldByIndex(r.index).Addr().Interface().(FieldRelation)
}

type relationCall struct {
	call  *Call
	table *Table
	owner any
	field *relationField
}

// RelSingle 多对一关系，外键保存在所属对象的 rel 属性上，目标对象按需加载
//
//	type User struct {
//		GroupID string          `rdb:"group_id"`
//		Group   RelSingle[Group] `rdb:"rel=groupID"`
//	}
type RelSingle[T any] struct {
	manager *Manager
	key     any
	target  *T
	fetched bool
	changed bool
}

// Set 设置目标对象，所属对象保存时把目标主键写入外键
func (r *RelSingle[T]) Set(target *T) {
	r.target = target
	r.fetched = true
	r.changed = true
}

// Key 最近一次加载或保存时的外键值
func (r *RelSingle[T]) Key() any {
	return r.key
}

// Get 返回目标对象，首次调用时按外键加载
func (r *RelSingle[T]) Get(ctx context.Context, opts ...CallOption) (*T, error) {
	if r.fetched {
		return r.target, nil
	}
	if r.manager == nil || isEmptyKey(r.key) {
		return nil, nil
	}
	target, err := Get[T](ctx, r.manager, r.key, opts...)
	if err != nil {
		return nil, err
	}
	r.target = target
	r.fetched = true
	return target, nil
}

func (r *RelSingle[T]) IsChanged() bool {
	return r.changed
}

func (r *RelSingle[T]) ownsKey() bool {
	return true
}

func (r *RelSingle[T]) prepareCreate(rc *relationCall) error {
	if !r.changed {
		return nil
	}
	var key any
	if r.target != nil {
		t, err := rc.call.Manager.tableFor(r.target)
		if err != nil {
			return err
		}
		if len(t.keys) != 1 {
			return errors.Wrapf(ErrInvalidEntity, "relation target [%s] must have exactly one key", t.name)
		}
		if key, err = t.keys[0].Get(r.target); err != nil {
			return err
		}
	}
	return rc.field.fk.Set(rc.owner, key)
}

func (r *RelSingle[T]) created(rc *relationCall) error {
	return r.saved(rc)
}

func (r *RelSingle[T]) saved(rc *relationCall) error {
	key, err := rc.field.fk.Get(rc.owner)
	if err != nil {
		return err
	}
	r.manager = rc.call.Manager
	r.key = key
	r.changed = false
	return nil
}

func (r *RelSingle[T]) loaded(rc *relationCall) error {
	key, err := rc.field.fk.Get(rc.owner)
	if err != nil {
		return err
	}
	r.manager = rc.call.Manager
	r.key = key
	r.target = nil
	r.fetched = false
	r.changed = false
	return nil
}

// RelMulti 一对多关系，目标对象的 rel 属性引用所属对象的主键
//
//	type Group struct {
//		ID      string          `rdb:"id,primary"`
//		Members RelMulti[User]  `rdb:"rel=groupID"`
//	}
type RelMulti[T any] struct {
	manager *Manager
	attr    string
	key     any
	items   []*T
	fetched bool
	pending []*T
}

// Add 添加目标对象，所属对象创建或保存时写入
func (r *RelMulti[T]) Add(items ...*T) {
	r.pending = append(r.pending, items...)
}

// Get 已保存的目标对象加上尚未写入的对象
func (r *RelMulti[T]) Get(ctx context.Context, opts ...CallOption) ([]*T, error) {
	if !r.fetched && r.manager != nil && !isEmptyKey(r.key) {
		t, err := r.manager.tableFor(new(T))
		if err != nil {
			return nil, err
		}
		items, err := Find[T](ctx, r.manager, query.New(t.name, query.Eq(r.attr, r.key)), opts...)
		if err != nil {
			return nil, err
		}
		r.items = items
		r.fetched = true
	}
	out := make([]*T, 0, len(r.items)+len(r.pending))
	out = append(out, r.items...)
	return append(out, r.pending...), nil
}

func (r *RelMulti[T]) IsChanged() bool {
	return len(r.pending) > 0
}

func (r *RelMulti[T]) ownsKey() bool {
	return false
}

func (r *RelMulti[T]) prepareCreate(rc *relationCall) error {
	return nil
}

func (r *RelMulti[T]) created(rc *relationCall) error {
	return r.saved(rc)
}

// saved 写入新增的目标对象，和所属对象使用同一个连接
func (r *RelMulti[T]) saved(rc *relationCall) error {
	if err := r.bind(rc); err != nil {
		return err
	}
	if len(r.pending) == 0 {
		return nil
	}

	t, err := rc.call.Manager.tableFor(new(T))
	if err != nil {
		return err
	}
	f, ok := t.Field(r.attr)
	if !ok {
		return errors.Wrapf(ErrInvalidEntity, "relation attribute [%s.%s] not found", t.name, r.attr)
	}
	for _, item := range r.pending {
		if err := f.Set(item, r.key); err != nil {
			return err
		}
		exists, err := t.ExistsObject(rc.call, item)
		if err != nil {
			return err
		}
		if exists {
			err = t.SaveObject(rc.call, item)
		} else {
			err = t.CreateObject(rc.call, item)
		}
		if err != nil {
			return errors.WithMessagef(err, "save related [%s]", t.name)
		}
	}
	r.pending = nil
	r.fetched = false
	r.items = nil
	return nil
}

func (r *RelMulti[T]) loaded(rc *relationCall) error {
	if err := r.bind(rc); err != nil {
		return err
	}
	r.items = nil
	r.fetched = false
	r.pending = nil
	return nil
}

func (r *RelMulti[T]) bind(rc *relationCall) error {
	if len(rc.table.keys) != 1 {
		return errors.Wrapf(ErrInvalidEntity, "relation owner [%s] must have exactly one key", rc.table.name)
	}
	key, err := rc.table.keys[0].Get(rc.owner)
	if err != nil {
		return err
	}
	r.manager = rc.call.Manager
	r.attr = rc.field.rel
	r.key = key
	return nil
}

func isEmptyKey(key any) bool {
	if key == nil {
		return true
	}
	v := reflect.ValueOf(key)
	return v.IsZero()
}

// runRelations 依次调用所有关系属性的回调
func (t *Table) runRelations(c *Call, obj any, fn func(FieldRelation, *relationCall) error) error {
	for _, r := range t.relations {
		rc := &relationCall{call: c, table: t, owner: obj, field: r}
		if err := fn(r.helper(obj), rc); err != nil {
			return errors.WithMessagef(err, "relation [%s.%s]", t.name, r.name)
		}
	}
	return nil
}
