package orm

import (
	"context"

	"github.com/hatlonely/goxdb/rdb/database"
)

// Right 权限类型
type Right int

const (
	RightRead Right = iota
	RightCreate
	RightUpdate
	RightDelete
)

func (r Right) String() string {
	switch r {
	case RightRead:
		return "READ"
	case RightCreate:
		return "CREATE"
	case RightUpdate:
		return "UPDATE"
	case RightDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// PermissionManager 权限判断，返回 false 或 *AccessDeniedError 都视为拒绝
type PermissionManager interface {
	HasPermission(ctx context.Context, m *Manager, t *Table, conn *database.Connection, obj any, right Right) (bool, error)
}

// Call 一次操作的上下文：context、管理器和本次使用的连接
type Call struct {
	Ctx     context.Context
	Manager *Manager
	Conn    *database.Connection
}

// Feature 表级钩子
//
// Pre 钩子按注册顺序执行，Post 钩子仍按注册顺序执行，只在操作成功后调用。
// GetValue/SetValue 在字段的属性特性之后执行。
type Feature interface {
	Init(t *Table) error

	PreCreate(c *Call, t *Table, obj any) error
	PostCreate(c *Call, t *Table, obj any) error
	PreSave(c *Call, t *Table, obj any) error
	PostSave(c *Call, t *Table, obj any) error
	PreDelete(c *Call, t *Table, obj any) error
	PostDelete(c *Call, t *Table, obj any) error
	PreGet(c *Call, t *Table, obj any) error
	PostGet(c *Call, t *Table, obj any) error
	PreFill(c *Call, t *Table, obj any) error
	PostFill(c *Call, t *Table, obj any) error

	GetValue(f *Field, obj any, value any) (any, error)
	SetValue(f *Field, obj any, value any) (any, error)
}

// AttributeFeature 字段级的值变换
type AttributeFeature interface {
	Get(f *Field, obj any, value any) (any, error)
	Set(f *Field, obj any, value any) (any, error)
}

// NopFeature 空实现，自定义特性嵌入它只覆盖需要的钩子
type NopFeature struct{}

func (NopFeature) Init(t *Table) error                         { return nil }
func (NopFeature) PreCreate(c *Call, t *Table, obj any) error  { return nil }
func (NopFeature) PostCreate(c *Call, t *Table, obj any) error { return nil }
func (NopFeature) PreSave(c *Call, t *Table, obj any) error    { return nil }
func (NopFeature) PostSave(c *Call, t *Table, obj any) error   { return nil }
func (NopFeature) PreDelete(c *Call, t *Table, obj any) error  { return nil }
func (NopFeature) PostDelete(c *Call, t *Table, obj any) error { return nil }
func (NopFeature) PreGet(c *Call, t *Table, obj any) error     { return nil }
func (NopFeature) PostGet(c *Call, t *Table, obj any) error    { return nil }
func (NopFeature) PreFill(c *Call, t *Table, obj any) error    { return nil }
func (NopFeature) PostFill(c *Call, t *Table, obj any) error   { return nil }

func (NopFeature) GetValue(f *Field, obj any, value any) (any, error) { return value, nil }
func (NopFeature) SetValue(f *Field, obj any, value any) (any, error) { return value, nil }

type hook func(f Feature, c *Call, t *Table, obj any) error

var (
	preCreate  hook = Feature.PreCreate
	postCreate hook = Feature.PostCreate
	preSave    hook = Feature.PreSave
	postSave   hook = Feature.PostSave
	preDelete  hook = Feature.PreDelete
	postDelete hook = Feature.PostDelete
	preGet     hook = Feature.PreGet
	postGet    hook = Feature.PostGet
	preFill    hook = Feature.PreFill
	postFill   hook = Feature.PostFill
)

// runHooks 按注册顺序执行，遇错即停
func (t *Table) runHooks(h hook, c *Call, obj any) error {
	for _, f := range t.features {
		if err := h(f, c, t, obj); err != nil {
			return err
		}
	}
	return nil
}
