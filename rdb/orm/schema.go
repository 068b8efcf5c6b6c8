package orm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/rdb/dialect"
)

// Schema 实体集合，决定表前缀、特性装配、锁键和版本迁移
type Schema interface {
	Name() string
	TablePrefix() string

	// FindObjectTypes 实体列表，计算一次后缓存直到 ResetObjectTypes
	FindObjectTypes() []*EntityType
	ResetObjectTypes()

	// Features 表特性，按返回顺序执行
	Features(t *Table) []Feature
	// AttributeFeatures 字段特性，按返回顺序执行
	AttributeFeatures(f *Field) []AttributeFeature
	// LockKey 对象的锁键
	LockKey(t *Table, obj any) (string, error)

	// DataSteps 初始化数据步骤，在建表后执行
	DataSteps() []dialect.DataStep
	// InitDefaults 首次建库后调用
	InitDefaults(ctx context.Context, m *Manager, conn *database.Connection) error
	// Migrate 每次连接时调用，version 为库中记录的版本号，迁移完成后由实现调用 SetSchemaVersion
	Migrate(ctx context.Context, m *Manager, conn *database.Connection, version int) error
}

// BaseSchema Schema 的默认实现，自定义 Schema 嵌入它只覆盖需要的方法
type BaseSchema struct {
	SchemaName string
	Prefix     string
	Entities   func() []*EntityType
	Data       []dialect.DataStep

	mu    sync.Mutex
	types []*EntityType
	once  bool
}

// NewSchema 由固定的实体列表构造
func NewSchema(name string, entities ...*EntityType) *BaseSchema {
	return &BaseSchema{
		SchemaName: name,
		Entities: func() []*EntityType {
			return entities
		},
	}
}

func (s *BaseSchema) Name() string {
	return s.SchemaName
}

func (s *BaseSchema) TablePrefix() string {
	return s.Prefix
}

func (s *BaseSchema) FindObjectTypes() []*EntityType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.once {
		if s.Entities != nil {
			s.types = s.Entities()
		}
		s.once = true
	}
	return s.types
}

func (s *BaseSchema) ResetObjectTypes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = nil
	s.once = false
}

// Features 主键填充、版本号，设置了权限管理器时追加权限检查
func (s *BaseSchema) Features(t *Table) []Feature {
	m := t.Manager()
	features := []Feature{
		&KeyFeature{Str: m.strKeys, Int: m.intKeys},
		&VstampFeature{},
	}
	if pm := m.PermissionManager(); pm != nil {
		features = append(features, &AccessFeature{Permission: pm})
	}
	return features
}

// AttributeFeatures 有长度的字符串字段截断
func (s *BaseSchema) AttributeFeatures(f *Field) []AttributeFeature {
	if f.IsText() && f.Size() > 0 {
		return []AttributeFeature{CutFeature{}}
	}
	return nil
}

// LockKey 注册名加主键值
func (s *BaseSchema) LockKey(t *Table, obj any) (string, error) {
	keys, err := t.Key(obj)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, strings.ToLower(t.Name()))
	for _, k := range keys {
		parts = append(parts, fmt.Sprint(k))
	}
	return strings.Join(parts, ":"), nil
}

func (s *BaseSchema) DataSteps() []dialect.DataStep {
	return s.Data
}

func (s *BaseSchema) InitDefaults(ctx context.Context, m *Manager, conn *database.Connection) error {
	return nil
}

func (s *BaseSchema) Migrate(ctx context.Context, m *Manager, conn *database.Connection, version int) error {
	return nil
}
