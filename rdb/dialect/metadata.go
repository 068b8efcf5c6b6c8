package dialect

import (
	"sort"
	"strings"
	"sync"
)

const (
	CategoryPrimary  = "primary"
	CategoryIndexed  = "indexed"
	CategoryUnique   = "unique"
	CategoryNullable = "nullable"
	CategoryDeclared = "declared"
)

// SqlMetadata 一列的描述信息
type SqlMetadata struct {
	Table      string
	Column     string
	Type       string
	Size       int
	Categories []string
}

// Is 是否属于某一类别
func (m SqlMetadata) Is(category string) bool {
	for _, c := range m.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// MetadataBundle 物理表结构的描述性镜像，每次同步后重建，仅用于查看
type MetadataBundle struct {
	mu     sync.RWMutex
	tables map[string][]SqlMetadata
}

func NewMetadataBundle() *MetadataBundle {
	return &MetadataBundle{tables: map[string][]SqlMetadata{}}
}

// Rebuild 用数据库中实际的表结构重建
func (m *MetadataBundle) Rebuild(decl *Declaration, live map[string]*LiveTable) {
	declared := map[string]map[string]bool{}
	for _, t := range decl.Tables {
		cols := map[string]bool{}
		for _, c := range t.Columns {
			if !c.Virtual {
				cols[strings.ToLower(c.Name)] = true
			}
		}
		declared[strings.ToLower(t.Name)] = cols
	}

	tables := make(map[string][]SqlMetadata, len(live))
	for name, table := range live {
		indexed := map[string]bool{}
		unique := map[string]bool{}
		for _, idx := range table.Indexes {
			for _, c := range idx.Columns {
				indexed[strings.ToLower(c)] = true
				if idx.Unique && len(idx.Columns) == 1 {
					unique[strings.ToLower(c)] = true
				}
			}
		}
		primary := map[string]bool{}
		for _, c := range table.PrimaryKey {
			primary[strings.ToLower(c)] = true
		}

		columns := make([]SqlMetadata, 0, len(table.Columns))
		for _, c := range table.Columns {
			key := strings.ToLower(c.Name)
			meta := SqlMetadata{Table: name, Column: c.Name, Type: c.Type, Size: c.Size}
			if primary[key] {
				meta.Categories = append(meta.Categories, CategoryPrimary)
			}
			if indexed[key] {
				meta.Categories = append(meta.Categories, CategoryIndexed)
			}
			if unique[key] {
				meta.Categories = append(meta.Categories, CategoryUnique)
			}
			if c.Nullable {
				meta.Categories = append(meta.Categories, CategoryNullable)
			}
			if declared[name][key] {
				meta.Categories = append(meta.Categories, CategoryDeclared)
			}
			columns = append(columns, meta)
		}
		tables[name] = columns
	}

	m.mu.Lock()
	m.tables = tables
	m.mu.Unlock()
}

// Tables 所有表名，已排序
func (m *MetadataBundle) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table 一张表的所有列
func (m *MetadataBundle) Table(name string) []SqlMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SqlMetadata(nil), m.tables[strings.ToLower(name)]...)
}

// Column 查找列
func (m *MetadataBundle) Column(table, column string) (SqlMetadata, bool) {
	for _, c := range m.Table(table) {
		if strings.EqualFold(c.Column, column) {
			return c, true
		}
	}
	return SqlMetadata{}, false
}
