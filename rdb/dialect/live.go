package dialect

import (
	"strconv"
	"strings"
)

// LiveColumn 数据库中实际存在的列
type LiveColumn struct {
	Name     string
	Type     string
	Size     int
	Nullable bool
	// Default 为 nil 表示没有默认值
	Default *string
}

// LiveIndex 数据库中实际存在的索引，不含主键
type LiveIndex struct {
	Name    string
	Columns []string
	Unique  bool
}

// LiveTable 数据库中实际存在的表
type LiveTable struct {
	Name           string
	Columns        []*LiveColumn
	PrimaryKey     []string
	PrimaryKeyName string
	Indexes        map[string]*LiveIndex
}

func newLiveTable(name string) *LiveTable {
	return &LiveTable{Name: name, Indexes: map[string]*LiveIndex{}}
}

// Column 按名称查找列，不区分大小写
func (t *LiveTable) Column(name string) *LiveColumn {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Index 按名称查找索引，不区分大小写
func (t *LiveTable) Index(name string) *LiveIndex {
	for n, idx := range t.Indexes {
		if strings.EqualFold(n, name) {
			return idx
		}
	}
	return nil
}

// TypeSpec 列类型：Name 用于与数据库中的类型比较，SQL 用于 DDL
type TypeSpec struct {
	Name string
	Size int
	SQL  string
}

// matches 类型名一致，且声明了长度时长度一致
func (s TypeSpec) matches(c *LiveColumn) bool {
	if !strings.EqualFold(s.Name, c.Type) {
		return false
	}
	return s.Size == 0 || s.Size == c.Size
}

// splitType 把 "varchar(80)" 拆成 ("varchar", 80)
func splitType(declared string) (string, int) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	open := strings.Index(declared, "(")
	if open < 0 {
		return declared, 0
	}
	name := strings.TrimSpace(declared[:open])
	end := strings.Index(declared[open:], ")")
	if end < 0 {
		return name, 0
	}
	args := strings.Split(declared[open+1:open+end], ",")
	size, _ := strconv.Atoi(strings.TrimSpace(args[0]))
	return name, size
}

// normalizeDefault 去掉类型转换后缀、括号和引号，使各数据库返回的默认值可比较
func normalizeDefault(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	for strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if strings.HasPrefix(v, "'") {
		if end := strings.LastIndex(v, "'"); end > 0 {
			v = v[1:end]
			v = strings.ReplaceAll(v, "''", "'")
		}
	} else if i := strings.Index(v, "::"); i >= 0 {
		v = v[:i]
	}
	if strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func sameDefault(a, b *string) bool {
	a, b = normalizeDefault(a), normalizeDefault(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
