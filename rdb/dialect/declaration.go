package dialect

import (
	"sort"
	"strings"
)

// ColumnType 与数据库无关的列类型
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeText
	TypeInt
	TypeLong
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	}
	return "unknown"
}

// ParseColumnType 解析类型名，用于动态字段定义
func ParseColumnType(name string) (ColumnType, bool) {
	for t := TypeString; t <= TypeBytes; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, true
		}
	}
	return 0, false
}

// ColumnDecl 列声明，Name 为规范化后的物理列名
type ColumnDecl struct {
	Name     string
	Type     ColumnType
	Size     int
	Nullable bool
	// Default 为 nil 表示没有默认值
	Default any
	Primary bool
	// Virtual 列不落库
	Virtual bool
}

// IndexDecl 索引声明
type IndexDecl struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableDecl 表声明
type TableDecl struct {
	Name    string
	Columns []ColumnDecl
	Indexes []IndexDecl
}

// PrimaryKey 主键列，按列名排序
func (t *TableDecl) PrimaryKey() []string {
	var keys []string
	for _, c := range t.Columns {
		if c.Primary && !c.Virtual {
			keys = append(keys, c.Name)
		}
	}
	sort.Strings(keys)
	return keys
}

// DataStep 初始化数据步骤：先执行 Select，根据结果执行对应分支的语句
//
// 语句中的 $name$ 参数从 Params 取值。每条语句失败都只记录日志。
type DataStep struct {
	Name       string
	Select     string
	Params     map[string]any
	OnFound    []string
	OnNotFound []string
	OnError    []string
}

// Declaration 一组表、索引和初始化数据的声明
type Declaration struct {
	Tables []TableDecl
	Data   []DataStep
}

func sortedCopy(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(s)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	a, b = sortedCopy(a), sortedCopy(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
