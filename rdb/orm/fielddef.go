package orm

import (
	"context"
	"reflect"
	"strconv"
	"strings"

	"github.com/hatlonely/goxdb/cfg"
	"github.com/pkg/errors"
)

// FieldDef 字段声明，结构体 tag 和动态字段定义文件都解析为它
type FieldDef struct {
	Name string `cfg:"name" validate:"required"`
	// Column 物理列名，缺省为属性名的蛇形形式
	Column string `cfg:"column"`
	// Type 列类型：string text int long float bool time bytes
	Type     string `cfg:"type"`
	Size     int    `cfg:"size" validate:"gte=0"`
	Primary  bool   `cfg:"primary"`
	ReadOnly bool   `cfg:"readOnly"`
	Nullable bool   `cfg:"nullable"`
	// Default 列默认值，按列类型解析，为空表示没有默认值
	Default string `cfg:"default"`
	// Enum 动态字段的枚举值，按序号存储
	Enum []string `cfg:"enum"`
	// Index/Unique 所属索引名，同名字段组成联合索引
	Index  string `cfg:"index"`
	Unique string `cfg:"unique"`
	// Virtual 字段不落库
	Virtual bool `cfg:"virtual"`
	// Technical 字段不参与 ObjectChanged 比较
	Technical bool `cfg:"technical"`
	// Vstamp 版本号字段，每次保存递增
	Vstamp bool `cfg:"vstamp"`
	// Auto 创建时自动填充：uuid、snowflake 或 now
	Auto string `cfg:"auto" validate:"omitempty,oneof=uuid snowflake now"`
}

// FieldProvider 动态实体的字段来源
type FieldProvider interface {
	Fields(ctx context.Context) ([]FieldDef, error)
}

// StaticFields 固定的字段列表
type StaticFields []FieldDef

func (s StaticFields) Fields(ctx context.Context) ([]FieldDef, error) {
	return s, nil
}

// FileFieldProvider 从 yaml/toml/json/ini 文件读取字段定义
//
// 文件格式：
//
//	fields:
//	  - name: id
//	    type: string
//	    size: 36
//	    primary: true
type FileFieldProvider struct {
	Path string
}

type fieldFile struct {
	Fields []FieldDef `cfg:"fields" validate:"required,dive"`
}

func (p *FileFieldProvider) Fields(ctx context.Context) ([]FieldDef, error) {
	var f fieldFile
	if err := cfg.Load(p.Path, &f); err != nil {
		return nil, errors.WithMessage(err, "load field definitions failed")
	}
	return f.Fields, nil
}

// Paths 需要监听的文件
func (p *FileFieldProvider) Paths() []string {
	return []string{p.Path}
}

// parseTag 解析 rdb tag，第一段不含 = 时为列名
//
// 返回 rel 为关系字段引用的外键属性
var tagFlags = map[string]bool{
	"primary": true, "pk": true, "readonly": true, "nullable": true, "required": true, "not_null": true,
	"index": true, "unique": true, "virtual": true, "technical": true, "vstamp": true, "enum": true,
}

func parseTag(field reflect.StructField) (def FieldDef, rel string, err error) {
	def.Name = attributeName(field.Name)

	tag := field.Tag.Get("rdb")
	if tag == "" {
		return def, "", nil
	}

	parts := strings.Split(tag, ",")
	// 第一段是列名，与开关同名的列需要写成 column=xxx
	if first := strings.TrimSpace(parts[0]); first != "" && !strings.Contains(first, "=") && !tagFlags[first] {
		def.Column = first
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			switch key {
			case "column":
				def.Column = value
			case "type":
				def.Type = value
			case "size":
				if def.Size, err = strconv.Atoi(value); err != nil {
					return def, "", errors.Wrapf(ErrInvalidEntity, "field [%s] size [%s]", field.Name, value)
				}
			case "default":
				def.Default = unquote(value)
			case "index":
				def.Index = value
			case "unique":
				def.Unique = value
			case "auto":
				def.Auto = value
			case "rel":
				rel = value
			default:
				return def, "", errors.Wrapf(ErrInvalidEntity, "field [%s] unknown tag option [%s]", field.Name, key)
			}
			continue
		}

		switch part {
		case "primary", "pk":
			def.Primary = true
		case "readonly":
			def.ReadOnly = true
		case "nullable":
			def.Nullable = true
		case "required", "not_null":
			def.Nullable = false
		case "index":
			def.Index = "-"
		case "unique":
			def.Unique = "-"
		case "virtual":
			def.Virtual = true
		case "technical":
			def.Technical = true
		case "vstamp":
			def.Vstamp = true
			def.Technical = true
		case "enum":
			// 枚举由类型的 EnumValues 方法识别，保留写法兼容
		default:
			return def, "", errors.Wrapf(ErrInvalidEntity, "field [%s] unknown tag option [%s]", field.Name, part)
		}
	}
	return def, rel, nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}
