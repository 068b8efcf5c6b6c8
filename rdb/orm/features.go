package orm

import (
	"time"

	"github.com/hatlonely/goxdb/rdb/database"
	"github.com/hatlonely/goxdb/uid"
	"github.com/pkg/errors"
)

// CutFeature 超过字段长度的字符串截断到字段长度，按字符计
type CutFeature struct{}

func (CutFeature) Get(f *Field, obj any, value any) (any, error) {
	return cut(f, value), nil
}

func (CutFeature) Set(f *Field, obj any, value any) (any, error) {
	return cut(f, value), nil
}

func cut(f *Field, value any) any {
	if f.size <= 0 || !f.IsText() {
		return value
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return value
	}
	if len(s) <= f.size {
		return value
	}
	runes := []rune(s)
	if len(runes) <= f.size {
		return s
	}
	return string(runes[:f.size])
}

// AccessFeature 由 PermissionManager 决定是否允许操作
type AccessFeature struct {
	NopFeature
	Permission PermissionManager
}

func (a *AccessFeature) check(c *Call, t *Table, obj any, right Right) error {
	ok, err := a.Permission.HasPermission(c.Ctx, c.Manager, t, c.Conn, obj, right)
	if err != nil {
		return err
	}
	if !ok {
		return &AccessDeniedError{Table: t.name, Right: right}
	}
	return nil
}

func (a *AccessFeature) PreCreate(c *Call, t *Table, obj any) error {
	return a.check(c, t, obj, RightCreate)
}

func (a *AccessFeature) PreSave(c *Call, t *Table, obj any) error {
	return a.check(c, t, obj, RightUpdate)
}

func (a *AccessFeature) PreDelete(c *Call, t *Table, obj any) error {
	return a.check(c, t, obj, RightDelete)
}

// PostGet 读权限在加载后判断，需要看到完整对象
func (a *AccessFeature) PostGet(c *Call, t *Table, obj any) error {
	return a.check(c, t, obj, RightRead)
}

func (a *AccessFeature) PostFill(c *Call, t *Table, obj any) error {
	return a.check(c, t, obj, RightRead)
}

// VstampFeature 创建时版本号置 1，每次保存加 1
type VstampFeature struct {
	NopFeature
	fields []*Field
}

func (v *VstampFeature) Init(t *Table) error {
	v.fields = nil
	for _, f := range t.fields {
		if f.vstamp {
			v.fields = append(v.fields, f)
		}
	}
	return nil
}

func (v *VstampFeature) PreCreate(c *Call, t *Table, obj any) error {
	for _, f := range v.fields {
		if err := f.Set(obj, int64(1)); err != nil {
			return err
		}
	}
	return nil
}

func (v *VstampFeature) PreSave(c *Call, t *Table, obj any) error {
	for _, f := range v.fields {
		value, err := f.Get(obj)
		if err != nil {
			return err
		}
		n, err := database.ToInt64(value)
		if err != nil {
			return errors.WithMessagef(err, "vstamp [%s.%s]", t.name, f.name)
		}
		if err := f.Set(obj, n+1); err != nil {
			return err
		}
	}
	return nil
}

// KeyFeature 创建时填充 auto 字段，已有值时保持不变
//
// uuid 和 snowflake 分别由 Str/Int 生成器产生，now 为当前时间。
type KeyFeature struct {
	NopFeature
	Str    uid.StrGenerator
	Int    uid.IntGenerator
	fields []*Field
}

func (k *KeyFeature) Init(t *Table) error {
	k.fields = nil
	for _, f := range t.fields {
		if f.auto != "" {
			k.fields = append(k.fields, f)
		}
	}
	return nil
}

func (k *KeyFeature) PreCreate(c *Call, t *Table, obj any) error {
	for _, f := range k.fields {
		value, err := f.Get(obj)
		if err != nil {
			return err
		}
		switch f.auto {
		case "uuid":
			if database.ToString(value) == "" {
				if err := f.Set(obj, k.Str.Generate()); err != nil {
					return err
				}
			}
		case "snowflake":
			if n, err := database.ToInt64(value); err != nil || n == 0 {
				if err := f.Set(obj, k.Int.Generate()); err != nil {
					return err
				}
			}
		case "now":
			if tm, ok := value.(time.Time); !ok || tm.IsZero() {
				if err := f.Set(obj, time.Now()); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
