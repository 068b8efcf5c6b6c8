// Package cfg 加载选项结构体
//
// 选项结构体沿用 cfg/def/validate 三个 tag：
//   - cfg:"name" 配置键名，缺省为字段名首字母小写
//   - def:"value" 字段为零值时的默认值
//   - validate:"..." go-playground/validator 校验规则
package cfg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Load 读取配置文件，按扩展名选择解码器，转换到 object 并设置默认值、校验
func Load(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "os.ReadFile failed, path: [%s]", path)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if err := LoadBytes(data, format, object); err != nil {
		return errors.WithMessagef(err, "load [%s] failed", path)
	}
	return nil
}

// LoadBytes 按指定格式解码数据到 object
func LoadBytes(data []byte, format string, object any) error {
	decoded, err := Decode(data, format)
	if err != nil {
		return err
	}
	return ConvertTo(decoded, object)
}

// ConvertTo 将解码得到的通用数据转换到 object，随后设置默认值并校验
func ConvertTo(src any, object any) error {
	if err := convert(src, object); err != nil {
		return errors.WithMessage(err, "convert failed")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}
	if err := Validate(object); err != nil {
		return errors.WithMessage(err, "Validate failed")
	}
	return nil
}
