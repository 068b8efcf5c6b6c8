package cfg

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Decode 将原始数据解码为 map/slice/标量组成的通用结构
func Decode(data []byte, format string) (any, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var result any
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
		return result, nil
	case "toml":
		var result map[string]any
		if err := toml.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
		return result, nil
	case "json":
		var result any
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
		return result, nil
	case "ini":
		return decodeIni(data)
	default:
		return nil, errors.Errorf("unsupported format: [%s]", format)
	}
}

// decodeIni section 映射为子 map，section 名中的 "." 表示嵌套
func decodeIni(data []byte) (any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		AllowShadows:             true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "ini.LoadSources failed")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				sub, ok := target[part].(map[string]any)
				if !ok {
					sub = map[string]any{}
					target[part] = sub
				}
				target = sub
			}
		}
		for _, key := range section.Keys() {
			values := key.StringsWithShadows(",")
			if len(values) > 1 {
				items := make([]any, len(values))
				for i, v := range values {
					items[i] = parseIniValue(strings.TrimSpace(v))
				}
				target[key.Name()] = items
				continue
			}
			target[key.Name()] = parseIniValue(key.String())
		}
	}
	return result, nil
}

func parseIniValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
