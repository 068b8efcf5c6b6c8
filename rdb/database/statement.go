package database

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Statement 命名参数语句，参数写作 $name$
type Statement struct {
	conn  *Connection
	text  string
	query string
	names []string
}

// Text 原始语句
func (s *Statement) Text() string {
	return s.text
}

// SQL 转换占位符后的语句
func (s *Statement) SQL() string {
	return s.query
}

// Names 按出现顺序排列的参数名，同名参数多次出现时重复
func (s *Statement) Names() []string {
	return s.names
}

func (s *Statement) args(params map[string]any) ([]any, error) {
	args := make([]any, 0, len(s.names))
	for _, name := range s.names {
		v, ok := params[name]
		if !ok {
			return nil, errors.Wrapf(ErrParameter, "parameter [%s], sql: [%s]", name, s.text)
		}
		args = append(args, v)
	}
	return args, nil
}

// ExecuteQuery 执行查询，返回只进游标
func (s *Statement) ExecuteQuery(ctx context.Context, params map[string]any) (*Result, error) {
	args, err := s.args(params)
	if err != nil {
		return nil, err
	}
	return s.conn.Query(ctx, s.query, args...)
}

// ExecuteUpdate 执行 DML，返回影响行数
func (s *Statement) ExecuteUpdate(ctx context.Context, params map[string]any) (int64, error) {
	args, err := s.args(params)
	if err != nil {
		return 0, err
	}
	return s.conn.Exec(ctx, s.query, args...)
}

// Execute 执行语句，忽略影响行数
func (s *Statement) Execute(ctx context.Context, params map[string]any) error {
	_, err := s.ExecuteUpdate(ctx, params)
	return err
}

// parseStatement 把 $name$ 替换为驱动占位符，单引号字符串内的内容保持原样
func parseStatement(text string, driver string) (string, []string) {
	var buf strings.Builder
	var names []string

	inQuote := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\'' {
			inQuote = !inQuote
			buf.WriteByte(ch)
			continue
		}
		if inQuote || ch != '$' {
			buf.WriteByte(ch)
			continue
		}

		end := i + 1
		for end < len(text) && isNameChar(text[end]) {
			end++
		}
		if end == i+1 || end >= len(text) || text[end] != '$' {
			buf.WriteByte(ch)
			continue
		}

		names = append(names, text[i+1:end])
		if driver == DriverPostgres {
			buf.WriteString("$" + strconv.Itoa(len(names)))
		} else {
			buf.WriteByte('?')
		}
		i = end
	}
	return buf.String(), names
}

func isNameChar(ch byte) bool {
	return ch == '_' || ch == '.' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
