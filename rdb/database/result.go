package database

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Result 只进结果游标，列名不区分大小写
type Result struct {
	rows    *sql.Rows
	columns []string
	index   map[string]int
	values  []any
	err     error
	closed  bool
}

func newResult(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.ToLower(c)] = i
	}
	return &Result{rows: rows, columns: columns, index: index}, nil
}

// Columns 结果列名
func (r *Result) Columns() []string {
	return r.columns
}

// Next 移动到下一行，没有更多行或出错时返回 false
func (r *Result) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = errors.Wrap(err, "rows.Scan failed")
		return false
	}
	r.values = values
	return true
}

// Err 迭代过程中的错误
func (r *Result) Err() error {
	return r.err
}

// Close 关闭游标，可重复调用
func (r *Result) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.rows.Close(); err != nil {
		return errors.Wrap(err, "rows.Close failed")
	}
	return nil
}

// Has 是否包含列
func (r *Result) Has(name string) bool {
	_, ok := r.index[strings.ToLower(name)]
	return ok
}

// Get 当前行的原始值，[]byte 会被复制
func (r *Result) Get(name string) (any, error) {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("column [%s] not found", name)
	}
	if r.values == nil {
		return nil, errors.New("no current row")
	}
	if b, ok := r.values[i].([]byte); ok {
		return append([]byte(nil), b...), nil
	}
	return r.values[i], nil
}

// Row 当前行，键为小写列名
func (r *Result) Row() map[string]any {
	if r.values == nil {
		return nil
	}
	row := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		v := r.values[i]
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		row[strings.ToLower(c)] = v
	}
	return row
}

// All 读取剩余所有行并关闭游标
func (r *Result) All() ([]map[string]any, error) {
	defer r.Close()
	var rows []map[string]any
	for r.Next() {
		rows = append(rows, r.Row())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Result) GetString(name string) (string, error) {
	v, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

func (r *Result) GetInt64(name string) (int64, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return ToInt64(v)
}

func (r *Result) GetFloat64(name string) (float64, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return ToFloat64(v)
}

func (r *Result) GetBool(name string) (bool, error) {
	v, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return ToBool(v)
}

func (r *Result) GetTime(name string) (time.Time, error) {
	v, err := r.Get(name)
	if err != nil {
		return time.Time{}, err
	}
	return ToTime(v)
}

func (r *Result) GetBytes(name string) ([]byte, error) {
	v, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, errors.Errorf("cannot convert %T to []byte", v)
}
