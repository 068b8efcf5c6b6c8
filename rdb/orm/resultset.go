package orm

// ResultSet 查询结果，行已全部读出，对象在 Next 时才填充
//
// 填充时被权限管理器拒绝读的行会被跳过并记录日志，其他错误终止迭代。
// 借用的连接在 Close 时提交并归还，调用方的连接保持不变。
type ResultSet struct {
	table    *Table
	call     *Call
	rows     []map[string]any
	pos      int
	obj      any
	err      error
	skipped  int
	borrowed bool
	release  func()
	closed   bool
}

func (r *ResultSet) Table() *Table {
	return r.table
}

// Len 查询返回的行数，包括之后可能被跳过的行
func (r *ResultSet) Len() int {
	return len(r.rows)
}

// Skipped 因没有读权限被跳过的行数
func (r *ResultSet) Skipped() int {
	return r.skipped
}

func (r *ResultSet) Next() bool {
	r.obj = nil
	if r.closed || r.err != nil {
		return false
	}
	for r.pos < len(r.rows) {
		row := r.rows[r.pos]
		r.pos++

		obj := r.table.New()
		if err := r.table.FillObject(r.call, obj, row); err != nil {
			if IsAccessDenied(err) {
				r.skipped++
				r.table.manager.metrics.incDenied()
				r.table.manager.logger.WarnContext(r.call.Ctx, "skip row without read permission", "table", r.table.name, "error", err.Error())
				continue
			}
			r.err = err
			return false
		}
		r.obj = obj
		return true
	}
	return false
}

// Object 当前对象，结构体实体为 *T，动态实体为 *DynamicObject
func (r *ResultSet) Object() any {
	return r.obj
}

func (r *ResultSet) Err() error {
	return r.err
}

// Close 可以重复调用
func (r *ResultSet) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.rows = nil
	defer r.release()
	if r.borrowed && r.err == nil {
		return r.call.Conn.Commit()
	}
	return nil
}
