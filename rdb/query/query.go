// Package query 与数据库无关的查询表示
//
// AQuery 由实体名和有序的操作列表组成，操作和属性都是封闭的接口，
// 只能由本包中的类型实现，方言编译器对它们做穷举的类型分支。
package query

import (
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrFinal 修改已定稿的查询
var ErrFinal = errors.New("query is final")

var bindingSeq atomic.Int64

// NextBindingName 生成进程内唯一的绑定名，嵌套子查询之间不会冲突
func NextBindingName() string {
	return "p" + strconv.FormatInt(bindingSeq.Add(1), 10)
}

// AQuery 查询根节点
type AQuery struct {
	entity string
	ops    []Operation
	final  bool
}

// New 创建查询，entity 为注册名
func New(entity string, ops ...Operation) *AQuery {
	return &AQuery{entity: entity, ops: append([]Operation(nil), ops...)}
}

// Entity 查询的实体注册名
func (q *AQuery) Entity() string {
	return q.entity
}

// Add 追加操作
func (q *AQuery) Add(ops ...Operation) error {
	if q.final {
		return ErrFinal
	}
	for _, op := range ops {
		if op == nil {
			return errors.New("nil operation")
		}
	}
	q.ops = append(q.ops, ops...)
	return nil
}

// Where 追加条件，多个条件之间为 and
func (q *AQuery) Where(ops ...Operation) error {
	return q.Add(ops...)
}

// OrderBy 追加排序
func (q *AQuery) OrderBy(orders ...Order) error {
	ops := make([]Operation, 0, len(orders))
	for _, o := range orders {
		ops = append(ops, o)
	}
	return q.Add(ops...)
}

// Limit 设置分页，后设置的覆盖先设置的
func (q *AQuery) Limit(offset, count int) error {
	return q.Add(Limit{Offset: offset, Count: count})
}

// Final 定稿，之后查询不可修改；子查询一并定稿
func (q *AQuery) Final() *AQuery {
	if q.final {
		return q
	}
	q.final = true
	for _, op := range q.ops {
		walkOperation(op, func(sub *AQuery) { sub.Final() }, nil)
	}
	return q
}

// IsFinal 是否已定稿
func (q *AQuery) IsFinal() bool {
	return q.final
}

// Operations 操作列表的副本
func (q *AQuery) Operations() []Operation {
	return append([]Operation(nil), q.ops...)
}

// Predicates 除排序和分页外的操作
func (q *AQuery) Predicates() []Operation {
	var ops []Operation
	for _, op := range q.ops {
		switch op.(type) {
		case Order, Limit:
		default:
			ops = append(ops, op)
		}
	}
	return ops
}

// Orders 排序操作
func (q *AQuery) Orders() []Order {
	var orders []Order
	for _, op := range q.ops {
		if o, ok := op.(Order); ok {
			orders = append(orders, o)
		}
	}
	return orders
}

// LimitOf 最后一个分页操作
func (q *AQuery) LimitOf() (Limit, bool) {
	var limit Limit
	found := false
	for _, op := range q.ops {
		if l, ok := op.(Limit); ok {
			limit, found = l, true
		}
	}
	return limit, found
}

// Params 收集所有绑定值，包括嵌套子查询中的
func (q *AQuery) Params() map[string]any {
	params := map[string]any{}
	q.collect(params)
	return params
}

func (q *AQuery) collect(params map[string]any) {
	for _, op := range q.ops {
		walkOperation(op, func(sub *AQuery) { sub.collect(params) }, func(v Value) { params[v.Name] = v.Value })
	}
}

func walkOperation(op Operation, onQuery func(*AQuery), onValue func(Value)) {
	switch o := op.(type) {
	case And:
		for _, c := range o.Operations {
			walkOperation(c, onQuery, onValue)
		}
	case Or:
		for _, c := range o.Operations {
			walkOperation(c, onQuery, onValue)
		}
	case Not:
		walkOperation(o.Operation, onQuery, onValue)
	case Compare:
		walkAttribute(o.Left, onValue)
		walkAttribute(o.Right, onValue)
	case In:
		walkAttribute(o.Left, onValue)
		walkAttribute(o.List, onValue)
	case InSubQuery:
		walkAttribute(o.Left, onValue)
		if o.Query != nil && onQuery != nil {
			onQuery(o.Query)
		}
	case IsNull:
		walkAttribute(o.Attribute, onValue)
	case Order:
		walkAttribute(o.Attribute, onValue)
	}
}

func walkAttribute(attr Attribute, onValue func(Value)) {
	if onValue == nil {
		return
	}
	switch a := attr.(type) {
	case Value:
		onValue(a)
	case Concat:
		for _, p := range a.Parts {
			walkAttribute(p, onValue)
		}
	case List:
		for _, i := range a.Items {
			walkAttribute(i, onValue)
		}
	}
}
