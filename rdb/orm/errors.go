package orm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected 管理器未连接
	ErrNotConnected = errors.New("manager not connected")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("manager closed")
	// ErrGateTimeout 等待初始化闸门超时
	ErrGateTimeout = errors.New("initialization gate wait timeout")
	// ErrNotFound 强制重新加载时记录已不存在
	ErrNotFound = errors.New("object not found")
	// ErrUnknownEntity 实体不在 schema 中
	ErrUnknownEntity = errors.New("entity not registered")
	// ErrInvalidEntity 实体定义错误
	ErrInvalidEntity = errors.New("invalid entity definition")
	// ErrUnresolvedName 无法解析的 $db.xxx$ 占位符
	ErrUnresolvedName = errors.New("unresolved name placeholder")
	// ErrEnumOrdinal 枚举序号越界或枚举值未定义
	ErrEnumOrdinal = errors.New("enum ordinal out of range")
	// ErrReflect 读写对象属性失败
	ErrReflect = errors.New("reflect access failed")
)

// SaveConflictError 更新影响的行数不是 1，记录已被删除或版本已过期
type SaveConflictError struct {
	Table    string
	Affected int64
}

func (e *SaveConflictError) Error() string {
	return fmt.Sprintf("save conflict on [%s], %d rows affected", e.Table, e.Affected)
}

// AccessDeniedError 权限管理器拒绝操作
type AccessDeniedError struct {
	Table string
	Right Right
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied, table: [%s], right: [%s]", e.Table, e.Right)
}

// IsSaveConflict 判断是否为保存冲突
func IsSaveConflict(err error) bool {
	var e *SaveConflictError
	return errors.As(err, &e)
}

// IsAccessDenied 判断是否为权限拒绝
func IsAccessDenied(err error) bool {
	var e *AccessDeniedError
	return errors.As(err, &e)
}
