package database

import "github.com/pkg/errors"

var (
	// ErrReleased 在已归还的连接上调用
	ErrReleased = errors.New("connection already released")
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("pool closed")
	// ErrParameter 语句参数缺失
	ErrParameter = errors.New("missing statement parameter")
)
