package log

import (
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/pkg/errors"
)

var defaultLogger logger.Logger

func init() {
	// 默认向终端输出 text 格式日志
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

func Default() logger.Logger {
	return defaultLogger
}

// SetDefault 替换进程默认日志器，nil 被忽略
func SetDefault(l logger.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// NewLoggerWithOptions 根据选项创建日志器，options 为 nil 时返回默认日志器
func NewLoggerWithOptions(options *logger.SLogOptions) (logger.Logger, error) {
	if options == nil {
		return Default(), nil
	}
	l, err := logger.NewSLogWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "logger.NewSLogWithOptions failed")
	}
	return l, nil
}
