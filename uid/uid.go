// Package uid 主键生成器
package uid

import (
	"github.com/hatlonely/goxdb/ref"
	"github.com/pkg/errors"
)

const namespace = "github.com/hatlonely/goxdb/uid"

func init() {
	ref.MustRegister(namespace, "UUIDGenerator", NewUUIDGeneratorWithOptions)
	ref.MustRegister(namespace, "SnowflakeGenerator", NewSnowflakeGeneratorWithOptions)
}

// StrGenerator 生成字符串主键
type StrGenerator interface {
	Generate() string
}

// IntGenerator 生成 64 位整数主键
type IntGenerator interface {
	Generate() int64
}

// NewStrGeneratorWithOptions 按类型名创建字符串生成器，Namespace 为空时使用本包
func NewStrGeneratorWithOptions(options *ref.TypeOptions) (StrGenerator, error) {
	return newGenerator[StrGenerator](options)
}

// NewIntGeneratorWithOptions 按类型名创建整数生成器，Namespace 为空时使用本包
func NewIntGeneratorWithOptions(options *ref.TypeOptions) (IntGenerator, error) {
	return newGenerator[IntGenerator](options)
}

func newGenerator[T any](options *ref.TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, errors.New("options is nil")
	}
	opts := *options
	if opts.Namespace == "" {
		opts.Namespace = namespace
	}
	g, err := ref.NewWithOptions[T](&opts)
	if err != nil {
		return zero, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	return g, nil
}
