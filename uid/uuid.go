package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

type UUIDOptions struct {
	// Version v1/v4/v6/v7，其他值按 v4 处理
	Version string `cfg:"version" def:"v7"`
	// WithoutHyphens 去掉连字符，输出 32 位十六进制
	WithoutHyphens bool `cfg:"withoutHyphens"`
}

type UUIDGenerator struct {
	version        string
	withoutHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) *UUIDGenerator {
	if options == nil {
		options = &UUIDOptions{Version: "v7"}
	}
	version := options.Version
	if version == "" {
		version = "v7"
	}
	return &UUIDGenerator{version: version, withoutHyphens: options.WithoutHyphens}
}

func (g *UUIDGenerator) Generate() string {
	var u uuid.UUID
	switch g.version {
	case "v1":
		u = uuid.Must(uuid.NewUUID())
	case "v6":
		u = uuid.Must(uuid.NewV6())
	case "v7":
		u = uuid.Must(uuid.NewV7())
	default:
		u = uuid.New()
	}
	if g.withoutHyphens {
		return hex.EncodeToString(u[:])
	}
	return u.String()
}
