package database

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite3  = "sqlite3"
)

// PoolOptions 连接池配置
type PoolOptions struct {
	// Driver 数据库驱动，决定占位符风格和方言
	Driver string `cfg:"driver" def:"sqlite3" validate:"oneof=mysql postgres sqlite3"`
	// DriverName 注册到 database/sql 的驱动名，为空时与 Driver 相同，用于包装过的驱动
	DriverName string `cfg:"driverName"`
	// DSN 非空时直接使用，否则由下面的字段拼接
	DSN      string            `cfg:"dsn"`
	Host     string            `cfg:"host" def:"localhost"`
	Port     string            `cfg:"port"`
	Database string            `cfg:"database"`
	Username string            `cfg:"username"`
	Password string            `cfg:"password"`
	Charset  string            `cfg:"charset" def:"utf8mb4"`
	Params   map[string]string `cfg:"params"`

	// MaxConns 同时租出的连接上限
	MaxConns int `cfg:"maxConns" def:"10" validate:"gt=0"`
	// MaxIdleTime 空闲超过该时长的连接在清理时关闭
	MaxIdleTime time.Duration `cfg:"maxIdleTime" def:"5m"`
	// MaxLifetime 连接自创建起的最长存活时间
	MaxLifetime time.Duration `cfg:"maxLifetime" def:"30m"`
	// SweepInterval 后台清理周期
	SweepInterval time.Duration `cfg:"sweepInterval" def:"1m" validate:"gt=0"`
	// LeakThreshold 租用超过该时长视为泄漏并告警
	LeakThreshold time.Duration `cfg:"leakThreshold" def:"5m"`
	// AcquireTimeout 获取连接的最长等待时间
	AcquireTimeout time.Duration `cfg:"acquireTimeout" def:"30s"`

	// Name 指标名前缀
	Name          string `cfg:"name" def:"goxdb"`
	EnableMetrics bool   `cfg:"enableMetrics"`
	// Registerer 指标注册器，为空时使用 prometheus 默认注册器
	Registerer prometheus.Registerer `cfg:"-"`

	Logger *logger.SLogOptions `cfg:"logger"`
}

// FormatDSN 根据驱动生成连接串
func (o *PoolOptions) FormatDSN() (string, error) {
	if o.DSN != "" {
		return o.DSN, nil
	}

	switch o.Driver {
	case DriverMySQL:
		port := o.Port
		if port == "" {
			port = "3306"
		}
		config := mysql.NewConfig()
		config.User = o.Username
		config.Passwd = o.Password
		config.Net = "tcp"
		config.Addr = net.JoinHostPort(o.Host, port)
		config.DBName = o.Database
		config.ParseTime = true
		// 影响行数按匹配行计算，保存未修改的对象不会被当作冲突
		config.ClientFoundRows = true
		config.Params = map[string]string{"charset": o.Charset}
		for k, v := range o.Params {
			config.Params[k] = v
		}
		return config.FormatDSN(), nil
	case DriverPostgres:
		port := o.Port
		if port == "" {
			port = "5432"
		}
		params := map[string]string{
			"host":    o.Host,
			"port":    port,
			"user":    o.Username,
			"dbname":  o.Database,
			"sslmode": "disable",
		}
		if o.Password != "" {
			params["password"] = o.Password
		}
		for k, v := range o.Params {
			params[k] = v
		}
		return formatKeyValues(params), nil
	case DriverSQLite3:
		if o.Database == "" {
			return "", errors.New("sqlite3 requires database")
		}
		if len(o.Params) == 0 {
			return o.Database, nil
		}
		var parts []string
		for k, v := range o.Params {
			parts = append(parts, k+"="+v)
		}
		sort.Strings(parts)
		sep := "?"
		if strings.Contains(o.Database, "?") {
			sep = "&"
		}
		return o.Database + sep + strings.Join(parts, "&"), nil
	}
	return "", errors.Errorf("unsupported driver [%s]", o.Driver)
}

// lib/pq 的 key=value 形式，值中的空格和引号需要转义
func formatKeyValues(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if strings.ContainsAny(v, ` '\`) {
			v = "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, " ")
}
