package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewSLogWithOptions(t *testing.T) {
	Convey("测试 NewSLogWithOptions", t, func() {
		Convey("nil 选项返回错误", func() {
			l, err := NewSLogWithOptions(nil)
			So(err, ShouldNotBeNil)
			So(l, ShouldBeNil)
		})

		Convey("非法级别返回错误", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Level: "invalid", Output: "discard"})
			So(err, ShouldNotBeNil)
		})

		Convey("非法格式返回错误", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Format: "xml", Output: "discard"})
			So(err, ShouldNotBeNil)
		})

		Convey("文件输出", func() {
			path := filepath.Join(t.TempDir(), "sub", "app.log")
			l, err := NewSLogWithOptions(&SLogOptions{Level: "debug", Output: path})
			So(err, ShouldBeNil)
			l.Info("hello", "key", "value")
			So(l.Close(), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "key=value")
		})
	})
}

func TestSLogWriter(t *testing.T) {
	Convey("测试日志输出内容", t, func() {
		var buf bytes.Buffer

		Convey("json 格式带分组和字段", func() {
			l, err := NewSLogWithWriter(&buf, &SLogOptions{
				Level:  "debug",
				Format: "json",
				Fields: map[string]any{"app": "goxdb"},
			})
			So(err, ShouldBeNil)
			l.WithGroup("pool").With("driver", "sqlite3").Debug("acquire")

			var entry map[string]any
			So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)
			So(entry["msg"], ShouldEqual, "acquire")
			So(entry["app"], ShouldEqual, "goxdb")
			So(entry["pool"].(map[string]any)["driver"], ShouldEqual, "sqlite3")
		})

		Convey("级别过滤", func() {
			l, err := NewSLogWithWriter(&buf, &SLogOptions{Level: "warn"})
			So(err, ShouldBeNil)
			l.Info("ignored")
			l.Warn("kept")
			So(strings.Contains(buf.String(), "ignored"), ShouldBeFalse)
			So(buf.String(), ShouldContainSubstring, "kept")
		})
	})
}

func TestParseLevel(t *testing.T) {
	Convey("测试 parseLevel", t, func() {
		for _, level := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
			_, err := parseLevel(level)
			So(err, ShouldBeNil)
		}
		_, err := parseLevel("fatal")
		So(err, ShouldNotBeNil)
	})
}
