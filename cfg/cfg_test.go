package cfg

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type serverOptions struct {
	Host    string        `cfg:"host" def:"localhost"`
	Port    int           `cfg:"port" def:"8080" validate:"gt=0,lt=65536"`
	Timeout time.Duration `cfg:"timeout" def:"3s"`
	Tags    []string      `cfg:"tags" def:"a,b"`
	Debug   bool          `cfg:"debug"`
	Pool    poolOptions   `cfg:"pool"`
	Backup  *poolOptions  `cfg:"backup"`
	Extra   map[string]int
}

type poolOptions struct {
	Size  int     `cfg:"size" def:"4"`
	Ratio float64 `cfg:"ratio" def:"0.5"`
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Load", t, func() {
		Convey("yaml", func() {
			path := writeFile(t, "a.yaml", `
host: example.com
timeout: 10s
tags: [x]
pool:
  size: 8
backup:
  ratio: 0.9
extra:
  a: 1
`)
			var options serverOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Host, ShouldEqual, "example.com")
			So(options.Port, ShouldEqual, 8080)
			So(options.Timeout, ShouldEqual, 10*time.Second)
			So(options.Tags, ShouldResemble, []string{"x"})
			So(options.Pool.Size, ShouldEqual, 8)
			So(options.Pool.Ratio, ShouldEqual, 0.5)
			So(options.Backup.Size, ShouldEqual, 4)
			So(options.Backup.Ratio, ShouldEqual, 0.9)
			So(options.Extra, ShouldResemble, map[string]int{"a": 1})
		})

		Convey("toml", func() {
			path := writeFile(t, "a.toml", `
port = 9000
debug = true
[pool]
size = 2
`)
			var options serverOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Port, ShouldEqual, 9000)
			So(options.Debug, ShouldBeTrue)
			So(options.Pool.Size, ShouldEqual, 2)
			So(options.Tags, ShouldResemble, []string{"a", "b"})
			So(options.Backup, ShouldBeNil)
		})

		Convey("json", func() {
			path := writeFile(t, "a.json", `{"port": 81, "timeout": "1m"}`)
			var options serverOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Port, ShouldEqual, 81)
			So(options.Timeout, ShouldEqual, time.Minute)
		})

		Convey("ini", func() {
			path := writeFile(t, "a.ini", `
host = ini.example.com
debug = true

[pool]
size = 16
`)
			var options serverOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Host, ShouldEqual, "ini.example.com")
			So(options.Debug, ShouldBeTrue)
			So(options.Pool.Size, ShouldEqual, 16)
		})

		Convey("校验失败", func() {
			path := writeFile(t, "a.yaml", "port: 70000\n")
			var options serverOptions
			So(Load(path, &options), ShouldNotBeNil)
		})

		Convey("不支持的格式和不存在的文件", func() {
			var options serverOptions
			So(Load(writeFile(t, "a.xml", "<a/>"), &options), ShouldNotBeNil)
			So(Load(filepath.Join(t.TempDir(), "missing.yaml"), &options), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("SetDefaults", t, func() {
		Convey("只覆盖零值", func() {
			options := serverOptions{Host: "h"}
			So(SetDefaults(&options), ShouldBeNil)
			So(options.Host, ShouldEqual, "h")
			So(options.Port, ShouldEqual, 8080)
			So(options.Timeout, ShouldEqual, 3*time.Second)
			So(options.Pool.Size, ShouldEqual, 4)
		})

		Convey("非法默认值", func() {
			var options struct {
				N int `def:"x"`
			}
			So(SetDefaults(&options), ShouldNotBeNil)
		})

		Convey("非指针", func() {
			So(SetDefaults(serverOptions{}), ShouldNotBeNil)
		})
	})
}

func TestWatch(t *testing.T) {
	Convey("Watch", t, func() {
		path := writeFile(t, "watch.yaml", "port: 1\n")
		var count atomic.Int32
		changed := make(chan string, 8)
		w, err := Watch(func(p string) {
			count.Add(1)
			select {
			case changed <- p:
			default:
			}
		}, path)
		So(err, ShouldBeNil)
		defer w.Close()

		// 同目录的其它文件不触发
		So(os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1\n"), 0644), ShouldBeNil)
		So(os.WriteFile(path, []byte("port: 2\n"), 0644), ShouldBeNil)

		select {
		case p := <-changed:
			abs, _ := filepath.Abs(path)
			So(p, ShouldEqual, abs)
		case <-time.After(5 * time.Second):
			So("timeout", ShouldBeEmpty)
		}
		So(count.Load(), ShouldBeGreaterThanOrEqualTo, 1)

		So(w.Close(), ShouldBeNil)
		So(w.Close(), ShouldBeNil)
	})
}
