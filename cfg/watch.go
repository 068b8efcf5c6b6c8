package cfg

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hatlonely/goxdb/log"
	"github.com/hatlonely/goxdb/log/logger"
	"github.com/pkg/errors"
)

// Watcher 监听一组文件，文件写入、创建或重命名时回调
type Watcher struct {
	watcher *fsnotify.Watcher
	files   map[string]struct{}
	fn      func(path string)
	logger  logger.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Watch 监听 paths 中的文件，fn 在后台协程中调用
func Watch(fn func(path string), paths ...string) (*Watcher, error) {
	return WatchWithLogger(log.Default(), fn, paths...)
}

func WatchWithLogger(l logger.Logger, fn func(path string), paths ...string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "fsnotify.NewWatcher failed")
	}

	w := &Watcher{
		watcher: watcher,
		files:   map[string]struct{}{},
		fn:      fn,
		logger:  l.WithGroup("cfgWatcher"),
		done:    make(chan struct{}),
	}

	// 监听目录而不是文件，编辑器常以 rename 方式替换文件
	dirs := map[string]struct{}{}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = watcher.Close()
			return nil, errors.Wrapf(err, "filepath.Abs failed, path: [%s]", path)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, errors.Wrapf(err, "watcher.Add failed, dir: [%s]", dir)
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := w.files[name]; !ok {
				continue
			}
			w.logger.Info("file changed", "path", name, "op", event.Op.String())
			w.fn(name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close 停止监听并等待后台协程退出，可重复调用
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.watcher.Close()
	})
	return err
}
