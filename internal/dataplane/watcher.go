// Package dataplane — watcher.go
//
// PluginWatcher watches a directory non-recursively for *.js bytecode
// modules and hot-loads them into an Engine on create or modify.
//
// Grounded on the teacher's direct use of golang.org/x/sys/unix for
// kernel-facing syscalls (internal/bpf/loader.go's unix.Uname probe);
// here the same package supplies the inotify syscalls, since the
// standard library exposes no directory-watch primitive.
package dataplane

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const inotifyEventSize = unix.SizeofInotifyEvent

// PluginWatcher hot-loads *.js plugin modules from a directory.
type PluginWatcher struct {
	dir    string
	engine *Engine
	log    *zap.Logger
}

// NewPluginWatcher creates a watcher for dir. An empty dir disables the
// watcher; callers should check Enabled before calling Run.
func NewPluginWatcher(dir string, engine *Engine, log *zap.Logger) *PluginWatcher {
	return &PluginWatcher{dir: dir, engine: engine, log: log}
}

// Enabled reports whether a plugin directory was configured.
func (w *PluginWatcher) Enabled() bool { return w.dir != "" }

// Run blocks, watching w.dir for create/modify events on *.js files and
// hot-loading each into the engine, until ctx is cancelled.
func (w *PluginWatcher) Run(ctx context.Context) error {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	wd, err := unix.InotifyAddWatch(fd, w.dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO)
	if err != nil {
		return err
	}
	defer unix.InotifyRmWatch(fd, uint32(wd))

	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Poll with a timeout rather than blocking forever on Read, so the
		// ctx.Done() check above is revisited periodically instead of only
		// after the next plugin file event arrives.
		nready, err := unix.Poll(pollFds, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if nready == 0 {
			continue
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return err
		}

		for offset := 0; offset+inotifyEventSize <= n; {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			nameStart := offset + inotifyEventSize
			name := ""
			if nameLen > 0 {
				name = strings.TrimRight(string(buf[nameStart:nameStart+nameLen]), "\x00")
			}
			offset = nameStart + nameLen

			if !strings.HasSuffix(name, ".js") {
				continue
			}
			w.loadOne(filepath.Join(w.dir, name))
		}
	}
}

func (w *PluginWatcher) loadOne(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if w.log != nil {
			w.log.Warn("plugin watcher: read failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if err := w.engine.LoadPlugin(data, path); err != nil {
		if w.log != nil {
			w.log.Warn("plugin watcher: load failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if w.log != nil {
		w.log.Info("plugin hot-loaded", zap.String("path", path))
	}
}
