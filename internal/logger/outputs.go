package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// OutputFiles hands out rotating writers for project output. It keeps one
// lumberjack.Logger per destination path, shared by every project and every
// restart that writes there. A lumberjack.Logger starts a mill goroutine
// that Close does not stop, so Loggers are created once and reused.
type OutputFiles struct {
	cfg   FileConfig
	mu    sync.Mutex
	files map[string]*lj.Logger
}

// NewOutputFiles returns an OutputFiles for cfg. It opens nothing until
// Writers is called.
func NewOutputFiles(cfg FileConfig) *OutputFiles {
	return &OutputFiles{cfg: cfg, files: make(map[string]*lj.Logger)}
}

// Enabled reports whether any file destination is configured.
func (o *OutputFiles) Enabled() bool {
	return o != nil && o.cfg.Enabled()
}

// Writers returns the stdout and stderr writers of the named project.
// Either writer is nil when no destination applies to it. Closing a
// returned writer is a no-op; Close releases the underlying files.
func (o *OutputFiles) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if !o.Enabled() {
		return nil, nil, nil
	}
	if o.cfg.Dir != "" {
		if err := os.MkdirAll(o.cfg.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	stdout, stderr := o.cfg.paths(name)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writerLocked(stdout), o.writerLocked(stderr), nil
}

func (o *OutputFiles) writerLocked(path string) io.WriteCloser {
	if path == "" {
		return nil
	}
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	l, ok := o.files[key]
	if !ok {
		l = o.cfg.rotating(path)
		o.files[key] = l
	}
	return sharedFile{l}
}

// Close closes every open file. Writers handed out earlier reopen their
// file on the next write.
func (o *OutputFiles) Close() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for _, l := range o.files {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sharedFile is a Logger whose Close is left to OutputFiles.
type sharedFile struct {
	*lj.Logger
}

func (sharedFile) Close() error { return nil }
