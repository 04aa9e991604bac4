package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CaptureExt is the extension of protocol capture files.
const CaptureExt = ".lglog"

// ErrCaptureExt is returned for capture paths without CaptureExt.
var ErrCaptureExt = errors.New("capture files must use the " + CaptureExt + " extension")

// FileLogger appends Events to a capture file that Reader reads back.
//
// Each event is encoded outside the lock and appended with one write, so
// several sessions may share a capture without tearing items apart.
type FileLogger struct {
	path string

	mu      sync.Mutex
	file    *os.File // nil once closed
	written uint64
	dropped uint64
}

// NewFileLogger opens the capture at path for appending, creating it with
// mode 0644. The path must end in CaptureExt.
func NewFileLogger(path string) (*FileLogger, error) {
	if !strings.EqualFold(filepath.Ext(path), CaptureExt) {
		return nil, fmt.Errorf("%q: %w", path, ErrCaptureExt)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{path: path, file: f}, nil
}

// Path returns the capture file path.
func (l *FileLogger) Path() string {
	return l.path
}

// Log appends event. Events that cannot be encoded or written are counted
// as dropped. Log after Close does nothing.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if err == nil {
		_, err = l.file.Write(data)
	}
	if err != nil {
		l.dropped++
		return
	}
	l.written++
}

// Stats returns how many events were written and dropped so far.
func (l *FileLogger) Stats() (written, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written, l.dropped
}

// Close flushes the capture to disk and closes it. Safe to call more
// than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return errors.Join(f.Sync(), f.Close())
}

var _ Logger = (*FileLogger)(nil)
