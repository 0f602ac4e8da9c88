// Package runlog maintains the append-only log file for the release run in
// flight. The file is reset at the start of each run and read back verbatim by
// the status surface while a run is active.
package runlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Reset truncates the log for a fresh run. A missing file is not an error.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = os.Remove(l.path)
}

// Line appends one timestamped line. Write failures are swallowed: logging is
// best effort and must never fail a run.
func (l *Log) Line(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	stamp := l.now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "%s - %s\n", stamp, fmt.Sprintf(format, args...))
}

// Snapshot returns the accumulated log text, or the empty string if no run has
// written anything yet.
func (l *Log) Snapshot() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return string(data)
}
