// Package apilog is the raw control-link traffic sink the ambient stack
// calls for in SPEC_FULL.md §2: every line the radio sends or the
// waveform sends back, timestamped and labeled, for offline diagnosis of
// a session after the fact.
//
// Adapted from the teacher's internal/radio/apilog.go: same file format
// (UTC timestamp, direction, connection label, sanitized message), but
// down to a single always-open connection instead of a pool keyed by
// WebSocket session, since this process ever speaks to one radio, and
// exposed as a controllink.Logger (a Printf seam) rather than separate
// LogInbound/LogOutbound methods, so it drops straight into
// controllink.Link.SetLogger without controllink needing to know apilog
// exists.
package apilog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger is the shared sink backing one or more ConnLoggers. A nil
// *Logger is valid and every method on it is a no-op, so callers can wire
// it unconditionally and only pay for the file when --api-log-file is set.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New opens path for raw API traffic logging, truncating any previous
// contents. An empty path disables logging: New returns (nil, nil), and
// every ConnLogger built from the nil *Logger becomes a harmless no-op.
func New(path string) (*Logger, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("apilog: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("apilog: open %s: %w", path, err)
	}
	return &Logger{file: f}, nil
}

// Close flushes and closes the underlying file. Safe to call on a nil
// *Logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// ConnLogger labels every line written through it with a connection
// identifier, mirroring the teacher's per-session "#NNN H<handle> host:port"
// label.
type ConnLogger struct {
	parent *Logger
	label  string
}

// NewConnection builds a ConnLogger labeled with id (e.g. a controllink
// correlation id) and the radio address. Safe to call on a nil *Logger;
// the returned ConnLogger is then a no-op.
func (l *Logger) NewConnection(id, host string, port int) *ConnLogger {
	label := fmt.Sprintf("%s %s:%d", id, host, port)
	return &ConnLogger{parent: l, label: label}
}

// Printf satisfies controllink.Logger and transport.Logger: it infers
// direction from the formatted message (controllink prefixes its traffic
// lines with "[control <id>] IN " or "[control <id>] OUT "); any other
// line, such as transport's "[vita] ..." diagnostics, is recorded as LOG.
// A single seam thus serves every caller without them needing to know
// apilog's shape.
func (c *ConnLogger) Printf(format string, args ...any) {
	if c == nil || c.parent == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	direction := "LOG"
	switch {
	case strings.Contains(msg, "] IN "):
		direction = "IN"
	case strings.Contains(msg, "] OUT "):
		direction = "OUT"
	}
	c.log(direction, msg)
}

// LogInbound and LogOutbound are the teacher's original direct API, kept
// for callers (tests, other components) that already know their direction
// rather than encoding it in the message text.
func (c *ConnLogger) LogInbound(msg string) { c.log("IN", msg) }

func (c *ConnLogger) LogOutbound(msg string) { c.log("OUT", msg) }

func (c *ConnLogger) log(direction, msg string) {
	if c == nil || c.parent == nil || c.parent.file == nil {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	line := fmt.Sprintf("%s %s %s %s\n", ts, fixedWidth(direction, 4), fixedWidth(c.label, 32), sanitize(msg))
	c.parent.mu.Lock()
	_, _ = c.parent.file.WriteString(line)
	c.parent.mu.Unlock()
}

func fixedWidth(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return fmt.Sprintf("%-*s", width, s)
}

func sanitize(msg string) string {
	msg = strings.TrimRight(msg, "\r\n")
	if msg == "" {
		return "<empty>"
	}
	return msg
}
