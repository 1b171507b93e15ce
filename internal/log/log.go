// Package log is deepwork's process-wide structured logger.
//
// Every entry has a level, a category and key=value fields. Entries go to a
// file or writer as text or JSON lines and are also published to listeners.
// Until Init or InitWithWriter is called, logging is a no-op.
package log

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/deepwork/internal/pubsub"
)

// Level is an entry's severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText writes the level name, so JSON lines read "level":"WARN".
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel converts a config string into a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects how entries are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Category groups related log messages.
type Category string

const (
	CatOrch       Category = "orch"
	CatCache      Category = "cache"
	CatDB         Category = "db"
	CatSession    Category = "session"
	CatValidation Category = "validation"
	CatConfig     Category = "config"
	CatHTTP       Category = "http"
	CatWatcher    Category = "watcher"
)

// Entry is one log record.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"msg"`
	Fields   map[string]any `json:"fields,omitempty"`
	order    []string
}

// String renders the entry as a text line without the trailing newline:
//
//	2026-03-01T10:45:00 [ERROR] [orch] message key=value key2=value2
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", e.Time.Format("2006-01-02T15:04:05"), e.Level, e.Category, e.Message)
	for _, k := range e.order {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

func newEntry(level Level, cat Category, msg string, fields []any) Entry {
	e := Entry{Time: time.Now(), Level: level, Category: cat, Message: msg}
	if len(fields) == 0 {
		return e
	}
	e.Fields = make(map[string]any, (len(fields)+1)/2)
	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		var val any = "<missing>"
		if i+1 < len(fields) {
			val = fields[i+1]
		}
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		if _, dup := e.Fields[key]; !dup {
			e.order = append(e.order, key)
		}
		e.Fields[key] = val
	}
	return e
}

// Logger writes entries at or above its minimum level.
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	minLevel atomic.Int32
	format   atomic.Value // Format
	broker   *pubsub.Broker[Entry]
}

func newLogger(w io.Writer, closer io.Closer, minLevel Level) *Logger {
	l := &Logger{w: w, closer: closer, broker: pubsub.NewBrokerWithBuffer[Entry](256)}
	l.minLevel.Store(int32(minLevel))
	l.format.Store(FormatText)
	return l
}

var current atomic.Pointer[Logger]

// Init sends entries at every level to the file at path, appending. The
// returned function closes the file and turns logging off.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // log path comes from config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	l := newLogger(f, f, LevelDebug)
	swap(l)
	return func() {
		if current.CompareAndSwap(l, nil) {
			l.close()
		}
	}, nil
}

// InitWithWriter sends entries at or above minLevel to w.
func InitWithWriter(w io.Writer, minLevel Level) {
	swap(newLogger(w, nil, minLevel))
}

func swap(l *Logger) {
	if old := current.Swap(l); old != nil {
		old.close()
	}
}

func (l *Logger) close() {
	l.broker.Close()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		_ = l.closer.Close()
		l.closer = nil
	}
	l.w = nil
}

// SetMinLevel sets the minimum level of the current logger.
func SetMinLevel(level Level) {
	if l := current.Load(); l != nil {
		l.minLevel.Store(int32(level))
	}
}

// SetFormat switches the current logger between text and JSON lines.
func SetFormat(f Format) {
	if l := current.Load(); l != nil {
		l.format.Store(f)
	}
}

// Enabled reports whether an entry at level would be written.
func Enabled(level Level) bool {
	l := current.Load()
	return l != nil && level >= Level(l.minLevel.Load())
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields)
}

// ErrorErr logs at error level with err under the "error" key.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	var v any = "<nil>"
	if err != nil {
		v = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", v))
}

func write(level Level, cat Category, msg string, fields []any) {
	l := current.Load()
	if l == nil || level < Level(l.minLevel.Load()) {
		return
	}
	e := newEntry(level, cat, msg, fields)

	var line []byte
	if l.format.Load() == FormatJSON {
		var err error
		if line, err = json.Marshal(e); err != nil {
			line = []byte(e.String())
		}
	} else {
		line = []byte(e.String())
	}
	line = append(line, '\n')

	l.mu.Lock()
	if l.w != nil {
		_, _ = l.w.Write(line)
	}
	l.mu.Unlock()

	l.broker.Publish(pubsub.CreatedEvent, e)
}

// NewListener delivers entries written after the call until ctx ends. It
// returns nil when logging is off.
func NewListener(ctx context.Context) <-chan pubsub.Event[Entry] {
	l := current.Load()
	if l == nil {
		return nil
	}
	return l.broker.Subscribe(ctx)
}
