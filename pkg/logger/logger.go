package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that can also feed warn/error lines to a LogCollector.
type Logger struct {
	zl        zerolog.Logger
	collector *collectorSlot
}

type Config struct {
	Level      string // debug, info, warn or error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string // defaults to RFC3339Nano
}

// frames between the caller of Info/Warn/... and zerolog's Msg.
const callerSkip = 4

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(callerSkip).Logger()
	return &Logger{zl: zl, collector: &collectorSlot{}}, nil
}

// Nop discards everything and never collects.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child that carries fields on every line and shares the parent's collector.
func (l *Logger) With(fields ...Field) *Logger {
	c := l.zl.With()
	for _, f := range fields {
		c = c.Interface(f.key, f.value())
	}
	return &Logger{zl: c.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) emit(level zerolog.Level, msg string, fields []Field) {
	ev := l.zl.WithLevel(level)
	for _, f := range fields {
		f.write(ev)
	}
	ev.Msg(msg)

	if level >= zerolog.WarnLevel {
		l.collect(level.String(), msg, fields)
	}
}

func (l *Logger) collect(level, msg string, fields []Field) {
	c := l.collector.get()
	if c == nil {
		return
	}
	caller := "unknown"
	// 0 collect, 1 emit, 2 Warn/Error, 3 user code
	if _, file, line, ok := runtime.Caller(3); ok {
		if i := strings.LastIndex(file, "FinLearn/"); i >= 0 {
			file = file[i+len("FinLearn/"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.key] = f.value()
	}
	c.AddLog(level, msg, m, caller)
}

// AddCollector attaches a collector to this logger and every child derived from it.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector == nil {
		return
	}
	if old := l.collector.p.Swap(NewLogCollector(config)); old != nil {
		old.Close()
	}
}

// RemoveCollector detaches the collector and ships what it still holds.
func (l *Logger) RemoveCollector() {
	if l.collector == nil {
		return
	}
	if old := l.collector.p.Swap(nil); old != nil {
		old.Close()
	}
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindStrings
	kindError
	kindAny
)

// Field is one structured key/value pair.
type Field struct {
	key  string
	kind fieldKind
	s    string
	i    int64
	f    float64
	x    interface{}
}

func (f Field) write(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.key, f.s)
	case kindInt:
		ev.Int64(f.key, f.i)
	case kindFloat:
		ev.Float64(f.key, f.f)
	case kindBool:
		ev.Bool(f.key, f.i != 0)
	case kindDuration:
		ev.Dur(f.key, time.Duration(f.i))
	case kindStrings:
		ev.Strs(f.key, f.x.([]string))
	case kindError:
		ev.Str(f.key, f.s)
	default:
		ev.Interface(f.key, f.x)
	}
}

// value is the plain form used by With and the collector.
func (f Field) value() interface{} {
	switch f.kind {
	case kindString, kindError:
		return f.s
	case kindInt:
		return f.i
	case kindFloat:
		return f.f
	case kindBool:
		return f.i != 0
	case kindDuration:
		return time.Duration(f.i).String()
	}
	return f.x
}

func String(key, v string) Field        { return Field{key: key, kind: kindString, s: v} }
func Int(key string, v int) Field       { return Field{key: key, kind: kindInt, i: int64(v)} }
func Int64(key string, v int64) Field   { return Field{key: key, kind: kindInt, i: v} }
func Uint64(key string, v uint64) Field { return Field{key: key, kind: kindInt, i: int64(v)} }
func Float64(key string, v float64) Field {
	return Field{key: key, kind: kindFloat, f: v}
}
func Duration(key string, v time.Duration) Field {
	return Field{key: key, kind: kindDuration, i: int64(v)}
}
func Strings(key string, v []string) Field { return Field{key: key, kind: kindStrings, x: v} }
func Any(key string, v interface{}) Field  { return Field{key: key, kind: kindAny, x: v} }

func Bool(key string, v bool) Field {
	f := Field{key: key, kind: kindBool}
	if v {
		f.i = 1
	}
	return f
}

// Error logs under "error"; a nil error logs as "<nil>".
func Error(err error) Field {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return Field{key: "error", kind: kindError, s: msg}
}
