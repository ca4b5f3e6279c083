package zerolog

import (
	"time"

	"github.com/portalkit/portalkit/pkg/portal"
	"github.com/rs/zerolog"
)

// Logger implements portal.Logger on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func (l *Logger) Debug(msg string, fields ...portal.Field) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...portal.Field) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...portal.Field) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...portal.Field) {
	l.emit(l.zl.Error(), msg, fields)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []portal.Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		ev = appendField(ev, f)
	}
	ev.Msg(msg)
}

// appendField maps common field values onto zerolog's typed appenders so
// the JSON output carries native types instead of stringified ones.
func appendField(ev *zerolog.Event, f portal.Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case time.Time:
		return ev.Time(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}
