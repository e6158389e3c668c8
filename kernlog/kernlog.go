// Package kernlog wires the kernel's structured logging to
// github.com/joeycumines/logiface. The concrete sink is a small Event
// implementation that forwards to the standard library's log/slog, so
// applications can plug the kernel's events into whatever slog handler
// they already run, or supply any other logiface backend.
package kernlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/joeycumines/logiface"
)

// Event implements logiface.Event by buffering fields and forwarding them
// to a log/slog.Logger on Write. It embeds logiface.UnimplementedEvent as
// every Event implementation in the ecosystem is required to.
type Event struct {
	logiface.UnimplementedEvent

	level Level
	attrs []slog.Attr
	msg   string
	err   error
}

// Level is a thin alias so callers of this package don't need to import
// logiface directly just to configure a level.
type Level = logiface.Level

// Re-exported levels covering the kernel's needs; the full syslog scale
// remains available via logiface.
const (
	LevelDisabled = logiface.LevelDisabled
	LevelError    = logiface.LevelError
	LevelWarning  = logiface.LevelWarning
	LevelInfo     = logiface.LevelInformational
	LevelDebug    = logiface.LevelDebug
)

func (e *Event) Level() logiface.Level { return e.level }

func (e *Event) AddField(key string, val any) {
	e.attrs = append(e.attrs, slog.Any(key, val))
}

func (e *Event) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

func (e *Event) AddError(err error) bool {
	e.err = err
	return true
}

func (e *Event) AddString(key string, val string) bool {
	e.attrs = append(e.attrs, slog.String(key, val))
	return true
}

func (e *Event) AddInt(key string, val int) bool {
	e.attrs = append(e.attrs, slog.Int(key, val))
	return true
}

func (e *Event) AddInt64(key string, val int64) bool {
	e.attrs = append(e.attrs, slog.Int64(key, val))
	return true
}

func (e *Event) AddUint64(key string, val uint64) bool {
	e.attrs = append(e.attrs, slog.Uint64(key, val))
	return true
}

func (e *Event) AddFloat64(key string, val float64) bool {
	e.attrs = append(e.attrs, slog.Float64(key, val))
	return true
}

func (e *Event) AddBool(key string, val bool) bool {
	e.attrs = append(e.attrs, slog.Bool(key, val))
	return true
}

func (e *Event) AddDuration(key string, val time.Duration) bool {
	e.attrs = append(e.attrs, slog.Duration(key, val))
	return true
}

func (e *Event) AddTime(key string, val time.Time) bool {
	e.attrs = append(e.attrs, slog.Time(key, val))
	return true
}

// slogLevel maps logiface's syslog-derived scale onto slog's four-level
// scale, following the mapping logiface.Level.String documents as the
// conventional one for backends with fewer levels.
func slogLevel(l logiface.Level) slog.Level {
	switch {
	case l >= logiface.LevelEmergency && l <= logiface.LevelCritical:
		return slog.LevelError + 4
	case l == logiface.LevelError:
		return slog.LevelError
	case l == logiface.LevelWarning:
		return slog.LevelWarn
	case l == logiface.LevelInformational:
		return slog.LevelInfo
	case l == logiface.LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelDebug - 4
	}
}

// eventFactory implements logiface.EventFactory[*Event].
type eventFactory struct{}

func (eventFactory) NewEvent(level logiface.Level) *Event {
	return &Event{level: level}
}

// writer implements logiface.Writer[*Event], forwarding to an slog.Logger.
type writer struct{ out *slog.Logger }

func (w writer) Write(e *Event) error {
	if !e.level.Enabled() {
		return nil
	}
	args := make([]any, 0, len(e.attrs)*2+2)
	for _, a := range e.attrs {
		args = append(args, a)
	}
	if e.err != nil {
		args = append(args, slog.Any("error", e.err))
	}
	w.out.Log(context.Background(), slogLevel(e.level), e.msg, args...)
	return nil
}

// NewSlogBackend returns the logiface options needed to make a
// logiface.Logger[*Event] write to out. Pass it to logiface.New alongside
// logiface.WithLevel(...).
func NewSlogBackend(out *slog.Logger) logiface.Option[*Event] {
	if out == nil {
		out = slog.Default()
	}
	return logiface.WithOptions[*Event](
		logiface.WithEventFactory[*Event](eventFactory{}),
		logiface.WithWriter[*Event](writer{out: out}),
	)
}

// Logger is the concrete logger type threaded through kernel.Config.
type Logger = logiface.Logger[*Event]

// New builds a Logger writing to out at the given minimum level. A nil out
// defaults to slog.Default(); a disabled level (logiface.LevelDisabled)
// produces a logger that drops every event without touching out, the
// no-op default kernel.Config falls back to when no logger is configured.
func New(out *slog.Logger, level logiface.Level) *Logger {
	return logiface.New[*Event](
		NewSlogBackend(out),
		logiface.WithLevel[*Event](level),
	)
}
