package telemetry

import (
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts github.com/rs/zerolog to the Logger interface. Child
// loggers made with With share their parent's writer; kira-agentd writes
// every component to one <data-dir>/logs/kira-agentd.jsonl file.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger builds a Logger that writes JSONL records to w, tagging
// every record with component.
func NewZerologLogger(w io.Writer, component string) *ZerologLogger {
	l := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Debug(msg string, keyvals ...any) { logEvent(z.log.Debug(), msg, keyvals) }
func (z *ZerologLogger) Info(msg string, keyvals ...any)  { logEvent(z.log.Info(), msg, keyvals) }
func (z *ZerologLogger) Warn(msg string, keyvals ...any)  { logEvent(z.log.Warn(), msg, keyvals) }
func (z *ZerologLogger) Error(msg string, keyvals ...any) { logEvent(z.log.Error(), msg, keyvals) }

// With returns a child logger carrying the given keyvals on every record.
func (z *ZerologLogger) With(keyvals ...any) Logger {
	ctx := z.log.With()
	ctx = applyFields(ctx, keyvals)
	return &ZerologLogger{log: ctx.Logger()}
}

func logEvent(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "" {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}

func applyFields(ctx zerolog.Context, keyvals []any) zerolog.Context {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "" {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return ctx
}
