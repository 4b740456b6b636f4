package shadow

import (
	"path"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// propagate replaces zap's exit on fatal entries. Install failures are
// logged at fatal severity and then returned to the host, which decides
// whether the process goes on.
type propagate struct{}

func (propagate) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

func nonExiting(log *zap.Logger) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.WithOptions(zap.WithFatalHook(propagate{}))
}

// tracer writes trace lines at debug level when its gate allows it. The
// gate is consulted on every line so it can follow live configuration.
type tracer struct {
	log     *zap.Logger
	enabled func() bool
}

func (t tracer) On() bool {
	return t.enabled != nil && t.enabled()
}

func (t tracer) Trace(msg string, fields ...zap.Field) {
	if !t.On() {
		return
	}
	t.log.Debug(msg, append(fields, zap.String("trace", caller(2)))...)
}

// caller names the function skip frames up, without its package path.
func caller(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "?"
	}
	return path.Base(f.Name())
}
