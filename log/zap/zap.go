package zap

import (
	"github.com/unkn0wn-root/slicecache"
	"go.uber.org/zap"
)

var _ slicecache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New tags every entry with component=slicecache.
func New(l *zap.Logger) ZapLogger {
	return ZapLogger{L: l.With(zap.String("component", "slicecache"))}
}

func (z ZapLogger) Debug(msg string, f slicecache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f slicecache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f slicecache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f slicecache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f slicecache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
