package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/slicecache"
)

var _ slicecache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every entry with component=slicecache.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "slicecache")}
}

func (l LogrusLogger) Debug(msg string, f slicecache.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f slicecache.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f slicecache.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f slicecache.Fields) { l.entry(f).Error(msg) }

// entry maps an "err" field to logrus' error key.
func (l LogrusLogger) entry(f slicecache.Fields) *logrus.Entry {
	e := l.E
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		e = e.WithField(k, v)
	}
	return e
}
