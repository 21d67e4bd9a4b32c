package ddns

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger accepts leveled messages.
// Implementations must not panic and must never terminate the process, including for Criticalf.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Criticalf(format string, args ...any)
}

// NewLogger wraps a logrus entry.
//
// logrus has no critical level, so Criticalf is written at error level with the field critical=true.
func NewLogger(entry *logrus.Entry) Logger {
	if entry == nil {
		return Discard
	}
	return logrusLogger{entry}
}

type logrusLogger struct {
	*logrus.Entry
}

func (l logrusLogger) Criticalf(format string, args ...any) {
	l.Entry.WithField("critical", true).Errorf(format, args...)
}

// Discard drops every message.
var Discard Logger = newDiscard()

func newDiscard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrusLogger{logrus.NewEntry(l)}
}
