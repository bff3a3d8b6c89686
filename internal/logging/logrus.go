package logging

import "github.com/sirupsen/logrus"

// Logrus adapts a *logrus.Entry to Logger: structured logging behind the
// seam instead of log.Printf. It is opt-in; a caller that supplies no
// Logger gets Nop.
type Logrus struct {
	*logrus.Entry
}

// NewLogrus builds a Logger backed by a fresh logrus.Logger at the given
// level.
func NewLogrus(level logrus.Level) Logger {
	l := logrus.New()
	l.SetLevel(level)
	return Logrus{Entry: logrus.NewEntry(l)}
}

func (l Logrus) Debugf(format string, args ...interface{}) { l.Entry.Debugf(format, args...) }
func (l Logrus) Infof(format string, args ...interface{})  { l.Entry.Infof(format, args...) }
func (l Logrus) Warnf(format string, args ...interface{})  { l.Entry.Warnf(format, args...) }
func (l Logrus) Errorf(format string, args ...interface{}) { l.Entry.Errorf(format, args...) }

var _ Logger = Logrus{}
