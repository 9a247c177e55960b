package dpgbdt

import "github.com/sirupsen/logrus"

// newLogger builds the package logger for one Fit call, levelled from
// Config.Verbosity: -1 warn-only, 0 info, 1 debug.
func newLogger(verbosity int) *logrus.Entry {
	l := logrus.New()
	switch {
	case verbosity <= -1:
		l.SetLevel(logrus.WarnLevel)
	case verbosity == 0:
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.DebugLevel)
	}
	return l.WithField("component", "dpgbdt")
}
