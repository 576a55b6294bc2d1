package lancom

import "github.com/sirupsen/logrus"

// Level mirrors the original implementation's DEBUG/INFO/WARNING/ERROR/
// CRITICAL levels, backed by logrus.
type Level uint32

const (
	LevelDebug Level = Level(logrus.DebugLevel)
	LevelInfo  Level = Level(logrus.InfoLevel)
	LevelWarn  Level = Level(logrus.WarnLevel)
	LevelError Level = Level(logrus.ErrorLevel)
	LevelFatal Level = Level(logrus.FatalLevel)
)

var log = logrus.New()

// SetLevel adjusts the verbosity of the package logger. All background
// loops and handlers log through this one logger, so it is the single
// knob a caller needs.
func SetLevel(l Level) {
	log.SetLevel(logrus.Level(l))
}

// Logger returns the package-wide logger, for callers who want to hook
// in their own formatter or output.
func Logger() *logrus.Logger {
	return log
}
