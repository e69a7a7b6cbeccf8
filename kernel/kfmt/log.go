package kfmt

import (
	"github.com/sirupsen/logrus"
)

// kernelLog writes structured records through the console layer so that
// they interleave with Printf output and are captured by the early buffer.
var kernelLog = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = consoleWriter{}
	l.Formatter = &logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	}
	l.Level = logrus.InfoLevel
	return l
}

// Log returns the kernel logger.
func Log() *logrus.Logger {
	return kernelLog
}

// SetLogLevel parses level (panic, fatal, error, warn, info, debug, trace)
// and applies it to the kernel logger.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	kernelLog.SetLevel(lvl)
	return nil
}
