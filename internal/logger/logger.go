// Package logger provides the named-logger abstraction used by every
// engine in kadcrawl. It follows the call-site surface of the teacher's
// internal/logger package (Debugln, Debugf, Infof, Info, Warningln, Errorln,
// Error) backed by logrus instead of a hand-rolled level filter.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every engine depends on. Keeping it narrow (rather
// than exposing *logrus.Entry directly) lets call sites read the same way
// they do in the teacher: log.Debugln("peer limit reached, rejecting peer", addr).
type Logger interface {
	Debug(args ...interface{})
	Debugln(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infoln(args ...interface{})
	Infof(format string, args ...interface{})
	Warningln(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorln(args ...interface{})
	Errorf(format string, args ...interface{})
}

type entryLogger struct {
	e *logrus.Entry
}

func (l entryLogger) Debug(args ...interface{})                 { l.e.Debug(args...) }
func (l entryLogger) Debugln(args ...interface{})                { l.e.Debugln(args...) }
func (l entryLogger) Debugf(format string, args ...interface{})  { l.e.Debugf(format, args...) }
func (l entryLogger) Info(args ...interface{})                   { l.e.Info(args...) }
func (l entryLogger) Infoln(args ...interface{})                 { l.e.Infoln(args...) }
func (l entryLogger) Infof(format string, args ...interface{})   { l.e.Infof(format, args...) }
func (l entryLogger) Warningln(args ...interface{})              { l.e.Warnln(args...) }
func (l entryLogger) Warningf(format string, args ...interface{}) { l.e.Warnf(format, args...) }
func (l entryLogger) Error(args ...interface{})                  { l.e.Error(args...) }
func (l entryLogger) Errorln(args ...interface{})                { l.e.Errorln(args...) }
func (l entryLogger) Errorf(format string, args ...interface{})  { l.e.Errorf(format, args...) }

var (
	once    sync.Once
	base    = logrus.New()
	levelMu sync.Mutex
)

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the global verbosity from a settings string such as the
// log.level key in spec §6 ("debug", "info", "warning", "error").
func SetLevel(level string) {
	levelMu.Lock()
	defer levelMu.Unlock()
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
}

// New returns a logger named after the component that owns it, mirroring
// logger.New("session") / logger.New("peer <- "+addr) in the teacher.
func New(name string) Logger {
	once.Do(func() {})
	return entryLogger{e: base.WithField("component", name)}
}
