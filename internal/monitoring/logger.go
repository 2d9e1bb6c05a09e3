package monitoring

import (
	"fmt"
	"log"
)

// Logf is the process-wide diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger to redirect or mute library chatter.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Leveled adapts Logf to libraries that expect a leveled logger with
// Errorf/Warningf/Infof/Debugf methods, such as the badger scratch store.
// Info output is dropped unless Verbose or Debug is set, and debug output
// unless Debug is set.
type Leveled struct {
	Component string
	Verbose   bool
	Debug     bool
}

func (l Leveled) emit(level, format string, args ...interface{}) {
	Logf("[%s] %s: %s", l.Component, level, fmt.Sprintf(format, args...))
}

func (l Leveled) Errorf(format string, args ...interface{})   { l.emit("ERROR", format, args...) }
func (l Leveled) Warningf(format string, args ...interface{}) { l.emit("WARN", format, args...) }

func (l Leveled) Infof(format string, args ...interface{}) {
	if l.Verbose || l.Debug {
		l.emit("INFO", format, args...)
	}
}

func (l Leveled) Debugf(format string, args ...interface{}) {
	if l.Debug {
		l.emit("DEBUG", format, args...)
	}
}
