package monitoring

import (
	"io"
	"log"
	"sync/atomic"
)

// Streams holds a component's three log streams: ops for actionable
// warnings and data loss, diag for day-to-day diagnostics and trace for
// per-batch telemetry. A stream without a writer is silent.
type Streams struct {
	prefix string
	ops    atomic.Pointer[log.Logger]
	diag   atomic.Pointer[log.Logger]
	trace  atomic.Pointer[log.Logger]
}

// NewStreams returns silent streams whose lines start with prefix.
func NewStreams(prefix string) *Streams {
	return &Streams{prefix: prefix}
}

// SetWriters points each stream at a writer. nil disables the stream.
func (s *Streams) SetWriters(ops, diag, trace io.Writer) {
	s.ops.Store(s.newLogger(ops))
	s.diag.Store(s.newLogger(diag))
	s.trace.Store(s.newLogger(trace))
}

func (s *Streams) newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds)
}

// Enabled reports which streams currently have a writer.
func (s *Streams) Enabled() (ops, diag, trace bool) {
	return s.ops.Load() != nil, s.diag.Load() != nil, s.trace.Load() != nil
}

func (s *Streams) Opsf(format string, args ...interface{})   { printf(&s.ops, format, args...) }
func (s *Streams) Diagf(format string, args ...interface{})  { printf(&s.diag, format, args...) }
func (s *Streams) Tracef(format string, args ...interface{}) { printf(&s.trace, format, args...) }

func printf(p *atomic.Pointer[log.Logger], format string, args ...interface{}) {
	if l := p.Load(); l != nil {
		l.Printf(format, args...)
	}
}
