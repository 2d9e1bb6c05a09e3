package pipeline

import (
	"io"

	"github.com/banshee-data/canopy.report/internal/monitoring"
)

var logs = monitoring.NewStreams("[pipeline] ")

// SetLogWriters configures the ops, diag and trace streams of the pipeline
// package. Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
