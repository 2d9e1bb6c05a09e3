// Package monitor reports run progress: phase starts, completed work
// units and skipped input files.
package monitor

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Phase names reported by a run.
const (
	PhaseFiles = "files"
	PhaseTiles = "tiles"
)

// ProgressSink receives progress events. Methods may be called from many
// workers at once.
type ProgressSink interface {
	PhaseStarted(phase string, units int)
	UnitDone(phase string, unit int, elapsed time.Duration)
	PhaseFinished(phase string, elapsed time.Duration)
	FileSkipped(path string, err error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) PhaseStarted(string, int)            {}
func (Nop) UnitDone(string, int, time.Duration) {}
func (Nop) PhaseFinished(string, time.Duration) {}
func (Nop) FileSkipped(string, error)           {}

// Multi fans events out to several sinks in order.
type Multi []ProgressSink

func (m Multi) PhaseStarted(phase string, units int) {
	for _, s := range m {
		s.PhaseStarted(phase, units)
	}
}

func (m Multi) UnitDone(phase string, unit int, elapsed time.Duration) {
	for _, s := range m {
		s.UnitDone(phase, unit, elapsed)
	}
}

func (m Multi) PhaseFinished(phase string, elapsed time.Duration) {
	for _, s := range m {
		s.PhaseFinished(phase, elapsed)
	}
}

func (m Multi) FileSkipped(path string, err error) {
	for _, s := range m {
		s.FileSkipped(path, err)
	}
}

// LogSink writes one line per event, with a running done/total count.
type LogSink struct {
	logger *log.Logger

	mu    sync.Mutex
	total map[string]int
	done  map[string]int
}

// NewLogSink logs to w with the given prefix.
func NewLogSink(w io.Writer, prefix string) *LogSink {
	return &LogSink{
		logger: log.New(w, prefix, log.LstdFlags|log.Lmicroseconds),
		total:  make(map[string]int),
		done:   make(map[string]int),
	}
}

func (s *LogSink) PhaseStarted(phase string, units int) {
	s.mu.Lock()
	s.total[phase] = units
	s.done[phase] = 0
	s.mu.Unlock()
	s.logger.Printf("phase %s started: %s units", phase, humanize.Comma(int64(units)))
}

func (s *LogSink) UnitDone(phase string, unit int, elapsed time.Duration) {
	s.mu.Lock()
	s.done[phase]++
	done, total := s.done[phase], s.total[phase]
	s.mu.Unlock()
	s.logger.Printf("%s %d done in %v (%s)", phase, unit, elapsed.Round(time.Millisecond), progress(done, total))
}

func (s *LogSink) PhaseFinished(phase string, elapsed time.Duration) {
	s.mu.Lock()
	done := s.done[phase]
	s.mu.Unlock()
	s.logger.Printf("phase %s finished: %s units in %v", phase, humanize.Comma(int64(done)), elapsed.Round(time.Millisecond))
}

func (s *LogSink) FileSkipped(path string, err error) {
	s.logger.Printf("skipping %s: %v", path, err)
}

func progress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d", done)
	}
	return fmt.Sprintf("%d/%d, %.0f%%", done, total, 100*float64(done)/float64(total))
}
