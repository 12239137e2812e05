// Package progress provides ProgressSink implementations for the
// object store's pull and transaction suspension points. The engine
// never polls a sink; it hands one to the store and the store writes
// into it from whatever goroutine is driving the wait.
package progress

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rlxos/updated/internal/objectstore"
)

// LogSink rate-limits progress updates to one log line per Interval,
// always flushing the final update regardless of timing. It is safe
// for a single in-flight operation; the object store contract
// guarantees one writer at a time.
type LogSink struct {
	Interval time.Duration
	Fields   log.Fields

	last time.Time
}

// NewLogSink returns a LogSink logging at most once per interval,
// tagged with fields (typically {"op": "check"} or {"op": "apply"}).
func NewLogSink(interval time.Duration, fields log.Fields) *LogSink {
	return &LogSink{Interval: interval, Fields: fields}
}

func (s *LogSink) Update(fraction float64, message string) {
	now := time.Now()
	done := fraction >= 1.0
	if !done && now.Sub(s.last) < s.Interval {
		return
	}
	s.last = now
	log.WithFields(s.Fields).WithField("fraction", fraction).Info(message)
}

var _ objectstore.ProgressSink = (*LogSink)(nil)
var _ objectstore.ProgressSink = objectstore.NopProgress{}
